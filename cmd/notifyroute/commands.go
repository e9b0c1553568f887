package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/tphakala/notifyroute/internal/channels"
	"github.com/tphakala/notifyroute/internal/conf"
	"github.com/tphakala/notifyroute/internal/datastore"
	"github.com/tphakala/notifyroute/internal/datastore/repository"
	"github.com/tphakala/notifyroute/internal/logger"
	"github.com/tphakala/notifyroute/internal/metrics"
	"github.com/tphakala/notifyroute/internal/telemetry"
)

// setup loads settings and builds the process logger.
func setup(configPath string) (*conf.Settings, logger.Logger, error) {
	settings, err := conf.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	w := logger.NewFileWriter(logger.FileConfig{
		Path:       settings.Logging.File,
		MaxSizeMB:  settings.Logging.MaxSizeMB,
		MaxBackups: settings.Logging.MaxBackups,
		MaxAgeDays: settings.Logging.MaxAgeDays,
		Compress:   true,
	})
	log := logger.NewSlogLogger(w, logger.LogLevel(settings.Logging.Level), &logger.Options{JSON: settings.Logging.JSON})
	return settings, log, nil
}

// runApp starts an App and blocks until SIGINT/SIGTERM or a component
// failure, then stops it within the HTTP shutdown grace.
func runApp(ctx context.Context, settings *conf.Settings, components Components, log logger.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, settings, components, log)
	if err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		_ = app.Stop(context.Background())
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case runErr = <-app.Done():
		if runErr != nil {
			log.Error("component failed, shutting down", logger.Error(runErr))
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*settings.HTTP.ShutdownGrace.Std())
	defer cancel()
	if err := app.Stop(stopCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func serveCmd(configPath *string) *cobra.Command {
	var withWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and MQTT intake, plus queue consumers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, log, err := setup(*configPath)
			if err != nil {
				return err
			}
			return runApp(cmd.Context(), settings, Components{HTTP: true, Worker: withWorker, MQTT: true}, log)
		},
	}
	cmd.Flags().BoolVar(&withWorker, "with-worker", true, "Also run delivery queue consumers in this process")
	return cmd
}

func workerCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run delivery queue consumers only",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, log, err := setup(*configPath)
			if err != nil {
				return err
			}
			return runApp(cmd.Context(), settings, Components{Worker: true}, log)
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the notification tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, log, err := setup(*configPath)
			if err != nil {
				return err
			}
			db, err := datastore.Open(settings.Database, log)
			if err != nil {
				return err
			}
			defer func() { _ = datastore.Close(db) }()
			if err := datastore.Migrate(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func sendTestCmd(configPath *string) *cobra.Command {
	var channelID, to, subject, body string
	cmd := &cobra.Command{
		Use:   "send-test",
		Short: "Send a test message through a channel and wait for the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, log, err := setup(*configPath)
			if err != nil {
				return err
			}
			db, err := datastore.Open(settings.Database, log)
			if err != nil {
				return err
			}
			defer func() { _ = datastore.Close(db) }()

			m, err := metrics.New(prometheus.NewRegistry())
			if err != nil {
				return err
			}
			reporter, err := telemetry.NewReporter(settings.Sentry, version, log)
			if err != nil {
				return err
			}
			defer reporter.Flush(flushTimeout)

			// Test sends never consult suppression state, so Redis is not needed.
			store := repository.NewStore(db)
			worker, err := newWorker(settings, store, nil, m, reporter, log)
			if err != nil {
				return err
			}
			svc := channels.NewService(store.Channels, worker, nil, log)
			res, err := svc.TestChannel(cmd.Context(), channelID, channels.TestRequest{
				Recipient: to,
				Subject:   subject,
				Body:      body,
			}, true)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (event %s)\n", res.Status, res.EventID)
			if res.Status != "success" {
				return fmt.Errorf("test send failed, see delivery log for event %s", res.EventID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&channelID, "channel", "", "Channel id")
	cmd.Flags().StringVar(&to, "to", "", "Recipient address")
	cmd.Flags().StringVar(&subject, "subject", "", "Message subject (default: Test notification)")
	cmd.Flags().StringVar(&body, "body", "", "Message body (default: Test notification)")
	_ = cmd.MarkFlagRequired("channel")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "notifyroute", version)
		},
	}
}
