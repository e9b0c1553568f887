// notifyroute routes alert events to notification channels and delivers
// them through a Redis-backed worker queue.
//
// Usage:
//
//	notifyroute serve --config notifyroute.yaml
//	notifyroute worker
//	notifyroute migrate
//	notifyroute send-test --channel <id> --to ops@example.com
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "notifyroute",
		Short: "Rule-driven notification routing and delivery",
		Long: `notifyroute accepts events over HTTP or MQTT, matches them against
routing rules, and delivers one message per rule, recipient and channel
through a delayed escalation queue.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to notifyroute.yaml (default: search ., ~/.config/notifyroute, /etc/notifyroute)")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(workerCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(sendTestCmd(&configPath))
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}
