// Package telemetry reports unexpected failures to Sentry.
package telemetry

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/tphakala/notifyroute/internal/conf"
	"github.com/tphakala/notifyroute/internal/logger"
)

// Reporter sends errors to a Sentry hub. With no DSN configured the hub has
// no transport and every capture is dropped.
type Reporter struct {
	hub *sentry.Hub
	log logger.Logger
}

// ClientOption adjusts the Sentry client options before the client is built.
type ClientOption func(*sentry.ClientOptions)

// NewReporter builds a Reporter with its own client and hub.
func NewReporter(cfg conf.SentrySettings, release string, log logger.Logger, opts ...ClientOption) (*Reporter, error) {
	options := sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          release,
		AttachStacktrace: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	client, err := sentry.NewClient(options)
	if err != nil {
		return nil, fmt.Errorf("failed to create sentry client: %w", err)
	}
	return &Reporter{
		hub: sentry.NewHub(client, sentry.NewScope()),
		log: log.Module("telemetry"),
	}, nil
}

// Enabled reports whether captures leave the process.
func (r *Reporter) Enabled() bool {
	return r != nil && r.hub.Client() != nil && r.hub.Client().Options().Dsn != ""
}

// CaptureError reports err tagged with tags.
func (r *Reporter) CaptureError(err error, tags map[string]string) {
	if r == nil || err == nil {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		if id := r.hub.CaptureException(err); id != nil {
			r.log.Debug("error reported", logger.String("sentry_event_id", string(*id)))
		}
	})
}

// Flush waits up to timeout for queued reports to be sent.
func (r *Reporter) Flush(timeout time.Duration) bool {
	if r == nil {
		return true
	}
	return r.hub.Flush(timeout)
}
