package telemetry

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/notifyroute/internal/conf"
	"github.com/tphakala/notifyroute/internal/errors"
	"github.com/tphakala/notifyroute/internal/logger"
)

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
}

func TestReporter_CaptureError(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		events []*sentry.Event
	)
	capture := func(o *sentry.ClientOptions) {
		o.BeforeSend = func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, event)
			return nil
		}
	}

	r, err := NewReporter(conf.SentrySettings{Environment: "test"}, "v1.2.3", testLogger(), capture)
	require.NoError(t, err)
	assert.False(t, r.Enabled(), "no dsn configured")

	r.CaptureError(errors.New("redis unavailable"), map[string]string{"component": "delivery", "event_id": "evt-1"})
	r.CaptureError(nil, nil)
	assert.True(t, r.Flush(time.Second))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, "delivery", events[0].Tags["component"])
	assert.Equal(t, "evt-1", events[0].Tags["event_id"])
	assert.Equal(t, "test", events[0].Environment)
	assert.Equal(t, "v1.2.3", events[0].Release)
	require.NotEmpty(t, events[0].Exception)
	assert.Equal(t, "redis unavailable", events[0].Exception[0].Value)
}

func TestReporter_Nil(t *testing.T) {
	t.Parallel()

	var r *Reporter
	assert.NotPanics(t, func() { r.CaptureError(errors.New("x"), nil) })
	assert.True(t, r.Flush(time.Millisecond))
	assert.False(t, r.Enabled())
}

func TestNewReporter_InvalidDSN(t *testing.T) {
	t.Parallel()

	_, err := NewReporter(conf.SentrySettings{DSN: "not a dsn"}, "dev", testLogger())
	assert.Error(t, err)
}
