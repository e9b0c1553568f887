package intake

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/notifyroute/internal/conf"
	"github.com/tphakala/notifyroute/internal/errors"
	"github.com/tphakala/notifyroute/internal/logger"
	"github.com/tphakala/notifyroute/internal/routing"
)

type fakeIngester struct {
	mu     sync.Mutex
	events []routing.Event
	err    error
}

func (f *fakeIngester) Ingest(_ context.Context, event routing.Event) (*routing.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	if f.err != nil {
		return nil, f.err
	}
	return &routing.Receipt{Status: "queued", EventID: event.EventID, TasksEnqueued: 1}, nil
}

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
}

func testSettings() conf.MQTTSettings {
	return conf.MQTTSettings{
		Enabled:  true,
		Broker:   "tcp://127.0.0.1:1",
		Topic:    "notifyroute/events",
		ClientID: "notifyroute-test",
		QoS:      1,
	}
}

func TestNewSubscriber_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*conf.MQTTSettings)
		errMsg string
	}{
		{"no broker", func(s *conf.MQTTSettings) { s.Broker = "" }, "broker is required"},
		{"no topic", func(s *conf.MQTTSettings) { s.Topic = "" }, "topic is required"},
		{"bad qos", func(s *conf.MQTTSettings) { s.QoS = 3 }, "invalid mqtt qos 3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := testSettings()
			tt.mutate(&settings)
			_, err := NewSubscriber(settings, &fakeIngester{}, testLogger())
			require.Error(t, err)
			assert.Equal(t, errors.CategoryValidation, errors.CategoryOf(err))
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestHandle(t *testing.T) {
	ing := &fakeIngester{}
	s, err := NewSubscriber(testSettings(), ing, testLogger())
	require.NoError(t, err)

	s.handle(t.Context(), "notifyroute/events", []byte(`{"event_id":"evt-1","severity":"critical","tags":{"env":"prod"},"context":{"host":"db-1"}}`))
	s.handle(t.Context(), "notifyroute/events", []byte(`not json`))

	require.Len(t, ing.events, 1, "malformed payload is dropped")
	got := ing.events[0]
	assert.Equal(t, "evt-1", got.EventID)
	assert.Equal(t, "critical", got.Severity)
	assert.Equal(t, "prod", got.Tags["env"])
	assert.Equal(t, "db-1", got.Context["host"])
}

func TestHandle_IngestErrorsAreSwallowed(t *testing.T) {
	for _, ingestErr := range []error{
		errors.WithCategory(routing.ErrNoMatch, errors.CategoryNotFound, "ingest event"),
		errors.New("redis down"),
	} {
		ing := &fakeIngester{err: ingestErr}
		s, err := NewSubscriber(testSettings(), ing, testLogger())
		require.NoError(t, err)

		assert.NotPanics(t, func() {
			s.handle(t.Context(), "notifyroute/events", []byte(`{"severity":"info"}`))
		})
		assert.Len(t, ing.events, 1)
	}
}

func TestStart_UnreachableBroker(t *testing.T) {
	s, err := NewSubscriber(testSettings(), &fakeIngester{}, testLogger())
	require.NoError(t, err)

	err = s.Start(t.Context())
	require.Error(t, err)
	assert.Equal(t, errors.CategoryTransient, errors.CategoryOf(err))
	assert.False(t, s.IsConnected())

	// Stop on a subscriber that never connected is a no-op.
	s.Stop()
}

func TestStart_CancelledContext(t *testing.T) {
	s, err := NewSubscriber(testSettings(), &fakeIngester{}, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.Error(t, s.Start(ctx))
}
