package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/notifyroute/internal/errors"
	"github.com/tphakala/notifyroute/internal/logger"
)

type fakeSender struct {
	mu       sync.Mutex
	messages []string
	titles   []string
	errs     []error
	delay    time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeSender) Send(message string, params *types.Params) []error {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	f.titles = append(f.titles, (*params)["title"])
	return f.errs
}

func newTestDispatcher(sender *fakeSender, builds *atomic.Int32) *ShoutrrrDispatcher {
	log := logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
	return NewShoutrrrDispatcher(time.Minute, log, WithSenderFactory(func(urls ...string) (Sender, error) {
		if builds != nil {
			builds.Add(1)
		}
		if len(urls) > 0 && urls[0] == "bad://" {
			return nil, errors.New("unknown service")
		}
		return sender, nil
	}))
}

func TestShoutrrrDispatcher_Send(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{errs: []error{nil, nil}}
	var builds atomic.Int32
	d := newTestDispatcher(sender, &builds)

	req := Request{URLs: []string{"ntfy://a/b", "generic+https://x"}, Title: "Disk", Body: "disk full"}
	ok, err := d.Send(t.Context(), req)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Send(t.Context(), req)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, int32(1), builds.Load(), "sender is cached per url set")
	assert.Equal(t, []string{"disk full", "disk full"}, sender.messages)
	assert.Equal(t, "Disk", sender.titles[0])
}

func TestShoutrrrDispatcher_PartialFailure(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{errs: []error{nil, errors.New("401 unauthorized")}}
	d := newTestDispatcher(sender, nil)

	ok, err := d.Send(t.Context(), Request{URLs: []string{"a://", "b://"}, Body: "x"})
	assert.False(t, ok)
	require.ErrorContains(t, err, "401 unauthorized")
}

func TestShoutrrrDispatcher_InvalidURL(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(&fakeSender{}, nil)

	ok, err := d.Send(t.Context(), Request{URLs: []string{"bad://"}, Body: "x"})
	assert.False(t, ok)
	require.ErrorContains(t, err, "invalid service url")
	assert.Equal(t, errors.CategoryConfiguration, errors.CategoryOf(err))

	ok, err = d.Send(t.Context(), Request{Body: "x"})
	assert.False(t, ok)
	require.Error(t, err)
}

func TestShoutrrrDispatcher_Timeout(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{delay: 200 * time.Millisecond}
	d := newTestDispatcher(sender, nil)

	start := time.Now()
	ok, err := d.Send(t.Context(), Request{URLs: []string{"a://"}, Body: "x", Timeout: 20 * time.Millisecond})
	assert.False(t, ok)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestShoutrrrDispatcher_ConcurrencyLimit(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{delay: 20 * time.Millisecond}
	d := newTestDispatcher(sender, nil)

	var wg sync.WaitGroup
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = d.Send(context.Background(), Request{
				ChannelID:        "ch-1",
				ConcurrencyLimit: 2,
				URLs:             []string{"a://"},
				Body:             "x",
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, sender.maxInFlight.Load(), int32(2))
	assert.Len(t, sender.messages, 6)
}

func TestShoutrrrDispatcher_TimedOutSendKeepsSlot(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{delay: 300 * time.Millisecond}
	d := newTestDispatcher(sender, nil)
	req := Request{
		ChannelID:        "slow",
		ConcurrencyLimit: 1,
		URLs:             []string{"a://"},
		Body:             "x",
		Timeout:          20 * time.Millisecond,
	}

	for range 2 {
		ok, err := d.Send(t.Context(), req)
		assert.False(t, ok)
		require.ErrorIs(t, err, ErrTimeout)
	}

	assert.Equal(t, int32(1), sender.maxInFlight.Load(), "abandoned send still holds the channel slot")
}

func TestShoutrrrDispatcher_GenericWebhook(t *testing.T) {
	t.Parallel()

	received := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		received <- string(b)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	log := logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
	d := NewShoutrrrDispatcher(time.Minute, log)

	ok, err := d.Send(t.Context(), Request{
		URLs:    []string{"generic+" + srv.URL + "/hook"},
		Body:    "backup job failed on db-1",
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	select {
	case body := <-received:
		assert.Contains(t, body, "backup job failed on db-1")
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was not called")
	}
}
