// Package transport sends rendered messages to shoutrrr service URLs.
package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/patrickmn/go-cache"
	"github.com/tphakala/notifyroute/internal/errors"
	"github.com/tphakala/notifyroute/internal/logger"
	"golang.org/x/sync/semaphore"
)

// DefaultSenderCacheTTL bounds how long a built sender is reused.
const DefaultSenderCacheTTL = 10 * time.Minute

// ErrTimeout is returned when the transport did not answer within the
// request timeout.
var ErrTimeout = errors.New("transport timed out")

// Sender delivers one message to every service it was built for. It returns
// one entry per service; nil entries are successes.
type Sender interface {
	Send(message string, params *types.Params) []error
}

// SenderFactory builds a Sender for a set of service URLs.
type SenderFactory func(urls ...string) (Sender, error)

// Request is a single dispatch.
type Request struct {
	// ChannelID scopes the concurrency limit. Empty disables it.
	ChannelID        string
	ConcurrencyLimit int
	URLs             []string
	Title            string
	Body             string
	Timeout          time.Duration
}

// Dispatcher sends requests through cached shoutrrr routers.
type Dispatcher interface {
	Send(ctx context.Context, req Request) (bool, error)
}

// ShoutrrrDispatcher is the production Dispatcher.
type ShoutrrrDispatcher struct {
	factory SenderFactory
	senders *cache.Cache
	log     logger.Logger

	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

// Option configures a ShoutrrrDispatcher.
type Option func(*ShoutrrrDispatcher)

// WithSenderFactory replaces shoutrrr.CreateSender.
func WithSenderFactory(f SenderFactory) Option {
	return func(d *ShoutrrrDispatcher) { d.factory = f }
}

// NewShoutrrrDispatcher builds a dispatcher that caches senders for ttl.
func NewShoutrrrDispatcher(ttl time.Duration, log logger.Logger, opts ...Option) *ShoutrrrDispatcher {
	if ttl <= 0 {
		ttl = DefaultSenderCacheTTL
	}
	d := &ShoutrrrDispatcher{
		factory: createShoutrrrSender,
		senders: cache.New(ttl, 2*ttl),
		log:     log.Module("transport"),
		sems:    make(map[string]*semaphore.Weighted),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func createShoutrrrSender(urls ...string) (Sender, error) {
	r, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Send delivers req and reports whether every service accepted it. A false
// result always comes with an error describing the failures.
func (d *ShoutrrrDispatcher) Send(ctx context.Context, req Request) (bool, error) {
	if len(req.URLs) == 0 {
		return false, errors.New("no service urls")
	}

	sender, err := d.sender(req.URLs)
	if err != nil {
		return false, err
	}

	// The slot is held until the provider call returns, even when Send gives
	// up on it early, so abandoned calls still count against the limit.
	release := func() {}
	if sem := d.semaphore(req.ChannelID, req.ConcurrencyLimit); sem != nil {
		if err := sem.Acquire(ctx, 1); err != nil {
			return false, fmt.Errorf("waiting for channel slot: %w", err)
		}
		release = func() { sem.Release(1) }
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	params := types.Params{}
	if req.Title != "" {
		params["title"] = req.Title
	}

	done := make(chan []error, 1)
	go func() {
		defer release()
		done <- sender.Send(req.Body, &params)
	}()

	select {
	case errs := <-done:
		if err := joinSendErrors(errs); err != nil {
			d.log.Debug("dispatch failed",
				logger.String("channel_id", req.ChannelID),
				logger.Int("services", len(req.URLs)),
				logger.Error(err))
			return false, err
		}
		return true, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return false, fmt.Errorf("%w after %s", ErrTimeout, req.Timeout)
		}
		return false, ctx.Err()
	}
}

// sender returns a cached router for urls, building it on first use.
func (d *ShoutrrrDispatcher) sender(urls []string) (Sender, error) {
	key := strings.Join(urls, "\n")
	if cached, ok := d.senders.Get(key); ok {
		return cached.(Sender), nil
	}
	s, err := d.factory(urls...)
	if err != nil {
		return nil, errors.WithCategory(fmt.Errorf("invalid service url: %w", err),
			errors.CategoryConfiguration, "build sender")
	}
	d.senders.SetDefault(key, s)
	return s, nil
}

// semaphore returns the slot pool for a channel. A changed limit replaces
// the pool; in-flight holders release into the old one.
func (d *ShoutrrrDispatcher) semaphore(channelID string, limit int) *semaphore.Weighted {
	if channelID == "" || limit <= 0 {
		return nil
	}
	key := channelID + "/" + strconv.Itoa(limit)

	d.mu.Lock()
	defer d.mu.Unlock()
	if sem, ok := d.sems[key]; ok {
		return sem
	}
	for k := range d.sems {
		if strings.HasPrefix(k, channelID+"/") {
			delete(d.sems, k)
		}
	}
	sem := semaphore.NewWeighted(int64(limit))
	d.sems[key] = sem
	return sem
}

func joinSendErrors(errs []error) error {
	var failed []error
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err)
		}
	}
	return errors.Join(failed...)
}
