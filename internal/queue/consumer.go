package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tphakala/notifyroute/internal/logger"
	"golang.org/x/sync/errgroup"
)

// Handler runs one task. Returning a Retryable error reschedules the task
// while retries remain; any other error drops it.
type Handler func(ctx context.Context, task Task) error

// ConsumerOptions configures a Consumer.
type ConsumerOptions struct {
	Queue             string
	Concurrency       int
	BatchSize         int
	PollInterval      time.Duration
	VisibilityTimeout time.Duration
	// MaxRetries caps reschedules per task; the first run is not a retry.
	MaxRetries int
	// RetryDelay is the fixed delay before each retry.
	RetryDelay time.Duration
}

func (o *ConsumerOptions) setDefaults() {
	if o.Concurrency < 1 {
		o.Concurrency = 1
	}
	if o.BatchSize < 1 {
		o.BatchSize = o.Concurrency
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = 5 * time.Minute
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
}

// Consumer polls one queue and runs tasks on a fixed pool of goroutines.
type Consumer struct {
	q    *RedisQueue
	opts ConsumerOptions
	log  logger.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewConsumer builds a consumer for opts.Queue.
func NewConsumer(q *RedisQueue, opts ConsumerOptions, log logger.Logger) *Consumer {
	opts.setDefaults()
	return &Consumer{
		q:        q,
		opts:     opts,
		log:      log.Module("consumer").With(logger.String("queue", opts.Queue)),
		handlers: make(map[string]Handler),
	}
}

// Handle registers h for tasks named name.
func (c *Consumer) Handle(name string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[name] = h
}

func (c *Consumer) handler(name string) (Handler, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handlers[name]
	return h, ok
}

// Run consumes until ctx is cancelled. Tasks already handed to a worker run
// to completion; claimed tasks not yet started are released back to the queue.
func (c *Consumer) Run(ctx context.Context) error {
	tasks := make(chan Task)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(tasks)
		return c.poll(gctx, tasks)
	})

	for range c.opts.Concurrency {
		g.Go(func() error {
			for task := range tasks {
				c.process(context.WithoutCancel(gctx), task)
			}
			return nil
		})
	}

	c.log.Info("consumer started",
		logger.Int("concurrency", c.opts.Concurrency),
		logger.Int("max_retries", c.opts.MaxRetries),
		logger.Duration("retry_delay", c.opts.RetryDelay))

	err := g.Wait()
	c.log.Info("consumer stopped")
	return err
}

func (c *Consumer) poll(ctx context.Context, out chan<- Task) error {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		if n, err := c.q.Reclaim(ctx, c.opts.Queue); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("reclaim failed", logger.Error(err))
		} else if n > 0 {
			c.log.Warn("reclaimed tasks past visibility timeout", logger.Int("count", n))
		}

		batch, err := c.q.Claim(ctx, c.opts.Queue, c.opts.BatchSize, c.opts.VisibilityTimeout)
		if err != nil && ctx.Err() == nil {
			c.log.Warn("claim failed", logger.Error(err))
		}

		for i, task := range batch {
			select {
			case out <- task:
			case <-ctx.Done():
				c.release(batch[i:])
				return nil
			}
		}

		// Drain without waiting while work is backed up.
		if len(batch) == c.opts.BatchSize {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (c *Consumer) release(tasks []Task) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, task := range tasks {
		if err := c.q.Release(ctx, task); err != nil {
			c.log.Warn("failed to release task", logger.String("task_id", task.ID), logger.Error(err))
		}
	}
}

func (c *Consumer) process(ctx context.Context, task Task) {
	log := c.log.With(
		logger.String("task", task.Name),
		logger.String("task_id", task.ID),
		logger.Int("retries", task.Retries))

	h, ok := c.handler(task.Name)
	if !ok {
		log.Error("no handler registered, dropping task")
		c.ack(ctx, task, log)
		return
	}

	err := c.safeRun(ctx, h, task)
	switch {
	case err == nil:
		c.ack(ctx, task, log)
	case IsRetryable(err) && task.Retries < c.opts.MaxRetries:
		log.Warn("task failed, retrying",
			logger.Duration("delay", c.opts.RetryDelay),
			logger.Error(err))
		if rerr := c.q.Retry(ctx, task, c.opts.RetryDelay); rerr != nil {
			log.Error("failed to reschedule task", logger.Error(rerr))
		}
	case IsRetryable(err):
		log.Error("task failed, retries exhausted", logger.Error(err))
		c.ack(ctx, task, log)
	default:
		log.Warn("task failed permanently", logger.Error(err))
		c.ack(ctx, task, log)
	}
}

// safeRun turns a handler panic into a retryable failure so one bad task
// cannot take down the pool.
func (c *Consumer) safeRun(ctx context.Context, h Handler, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return h(ctx, task)
}

func (c *Consumer) ack(ctx context.Context, task Task, log logger.Logger) {
	if err := c.q.Ack(ctx, task); err != nil {
		log.Error("failed to ack task", logger.Error(err))
	}
}

type panicError struct{ value any }

func (e *panicError) Error() string   { return fmt.Sprintf("handler panic: %v", e.value) }
func (e *panicError) Retryable() bool { return true }
