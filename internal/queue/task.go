// Package queue is a Redis-backed delayed task queue with an errgroup
// consumer pool. Tasks are claimed atomically, so several worker processes
// can share one queue.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tphakala/notifyroute/internal/errors"
)

// Task is one unit of work on a queue.
type Task struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Queue      string          `json:"queue"`
	Payload    json.RawMessage `json:"payload"`
	Retries    int             `json:"retries"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Decode unmarshals the payload into v.
func (t Task) Decode(v any) error {
	return json.Unmarshal(t.Payload, v)
}

// Enqueuer places tasks on a queue. countdown delays the first run.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskName string, payload any, queueName string, countdown time.Duration) (string, error)
}

// Retryable is implemented by handler errors that ask for the task to run
// again after the retry delay.
type Retryable interface {
	error
	Retryable() bool
}

// IsRetryable reports whether err's chain asks for a retry.
func IsRetryable(err error) bool {
	var r Retryable
	return errors.As(err, &r) && r.Retryable()
}
