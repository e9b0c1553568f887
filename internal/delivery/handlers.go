package delivery

import (
	"context"
	"fmt"

	"github.com/tphakala/notifyroute/internal/channels"
	"github.com/tphakala/notifyroute/internal/datastore/repository"
	"github.com/tphakala/notifyroute/internal/errors"
	"github.com/tphakala/notifyroute/internal/queue"
)

// Register installs the delivery task handlers on c.
func (w *Worker) Register(c *queue.Consumer) {
	c.Handle(TaskProcessEvent, w.handleProcessEvent)
	c.Handle(TaskSendTest, w.handleSendTest)
}

func (w *Worker) handleProcessEvent(ctx context.Context, qt queue.Task) error {
	var task Task
	if err := qt.Decode(&task); err != nil {
		return &TerminalError{Err: fmt.Errorf("malformed %s payload: %w", qt.Name, err)}
	}
	task.Attempt = qt.Retries + 1
	return w.Process(ctx, task).Err
}

// handleSendTest runs a queued test send. Only store failures are retried;
// a rejected message is already in the log.
func (w *Worker) handleSendTest(ctx context.Context, qt queue.Task) error {
	var task channels.TestTask
	if err := qt.Decode(&task); err != nil {
		return &TerminalError{Err: fmt.Errorf("malformed %s payload: %w", qt.Name, err)}
	}
	if _, err := w.SendTest(ctx, task); err != nil {
		if errors.CategoryOf(err) == errors.CategoryValidation || repository.IsNotFound(err) {
			return &TerminalError{Err: err}
		}
		return &RetryableError{Err: err}
	}
	return nil
}
