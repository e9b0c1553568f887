package delivery

import (
	"github.com/tphakala/notifyroute/internal/datastore/entities"
)

// Outcome is what a delivery attempt wrote to the audit log.
type Outcome struct {
	Status  string
	Message string
}

// Result of one task run. Err is nil for success and suppression outcomes,
// a *TerminalError for failures that must not be retried, and a
// *RetryableError for unexpected failures the queue should run again.
type Result struct {
	Outcome Outcome
	Err     error
}

// Delivered reports whether the transport accepted the message.
func (r Result) Delivered() bool {
	return r.Outcome.Status == entities.StatusSuccess
}

// RetryableError asks the queue to run the task again after its retry delay.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string   { return e.Err.Error() }
func (e *RetryableError) Unwrap() error   { return e.Err }
func (e *RetryableError) Retryable() bool { return true }

// TerminalError is a logged failure that retrying cannot fix.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string   { return e.Err.Error() }
func (e *TerminalError) Unwrap() error   { return e.Err }
func (e *TerminalError) Retryable() bool { return false }

func handled(status, message string) Result {
	return Result{Outcome: Outcome{Status: status, Message: message}}
}

func terminal(message string, err error) Result {
	return Result{
		Outcome: Outcome{Status: entities.StatusFail, Message: message},
		Err:     &TerminalError{Err: err},
	}
}

func retryable(err error) Result {
	return Result{
		Outcome: Outcome{Status: entities.StatusFail, Message: err.Error()},
		Err:     &RetryableError{Err: err},
	}
}
