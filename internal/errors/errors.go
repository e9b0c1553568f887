// Package errors wraps the standard errors package and adds categorized
// errors that the API layer maps onto HTTP status codes.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Category classifies an error for callers that need to react to its kind.
type Category string

const (
	CategoryValidation    Category = "validation"
	CategoryNotFound      Category = "not-found"
	CategoryConflict      Category = "conflict"
	CategoryTransient     Category = "transient"
	CategoryConfiguration Category = "configuration"
	CategoryInternal      Category = "internal"
)

// Error is an error tagged with a category and optional context.
type Error struct {
	Category Category
	Op       string
	Err      error
	Context  map[string]any
	// Message, when set, is the text shown to API clients and in delivery
	// logs instead of Err.
	Message string
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Re-exported helpers so callers only import this package.
var (
	Is     = stderrors.Is
	As     = stderrors.As
	Join   = stderrors.Join
	Unwrap = stderrors.Unwrap
)

// New returns a plain error.
func New(msg string) error { return stderrors.New(msg) }

// Newf formats a plain error.
func Newf(format string, args ...any) error { return fmt.Errorf(format, args...) }

// Wrapf wraps err with a formatted message. Returns nil if err is nil.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// WithCategory tags err with a category. Returns nil if err is nil.
func WithCategory(err error, category Category, op string) error {
	if err == nil {
		return nil
	}
	return &Error{Category: category, Op: op, Err: err}
}

// WithMessage tags err like WithCategory and attaches a client-facing
// message. Returns nil if err is nil.
func WithMessage(err error, category Category, op, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Category: category, Op: op, Err: err, Message: message}
}

// Validation builds a validation error from a message.
func Validation(op, msg string) error {
	return &Error{Category: CategoryValidation, Op: op, Err: stderrors.New(msg)}
}

// CategoryOf returns the category of the first categorized error in the
// chain, or CategoryInternal.
func CategoryOf(err error) Category {
	var e *Error
	if As(err, &e) {
		return e.Category
	}
	return CategoryInternal
}
