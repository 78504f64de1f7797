package worker

import (
	"context"
	"errors"

	"github.com/teacurran/village-calendar-sub007/internal/domain/model"
)

// HandlerFunc executes one job. The job's ActorID names the domain entity
// the work applies to.
type HandlerFunc func(ctx context.Context, job model.Job) error

// Registry maps queue names to handlers. The set is assembled once during
// startup and read-only afterwards; a queue name without a handler is a
// terminal job failure, never a retry.
type Registry map[string]HandlerFunc

func (r Registry) Handler(queueName string) (HandlerFunc, bool) {
	h, ok := r[queueName]
	return h, ok
}

// fatalError marks a handler error as non-retryable.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal wraps err so the dispatcher fails the job immediately instead of
// scheduling a retry. Handlers use it for errors no retry can fix, like an
// actor that does not exist.
func Fatal(err error) error {
	return &fatalError{err: err}
}

// IsFatal reports whether err or anything it wraps was marked Fatal.
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}
