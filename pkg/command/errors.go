package command

import (
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"
)

// Category classifies where in the load, mutate, commit cycle an attempt failed.
type Category string

const (
	// CategoryAggregateLoading marks a loader failure. Retryable.
	CategoryAggregateLoading Category = "aggregateLoadingError"
	// CategoryExecution marks a mutation failure or panic. Never retried.
	CategoryExecution Category = "executionError"
	// CategoryCommit marks a commit failure, including optimistic-concurrency conflicts. Retryable.
	CategoryCommit Category = "commitError"
)

// ErrorTypeLabel is the annotation key carrying the failure category.
const ErrorTypeLabel = "tryWithErrorType"

// ErrPanic wraps a value recovered from a panicking mutation.
var ErrPanic = errors.New("command: mutation panicked")

// Error is a failed attempt of a command.
type Error struct {
	Category  Category
	Attempt   int
	CommandID string
	// Started is when the command's first attempt began.
	Started time.Time
	Cause   error

	mu     sync.RWMutex
	labels map[string]string
}

func (e *Error) Error() string {
	return fmt.Sprintf("command: %s on attempt %d: %v", e.Category, e.Attempt, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Labels returns a copy of the annotations attached to e.
func (e *Error) Labels() map[string]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return maps.Clone(e.labels)
}

func (e *Error) setLabel(key, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.labels == nil {
		e.labels = make(map[string]string)
	}
	e.labels[key] = value
}

func (e *Error) label(key string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.labels[key]
	return v, ok
}

type annotatedError struct {
	err        error
	key, value string
}

func (a *annotatedError) Error() string { return a.err.Error() }
func (a *annotatedError) Unwrap() error { return a.err }

func (a *annotatedError) label(key string) (string, bool) {
	if key == a.key {
		return a.value, true
	}
	return "", false
}

type labeler interface {
	label(key string) (string, bool)
}

// Annotate attaches key=value to err. An *Error in the chain is labelled in
// place and err is returned unchanged; any other error is wrapped so that
// errors.Is and errors.As still see the original.
func Annotate(err error, key, value string) error {
	if err == nil {
		return nil
	}
	var cmdErr *Error
	if errors.As(err, &cmdErr) {
		cmdErr.setLabel(key, value)
		return err
	}
	return &annotatedError{err: err, key: key, value: value}
}

// Label returns the annotation stored under key anywhere in err's chain.
func Label(err error, key string) (string, bool) {
	for err != nil {
		if l, ok := err.(labeler); ok {
			if v, found := l.label(key); found {
				return v, true
			}
		}
		err = errors.Unwrap(err)
	}
	return "", false
}

// CategoryOf returns the failure category of err, or "" if err did not come from Execute.
func CategoryOf(err error) Category {
	if e, ok := asError(err); ok {
		return e.Category
	}
	return ""
}

// AttemptOf returns the attempt number on which err occurred, or 0.
func AttemptOf(err error) int {
	if e, ok := asError(err); ok {
		return e.Attempt
	}
	return 0
}

func asError(err error) (*Error, bool) {
	var cmdErr *Error
	if errors.As(err, &cmdErr) {
		return cmdErr, true
	}
	return nil, false
}

// commitOnFailure is implemented by mutation errors whose staged events are an
// audit record that must be persisted even though the command fails.
type commitOnFailure interface {
	CommitOnFailure() bool
}
