package command

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// Stop is returned by a RetryStrategy to end retries. Its contents are only
// informational; the caller always receives the error that triggered it.
type Stop struct {
	Reason string
}

// RetryStrategy decides, for each retryable failure, whether to try again.
// A nil result means retry; a non-nil *Stop ends the command with err.
//
// err is always an *Error, so strategies can inspect CategoryOf and AttemptOf
// instead of keeping state of their own.
type RetryStrategy func(err error) *Stop

// Unlimited retries forever.
func Unlimited() RetryStrategy {
	return func(error) *Stop { return nil }
}

// Counter allows up to n retries. Failure number n+1 stops the command.
func Counter(n int) RetryStrategy {
	return func(err error) *Stop {
		if AttemptOf(err) > n {
			return &Stop{Reason: fmt.Sprintf("retry limit %d reached", n)}
		}
		return nil
	}
}

// StopOn stops as soon as a failure falls into one of categories.
func StopOn(categories ...Category) RetryStrategy {
	return func(err error) *Stop {
		if c := CategoryOf(err); slices.Contains(categories, c) {
			return &Stop{Reason: fmt.Sprintf("%s is not retried", c)}
		}
		return nil
	}
}

// StopIf stops when match reports true for the failure.
func StopIf(match func(err error) bool) RetryStrategy {
	return func(err error) *Stop {
		if match != nil && match(err) {
			return &Stop{Reason: "stop condition matched"}
		}
		return nil
	}
}

// Deadline stops once d has elapsed since the first attempt started.
func Deadline(d time.Duration) RetryStrategy {
	return func(err error) *Stop {
		started := startedOf(err)
		if !started.IsZero() && time.Since(started) >= d {
			return &Stop{Reason: fmt.Sprintf("deadline %s exceeded", d)}
		}
		return nil
	}
}

// UntilDone stops once ctx is cancelled or expired.
func UntilDone(ctx context.Context) RetryStrategy {
	return func(error) *Stop {
		if err := ctx.Err(); err != nil {
			return &Stop{Reason: err.Error()}
		}
		return nil
	}
}

// Chain consults strategies in order and returns the first stop.
func Chain(strategies ...RetryStrategy) RetryStrategy {
	return func(err error) *Stop {
		for _, s := range strategies {
			if s == nil {
				continue
			}
			if stop := s(err); stop != nil {
				return stop
			}
		}
		return nil
	}
}

func startedOf(err error) time.Time {
	if e, ok := asError(err); ok {
		return e.Started
	}
	return time.Time{}
}
