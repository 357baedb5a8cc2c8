package command

import (
	"context"
	"sync"
)

// Future is the eventual outcome of a command.
type Future[R any] struct {
	done  chan struct{}
	once  sync.Once
	value R
	err   error
}

func newFuture[R any]() *Future[R] {
	return &Future[R]{done: make(chan struct{})}
}

func (f *Future[R]) settle(value R, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

// Done is closed once the command has resolved or rejected.
func (f *Future[R]) Done() <-chan struct{} {
	return f.done
}

// Result blocks until the command settles and returns its outcome.
func (f *Future[R]) Result() (R, error) {
	<-f.done
	return f.value, f.err
}

// Wait is like Result but gives up when ctx ends. Giving up does not stop the
// command; cancel the context passed to Execute for that.
func (f *Future[R]) Wait(ctx context.Context) (R, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}
