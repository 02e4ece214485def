package reactive

import (
	"context"
	"sync"
)

// Future is a single-assignment result. The first Complete or Fail wins;
// later calls report false and change nothing.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// NewFuture creates an unresolved future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Complete resolves the future with a value.
func (f *Future[T]) Complete(value T) bool {
	resolved := false
	f.once.Do(func() {
		f.value = value
		resolved = true
		close(f.done)
	})
	return resolved
}

// Fail resolves the future with an error.
func (f *Future[T]) Fail(err error) bool {
	resolved := false
	f.once.Do(func() {
		f.err = err
		resolved = true
		close(f.done)
	})
	return resolved
}

// Done is closed once the future resolves.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsDone reports whether the future has resolved.
func (f *Future[T]) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result returns the outcome. ok is false while the future is unresolved.
func (f *Future[T]) Result() (value T, ok bool, err error) {
	if !f.IsDone() {
		return value, false, nil
	}
	return f.value, true, f.err
}

// Await blocks until the future resolves or ctx is done.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
