package reactive

import (
	"math"
	"sync"

	"github.com/c360/stagegraph/errors"
)

// FromSlice returns a cold publisher that emits items in order, honoring
// demand, then completes. Each subscriber gets its own pass over items.
func FromSlice[T any](items []T) Publisher[T] {
	return PublisherFunc[T](func(s Subscriber[T]) {
		sub := &sliceSubscription[T]{items: items, subscriber: s}
		s.OnSubscribe(sub)
		if len(items) == 0 {
			sub.Request(math.MaxInt64)
		}
	})
}

// Empty returns a publisher that completes immediately after subscription.
func Empty[T any]() Publisher[T] {
	return FromSlice[T](nil)
}

// Failed returns a publisher that fails every subscriber with err.
func Failed[T any](err error) Publisher[T] {
	return PublisherFunc[T](func(s Subscriber[T]) {
		s.OnSubscribe(noopSubscription{})
		s.OnError(err)
	})
}

type noopSubscription struct{}

func (noopSubscription) Request(int64) {}
func (noopSubscription) Cancel()       {}

// sliceSubscription emits from a trampoline so that Request calls made from
// inside OnNext do not recurse.
type sliceSubscription[T any] struct {
	mu         sync.Mutex
	items      []T
	index      int
	demand     int64
	emitting   bool
	done       bool
	subscriber Subscriber[T]
}

func (s *sliceSubscription[T]) Request(n int64) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	if n <= 0 {
		s.done = true
		s.items = nil
		s.mu.Unlock()
		s.subscriber.OnError(errors.ProtocolViolation("FromSlice", "Request", errors.ErrInvalidDemand))
		return
	}
	s.demand = AddDemand(s.demand, n)
	if s.emitting {
		s.mu.Unlock()
		return
	}
	s.emitting = true

	for {
		if s.done {
			s.emitting = false
			s.mu.Unlock()
			return
		}
		if s.index >= len(s.items) {
			s.done = true
			s.emitting = false
			s.mu.Unlock()
			s.subscriber.OnComplete()
			return
		}
		if s.demand == 0 {
			s.emitting = false
			s.mu.Unlock()
			return
		}
		item := s.items[s.index]
		s.index++
		if s.demand != math.MaxInt64 {
			s.demand--
		}
		s.mu.Unlock()
		s.subscriber.OnNext(item)
		s.mu.Lock()
	}
}

func (s *sliceSubscription[T]) Cancel() {
	s.mu.Lock()
	s.done = true
	s.items = nil
	s.mu.Unlock()
}

// AddDemand adds n to demand, saturating at math.MaxInt64.
func AddDemand(demand, n int64) int64 {
	if demand > math.MaxInt64-n {
		return math.MaxInt64
	}
	return demand + n
}
