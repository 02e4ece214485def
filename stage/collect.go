package stage

import (
	"github.com/c360/stagegraph/errors"
	"github.com/c360/stagegraph/reactive"
)

// Collector folds a stream into a result: Supplier creates the container,
// Accumulator adds one element to it and Finisher turns it into the result.
type Collector[T, A, R any] struct {
	Supplier    func() A
	Accumulator func(A, T) (A, error)
	Finisher    func(A) (R, error)
}

// Reducing folds elements with fn starting from initial.
func Reducing[T any](initial T, fn func(T, T) T) Collector[T, T, T] {
	return Collector[T, T, T]{
		Supplier:    func() T { return initial },
		Accumulator: func(acc, v T) (T, error) { return fn(acc, v), nil },
		Finisher:    func(acc T) (T, error) { return acc, nil },
	}
}

// ToSlice collects every element in order.
func ToSlice[T any]() Collector[T, []T, []T] {
	return Collector[T, []T, []T]{
		Supplier:    func() []T { return []T{} },
		Accumulator: func(acc []T, v T) ([]T, error) { return append(acc, v), nil },
		Finisher:    func(acc []T) ([]T, error) { return acc, nil },
	}
}

// CollectStage is a sink that folds its input into a future result.
type CollectStage[T, A, R any] struct {
	base
	in        *Inlet[T]
	collector Collector[T, A, R]
	result    *reactive.Future[R]

	container A
	released  bool
}

// Collect creates a sink stage. The result future completes with the
// finished value, fails with the upstream or user function error, and stays
// unresolved if the graph is canceled. The container is released in every
// case.
func Collect[T, A, R any](g *Graph, name string, collector Collector[T, A, R]) *CollectStage[T, A, R] {
	s := &CollectStage[T, A, R]{
		base:      newBase(g, KindCollect, name),
		collector: collector,
		result:    reactive.NewFuture[R](),
	}
	if collector.Supplier == nil || collector.Accumulator == nil || collector.Finisher == nil {
		g.assemblyError(errors.IllegalState(s.name, "Collect", "collector functions must be set"))
	}
	s.in = newInlet[T](g, s.name, "in")

	s.in.SetListener(InletHandler{
		Push: func() {
			e := s.in.Grab()
			acc, err := call(s.name, "accumulator", func(v T) (A, error) {
				return s.collector.Accumulator(s.container, v)
			}, e)
			if err != nil {
				s.failWith(err)
				s.in.Cancel()
				return
			}
			s.container = acc
			s.in.Pull()
		},
		Finish: func() {
			r, err := call(s.name, "finisher", s.collector.Finisher, s.container)
			s.release()
			if err != nil {
				s.failWith(err)
				return
			}
			s.result.Complete(r)
		},
		Failure: func(err error) {
			s.release()
			s.result.Fail(err)
		},
	})
	g.addStage(s)
	g.addCanceler(s)
	return s
}

// ForEach creates a sink that calls fn for each element. The future
// completes when the stream does.
func ForEach[T any](g *Graph, name string, fn func(T) error) *CollectStage[T, struct{}, struct{}] {
	return Collect(g, name, Collector[T, struct{}, struct{}]{
		Supplier:    func() struct{} { return struct{}{} },
		Accumulator: func(_ struct{}, v T) (struct{}, error) { return struct{}{}, fn(v) },
		Finisher:    func(struct{}) (struct{}, error) { return struct{}{}, nil },
	})
}

func (s *CollectStage[T, A, R]) postStart() {
	if s.in.IsClosed() {
		return
	}
	container, err := call(s.name, "supplier", func(struct{}) (A, error) {
		return s.collector.Supplier(), nil
	}, struct{}{})
	if err != nil {
		s.failWith(err)
		s.in.Cancel()
		return
	}
	s.container = container
	s.in.Pull()
}

func (s *CollectStage[T, A, R]) failWith(err error) {
	s.g.stageFailed(s.name, err)
	s.release()
	s.result.Fail(err)
}

func (s *CollectStage[T, A, R]) release() {
	var zero A
	s.container = zero
	s.released = true
}

func (s *CollectStage[T, A, R]) cancel() {
	if !s.in.IsClosed() {
		s.in.Cancel()
	}
	s.release()
}

func (s *CollectStage[T, A, R]) abort(err error) {
	s.release()
	s.result.Fail(err)
}

// In returns the inlet.
func (s *CollectStage[T, A, R]) In() *Inlet[T] { return s.in }

// Result returns the future completed when the stream terminates.
func (s *CollectStage[T, A, R]) Result() *reactive.Future[R] { return s.result }
