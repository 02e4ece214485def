package stage

// OfStage emits a fixed sequence and completes.
type OfStage[T any] struct {
	base
	out   *Outlet[T]
	items []T
	index int
}

// Of creates a source stage emitting items in order.
func Of[T any](g *Graph, name string, items ...T) *OfStage[T] {
	s := &OfStage[T]{base: newBase(g, KindOf, name), items: items}
	s.out = newOutlet[T](g, s.name, "out")
	s.out.SetListener(OutletHandler{
		Pull: func() {
			s.out.Push(s.items[s.index])
			s.index++
			if s.index == len(s.items) {
				s.items = nil
				s.out.Complete()
			}
		},
		Cancel: func() {
			s.items = nil
		},
	})
	g.addStage(s)
	return s
}

func (s *OfStage[T]) postStart() {
	if len(s.items) == 0 && !s.out.IsClosed() {
		s.out.Complete()
	}
}

// Out returns the outlet.
func (s *OfStage[T]) Out() *Outlet[T] { return s.out }

// FailedStage fails its outlet as soon as the graph starts.
type FailedStage[T any] struct {
	base
	out *Outlet[T]
	err error
}

// Failed creates a source stage that fails with err.
func Failed[T any](g *Graph, name string, err error) *FailedStage[T] {
	s := &FailedStage[T]{base: newBase(g, KindFailed, name), err: err}
	s.out = newOutlet[T](g, s.name, "out")
	s.out.SetListener(OutletHandler{
		Pull:   func() {},
		Cancel: func() {},
	})
	g.addStage(s)
	return s
}

func (s *FailedStage[T]) postStart() {
	if !s.out.IsClosed() {
		s.out.Fail(s.err)
	}
}

// Out returns the outlet.
func (s *FailedStage[T]) Out() *Outlet[T] { return s.out }
