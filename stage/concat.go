package stage

// ConcatStage emits every element of first, then every element of second.
type ConcatStage[T any] struct {
	base
	first  *Inlet[T]
	second *Inlet[T]
	out    *Outlet[T]

	// secondError holds a failure of second that arrived while first was
	// still open. It is only consulted once first closes.
	secondError error
}

// Concat creates a stage joining two upstreams in order. A failure of second
// is held back until first has completed.
func Concat[T any](g *Graph, name string) *ConcatStage[T] {
	s := &ConcatStage[T]{base: newBase(g, KindConcat, name)}
	s.first = newInlet[T](g, s.name, "first")
	s.second = newInlet[T](g, s.name, "second")
	s.out = newOutlet[T](g, s.name, "out")

	s.first.SetListener(InletHandler{
		Push: func() {
			s.out.Push(s.first.Grab())
		},
		Finish: func() {
			if s.second.IsClosed() {
				s.finishOut()
				return
			}
			if s.out.IsAvailable() {
				s.second.Pull()
			}
		},
		Failure: func(err error) {
			s.out.Fail(err)
			if !s.second.IsClosed() {
				s.second.Cancel()
			}
		},
	})

	s.second.SetListener(InletHandler{
		Push: func() {
			s.out.Push(s.second.Grab())
		},
		Finish: func() {
			if s.first.IsClosed() {
				s.out.Complete()
			}
		},
		Failure: func(err error) {
			if s.first.IsClosed() {
				s.out.Fail(err)
				return
			}
			s.secondError = err
		},
	})

	s.out.SetListener(OutletHandler{
		Pull: func() {
			switch {
			case !s.first.IsClosed():
				s.first.Pull()
			case !s.second.IsClosed():
				s.second.Pull()
			}
		},
		Cancel: func() {
			if !s.first.IsClosed() {
				s.first.Cancel()
			}
			if !s.second.IsClosed() {
				s.second.Cancel()
			}
		},
	})
	g.addStage(s)
	return s
}

func (s *ConcatStage[T]) finishOut() {
	if s.secondError != nil {
		s.out.Fail(s.secondError)
		return
	}
	s.out.Complete()
}

// First returns the inlet drained first.
func (s *ConcatStage[T]) First() *Inlet[T] { return s.first }

// Second returns the inlet drained once first completes.
func (s *ConcatStage[T]) Second() *Inlet[T] { return s.second }

// Out returns the outlet.
func (s *ConcatStage[T]) Out() *Outlet[T] { return s.out }
