package stage

// MapStage transforms each element with a function.
type MapStage[In, Out any] struct {
	base
	in  *Inlet[In]
	out *Outlet[Out]
	fn  func(In) (Out, error)
}

// Map creates a stage applying fn to each element. An error from fn fails the
// stream and cancels upstream.
func Map[In, Out any](g *Graph, name string, fn func(In) (Out, error)) *MapStage[In, Out] {
	s := &MapStage[In, Out]{base: newBase(g, KindMap, name), fn: fn}
	s.in = newInlet[In](g, s.name, "in")
	s.out = newOutlet[Out](g, s.name, "out")

	s.in.SetListener(InletHandler{
		Push: func() {
			v, err := call(s.name, "map", s.fn, s.in.Grab())
			if err != nil {
				s.fail(err, s.out, s.in)
				return
			}
			s.out.Push(v)
		},
		Finish:  s.out.Complete,
		Failure: s.out.Fail,
	})
	s.out.SetListener(passOutlet(s.in))
	g.addStage(s)
	return s
}

// In returns the inlet.
func (s *MapStage[In, Out]) In() *Inlet[In] { return s.in }

// Out returns the outlet.
func (s *MapStage[In, Out]) Out() *Outlet[Out] { return s.out }

// FilterStage passes elements that match a predicate.
type FilterStage[T any] struct {
	base
	in   *Inlet[T]
	out  *Outlet[T]
	pred func(T) (bool, error)
}

// Filter creates a stage that drops elements for which pred returns false.
func Filter[T any](g *Graph, name string, pred func(T) bool) *FilterStage[T] {
	s := &FilterStage[T]{
		base: newBase(g, KindFilter, name),
		pred: func(v T) (bool, error) { return pred(v), nil },
	}
	s.in = newInlet[T](g, s.name, "in")
	s.out = newOutlet[T](g, s.name, "out")

	s.in.SetListener(InletHandler{
		Push: func() {
			e := s.in.Grab()
			keep, err := call(s.name, "predicate", s.pred, e)
			switch {
			case err != nil:
				s.fail(err, s.out, s.in)
			case keep:
				s.out.Push(e)
			default:
				s.in.Pull()
			}
		},
		Finish:  s.out.Complete,
		Failure: s.out.Fail,
	})
	s.out.SetListener(passOutlet(s.in))
	g.addStage(s)
	return s
}

// In returns the inlet.
func (s *FilterStage[T]) In() *Inlet[T] { return s.in }

// Out returns the outlet.
func (s *FilterStage[T]) Out() *Outlet[T] { return s.out }

// TakeStage passes the first n elements and then completes.
type TakeStage[T any] struct {
	base
	in    *Inlet[T]
	out   *Outlet[T]
	n     int64
	taken int64
}

// Take creates a stage that completes after n elements and cancels upstream.
func Take[T any](g *Graph, name string, n int64) *TakeStage[T] {
	s := &TakeStage[T]{base: newBase(g, KindTake, name), n: n}
	s.in = newInlet[T](g, s.name, "in")
	s.out = newOutlet[T](g, s.name, "out")

	s.in.SetListener(InletHandler{
		Push: func() {
			s.taken++
			s.out.Push(s.in.Grab())
			if s.taken >= s.n {
				s.out.Complete()
				s.in.Cancel()
			}
		},
		Finish:  s.out.Complete,
		Failure: s.out.Fail,
	})
	s.out.SetListener(passOutlet(s.in))
	g.addStage(s)
	return s
}

func (s *TakeStage[T]) postStart() {
	if s.n <= 0 && !s.out.IsClosed() {
		s.out.Complete()
		s.in.Cancel()
	}
}

// In returns the inlet.
func (s *TakeStage[T]) In() *Inlet[T] { return s.in }

// Out returns the outlet.
func (s *TakeStage[T]) Out() *Outlet[T] { return s.out }

// DropStage skips the first n elements.
type DropStage[T any] struct {
	base
	in      *Inlet[T]
	out     *Outlet[T]
	n       int64
	dropped int64
}

// Drop creates a stage that discards the first n elements.
func Drop[T any](g *Graph, name string, n int64) *DropStage[T] {
	s := &DropStage[T]{base: newBase(g, KindDrop, name), n: n}
	s.in = newInlet[T](g, s.name, "in")
	s.out = newOutlet[T](g, s.name, "out")

	s.in.SetListener(InletHandler{
		Push: func() {
			e := s.in.Grab()
			if s.dropped < s.n {
				s.dropped++
				s.in.Pull()
				return
			}
			s.out.Push(e)
		},
		Finish:  s.out.Complete,
		Failure: s.out.Fail,
	})
	s.out.SetListener(passOutlet(s.in))
	g.addStage(s)
	return s
}

// In returns the inlet.
func (s *DropStage[T]) In() *Inlet[T] { return s.in }

// Out returns the outlet.
func (s *DropStage[T]) Out() *Outlet[T] { return s.out }

// TakeWhileStage passes elements while a predicate holds.
type TakeWhileStage[T any] struct {
	base
	in   *Inlet[T]
	out  *Outlet[T]
	pred func(T) (bool, error)
}

// TakeWhile creates a stage that completes at the first element failing
// pred. That element is not emitted.
func TakeWhile[T any](g *Graph, name string, pred func(T) bool) *TakeWhileStage[T] {
	s := &TakeWhileStage[T]{
		base: newBase(g, KindTakeWhile, name),
		pred: func(v T) (bool, error) { return pred(v), nil },
	}
	s.in = newInlet[T](g, s.name, "in")
	s.out = newOutlet[T](g, s.name, "out")

	s.in.SetListener(InletHandler{
		Push: func() {
			e := s.in.Grab()
			keep, err := call(s.name, "predicate", s.pred, e)
			switch {
			case err != nil:
				s.fail(err, s.out, s.in)
			case keep:
				s.out.Push(e)
			default:
				s.out.Complete()
				s.in.Cancel()
			}
		},
		Finish:  s.out.Complete,
		Failure: s.out.Fail,
	})
	s.out.SetListener(passOutlet(s.in))
	g.addStage(s)
	return s
}

// In returns the inlet.
func (s *TakeWhileStage[T]) In() *Inlet[T] { return s.in }

// Out returns the outlet.
func (s *TakeWhileStage[T]) Out() *Outlet[T] { return s.out }

// PeekStage calls a function for each element and passes it on unchanged.
type PeekStage[T any] struct {
	base
	in  *Inlet[T]
	out *Outlet[T]
	fn  func(T) (struct{}, error)
}

// Peek creates a pass-through stage that observes each element. An error
// from fn fails the stream.
func Peek[T any](g *Graph, name string, fn func(T) error) *PeekStage[T] {
	s := &PeekStage[T]{
		base: newBase(g, KindPeek, name),
		fn:   func(v T) (struct{}, error) { return struct{}{}, fn(v) },
	}
	s.in = newInlet[T](g, s.name, "in")
	s.out = newOutlet[T](g, s.name, "out")

	s.in.SetListener(InletHandler{
		Push: func() {
			e := s.in.Grab()
			if _, err := call(s.name, "peek", s.fn, e); err != nil {
				s.fail(err, s.out, s.in)
				return
			}
			s.out.Push(e)
		},
		Finish:  s.out.Complete,
		Failure: s.out.Fail,
	})
	s.out.SetListener(passOutlet(s.in))
	g.addStage(s)
	return s
}

// In returns the inlet.
func (s *PeekStage[T]) In() *Inlet[T] { return s.in }

// Out returns the outlet.
func (s *PeekStage[T]) Out() *Outlet[T] { return s.out }

// passOutlet forwards pulls to in and cancels it on downstream finish.
func passOutlet[T any](in *Inlet[T]) OutletHandler {
	return OutletHandler{
		Pull: in.Pull,
		Cancel: func() {
			if !in.IsClosed() {
				in.Cancel()
			}
		},
	}
}
