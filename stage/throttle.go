package stage

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/stagegraph/errors"
)

// ThrottleStage limits the element rate with a token bucket. Waiting is a
// timer that re-enters the signal queue; nothing blocks.
type ThrottleStage[T any] struct {
	base
	in      *Inlet[T]
	out     *Outlet[T]
	limiter *rate.Limiter

	pending     T
	hasPending  bool
	finished    bool
	timer       *time.Timer
	reservation *rate.Reservation
}

// Throttle creates a stage emitting at most limiter's rate.
func Throttle[T any](g *Graph, name string, limiter *rate.Limiter) *ThrottleStage[T] {
	s := &ThrottleStage[T]{base: newBase(g, KindThrottle, name), limiter: limiter}
	if limiter == nil {
		g.assemblyError(errors.IllegalState(s.name, "Throttle", "limiter must be set"))
	}
	s.in = newInlet[T](g, s.name, "in")
	s.out = newOutlet[T](g, s.name, "out")

	s.in.SetListener(InletHandler{
		Push: func() {
			e := s.in.Grab()
			r := s.limiter.Reserve()
			if !r.OK() {
				err := fmt.Errorf("%s: burst %d cannot admit an element: %w",
					s.name, s.limiter.Burst(), errors.ErrInvalidConfig)
				s.fail(err, s.out, s.in)
				return
			}
			delay := r.Delay()
			if delay <= 0 {
				s.out.Push(e)
				return
			}
			s.pending = e
			s.hasPending = true
			s.reservation = r
			s.timer = time.AfterFunc(delay, func() {
				s.g.queue.Execute(s.emit)
			})
		},
		Finish: func() {
			if s.hasPending {
				s.finished = true
				return
			}
			s.out.Complete()
		},
		Failure: func(err error) {
			s.stop()
			s.out.Fail(err)
		},
	})

	s.out.SetListener(OutletHandler{
		Pull: s.in.Pull,
		Cancel: func() {
			s.stop()
			if !s.in.IsClosed() {
				s.in.Cancel()
			}
		},
	})
	g.addStage(s)
	return s
}

func (s *ThrottleStage[T]) emit() {
	if !s.hasPending || s.out.IsClosed() {
		return
	}
	e := s.pending
	s.reservation = nil
	s.stop()
	s.out.Push(e)
	if s.finished {
		s.out.Complete()
	}
}

// stop drops the pending element and returns its token to the limiter.
func (s *ThrottleStage[T]) stop() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.reservation != nil {
		s.reservation.Cancel()
		s.reservation = nil
	}
	var zero T
	s.pending = zero
	s.hasPending = false
}

func (s *ThrottleStage[T]) abort(error) {
	s.stop()
}

// In returns the inlet.
func (s *ThrottleStage[T]) In() *Inlet[T] { return s.in }

// Out returns the outlet.
func (s *ThrottleStage[T]) Out() *Outlet[T] { return s.out }
