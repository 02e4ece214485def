package stage

import (
	"github.com/c360/stagegraph/errors"
)

// TerminateStage passes elements through and runs a side effect exactly once
// when the stream terminates by completion, failure or cancellation.
type TerminateStage[T any] struct {
	base
	in  *Inlet[T]
	out *Outlet[T]

	onComplete func() error
	onError    func(error) error
	onCancel   func() error
	ran        bool
}

// OnTerminate runs action once on whichever termination happens first. An
// action error during failure replaces the upstream error downstream, with
// the original kept as the superseded cause. On cancellation action errors
// are logged and dropped.
func OnTerminate[T any](g *Graph, name string, action func() error) *TerminateStage[T] {
	return newTerminate[T](g, name,
		action,
		func(error) error { return action() },
		action)
}

// OnComplete runs action only on successful completion.
func OnComplete[T any](g *Graph, name string, action func() error) *TerminateStage[T] {
	return newTerminate[T](g, name, action, nil, nil)
}

// OnError runs action only on upstream failure; it receives the error.
func OnError[T any](g *Graph, name string, action func(error) error) *TerminateStage[T] {
	return newTerminate[T](g, name, nil, action, nil)
}

func newTerminate[T any](g *Graph, name string,
	onComplete func() error, onError func(error) error, onCancel func() error,
) *TerminateStage[T] {
	s := &TerminateStage[T]{
		base:       newBase(g, KindTerminate, name),
		onComplete: onComplete,
		onError:    onError,
		onCancel:   onCancel,
	}
	s.in = newInlet[T](g, s.name, "in")
	s.out = newOutlet[T](g, s.name, "out")

	s.in.SetListener(InletHandler{
		Push: func() {
			s.out.Push(s.in.Grab())
		},
		Finish: func() {
			if err := s.run("complete", func() error { return invoke(s.onComplete) }); err != nil {
				s.g.stageFailed(s.name, err)
				s.out.Fail(err)
				return
			}
			s.out.Complete()
		},
		Failure: func(cause error) {
			err := s.run("error", func() error {
				if s.onError == nil {
					return nil
				}
				return s.onError(cause)
			})
			if err != nil {
				s.g.logger.Warn("Termination action failed during failure",
					"stage", s.name, "error", err, "superseded", cause)
				s.out.Fail(errors.Supersede(err, cause))
				return
			}
			s.out.Fail(cause)
		},
	})

	s.out.SetListener(OutletHandler{
		Pull: s.in.Pull,
		Cancel: func() {
			if err := s.run("cancel", func() error { return invoke(s.onCancel) }); err != nil {
				s.g.logger.Warn("Termination action failed during cancel", "stage", s.name, "error", err)
			}
			if !s.in.IsClosed() {
				s.in.Cancel()
			}
		},
	})
	g.addStage(s)
	return s
}

// run calls action unless a termination action already ran.
func (s *TerminateStage[T]) run(path string, action func() error) error {
	if s.ran {
		return nil
	}
	s.ran = true
	_, err := call(s.name, "on-"+path, func(struct{}) (struct{}, error) {
		return struct{}{}, action()
	}, struct{}{})
	return err
}

func invoke(action func() error) error {
	if action == nil {
		return nil
	}
	return action()
}

// In returns the inlet.
func (s *TerminateStage[T]) In() *Inlet[T] { return s.in }

// Out returns the outlet.
func (s *TerminateStage[T]) Out() *Outlet[T] { return s.out }
