package stage

import (
	"github.com/c360/stagegraph/errors"
)

// Stage is one node of a graph. The set of stages is closed: every variant is
// constructed by this package and wired to its ports at construction.
type Stage interface {
	// Name is unique within the graph.
	Name() string
	// Kind names the variant, e.g. "map" or "concat".
	Kind() string

	postStart()
}

// Stage kinds.
const (
	KindMap       = "map"
	KindFilter    = "filter"
	KindTake      = "take"
	KindDrop      = "drop"
	KindTakeWhile = "take-while"
	KindPeek      = "peek"
	KindThrottle  = "throttle"
	KindConcat    = "concat"
	KindCollect   = "collect"
	KindTerminate = "on-terminate"
	KindOf        = "of"
	KindFailed    = "failed"
)

type base struct {
	g    *Graph
	name string
	kind string
}

func newBase(g *Graph, kind, name string) base {
	return base{g: g, name: g.stageName(kind, name), kind: kind}
}

func (b *base) Name() string { return b.name }
func (b *base) Kind() string { return b.kind }
func (b *base) postStart()   {}

// fail reports a user function failure: the outlet fails with err and every
// open inlet is canceled.
func (b *base) fail(err error, outlet interface{ Fail(error) }, inlets ...interface {
	IsClosed() bool
	Cancel()
}) {
	b.g.stageFailed(b.name, err)
	outlet.Fail(err)
	for _, in := range inlets {
		if !in.IsClosed() {
			in.Cancel()
		}
	}
}

// call runs a user function, turning returned errors and panics into
// ErrUserFunction failures.
func call[In, Out any](stage, function string, fn func(In) (Out, error), v In) (out Out, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero Out
			out = zero
			err = errors.UserFunction(stage, function, errors.FromPanic(r))
		}
	}()
	out, err = fn(v)
	return out, errors.UserFunction(stage, function, err)
}
