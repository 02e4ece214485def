package stage

import (
	"fmt"

	"github.com/c360/stagegraph/errors"
	"github.com/c360/stagegraph/flowgraph"
	"github.com/c360/stagegraph/pkg/buffer"
)

// InletListener receives the signals of one inlet.
type InletListener interface {
	// OnPush is called when a pulled element is available to Grab.
	OnPush()
	// OnUpstreamFinish is called after the last element has been grabbed.
	OnUpstreamFinish()
	// OnUpstreamFailure is called after the last element has been grabbed,
	// in place of OnUpstreamFinish.
	OnUpstreamFailure(err error)
}

// OutletListener receives the signals of one outlet.
type OutletListener interface {
	// OnPull is called when downstream wants one element.
	OnPull()
	// OnDownstreamFinish is called when downstream cancels. Every open inlet
	// of the stage must be canceled before returning.
	OnDownstreamFinish()
}

// InletHandler adapts functions to InletListener.
type InletHandler struct {
	Push    func()
	Finish  func()
	Failure func(err error)
}

// OnPush implements InletListener.
func (h InletHandler) OnPush() { h.Push() }

// OnUpstreamFinish implements InletListener.
func (h InletHandler) OnUpstreamFinish() { h.Finish() }

// OnUpstreamFailure implements InletListener.
func (h InletHandler) OnUpstreamFailure(err error) { h.Failure(err) }

// OutletHandler adapts functions to OutletListener.
type OutletHandler struct {
	Pull   func()
	Cancel func()
}

// OnPull implements OutletListener.
func (h OutletHandler) OnPull() { h.Pull() }

// OnDownstreamFinish implements OutletListener.
func (h OutletHandler) OnDownstreamFinish() { h.Cancel() }

// upstream is what an inlet talks to: a linked outlet or a boundary subscriber.
type upstream interface {
	// demand is called when the inlet is pulled with nothing buffered.
	demand()
	// grabbed is called after an element leaves the buffer.
	grabbed()
	// cancel is called once when the inlet is canceled.
	cancel()
}

// downstream is what an outlet talks to: a linked inlet or a boundary publisher.
type downstream[T any] interface {
	push(e T)
	complete()
	fail(err error)
}

// port is the graph's view of an inlet or outlet.
type port interface {
	stageName() string
	info() flowgraph.PortInfo
	forceClose() bool
}

// Inlet is the consuming port of a stage. It is touched only from inside the
// graph's signal queue.
type Inlet[T any] struct {
	g        *Graph
	stage    string
	name     string
	listener InletListener
	source   upstream
	elements buffer.Buffer[T]
	link     string
	boundary bool

	pulled   bool
	pushed   bool
	closed   bool
	finished bool
	failure  error
}

func newInlet[T any](g *Graph, stage, name string) *Inlet[T] {
	in := &Inlet[T]{
		g:        g,
		stage:    stage,
		name:     name,
		elements: buffer.NewCircularBuffer[T](1),
	}
	g.addPort(in)
	return in
}

func (in *Inlet[T]) id() string {
	return fmt.Sprintf("Inlet(%s.%s)", in.stage, in.name)
}

// SetListener installs the listener. Every inlet needs one before start.
func (in *Inlet[T]) SetListener(l InletListener) {
	in.listener = l
}

// Pull asks for one element. It panics if the inlet is closed or already pulled.
func (in *Inlet[T]) Pull() {
	if in.closed {
		panic(errors.IllegalState(in.id(), "Pull", "inlet closed"))
	}
	if in.pulled {
		panic(errors.IllegalState(in.id(), "Pull", "already pulled"))
	}
	in.pulled = true
	if !in.elements.IsEmpty() {
		in.g.queue.Execute(in.deliverPush)
		return
	}
	if !in.finished {
		in.source.demand()
	}
}

// IsPulled reports whether a pull is outstanding.
func (in *Inlet[T]) IsPulled() bool {
	return in.pulled
}

// IsAvailable reports whether an element is buffered and not yet grabbed.
func (in *Inlet[T]) IsAvailable() bool {
	return !in.closed && !in.elements.IsEmpty()
}

// IsPushed reports whether onPush was delivered for the current pull.
func (in *Inlet[T]) IsPushed() bool {
	return in.pushed && !in.closed
}

// IsClosed reports whether the inlet has terminated or was canceled.
func (in *Inlet[T]) IsClosed() bool {
	return in.closed
}

// Grab takes the pushed element. It panics unless the inlet was pulled and
// an element was pushed.
func (in *Inlet[T]) Grab() T {
	if !in.pulled || !in.pushed {
		panic(errors.IllegalState(in.id(), "Grab", "no element pushed"))
	}
	e, _ := in.elements.Read()
	in.pulled = false
	in.pushed = false

	if in.elements.IsEmpty() && in.finished {
		in.g.queue.Execute(in.deliverTermination)
	} else {
		in.source.grabbed()
	}
	return e
}

// Cancel closes the inlet, discards buffered elements and cancels upstream.
// It panics if the inlet is already closed.
func (in *Inlet[T]) Cancel() {
	if in.closed {
		panic(errors.IllegalState(in.id(), "Cancel", "inlet closed"))
	}
	in.close()
	in.elements.Clear()
	in.source.cancel()
}

// push implements downstream for a linked outlet or a boundary subscriber.
func (in *Inlet[T]) push(e T) {
	if in.closed {
		return
	}
	if err := in.elements.Write(e); err != nil {
		panic(errors.IllegalState(in.id(), "push", err.Error()))
	}
	if in.pulled && !in.pushed {
		in.g.queue.Execute(in.deliverPush)
	}
}

func (in *Inlet[T]) complete() {
	in.finish(nil)
}

func (in *Inlet[T]) fail(err error) {
	in.finish(err)
}

// finish records upstream termination. The terminal signal waits for the
// buffer to drain.
func (in *Inlet[T]) finish(err error) {
	if in.closed || in.finished {
		return
	}
	in.finished = true
	in.failure = err
	if in.elements.IsEmpty() {
		in.g.queue.Execute(in.deliverTermination)
	}
}

// failNow drops buffered elements and terminates with err.
func (in *Inlet[T]) failNow(err error) {
	if in.closed {
		return
	}
	if !in.pushed {
		in.elements.Clear()
	}
	in.finished = false
	in.finish(err)
}

func (in *Inlet[T]) deliverPush() {
	if in.closed || !in.pulled || in.pushed || in.elements.IsEmpty() {
		return
	}
	in.pushed = true
	in.listener.OnPush()
}

func (in *Inlet[T]) deliverTermination() {
	if in.closed {
		return
	}
	in.close()
	if in.failure != nil {
		in.g.markFailed()
		in.listener.OnUpstreamFailure(in.failure)
		return
	}
	in.listener.OnUpstreamFinish()
}

func (in *Inlet[T]) close() {
	in.closed = true
	in.pulled = false
	in.pushed = false
	in.g.portClosed()
}

func (in *Inlet[T]) stageName() string {
	return in.stage
}

func (in *Inlet[T]) info() flowgraph.PortInfo {
	pattern := flowgraph.PatternLink
	if in.boundary {
		pattern = flowgraph.PatternBoundary
	}
	return flowgraph.PortInfo{
		Name:         in.name,
		Direction:    flowgraph.DirectionInput,
		ConnectionID: in.link,
		Pattern:      pattern,
		Listened:     in.listener != nil,
	}
}

func (in *Inlet[T]) forceClose() bool {
	if in.closed {
		return false
	}
	in.closed = true
	in.pulled = false
	in.pushed = false
	in.elements.Clear()
	return true
}

// Outlet is the producing port of a stage. It is touched only from inside the
// graph's signal queue.
type Outlet[T any] struct {
	g        *Graph
	stage    string
	name     string
	listener OutletListener
	sink     downstream[T]
	link     string
	boundary bool

	pulled bool
	closed bool
}

func newOutlet[T any](g *Graph, stage, name string) *Outlet[T] {
	out := &Outlet[T]{g: g, stage: stage, name: name}
	g.addPort(out)
	return out
}

func (o *Outlet[T]) id() string {
	return fmt.Sprintf("Outlet(%s.%s)", o.stage, o.name)
}

// SetListener installs the listener. Every outlet needs one before start.
func (o *Outlet[T]) SetListener(l OutletListener) {
	o.listener = l
}

// Push delivers e downstream. It is valid only while downstream has pulled
// and the outlet is open.
func (o *Outlet[T]) Push(e T) {
	if o.closed {
		panic(errors.IllegalState(o.id(), "Push", "outlet closed"))
	}
	if !o.pulled {
		panic(errors.IllegalState(o.id(), "Push", "not pulled"))
	}
	o.pulled = false
	o.g.recordPush(o.stage)
	o.sink.push(e)
}

// Complete signals successful termination downstream. Valid once.
func (o *Outlet[T]) Complete() {
	if o.closed {
		panic(errors.IllegalState(o.id(), "Complete", "outlet closed"))
	}
	o.close()
	o.sink.complete()
}

// Fail signals failure downstream. Valid once.
func (o *Outlet[T]) Fail(err error) {
	if o.closed {
		panic(errors.IllegalState(o.id(), "Fail", "outlet closed"))
	}
	if err == nil {
		err = errors.ErrNilError
	}
	o.close()
	o.g.markFailed()
	o.sink.fail(err)
}

// IsAvailable reports whether downstream pulled and is waiting for a push.
func (o *Outlet[T]) IsAvailable() bool {
	return o.pulled && !o.closed
}

// IsClosed reports whether the outlet has terminated or was canceled.
func (o *Outlet[T]) IsClosed() bool {
	return o.closed
}

// demand implements upstream for a linked inlet.
func (o *Outlet[T]) demand() {
	o.g.queue.Execute(o.deliverPull)
}

func (o *Outlet[T]) grabbed() {}

func (o *Outlet[T]) cancel() {
	o.g.queue.Execute(o.deliverCancel)
}

func (o *Outlet[T]) deliverPull() {
	if o.closed || o.pulled {
		return
	}
	o.pulled = true
	o.listener.OnPull()
}

func (o *Outlet[T]) deliverCancel() {
	if o.closed {
		return
	}
	o.close()
	o.listener.OnDownstreamFinish()
}

func (o *Outlet[T]) close() {
	o.closed = true
	o.pulled = false
	o.g.portClosed()
}

func (o *Outlet[T]) stageName() string {
	return o.stage
}

func (o *Outlet[T]) info() flowgraph.PortInfo {
	pattern := flowgraph.PatternLink
	if o.boundary {
		pattern = flowgraph.PatternBoundary
	}
	return flowgraph.PortInfo{
		Name:         o.name,
		Direction:    flowgraph.DirectionOutput,
		ConnectionID: o.link,
		Pattern:      pattern,
		Listened:     o.listener != nil,
	}
}

func (o *Outlet[T]) forceClose() bool {
	if o.closed {
		return false
	}
	o.closed = true
	o.pulled = false
	return true
}

// Connect links out to in within one graph. Assembly errors are reported by
// Graph.Start; connecting a started graph panics.
func Connect[T any](out *Outlet[T], in *Inlet[T]) {
	g := out.g
	g.mustBeAssembling("Connect")
	switch {
	case out.g != in.g:
		g.assemblyError(errors.IllegalState("Graph", "Connect",
			fmt.Sprintf("%s and %s belong to different graphs", out.id(), in.id())))
		return
	case out.sink != nil:
		g.assemblyError(errors.IllegalState("Graph", "Connect", out.id()+" already connected"))
		return
	case in.source != nil:
		g.assemblyError(errors.IllegalState("Graph", "Connect", in.id()+" already connected"))
		return
	}

	link := g.nextLink()
	out.sink = in
	out.link = link
	in.source = out
	in.link = link
}
