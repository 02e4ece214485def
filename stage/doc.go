// Package stage implements a backpressure-aware stage graph.
//
// A Graph holds stages linked inlet to outlet. Demand travels upstream as
// pulls, elements travel downstream as pushes, and every callback of a run is
// serialized by the graph's SignalQueue, so stage code never needs a lock.
//
// # Assembly
//
//	g := stage.NewGraph(stage.WithLogger(logger))
//	double := stage.Map(g, "double", func(v int) (int, error) { return v * 2, nil })
//	sum := stage.Collect(g, "sum", stage.Reducing(0, func(a, b int) int { return a + b }))
//	upstream := stage.Source(double.In())
//	stage.Connect(double.Out(), sum.In())
//	if err := g.Start(); err != nil {
//		return err
//	}
//	publisher.Subscribe(upstream)
//	total, err := sum.Result().Await(ctx)
//
// Assembly mistakes (a port connected twice, a missing collector function,
// invalid watermarks) are collected and returned by Start, which also checks
// through package flowgraph that every port has a peer and a listener.
//
// # Ports
//
// An Inlet is pulled, then receives OnPush, then is grabbed. Grabbing
// without a push, pulling twice, or touching a closed port panics with an
// ErrIllegalState error. Such panics are programming faults: the queue
// recovers them and aborts the run, canceling boundary upstreams and failing
// boundary downstreams and sink futures. Upstream termination is delivered
// only after every buffered element was grabbed, failure taking precedence.
//
// An Outlet may be pushed once per pull, and completed or failed once.
//
// # Boundaries
//
// Source turns an inlet into a reactive.Subscriber. It requests demand in
// batches between a low and a high watermark (defaults 8 and 4) and fails the
// stream when an element arrives without outstanding demand. Sink turns an
// outlet into a reactive.Publisher accepting one subscriber.
//
// # Cancellation
//
// Graph.Cancel cancels every sink as if its consumer had gone away. It is not
// an error: Collect futures stay unresolved and boundary subscribers receive
// no further signals. Elements racing with a cancel are dropped.
package stage
