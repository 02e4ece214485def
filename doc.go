// Package stagegraph is a reactive stream processing engine: small stages
// wired into a graph, with demand flowing upstream and elements flowing
// downstream, and Reactive Streams publishers and subscribers at its edges.
//
// # Philosophy
//
// A graph never produces faster than its consumers ask. Every inlet pulls
// one element at a time from the outlet it is connected to, boundary
// subscribers request from external publishers in batches between two
// watermarks, and boundary publishers emit only what their subscriber
// requested. Buffers are bounded everywhere.
//
// All signals of one graph run are serialized through a single signal queue,
// so stage logic never needs locks and never runs concurrently with itself.
// The executor behind the queue decides where the drain runs: inline on the
// signaling goroutine, on a fresh goroutine or on a shared worker pool.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│   External publishers/subscribers   │  reactive.Publisher
//	│   (NATS subjects, test probes)      │  reactive.Subscriber
//	└─────────────────────────────────────┘
//	           ↕ Source / Sink adapters
//	┌─────────────────────────────────────┐
//	│            stage.Graph              │  Inlets, outlets,
//	│   (Of, Map, Filter, Take, Concat,   │  pull/push/cancel,
//	│    Throttle, Collect, ...)          │  completion, failure
//	└─────────────────────────────────────┘
//	           ↓ signals
//	┌─────────────────────────────────────┐
//	│           SignalQueue               │  One drain at a time
//	│   (inline, goroutine, worker pool)  │  per graph run
//	└─────────────────────────────────────┘
//
// # Packages
//
//   - reactive: the Publisher, Subscriber and Subscription contracts,
//     demand arithmetic and the single-assignment Future.
//   - stage: graphs, ports, the signal queue, the built-in stages and the
//     boundary adapters.
//   - flowgraph: connectivity validation run by Graph.Start.
//   - natsclient: a NATS client with a circuit breaker, and the subject
//     adapters that link graphs in different processes.
//   - config: layered JSON/YAML configuration for the stagerun command.
//   - metric: Prometheus metrics and the metrics HTTP server.
//   - health: health statuses served next to the metrics.
//   - errors: error classification shared by every package.
//   - pkg/buffer, pkg/worker, pkg/retry: bounded buffers, the worker pool
//     behind the pool executor, and backoff for startup connections.
//   - testutil: reactive probes and an in-memory NATS transport.
//
// # Quick Start
//
//	g := stage.NewGraph()
//	src := stage.Of(g, "numbers", 1, 2, 3, 4)
//	evens := stage.Filter(g, "evens", func(v int) bool { return v%2 == 0 })
//	sum := stage.Collect(g, "sum", stage.Reducing(0, func(a, b int) int { return a + b }))
//
//	stage.Connect(src.Out(), evens.In())
//	stage.Connect(evens.Out(), sum.In())
//
//	if err := g.Start(); err != nil {
//		return err
//	}
//	total, err := sum.Result().Await(ctx) // 6
//
// # Command
//
// cmd/stagerun runs a pipeline described in a configuration file:
//
//	stagerun --config=pipeline.yaml --metrics-addr=:9090
package stagegraph
