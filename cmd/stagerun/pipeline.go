package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/stagegraph/config"
	"github.com/c360/stagegraph/errors"
	"github.com/c360/stagegraph/metric"
	"github.com/c360/stagegraph/natsclient"
	"github.com/c360/stagegraph/pkg/worker"
	"github.com/c360/stagegraph/reactive"
	"github.com/c360/stagegraph/stage"
)

// pipeline is an assembled graph with the future its sink resolves: the sum
// for a sum sink, the element count for log and NATS sinks.
type pipeline struct {
	graph  *stage.Graph
	result *reactive.Future[int64]
	pool   *worker.Pool[worker.Task]
	logger *slog.Logger
}

// buildPipeline assembles cfg.Pipeline into a graph. transport is only used by
// NATS sources and sinks and may be nil otherwise.
func buildPipeline(ctx context.Context, cfg *config.Config, transport natsclient.Transport,
	registry *metric.MetricsRegistry, logger *slog.Logger) (*pipeline, error) {
	pc := cfg.Pipeline
	if pc.UsesNATS() && transport == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "stagerun", "buildPipeline", "NATS transport")
	}

	p := &pipeline{logger: logger}
	opts := []stage.Option{
		stage.WithLogger(logger),
		stage.WithWatermarks(cfg.Engine.HighWatermark, cfg.Engine.LowWatermark),
	}
	if pc.Name != "" {
		opts = append(opts, stage.WithID(pc.Name))
	}
	if registry != nil {
		opts = append(opts, stage.WithMetrics(registry.CoreMetrics()))
	}

	executor, err := p.executor(ctx, cfg.Engine, registry)
	if err != nil {
		return nil, err
	}
	opts = append(opts, stage.WithExecutor(executor))

	g := stage.NewGraph(opts...)
	p.graph = g

	out, err := buildSource(ctx, g, pc.Source, transport, logger)
	if err != nil {
		p.stop()
		return nil, err
	}
	for i, sc := range pc.Stages {
		out, err = chain(g, out, i, sc, logger)
		if err != nil {
			p.stop()
			return nil, err
		}
	}
	p.result, err = buildSink(ctx, g, out, pc.Sink, transport, logger)
	if err != nil {
		p.stop()
		return nil, err
	}
	return p, nil
}

func (p *pipeline) executor(ctx context.Context, ec config.EngineConfig, registry *metric.MetricsRegistry) (stage.Executor, error) {
	switch ec.Executor {
	case config.ExecutorGoroutine:
		return stage.GoExecutor, nil
	case config.ExecutorPool:
		var poolOpts []worker.Option[worker.Task]
		if registry != nil {
			poolOpts = append(poolOpts, worker.WithMetricsRegistry[worker.Task](registry, "stagerun_executor"))
		}
		pool := worker.NewTaskPool(ec.Workers, ec.QueueSize, poolOpts...)
		if err := pool.Start(ctx); err != nil {
			return nil, errors.Wrap(err, "stagerun", "executor", "start worker pool")
		}
		p.pool = pool
		return stage.NewPoolExecutor(pool, p.logger), nil
	default:
		return stage.InlineExecutor, nil
	}
}

func buildSource(ctx context.Context, g *stage.Graph, sc config.SourceConfig,
	transport natsclient.Transport, logger *slog.Logger) (*stage.Outlet[int64], error) {
	switch sc.Type {
	case config.SourceRange:
		items := make([]int64, sc.Count)
		for i := range items {
			items[i] = sc.Start + int64(i)
		}
		return stage.Of(g, "range", items...).Out(), nil
	case config.SourceNATS:
		decode := stage.Map(g, "decode", decodeElement)
		pub, err := natsclient.NewSubjectPublisher(ctx, transport, sc.Subject,
			natsclient.WithSubjectLogger(logger))
		if err != nil {
			return nil, err
		}
		pub.Subscribe(stage.Source(decode.In()))
		return decode.Out(), nil
	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "stagerun", "buildSource", "source "+sc.Type)
	}
}

// chain appends one configured stage to out and returns the new tail.
func chain(g *stage.Graph, out *stage.Outlet[int64], index int, sc config.StageConfig,
	logger *slog.Logger) (*stage.Outlet[int64], error) {
	name := sc.Name
	if name == "" {
		name = fmt.Sprintf("%s-%d", sc.Type, index)
	}

	switch sc.Type {
	case config.StageMap:
		fn, err := mapFunc(sc.Op, sc.Value)
		if err != nil {
			return nil, err
		}
		m := stage.Map(g, name, fn)
		stage.Connect(out, m.In())
		return m.Out(), nil
	case config.StageFilter:
		pred, err := predicate(sc.Op, sc.Value)
		if err != nil {
			return nil, err
		}
		f := stage.Filter(g, name, pred)
		stage.Connect(out, f.In())
		return f.Out(), nil
	case config.StageTakeWhile:
		pred, err := predicate(sc.Op, sc.Value)
		if err != nil {
			return nil, err
		}
		tw := stage.TakeWhile(g, name, pred)
		stage.Connect(out, tw.In())
		return tw.Out(), nil
	case config.StageTake:
		t := stage.Take[int64](g, name, sc.Value)
		stage.Connect(out, t.In())
		return t.Out(), nil
	case config.StageDrop:
		d := stage.Drop[int64](g, name, sc.Value)
		stage.Connect(out, d.In())
		return d.Out(), nil
	case config.StagePeek:
		pk := stage.Peek(g, name, func(v int64) error {
			logger.Debug("Element", "stage", name, "value", v)
			return nil
		})
		stage.Connect(out, pk.In())
		return pk.Out(), nil
	case config.StageThrottle:
		th := stage.Throttle[int64](g, name, rate.NewLimiter(rate.Limit(sc.Rate), sc.Burst))
		stage.Connect(out, th.In())
		return th.Out(), nil
	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "stagerun", "chain", "stage "+sc.Type)
	}
}

func buildSink(ctx context.Context, g *stage.Graph, out *stage.Outlet[int64], sc config.SinkConfig,
	transport natsclient.Transport, logger *slog.Logger) (*reactive.Future[int64], error) {
	switch sc.Type {
	case config.SinkSum:
		sum := stage.Collect(g, "sum", stage.Reducing(int64(0), func(a, b int64) int64 { return a + b }))
		stage.Connect(out, sum.In())
		return sum.Result(), nil
	case config.SinkLog:
		count := stage.Collect(g, "log", stage.Collector[int64, int64, int64]{
			Supplier: func() int64 { return 0 },
			Accumulator: func(n, v int64) (int64, error) {
				logger.Info("Element", "value", v)
				return n + 1, nil
			},
			Finisher: func(n int64) (int64, error) { return n, nil },
		})
		stage.Connect(out, count.In())
		return count.Result(), nil
	case config.SinkNATS:
		encode := stage.Map(g, "encode", encodeElement)
		stage.Connect(out, encode.In())
		sub, err := natsclient.NewSubjectSubscriber(ctx, transport, sc.Subject,
			natsclient.WithSubjectLogger(logger))
		if err != nil {
			return nil, err
		}
		stage.Sink(encode.Out()).Subscribe(sub)
		return sub.Result(), nil
	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "stagerun", "buildSink", "sink "+sc.Type)
	}
}

// run starts the graph and waits for the sink result. When ctx ends first the
// graph is canceled and the wait for it is bounded by grace.
func (p *pipeline) run(ctx context.Context, grace time.Duration) (int64, error) {
	defer p.stop()

	if err := p.graph.Start(); err != nil {
		return 0, err
	}

	select {
	case <-p.result.Done():
		return p.result.Await(context.Background())
	case <-ctx.Done():
	}

	p.logger.Info("Canceling graph", "graph", p.graph.ID())
	p.graph.Cancel()
	select {
	case <-p.graph.Done():
	case <-time.After(grace):
		p.logger.Warn("Graph did not stop in time", "graph", p.graph.ID(), "timeout", grace)
	}
	return 0, ctx.Err()
}

func (p *pipeline) stop() {
	if p.pool == nil {
		return
	}
	if err := p.pool.Stop(5 * time.Second); err != nil {
		p.logger.Warn("Worker pool stop failed", "error", err)
	}
	p.pool = nil
}

func mapFunc(op string, value int64) (func(int64) (int64, error), error) {
	switch op {
	case "add":
		return func(v int64) (int64, error) { return v + value, nil }, nil
	case "mul":
		return func(v int64) (int64, error) { return v * value, nil }, nil
	}
	return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "stagerun", "mapFunc", "map op "+op)
}

func predicate(op string, value int64) (func(int64) bool, error) {
	switch op {
	case "even":
		return func(v int64) bool { return v%2 == 0 }, nil
	case "odd":
		return func(v int64) bool { return v%2 != 0 }, nil
	case "lt":
		return func(v int64) bool { return v < value }, nil
	case "gt":
		return func(v int64) bool { return v > value }, nil
	}
	return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "stagerun", "predicate", "predicate op "+op)
}

func decodeElement(data []byte) (int64, error) {
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, errors.WrapInvalid(err, "stagerun", "decode", "parse element")
	}
	return v, nil
}

func encodeElement(v int64) ([]byte, error) {
	return strconv.AppendInt(nil, v, 10), nil
}
