// Package metric exposes stagegraph engine metrics through Prometheus.
//
// MetricsRegistry wraps a dedicated prometheus.Registry, registers the engine
// Metrics plus Go runtime and process collectors, and lets other packages add
// their own collectors under a service name. Duplicate registrations are
// reported as invalid errors rather than panics.
//
//	registry := metric.NewMetricsRegistry()
//	g := stage.NewGraph(stage.WithMetrics(registry.CoreMetrics()))
//
//	srv := metric.NewServer(":9090", "/metrics", registry)
//	go srv.Run(ctx)
//
// Engine metrics use the "stagegraph" namespace: graph runs started, finished
// (by outcome) and active; signals executed and queue depth; elements pushed and
// user function failures per stage; upstream demand and protocol violations per
// boundary port.
package metric
