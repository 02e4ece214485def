// Package health tracks the health of the parts of a stagerun process: the
// graph run and its NATS connection.
//
// Each part reports one of three states. Healthy means working normally,
// degraded means working with reduced capacity (a NATS reconnect in progress)
// and unhealthy means not working (a failed graph run). Monitor keeps the
// latest Status per part and aggregates them: any unhealthy part makes the
// process unhealthy, otherwise any degraded part makes it degraded.
//
//	monitor := health.NewMonitor()
//	monitor.UpdateHealthy("pipeline", "running")
//	monitor.Update("nats", health.FromError("nats", err))
//
//	server.SetHealthHandler(monitor.Handler("stagerun"))
//
// Handler serves the aggregate as JSON with status 200, or 503 when the
// aggregate is unhealthy.
//
// Messages built from errors are sanitized: URLs, paths, addresses, ports
// and credentials are replaced before they can reach a health endpoint.
//
// Monitor is safe for concurrent use.
package health
