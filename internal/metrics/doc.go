// Package metrics collects balancer events off the request path.
//
// The distributor and the monitor emit events into a buffered channel:
//   - dispatches with duration and outcome
//   - demotions from the active set and revivals back into it
//   - probe outcomes for failed connectors
//
// A single goroutine folds them into an in-memory Metrics store, served as a
// JSON snapshot with P50/P95/P99 latencies, and into a Prometheus registry
// served in the exposition format. Emit never blocks: a full buffer drops the
// event. Cancelling the context passed to Start drains what is queued.
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//	dist.SetCollector(collector)
//	mux.Handle("/metrics", collector.PrometheusHandler())
package metrics
