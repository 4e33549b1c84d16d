// Package metrics provides metrics collection for the proxy.
//
// It uses a channel-based event pipeline to asynchronously collect:
//   - Synchronization attempts by outcome and their duration
//   - Backend starts, forceful kills and unexpected exits
//   - Proxied requests by status code, latency and delivery attempts
//
// The collector runs in a dedicated goroutine and feeds Prometheus collectors
// held in a private registry. Emit never blocks the request path; events are
// dropped when the buffer is full.
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:       metrics.EventRequestForwarded,
//		Duration:   150 * time.Millisecond,
//		StatusCode: 200,
//		Attempts:   1,
//	})
//
//	mux.Handle("/metrics", collector.Handler())
package metrics
