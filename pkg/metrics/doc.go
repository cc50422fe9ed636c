// Package metrics provides Prometheus instrumentation for hellopool components.
//
// # Overview
//
// The registry groups collectors for:
//   - Worker pools (size, live/active workers, queued tasks, task outcomes)
//   - The connection dispatcher (accepted connections, rejections, responses)
//   - Admission rate limiters (requests, allows, denies)
//
// # Quick Start
//
//	reg := prometheus.NewRegistry()
//	pool, err := workerpool.NewWithMetrics(
//		workerpool.Config{WorkerCount: 4, Name: "http"},
//		metrics.Config{Enabled: true, Registry: reg},
//	)
//
// Then expose metrics via HTTP:
//
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
//
// All collectors carry a component-name label so several pools or
// servers can share one registry.
package metrics
