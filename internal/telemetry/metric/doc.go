// Package metric provides Prometheus metrics for shardkv.
//
//   - prometheus.go: registry, WAL batch and snapshot observers, HTTP handler
//   - collector.go: collector reading engine stats at scrape time
//
// Metrics are exposed at /metrics on the admin server.
package metric
