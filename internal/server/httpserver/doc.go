// Package httpserver serves the shardkv admin endpoint: health, readiness,
// Prometheus metrics and the snapshot, resume and recover operations.
//
// It is an operator surface, not a data API; key reads and writes go
// through the storage engine in process.
package httpserver
