// Command shardkv-server runs the sharded key-value engine with its admin
// endpoint.
//
// On start it recovers the store from the newest snapshot plus the WAL,
// then serves health, readiness, metrics and admin operations over HTTP
// (optionally mutual TLS). Edits to the config file are picked up while
// running: the log level and TTL sampler settings apply immediately, other
// changes are logged as requiring a restart.
//
// Usage:
//
//	shardkv-server --config /etc/shardkv/shardkv.yaml
//	shardkv-server --data-dir ./data --wal-mode sync
package main
