// Command shardkv-cli inspects shardkv data files and drives a running
// server's admin endpoint.
//
// Usage:
//
//	shardkv-cli --data-dir /var/lib/shardkv wal segments
//	shardkv-cli snapshot verify
//	shardkv-cli --admin-addr 10.0.0.5:9480 admin stats -o json
package main
