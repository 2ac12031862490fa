// Package connection is the shardkv-cli client for the server's admin
// endpoint.
package connection
