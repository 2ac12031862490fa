// Package handler implements the admin HTTP endpoints of shardkv-server.
package handler
