// Package command defines the shardkv-cli commands.
//
// Offline commands (wal, snapshot) read files under --data-dir directly and
// are safe to run against a stopped server. Admin commands talk to a running
// server's admin endpoint at --admin-addr.
package command
