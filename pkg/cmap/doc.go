// Package cmap provides the shard container for shardkv.
//
// A Sharded[S] holds a fixed number of shards and routes byte keys to
// them with a stable hash:
//
//   - Stable routing: murmur3 64-bit, seed 0, modulo shard count
//   - Fixed layout: the shard count is set at construction, keys never move
//   - Any shard type: locking and storage live in S
//
// Usage:
//
//	m, err := cmap.New(64, func(i int) *shard { return newShard(i) })
//	idx, s := m.For([]byte("user:1"))
//
// Because the hash is seed-free, a key maps to the same shard in every
// process that uses the same shard count, which lets persisted per-shard
// logs be replayed into the right shard after a restart.
package cmap
