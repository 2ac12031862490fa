// Package storage provides the storage engine for shardkv.
//
// The engine combines the sharded in-memory store, the write-ahead log
// and snapshots:
//
//   - Memory store: per-shard radix tries with lazy and sampled expiry
//   - WAL: per-shard ordered records, synchronous or group committed
//   - Snapshot: streamed per-shard sections with a sequence boundary each
//
// Open recovers the store from the newest readable snapshot and replays,
// per shard, the WAL records above that shard's boundary. A torn record at
// the end of the last segment is discarded and logged; damage anywhere
// else fails recovery.
//
// After a failed WAL write the engine is degraded: reads keep working and
// mutations fail with domain.ErrReadOnly until Resume succeeds.
package storage
