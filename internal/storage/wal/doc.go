// Package wal provides write-ahead logging for shardkv.
//
// Every mutation is appended to the log before it becomes visible in
// memory, so the store can be rebuilt after a crash from the latest
// snapshot plus the log tail.
//
// Features:
//
//   - Sync mode: each record is written and fsynced before Append returns
//   - Async mode: records queue for a single flusher that commits them in
//     batches (group commit), one write and one fsync per batch
//   - Backpressure: Append blocks while the pending queue is full
//   - Read-only on failure: a failed batch fails every ticket in it and
//     rejects further appends until Reset
//   - Rotation: segments are finalized at a size limit or on Rotate
//   - Compaction: segments covered by a snapshot are removed
//
// Format:
//
//	wal-<segment-id>.log
//	[magic:8 "SKVWAL\x00\x01"]
//	[Frame]*
//	[checksum:32 SHA-256 of all bytes above] (absent on the active segment)
//
// Frame wire format:
//
//	[Length:4][CRC32C:4][Op:1][Body:Length-5]
//
// Where:
//   - Length = CRC32C + Op + Body (big-endian uint32)
//   - CRC32C (Castagnoli) covers Op+Body
//   - Body is protobuf wire format: seq, shard, key, value, expire_at,
//     timestamp. Unknown fields are skipped.
//
// A torn or corrupt tail in the last segment is discarded on open. Damage
// anywhere else is reported as domain.ErrCorruptWALRecord.
package wal
