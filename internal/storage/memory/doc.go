// Package memory provides the sharded in-memory store for shardkv.
//
// Keys are routed to a fixed number of shards by a stable hash. Each shard
// has its own lock, an immutable radix tree of entries, a per-shard
// sequence number, and an index of the keys that carry a deadline.
//
// Features:
//
//   - Lazy expiry: an expired entry found by a read is removed on the spot
//   - Sampled expiry: Sampler draws random expiring keys per shard and
//     repeats while the expired fraction stays above the hot threshold
//   - Journaling: every mutation is sequenced and handed to a Journal under
//     the shard lock, then waited on after the lock is released
//   - Point-in-time capture: Capture returns a shard's sequence number with
//     an immutable view of its entries, without holding the lock
//
// Thread Safety:
//
// All operations are thread-safe. An operation touches exactly one shard
// at a time, so operations never deadlock across shards.
package memory
