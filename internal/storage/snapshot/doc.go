// Package snapshot writes and loads point-in-time dumps of the store.
//
// Snapshots bound recovery time: startup loads the newest valid snapshot
// and replays only the WAL records after each shard's boundary.
//
// Format:
//
//	snapshot-<ULID>.snap
//	[magic:8 "SKVSNAP1"]
//	[HeaderLen:4][HeaderJSON:HeaderLen]
//	[Body]                      (optionally zstd or snappy compressed)
//	[checksum:32 SHA-256 of all bytes above]
//
// The body holds one section per shard, in shard order:
//
//	[shard uvarint][boundary uvarint]
//	[tag:1 persistent | 2 expiring][key len uvarint][key][value len uvarint][value][expire_at varint, tag 2 only]
//	...
//	[tag:0 end]
//
// A section's boundary is the shard's sequence number at the moment the
// writer reached it, and its entries are exactly the shard's content at
// that number. Different shards are captured at different moments.
//
// Writing streams through fixed-size buffers, so memory use does not grow
// with the number of keys. Files are written to a temporary name, fsynced
// and renamed.
package snapshot
