package storage

import (
	"context"
	"iter"
	"time"

	"github.com/yndnr/shardkv/internal/core/domain"
	"github.com/yndnr/shardkv/internal/storage/memory"
	"github.com/yndnr/shardkv/internal/storage/snapshot"
)

// Surface is the operation set consumed by protocol and auth layers.
//
// Implementations must be safe for concurrent use. Callers are expected to
// have authorized the request; the engine performs no access checks.
//
// Reads never return a value whose deadline has passed. A mutation returns
// only after its WAL record is durable (unless the WAL is off), and fails
// with domain.ErrReadOnly while the engine is degraded, and with
// domain.ErrMemoryLimit when it would pass the memory limit.
type Surface interface {
	// Get returns domain.ErrNotFound for absent or expired keys.
	Get(key []byte) (*domain.Payload, error)
	Exists(key []byte) bool
	TTL(key []byte) (time.Duration, error)
	StrLen(key []byte) int
	GetRange(key []byte, start, end int) ([]byte, error)
	MGet(keys [][]byte) []*domain.Payload

	Set(ctx context.Context, key, value []byte, ttl time.Duration) error
	MSet(ctx context.Context, pairs []memory.KV) error
	MSetNX(ctx context.Context, pairs []memory.KV) (bool, error)
	SetRange(ctx context.Context, key []byte, offset int, value []byte) (int, error)
	GetSet(ctx context.Context, key, value []byte) (*domain.Payload, error)
	IncrBy(ctx context.Context, key []byte, delta int64) (int64, error)
	Incr(ctx context.Context, key []byte) (int64, error)
	Decr(ctx context.Context, key []byte) (int64, error)
	Append(ctx context.Context, key, suffix []byte) (int, error)
	Delete(ctx context.Context, key []byte) (bool, error)
	MDel(ctx context.Context, keys [][]byte) (int, error)
	Expire(ctx context.Context, key []byte, ttl time.Duration) (bool, error)
	Persist(ctx context.Context, key []byte) (bool, error)
	// FlushDB and FlushAll fail with domain.ErrFlushDisabled unless the
	// engine was opened with AllowFlush.
	FlushDB(ctx context.Context) (int, error)
	FlushAll(ctx context.Context) (int, error)

	// Scan is consistent per shard, not across shards.
	Scan() iter.Seq2[[]byte, *domain.Payload]
	ScanPrefix(prefix []byte) iter.Seq2[[]byte, *domain.Payload]
	Keys(prefix []byte, limit int) [][]byte
	Len() int

	// Snapshot writes a managed snapshot when path is empty, otherwise
	// exports one to path.
	Snapshot(ctx context.Context, path string) (*snapshot.Info, error)
	// Recover reloads the store from the snapshot at path (or the newest
	// managed one) plus the WAL tail.
	Recover(ctx context.Context, path string) (*RecoveryStats, error)
}

var _ Surface = (*Engine)(nil)
