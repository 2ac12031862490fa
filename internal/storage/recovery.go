package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/yndnr/shardkv/internal/core/domain"
	"github.com/yndnr/shardkv/internal/storage/memory"
	"github.com/yndnr/shardkv/internal/storage/snapshot"
	"github.com/yndnr/shardkv/internal/storage/wal"
)

// RecoveryStats describes a recovery run.
type RecoveryStats struct {
	Snapshot   *snapshot.Info  `json:"snapshot,omitempty"`
	Replayed   int             `json:"replayed"`
	Skipped    int             `json:"skipped"`
	Gaps       int             `json:"gaps"`
	Truncation *wal.Truncation `json:"truncation,omitempty"`
	Elapsed    time.Duration   `json:"elapsed"`
}

// recoverFrom rebuilds the store from a snapshot and the WAL tail after it.
//
// An empty path loads the newest readable snapshot in the snapshot
// directory, falling back to older ones; with none available every shard
// starts empty and the whole WAL is replayed. Shards are replaced, not
// merged, so content from a rejected snapshot never survives a fallback.
func (e *Engine) recoverFrom(ctx context.Context, path string) (*RecoveryStats, error) {
	start := time.Now()
	e.logger.Info("storage recovery started",
		"snapshot_path", path,
		"shard_count", e.store.ShardCount(),
	)

	stats := &RecoveryStats{}
	info, err := e.loadSnapshot(ctx, path)
	switch {
	case err == nil:
		stats.Snapshot = info
		e.logger.Info("snapshot loaded",
			"path", info.Path,
			"entries", info.Entries,
			"wal_segment", info.WALSegment,
			"elapsed", time.Since(start),
		)
	case errors.Is(err, snapshot.ErrNoSnapshots):
		e.logger.Info("no snapshot found, replaying wal from the beginning")
		e.resetStore()
	default:
		return nil, err
	}

	var fromSegment uint64
	if info != nil {
		fromSegment = info.WALSegment
	}

	replayStart := time.Now()
	if err := e.replayWAL(ctx, fromSegment, stats); err != nil {
		return nil, err
	}
	if stats.Replayed > 0 || stats.Skipped > 0 {
		e.logger.Info("wal replayed",
			"replayed", stats.Replayed,
			"skipped", stats.Skipped,
			"gaps", stats.Gaps,
			"from_segment", fromSegment,
			"elapsed", time.Since(replayStart),
		)
	}

	stats.Elapsed = time.Since(start)
	e.logger.Info("recovery completed",
		"elapsed", stats.Elapsed,
		"keys", e.store.Len(),
		"truncated", stats.Truncation != nil,
	)
	return stats, nil
}

func (e *Engine) loadSnapshot(ctx context.Context, path string) (*snapshot.Info, error) {
	load := func(i int) (snapshot.ShardLoader, error) {
		r, err := e.store.Replace(i)
		if err != nil {
			return nil, err
		}
		return r, nil
	}

	var (
		info *snapshot.Info
		err  error
	)
	if path == "" {
		info, err = e.snapshots.LoadLatest(ctx, load)
	} else {
		vi, verr := snapshot.Verify(path)
		if verr != nil {
			return nil, domain.ErrSnapshotIO.WithDetailsf("verify %s", path).WithCause(verr)
		}
		if vi.ShardCount != e.store.ShardCount() {
			return nil, shardCountMismatch(vi.ShardCount, e.store.ShardCount())
		}
		info, err = e.snapshots.Load(ctx, path, load)
	}
	if err != nil {
		if errors.Is(err, snapshot.ErrNoSnapshots) || errors.Is(err, domain.ErrConfiguration) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, domain.ErrCancelled.WithCause(err)
		}
		return nil, domain.ErrSnapshotIO.WithDetails("load snapshot").WithCause(err)
	}
	if info.ShardCount != e.store.ShardCount() {
		return nil, shardCountMismatch(info.ShardCount, e.store.ShardCount())
	}
	return info, nil
}

func shardCountMismatch(snap, store int) error {
	return domain.ErrConfiguration.WithDetailsf(
		"snapshot has %d shards, store is configured with %d", snap, store)
}

// resetStore empties every shard and zeroes its sequence number.
func (e *Engine) resetStore() {
	for i := range e.store.ShardCount() {
		r, err := e.store.Replace(i)
		if err != nil {
			continue
		}
		r.Commit(0)
	}
}

// replayWAL applies logged mutations from fromSegment on. Records at or
// below a shard's boundary are skipped by the store.
func (e *Engine) replayWAL(ctx context.Context, fromSegment uint64, stats *RecoveryStats) error {
	if e.cfg.WAL.Mode == WALModeOff {
		return nil
	}

	reader, err := wal.NewReader(e.cfg.WAL.Dir,
		wal.WithReaderLogger(e.logger),
		wal.WithStartSegment(fromSegment),
	)
	if err != nil {
		return fmt.Errorf("storage: open wal reader: %w", err)
	}
	defer reader.Close()

	shards := e.store.ShardCount()
	for n := 0; ; n++ {
		if n%1024 == 0 && ctx.Err() != nil {
			return domain.ErrCancelled.WithDetails("wal replay").WithCause(ctx.Err())
		}

		m, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		var prev uint64
		if int(m.Shard) < shards {
			prev = e.store.Seq(int(m.Shard))
		}
		res, err := e.store.Apply(m)
		if err != nil {
			return fmt.Errorf("storage: replay %s: %w", m, err)
		}
		if res == memory.Skipped {
			stats.Skipped++
			continue
		}
		if m.Seq != prev+1 {
			stats.Gaps++
			e.logger.Warn("wal sequence gap",
				"shard", m.Shard,
				"expected", prev+1,
				"got", m.Seq,
			)
		}
		stats.Replayed++
	}

	stats.Truncation = reader.Truncation()
	return nil
}
