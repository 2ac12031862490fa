package wal

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// DefaultRetainCount is the default number of segments kept after compaction.
const DefaultRetainCount = 2

// Compactor removes WAL segments already covered by a snapshot.
type Compactor struct {
	walDir      string
	retainCount int
	logger      *slog.Logger
}

// CompactorOption configures the Compactor.
type CompactorOption func(*Compactor)

// WithRetainCount sets the minimum number of segments left on disk.
func WithRetainCount(count int) CompactorOption {
	return func(c *Compactor) {
		if count > 0 {
			c.retainCount = count
		}
	}
}

// WithCompactorLogger sets the compactor's logger.
func WithCompactorLogger(logger *slog.Logger) CompactorOption {
	return func(c *Compactor) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCompactor creates a new WAL compactor.
func NewCompactor(walDir string, opts ...CompactorOption) *Compactor {
	c := &Compactor{
		walDir:      walDir,
		retainCount: DefaultRetainCount,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Compact removes segments with IDs below beforeSegment, keeping at least
// retainCount segments in total. It returns the number removed.
//
// The caller must pass a segment ID such that every record in lower
// segments is already reflected in a durable snapshot.
func (c *Compactor) Compact(beforeSegment uint64) (int, error) {
	segs, err := listSegments(c.walDir)
	if err != nil {
		return 0, err
	}

	var toDelete []segmentRef
	for _, seg := range segs {
		if seg.id < beforeSegment {
			toDelete = append(toDelete, seg)
		}
	}

	if keep := len(segs) - len(toDelete); keep < c.retainCount {
		extra := min(c.retainCount-keep, len(toDelete))
		toDelete = toDelete[:len(toDelete)-extra]
	}

	removed := 0
	var errs []error
	for _, seg := range toDelete {
		if err := os.Remove(seg.path); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", seg.path, err))
			continue
		}
		removed++
	}

	if removed > 0 {
		c.logger.Info("wal compacted",
			"removed", removed,
			"before_segment", beforeSegment,
		)
	}

	if len(errs) > 0 {
		return removed, fmt.Errorf("wal: failed to delete %d files: %w", len(errs), errors.Join(errs...))
	}
	return removed, nil
}

// TotalSize returns the total size of all WAL segments in bytes.
func (c *Compactor) TotalSize() (int64, error) {
	segs, err := listSegments(c.walDir)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, seg := range segs {
		info, err := os.Stat(seg.path)
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

// FileCount returns the number of WAL segments.
func (c *Compactor) FileCount() (int, error) {
	segs, err := listSegments(c.walDir)
	if err != nil {
		return 0, err
	}
	return len(segs), nil
}
