package storage

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yndnr/shardkv/internal/core/domain"
	"github.com/yndnr/shardkv/internal/storage/memory"
	"github.com/yndnr/shardkv/internal/storage/snapshot"
	"github.com/yndnr/shardkv/internal/storage/wal"
	"github.com/yndnr/shardkv/pkg/cmap"
)

// Default configuration values.
const (
	DefaultShardCount          = 64
	DefaultSnapshotInterval    = 5 * time.Minute
	DefaultSnapshotOpThreshold = 10000
	DefaultWALDir              = "wal"
	DefaultSnapshotDir         = "snapshots"
)

// WALModeOff disables the write-ahead log. Snapshots still work, but
// mutations after the last snapshot are lost on restart.
const WALModeOff wal.Mode = "off"

// SnapshotObserver is notified after every snapshot attempt.
type SnapshotObserver interface {
	ObserveSnapshot(info *snapshot.Info, elapsed time.Duration, err error)
}

// Config configures the storage engine.
type Config struct {
	// DataDir is the base directory for all storage files.
	DataDir string

	// ShardCount is fixed for the lifetime of the data directory.
	ShardCount int

	// WAL configuration. Mode may be WALModeOff.
	WAL wal.Config

	// Snapshot configuration.
	Snapshot snapshot.Config

	// Sampler configuration.
	Sampler memory.SamplerConfig

	// MaxMemoryBytes rejects writes once the estimated entry size would
	// pass it; 0 is unlimited.
	MaxMemoryBytes int64

	// AllowFlush enables FlushDB and FlushAll.
	AllowFlush bool

	// SnapshotInterval is the interval between automatic snapshots; 0
	// disables them.
	SnapshotInterval time.Duration

	// SnapshotOpThreshold triggers a snapshot after this many mutations; 0
	// disables the trigger.
	SnapshotOpThreshold int64

	// WALRetainSegments is the number of covered segments kept after
	// compaction.
	WALRetainSegments int

	Observer SnapshotObserver

	// Clock overrides time.Now for expiry decisions.
	Clock func() time.Time

	// Logger is the structured logger.
	Logger *slog.Logger
}

// DefaultConfig returns the default storage configuration.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:             dataDir,
		ShardCount:          DefaultShardCount,
		WAL:                 wal.DefaultConfig(filepath.Join(dataDir, DefaultWALDir)),
		Snapshot:            snapshot.DefaultConfig(filepath.Join(dataDir, DefaultSnapshotDir)),
		SnapshotInterval:    DefaultSnapshotInterval,
		SnapshotOpThreshold: DefaultSnapshotOpThreshold,
		WALRetainSegments:   wal.DefaultRetainCount,
		Logger:              slog.Default(),
	}
}

func (c *Config) validate() error {
	if c.DataDir == "" && (c.WAL.Dir == "" || c.Snapshot.Dir == "") {
		return domain.ErrConfiguration.WithDetails("storage: data_dir is required")
	}
	if c.ShardCount < 1 || c.ShardCount > cmap.MaxShardCount {
		return domain.ErrConfiguration.WithDetailsf(
			"storage: shard_count must be in [1, %d], got %d", cmap.MaxShardCount, c.ShardCount)
	}
	switch c.WAL.Mode {
	case wal.ModeSync, wal.ModeAsync, WALModeOff:
	case "":
		c.WAL.Mode = wal.ModeAsync
	default:
		return domain.ErrConfiguration.WithDetailsf("storage: unknown wal_mode %q", c.WAL.Mode)
	}
	if c.WAL.BatchWindow < 0 {
		return domain.ErrConfiguration.WithDetails("storage: wal_batch_window must not be negative")
	}
	if c.WAL.BatchMaxSize < 0 {
		return domain.ErrConfiguration.WithDetails("storage: wal_batch_max_size must not be negative")
	}
	if c.SnapshotInterval < 0 || c.SnapshotOpThreshold < 0 {
		return domain.ErrConfiguration.WithDetails("storage: snapshot triggers must not be negative")
	}
	if h := c.Sampler.HotThreshold; h < 0 || h >= 1 {
		return domain.ErrConfiguration.WithDetailsf("storage: ttl_hot_threshold must be in (0, 1), got %v", h)
	}
	if c.MaxMemoryBytes < 0 {
		return domain.ErrConfiguration.WithDetails("storage: max_memory_mb must not be negative")
	}
	if c.Sampler.SampleSize < 0 {
		return domain.ErrConfiguration.WithDetails("storage: ttl_sample_size must not be negative")
	}

	if c.WAL.Dir == "" {
		c.WAL.Dir = filepath.Join(c.DataDir, DefaultWALDir)
	}
	if c.Snapshot.Dir == "" {
		c.Snapshot.Dir = filepath.Join(c.DataDir, DefaultSnapshotDir)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.WAL.Logger == nil {
		c.WAL.Logger = c.Logger.With("component", "wal")
	}
	if c.Snapshot.Logger == nil {
		c.Snapshot.Logger = c.Logger.With("component", "snapshot")
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return nil
}

// Engine is the storage engine that combines the sharded store, the WAL
// and snapshots.
//
// Mutations hold gate for reading while they run; Recover holds it for
// writing so that it never interleaves with a mutation.
type Engine struct {
	cfg Config

	store     *memory.Store
	wal       *wal.Writer
	snapshots *snapshot.Manager
	compactor *wal.Compactor
	sampler   *memory.Sampler

	logger *slog.Logger

	gate sync.RWMutex

	// snapMu serializes snapshots, Resume and Recover.
	snapMu       sync.Mutex
	prevSegment  uint64
	lastSnapshot atomic.Pointer[snapshot.Info]
	recovery     atomic.Pointer[RecoveryStats]

	ops         atomic.Int64
	snapshotReq chan struct{}
	closed      atomic.Bool

	// degradedLogged limits the degraded-mode error log to once per WAL
	// failure. Degraded reads the WAL state.
	degradedLogged atomic.Bool

	cancel context.CancelFunc
	group  *errgroup.Group
}

// Open creates the engine, recovers the store from the data directory and
// starts the background tasks.
func Open(ctx context.Context, cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:         cfg,
		logger:      cfg.Logger,
		snapshotReq: make(chan struct{}, 1),
	}

	opts := []memory.Option{
		memory.WithShardCount(cfg.ShardCount),
		memory.WithClock(cfg.Clock),
		memory.WithMemoryLimit(cfg.MaxMemoryBytes),
		memory.WithFlush(cfg.AllowFlush),
	}
	if cfg.WAL.Mode != WALModeOff || cfg.SnapshotOpThreshold > 0 {
		opts = append(opts, memory.WithJournal(&journal{e: e}))
	}
	store, err := memory.New(opts...)
	if err != nil {
		return nil, err
	}
	e.store = store

	snapMgr, err := snapshot.NewManager(cfg.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("storage: create snapshot manager: %w", err)
	}
	e.snapshots = snapMgr

	stats, err := e.recoverFrom(ctx, "")
	if err != nil {
		return nil, err
	}
	e.recovery.Store(stats)
	if stats.Snapshot != nil {
		e.prevSegment = stats.Snapshot.WALSegment
		e.lastSnapshot.Store(stats.Snapshot)
	}

	// The writer truncates any torn tail the reader discarded.
	if cfg.WAL.Mode != WALModeOff {
		w, err := wal.NewWriter(cfg.WAL)
		if err != nil {
			return nil, fmt.Errorf("storage: create wal writer: %w", err)
		}
		e.wal = w
		e.compactor = wal.NewCompactor(cfg.WAL.Dir,
			wal.WithRetainCount(cfg.WALRetainSegments),
			wal.WithCompactorLogger(e.logger.With("component", "wal")),
		)
	}

	e.sampler = memory.NewSampler(store, cfg.Sampler, e.logger.With("component", "sampler"))

	bg, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(bg)
	g.Go(func() error { return e.sampler.Run(gctx) })
	g.Go(func() error { return e.snapshotLoop(gctx) })
	e.cancel = cancel
	e.group = g

	e.logger.Info("storage engine started",
		"data_dir", cfg.DataDir,
		"shard_count", cfg.ShardCount,
		"wal_mode", cfg.WAL.Mode,
		"keys", store.Len(),
	)
	return e, nil
}

// journal routes store mutations to the WAL and counts them for the
// snapshot trigger.
type journal struct {
	e *Engine
}

func (j *journal) Append(m domain.Mutation) (memory.Commit, error) {
	e := j.e
	var c memory.Commit
	if e.wal != nil {
		t, err := e.wal.Append(m)
		if err != nil {
			return nil, err
		}
		c = t
	}

	if n := e.ops.Add(1); e.cfg.SnapshotOpThreshold > 0 && n >= e.cfg.SnapshotOpThreshold {
		select {
		case e.snapshotReq <- struct{}{}:
		default:
		}
	}
	return c, nil
}

// enter admits a mutation. The returned func must be called when it ends.
func (e *Engine) enter() (func(), error) {
	e.gate.RLock()
	if e.closed.Load() {
		e.gate.RUnlock()
		return nil, domain.ErrClosed
	}
	return e.gate.RUnlock, nil
}

// done records the outcome of a mutation.
func (e *Engine) done(err error) error {
	if err != nil && errors.Is(err, domain.ErrWALWrite) && e.degradedLogged.CompareAndSwap(false, true) {
		e.logger.Error("storage degraded, mutations are rejected until resume",
			"error", err,
		)
	}
	return err
}

// Store returns the underlying store.
func (e *Engine) Store() *memory.Store {
	return e.store
}

// Get returns the value of key.
func (e *Engine) Get(key []byte) (*domain.Payload, error) {
	return e.store.Get(key)
}

// Exists reports whether key holds a live value.
func (e *Engine) Exists(key []byte) bool {
	return e.store.Exists(key)
}

// TTL returns the remaining time to live of key, or memory.NoTTL.
func (e *Engine) TTL(key []byte) (time.Duration, error) {
	return e.store.TTL(key)
}

// StrLen returns the payload length of key, 0 if absent.
func (e *Engine) StrLen(key []byte) int {
	return e.store.StrLen(key)
}

// GetRange returns the bytes of key's value between start and end,
// inclusive; negative offsets count from the end.
func (e *Engine) GetRange(key []byte, start, end int) ([]byte, error) {
	return e.store.GetRange(key, start, end)
}

// MGet returns the values of keys; absent keys yield nil.
func (e *Engine) MGet(keys [][]byte) []*domain.Payload {
	return e.store.MGet(keys)
}

// Set stores value under key. A positive ttl makes the entry expiring.
func (e *Engine) Set(ctx context.Context, key, value []byte, ttl time.Duration) error {
	leave, err := e.enter()
	if err != nil {
		return err
	}
	defer leave()
	return e.done(e.store.Set(ctx, key, value, ttl))
}

// MSet stores every pair; it is not atomic across keys.
func (e *Engine) MSet(ctx context.Context, pairs []memory.KV) error {
	leave, err := e.enter()
	if err != nil {
		return err
	}
	defer leave()
	return e.done(e.store.MSet(ctx, pairs))
}

// MSetNX stores every pair only if none of the keys exists.
func (e *Engine) MSetNX(ctx context.Context, pairs []memory.KV) (bool, error) {
	leave, err := e.enter()
	if err != nil {
		return false, err
	}
	defer leave()
	ok, err := e.store.MSetNX(ctx, pairs)
	return ok, e.done(err)
}

// SetRange overwrites key's value from offset and returns the new length.
func (e *Engine) SetRange(ctx context.Context, key []byte, offset int, value []byte) (int, error) {
	leave, err := e.enter()
	if err != nil {
		return 0, err
	}
	defer leave()
	n, err := e.store.SetRange(ctx, key, offset, value)
	return n, e.done(err)
}

// GetSet stores value persistently and returns the previous value.
func (e *Engine) GetSet(ctx context.Context, key, value []byte) (*domain.Payload, error) {
	leave, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer leave()
	old, err := e.store.GetSet(ctx, key, value)
	return old, e.done(err)
}

// IncrBy adds delta to the integer stored at key.
func (e *Engine) IncrBy(ctx context.Context, key []byte, delta int64) (int64, error) {
	leave, err := e.enter()
	if err != nil {
		return 0, err
	}
	defer leave()
	n, err := e.store.IncrBy(ctx, key, delta)
	return n, e.done(err)
}

// Incr adds one to the integer stored at key.
func (e *Engine) Incr(ctx context.Context, key []byte) (int64, error) {
	return e.IncrBy(ctx, key, 1)
}

// Decr subtracts one from the integer stored at key.
func (e *Engine) Decr(ctx context.Context, key []byte) (int64, error) {
	return e.IncrBy(ctx, key, -1)
}

// Append appends suffix to the value of key and returns the new length.
func (e *Engine) Append(ctx context.Context, key, suffix []byte) (int, error) {
	leave, err := e.enter()
	if err != nil {
		return 0, err
	}
	defer leave()
	n, err := e.store.Append(ctx, key, suffix)
	return n, e.done(err)
}

// Delete removes key and reports whether it was present.
func (e *Engine) Delete(ctx context.Context, key []byte) (bool, error) {
	leave, err := e.enter()
	if err != nil {
		return false, err
	}
	defer leave()
	ok, err := e.store.Delete(ctx, key)
	return ok, e.done(err)
}

// MDel removes keys and returns how many were present.
func (e *Engine) MDel(ctx context.Context, keys [][]byte) (int, error) {
	leave, err := e.enter()
	if err != nil {
		return 0, err
	}
	defer leave()
	n, err := e.store.MDel(ctx, keys)
	return n, e.done(err)
}

// Expire sets a time to live on key.
func (e *Engine) Expire(ctx context.Context, key []byte, ttl time.Duration) (bool, error) {
	leave, err := e.enter()
	if err != nil {
		return false, err
	}
	defer leave()
	ok, err := e.store.Expire(ctx, key, ttl)
	return ok, e.done(err)
}

// Persist removes the time to live of key.
func (e *Engine) Persist(ctx context.Context, key []byte) (bool, error) {
	leave, err := e.enter()
	if err != nil {
		return false, err
	}
	defer leave()
	ok, err := e.store.Persist(ctx, key)
	return ok, e.done(err)
}

// FlushDB removes every key and returns how many were held. It fails with
// domain.ErrFlushDisabled unless AllowFlush is set.
func (e *Engine) FlushDB(ctx context.Context) (int, error) {
	leave, err := e.enter()
	if err != nil {
		return 0, err
	}
	defer leave()
	n, err := e.store.FlushDB(ctx)
	if err == nil {
		e.logger.Warn("database flushed", "keys", n)
	}
	return n, e.done(err)
}

// FlushAll is FlushDB.
func (e *Engine) FlushAll(ctx context.Context) (int, error) {
	return e.FlushDB(ctx)
}

// Scan iterates over every live entry, shard by shard.
func (e *Engine) Scan() iter.Seq2[[]byte, *domain.Payload] {
	return e.store.Scan()
}

// ScanPrefix iterates over live entries whose key starts with prefix.
func (e *Engine) ScanPrefix(prefix []byte) iter.Seq2[[]byte, *domain.Payload] {
	return e.store.ScanPrefix(prefix)
}

// Keys returns up to limit live keys with prefix; limit 0 is unlimited.
func (e *Engine) Keys(prefix []byte, limit int) [][]byte {
	return e.store.Keys(prefix, limit)
}

// Len returns the number of stored entries.
func (e *Engine) Len() int {
	return e.store.Len()
}

// Snapshot writes a snapshot of the store.
//
// An empty path creates a managed snapshot in the snapshot directory,
// prunes old ones and compacts the WAL. Otherwise the snapshot is exported
// to path and the WAL is left alone.
func (e *Engine) Snapshot(ctx context.Context, path string) (*snapshot.Info, error) {
	if e.closed.Load() {
		return nil, domain.ErrClosed
	}
	e.snapMu.Lock()
	defer e.snapMu.Unlock()
	return e.snapshotLocked(ctx, path)
}

// Snapshots lists the managed snapshots, oldest first.
func (e *Engine) Snapshots() ([]*snapshot.Info, error) {
	return e.snapshots.List()
}

func (e *Engine) snapshotLocked(ctx context.Context, path string) (*snapshot.Info, error) {
	start := time.Now()

	// Records in segments below walSegment are all applied to the store
	// before capture starts.
	var walSegment uint64
	if e.wal != nil {
		seg, err := e.wal.Rotate()
		switch {
		case err == nil:
			walSegment = seg
		case errors.Is(err, domain.ErrReadOnly):
			walSegment = e.wal.ActiveSegment()
		default:
			return nil, e.observeSnapshot(nil, start, domain.ErrSnapshotIO.WithDetails("rotate wal").WithCause(err))
		}
	}
	pending := e.ops.Swap(0)

	var (
		info *snapshot.Info
		err  error
	)
	if path == "" {
		info, err = e.snapshots.Create(ctx, e.store, walSegment)
	} else {
		info, err = e.snapshots.WriteFile(ctx, path, e.store, walSegment)
	}
	if err != nil {
		e.ops.Add(pending)
		e.logger.Error("snapshot failed", "path", path, "error", err)
		return nil, e.observeSnapshot(nil, start, domain.ErrSnapshotIO.WithDetails("create snapshot").WithCause(err))
	}
	e.observeSnapshot(info, start, nil)

	if path != "" {
		return info, nil
	}
	e.lastSnapshot.Store(info)

	if _, err := e.snapshots.Prune(); err != nil {
		e.logger.Warn("snapshot cleanup failed", "error", err)
	}

	// Segments below the previous snapshot's boundary stay until the next
	// snapshot, so falling back one snapshot never misses WAL records.
	if e.compactor != nil && e.prevSegment > 0 {
		if _, err := e.compactor.Compact(e.prevSegment); err != nil {
			e.logger.Warn("wal compaction failed", "error", err)
		}
	}
	e.prevSegment = walSegment
	return info, nil
}

func (e *Engine) observeSnapshot(info *snapshot.Info, start time.Time, err error) error {
	if e.cfg.Observer != nil {
		e.cfg.Observer.ObserveSnapshot(info, time.Since(start), err)
	}
	return err
}

// Recover replaces the store content with the snapshot at path and the WAL
// records after it. An empty path uses the newest snapshot in the snapshot
// directory. Mutations wait until recovery ends.
//
// Sequence numbers never move backwards, and a managed snapshot of the
// recovered state is taken so that a restart reproduces it.
func (e *Engine) Recover(ctx context.Context, path string) (*RecoveryStats, error) {
	if e.closed.Load() {
		return nil, domain.ErrClosed
	}
	e.gate.Lock()
	defer e.gate.Unlock()
	e.snapMu.Lock()
	defer e.snapMu.Unlock()

	if e.wal != nil {
		if _, err := e.wal.Rotate(); err != nil && !errors.Is(err, domain.ErrReadOnly) {
			return nil, fmt.Errorf("storage: flush wal: %w", err)
		}
	}

	prev := make([]uint64, e.store.ShardCount())
	for i := range prev {
		prev[i] = e.store.Seq(i)
	}

	stats, err := e.recoverFrom(ctx, path)
	for i, seq := range prev {
		e.store.AdvanceSeq(i, seq)
	}
	if err != nil {
		e.logger.Error("recovery failed", "path", path, "error", err)
		return nil, err
	}
	e.recovery.Store(stats)

	if _, err := e.snapshotLocked(ctx, ""); err != nil {
		return stats, err
	}
	return stats, nil
}

// Resume leaves degraded mode after a WAL failure. It snapshots the store,
// including writes whose batch failed, then reopens the WAL on a fresh
// segment. Resume on a healthy engine is a no-op.
func (e *Engine) Resume(ctx context.Context) (*snapshot.Info, error) {
	if e.closed.Load() {
		return nil, domain.ErrClosed
	}
	if !e.Degraded() {
		return nil, nil
	}

	e.snapMu.Lock()
	defer e.snapMu.Unlock()

	info, err := e.snapshotLocked(ctx, "")
	if err != nil {
		return nil, err
	}
	if _, err := e.wal.Reset(); err != nil {
		return info, domain.ErrWALWrite.WithDetails("reopen wal").WithCause(err)
	}
	e.degradedLogged.Store(false)
	e.logger.Info("storage resumed", "snapshot", info.ID)
	return info, nil
}

// Degraded reports whether mutations are rejected after a WAL failure.
func (e *Engine) Degraded() bool {
	return e.wal != nil && e.wal.Err() != nil
}

// Stats is a point-in-time view of engine state.
type Stats struct {
	Store            memory.Stats   `json:"store"`
	WAL              *wal.Stats     `json:"wal,omitempty"`
	Degraded         bool           `json:"degraded"`
	OpsSinceSnapshot int64          `json:"ops_since_snapshot"`
	LastSnapshot     *snapshot.Info `json:"last_snapshot,omitempty"`
	Recovery         *RecoveryStats `json:"recovery,omitempty"`
	SampleSize       int            `json:"ttl_sample_size"`
	HotThreshold     float64        `json:"ttl_hot_threshold"`
}

// Stats returns the current engine state.
func (e *Engine) Stats() Stats {
	st := Stats{
		Store:            e.store.Stats(),
		Degraded:         e.Degraded(),
		OpsSinceSnapshot: e.ops.Load(),
		LastSnapshot:     e.lastSnapshot.Load(),
		Recovery:         e.recovery.Load(),
	}
	st.SampleSize, st.HotThreshold = e.sampler.Tuning()
	if e.wal != nil {
		ws := e.wal.Stats()
		st.WAL = &ws
	}
	return st
}

// TuneSampler changes the sampler aggressiveness at runtime.
func (e *Engine) TuneSampler(sampleSize int, hotThreshold float64) {
	e.sampler.Tune(sampleSize, hotThreshold)
	e.logger.Info("ttl sampler tuned",
		"sample_size", sampleSize,
		"hot_threshold", hotThreshold,
	)
}

// snapshotLoop takes managed snapshots on the interval and when the
// mutation threshold is reached.
func (e *Engine) snapshotLoop(ctx context.Context) error {
	var tick <-chan time.Time
	if e.cfg.SnapshotInterval > 0 {
		ticker := time.NewTicker(e.cfg.SnapshotInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
		case <-e.snapshotReq:
		}

		if e.ops.Load() == 0 || e.Degraded() {
			continue
		}
		if _, err := e.Snapshot(ctx, ""); err != nil && ctx.Err() == nil {
			e.logger.Error("auto snapshot failed", "error", err)
		}
	}
}

// Close stops the background tasks and flushes the WAL. Mutations issued
// after Close fail with domain.ErrClosed. If ctx ends before the WAL
// drains, waiters still pending receive domain.ErrCancelled.
func (e *Engine) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.logger.Info("shutting down storage engine")

	e.cancel()
	err := e.group.Wait()

	if e.wal != nil {
		if werr := e.wal.Close(ctx); werr != nil {
			e.logger.Error("close wal failed", "error", werr)
			err = errors.Join(err, werr)
		}
	}

	e.logger.Info("storage engine shutdown complete")
	return err
}
