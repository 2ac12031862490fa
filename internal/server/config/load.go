package config

import (
	"io"
	"log/slog"
	"path/filepath"

	"github.com/yndnr/shardkv/internal/infra/confloader"
	"github.com/yndnr/shardkv/internal/storage"
	"github.com/yndnr/shardkv/internal/storage/memory"
	"github.com/yndnr/shardkv/internal/storage/snapshot"
	"github.com/yndnr/shardkv/internal/storage/wal"
	"github.com/yndnr/shardkv/internal/telemetry/logger"
)

// Load layers file, environment and overrides over Default and verifies
// the result.
func Load(path string, overrides map[string]any) (*ServerConfig, error) {
	cfg := Default()
	l := confloader.NewLoader(
		confloader.WithConfigFile(path),
		confloader.WithOverrides(overrides),
	)
	if err := l.Load(cfg); err != nil {
		return nil, err
	}
	if err := Verify(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoggerConfig returns the logger settings writing to out.
func (c *ServerConfig) LoggerConfig(out io.Writer) logger.Config {
	return logger.Config{
		Level:     c.Log.Level,
		Format:    c.Log.Format,
		Output:    out,
		AddSource: c.Log.AddSource,
	}
}

// StorageConfig converts the storage section into an engine config.
func (c *ServerConfig) StorageConfig(log *slog.Logger) storage.Config {
	s := c.Storage
	cfg := storage.DefaultConfig(s.DataDir)
	cfg.ShardCount = s.ShardCount
	cfg.MaxMemoryBytes = s.MaxMemoryMB << 20
	cfg.AllowFlush = s.AllowFlushCommands

	cfg.Sampler = memory.SamplerConfig{
		SampleSize:   s.TTLSampleSize,
		HotThreshold: s.TTLHotThreshold,
		MaxRounds:    s.TTLMaxRounds,
		Interval:     s.TTLSampleInterval,
	}

	cfg.WAL = wal.Config{
		Dir:          filepath.Join(s.DataDir, storage.DefaultWALDir),
		Mode:         wal.Mode(s.WALMode),
		BatchWindow:  s.WALBatchWindow,
		BatchMaxSize: s.WALBatchMaxSize,
		MaxPending:   s.WALMaxPending,
		MaxFileSize:  s.WALMaxFileSize,
	}
	cfg.WALRetainSegments = s.WALRetain

	snapDir := s.SnapshotPath
	if snapDir == "" {
		snapDir = filepath.Join(s.DataDir, storage.DefaultSnapshotDir)
	}
	cfg.Snapshot = snapshot.Config{
		Dir:        snapDir,
		Keep:       s.SnapshotKeep,
		Codec:      snapshot.Codec(s.SnapshotCompression),
		RateLimit:  s.SnapshotRateLimitBytes,
		BufferSize: snapshot.DefaultBufferSize,
		KeyFile:    s.SnapshotEncryptionKeyFile,
	}
	cfg.SnapshotInterval = s.SnapshotInterval
	cfg.SnapshotOpThreshold = s.SnapshotOpThreshold

	cfg.Logger = log
	return cfg
}

// Tunables are the settings a running server applies on reload.
type Tunables struct {
	LogLevel        string
	TTLSampleSize   int
	TTLHotThreshold float64
}

// Tunables returns the live-reloadable subset of c.
func (c *ServerConfig) Tunables() Tunables {
	return Tunables{
		LogLevel:        c.Log.Level,
		TTLSampleSize:   c.Storage.TTLSampleSize,
		TTLHotThreshold: c.Storage.TTLHotThreshold,
	}
}

// RestartRequired lists the keys that differ between c and next but only
// take effect after a restart.
func (c *ServerConfig) RestartRequired(next *ServerConfig) []string {
	var keys []string
	add := func(changed bool, key string) {
		if changed {
			keys = append(keys, key)
		}
	}
	a, b := c.Storage, next.Storage
	add(a.DataDir != b.DataDir, "storage.data_dir")
	add(a.ShardCount != b.ShardCount, "storage.shard_count")
	add(a.WALMode != b.WALMode, "storage.wal_mode")
	add(a.WALBatchWindow != b.WALBatchWindow, "storage.wal_batch_window")
	add(a.WALBatchMaxSize != b.WALBatchMaxSize, "storage.wal_batch_max_size")
	add(a.SnapshotPath != b.SnapshotPath, "storage.snapshot_path")
	add(a.SnapshotInterval != b.SnapshotInterval, "storage.snapshot_interval")
	add(a.SnapshotCompression != b.SnapshotCompression, "storage.snapshot_compression")
	add(a.SnapshotEncryptionKeyFile != b.SnapshotEncryptionKeyFile, "storage.snapshot_encryption_key_file")
	add(a.MaxMemoryMB != b.MaxMemoryMB, "storage.max_memory_mb")
	add(a.AllowFlushCommands != b.AllowFlushCommands, "storage.allow_flush_commands")
	add(c.Admin.Addr != next.Admin.Addr, "admin.addr")
	add(c.Log.Format != next.Log.Format, "log.format")
	return keys
}
