package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/yndnr/shardkv/internal/core/domain"
	"github.com/yndnr/shardkv/internal/storage"
	"github.com/yndnr/shardkv/internal/storage/snapshot"
	"github.com/yndnr/shardkv/internal/storage/wal"
)

func TestDefaultVerifies(t *testing.T) {
	cfg := Default()
	if err := Verify(cfg); err != nil {
		t.Fatalf("Verify(Default()) = %v", err)
	}
	if cfg.Storage.ShardCount != storage.DefaultShardCount {
		t.Errorf("ShardCount = %d, want %d", cfg.Storage.ShardCount, storage.DefaultShardCount)
	}
	if cfg.Storage.WALMode != "async" {
		t.Errorf("WALMode = %q, want async", cfg.Storage.WALMode)
	}
	if cfg.Storage.WALBatchWindow != 10*time.Millisecond {
		t.Errorf("WALBatchWindow = %v, want 10ms", cfg.Storage.WALBatchWindow)
	}
	if cfg.Storage.SnapshotKeep != 10 {
		t.Errorf("SnapshotKeep = %d, want 10", cfg.Storage.SnapshotKeep)
	}
	if cfg.Admin.Addr != DefaultAdminAddr {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, DefaultAdminAddr)
	}
}

func TestVerifyRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ServerConfig)
	}{
		{"no data dir", func(c *ServerConfig) { c.Storage.DataDir = "" }},
		{"zero shards", func(c *ServerConfig) { c.Storage.ShardCount = 0 }},
		{"too many shards", func(c *ServerConfig) { c.Storage.ShardCount = 1 << 20 }},
		{"sample size", func(c *ServerConfig) { c.Storage.TTLSampleSize = 0 }},
		{"hot threshold", func(c *ServerConfig) { c.Storage.TTLHotThreshold = 1 }},
		{"max rounds", func(c *ServerConfig) { c.Storage.TTLMaxRounds = 0 }},
		{"sample interval", func(c *ServerConfig) { c.Storage.TTLSampleInterval = 0 }},
		{"wal mode", func(c *ServerConfig) { c.Storage.WALMode = "fast" }},
		{"batch window", func(c *ServerConfig) { c.Storage.WALBatchWindow = -time.Millisecond }},
		{"retain", func(c *ServerConfig) { c.Storage.WALRetain = -1 }},
		{"snapshot keep", func(c *ServerConfig) { c.Storage.SnapshotKeep = 0 }},
		{"compression", func(c *ServerConfig) { c.Storage.SnapshotCompression = "lz4" }},
		{"op threshold", func(c *ServerConfig) { c.Storage.SnapshotOpThreshold = -1 }},
		{"max memory", func(c *ServerConfig) { c.Storage.MaxMemoryMB = -1 }},
		{"missing key file", func(c *ServerConfig) { c.Storage.SnapshotEncryptionKeyFile = "/nonexistent/snapshot.key" }},
		{"admin addr", func(c *ServerConfig) { c.Admin.Addr = "no-port" }},
		{"half tls", func(c *ServerConfig) { c.Admin.TLSCertFile = "tls.crt" }},
		{"client ca without tls", func(c *ServerConfig) { c.Admin.TLSClientCA = "ca.pem" }},
		{"allow list", func(c *ServerConfig) { c.Admin.AllowList = []string{"10.0.0.0/33"} }},
		{"rate limit", func(c *ServerConfig) { c.Admin.RateLimit = -1 }},
		{"shutdown timeout", func(c *ServerConfig) { c.Admin.ShutdownTimeout = 0 }},
		{"log level", func(c *ServerConfig) { c.Log.Level = "verbose" }},
		{"log format", func(c *ServerConfig) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Verify(cfg)
			if !errors.Is(err, domain.ErrConfiguration) {
				t.Fatalf("Verify() = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestVerifyAcceptsOffModeAndEmptyAdmin(t *testing.T) {
	cfg := Default()
	cfg.Storage.WALMode = "off"
	cfg.Admin.Addr = ""
	if err := Verify(cfg); err != nil {
		t.Fatalf("Verify() = %v", err)
	}
}

func TestLoadLayers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shardkv.yaml")
	content := `
storage:
  data_dir: ` + dir + `
  shard_count: 16
  wal_mode: sync
  snapshot_compression: zstd
  max_memory_mb: 64
  allow_flush_commands: true
log:
  level: warn
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SHARDKV_STORAGE_TTL_SAMPLE_SIZE", "50")

	cfg, err := Load(path, map[string]any{"log.level": "debug"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.ShardCount != 16 || cfg.Storage.WALMode != "sync" {
		t.Fatalf("file values not applied: %+v", cfg.Storage)
	}
	if cfg.Storage.TTLSampleSize != 50 {
		t.Fatalf("TTLSampleSize = %d, want 50 from env", cfg.Storage.TTLSampleSize)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("Log.Level = %q, want debug from override", cfg.Log.Level)
	}
	if cfg.Storage.SnapshotKeep != 10 {
		t.Fatalf("SnapshotKeep = %d, default lost", cfg.Storage.SnapshotKeep)
	}
	if cfg.Storage.MaxMemoryMB != 64 || !cfg.Storage.AllowFlushCommands {
		t.Fatalf("max_memory_mb = %d, allow_flush_commands = %v", cfg.Storage.MaxMemoryMB, cfg.Storage.AllowFlushCommands)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := Load("", map[string]any{"storage.shard_count": 0})
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("Load() = %v, want ErrConfiguration", err)
	}
}

func TestStorageConfig(t *testing.T) {
	cfg := Default()
	cfg.Storage.DataDir = "/data"
	cfg.Storage.WALMode = "sync"
	cfg.Storage.SnapshotCompression = "snappy"
	cfg.Storage.SnapshotRateLimitBytes = 1 << 20
	cfg.Storage.MaxMemoryMB = 512
	cfg.Storage.AllowFlushCommands = true
	cfg.Storage.SnapshotEncryptionKeyFile = "/etc/shardkv/snapshot.key"

	sc := cfg.StorageConfig(nil)
	if sc.MaxMemoryBytes != 512<<20 || !sc.AllowFlush {
		t.Errorf("MaxMemoryBytes = %d, AllowFlush = %v", sc.MaxMemoryBytes, sc.AllowFlush)
	}
	if sc.Snapshot.KeyFile != "/etc/shardkv/snapshot.key" {
		t.Errorf("Snapshot.KeyFile = %q", sc.Snapshot.KeyFile)
	}
	if sc.WAL.Dir != filepath.Join("/data", "wal") {
		t.Errorf("WAL.Dir = %q", sc.WAL.Dir)
	}
	if sc.WAL.Mode != wal.ModeSync {
		t.Errorf("WAL.Mode = %q", sc.WAL.Mode)
	}
	if sc.Snapshot.Dir != filepath.Join("/data", "snapshots") {
		t.Errorf("Snapshot.Dir = %q", sc.Snapshot.Dir)
	}
	if sc.Snapshot.Codec != snapshot.CodecSnappy || sc.Snapshot.RateLimit != 1<<20 {
		t.Errorf("Snapshot = %+v", sc.Snapshot)
	}
	if sc.Sampler.SampleSize != cfg.Storage.TTLSampleSize {
		t.Errorf("Sampler.SampleSize = %d", sc.Sampler.SampleSize)
	}

	cfg.Storage.SnapshotPath = "/backups"
	if sc := cfg.StorageConfig(nil); sc.Snapshot.Dir != "/backups" {
		t.Errorf("Snapshot.Dir = %q, want /backups", sc.Snapshot.Dir)
	}
}

func TestRestartRequired(t *testing.T) {
	a := Default()
	b := Default()
	b.Log.Level = "debug"
	b.Storage.TTLSampleSize = 40
	if keys := a.RestartRequired(b); len(keys) != 0 {
		t.Fatalf("RestartRequired() = %v, want none for tunables", keys)
	}

	b.Storage.ShardCount = 8
	b.Storage.WALMode = "sync"
	keys := a.RestartRequired(b)
	if !slices.Contains(keys, "storage.shard_count") || !slices.Contains(keys, "storage.wal_mode") {
		t.Fatalf("RestartRequired() = %v", keys)
	}

	tun := b.Tunables()
	if tun.LogLevel != "debug" || tun.TTLSampleSize != 40 {
		t.Fatalf("Tunables() = %+v", tun)
	}
}
