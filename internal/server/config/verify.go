package config

import (
	"net"
	"os"

	"github.com/yndnr/shardkv/internal/core/domain"
	"github.com/yndnr/shardkv/internal/storage"
	"github.com/yndnr/shardkv/internal/storage/snapshot"
	"github.com/yndnr/shardkv/internal/storage/wal"
	"github.com/yndnr/shardkv/internal/telemetry/logger"
	"github.com/yndnr/shardkv/pkg/cmap"
)

// Verify validates the configuration. Failures are domain.ErrConfiguration
// with the offending key in the details.
func Verify(cfg *ServerConfig) error {
	if err := verifyStorage(&cfg.Storage); err != nil {
		return err
	}
	if err := verifyAdmin(&cfg.Admin); err != nil {
		return err
	}
	return verifyLog(&cfg.Log)
}

func invalid(format string, args ...any) error {
	return domain.ErrConfiguration.WithDetailsf(format, args...)
}

func verifyStorage(s *StorageSection) error {
	if s.DataDir == "" {
		return invalid("storage.data_dir is required")
	}
	if s.ShardCount < 1 || s.ShardCount > cmap.MaxShardCount {
		return invalid("storage.shard_count must be in [1, %d], got %d", cmap.MaxShardCount, s.ShardCount)
	}
	if s.MaxMemoryMB < 0 {
		return invalid("storage.max_memory_mb must not be negative, got %d", s.MaxMemoryMB)
	}
	if s.TTLSampleSize < 1 {
		return invalid("storage.ttl_sample_size must be positive, got %d", s.TTLSampleSize)
	}
	if s.TTLHotThreshold <= 0 || s.TTLHotThreshold >= 1 {
		return invalid("storage.ttl_hot_threshold must be in (0, 1), got %v", s.TTLHotThreshold)
	}
	if s.TTLMaxRounds < 1 {
		return invalid("storage.ttl_max_rounds must be positive, got %d", s.TTLMaxRounds)
	}
	if s.TTLSampleInterval <= 0 {
		return invalid("storage.ttl_sample_interval must be positive")
	}

	switch wal.Mode(s.WALMode) {
	case wal.ModeSync, wal.ModeAsync, storage.WALModeOff:
	default:
		return invalid("storage.wal_mode must be sync, async or off, got %q", s.WALMode)
	}
	if s.WALBatchWindow < 0 || s.WALBatchMaxSize < 0 || s.WALMaxPending < 0 || s.WALMaxFileSize < 0 {
		return invalid("storage.wal_* sizes must not be negative")
	}
	if s.WALRetain < 0 {
		return invalid("storage.wal_retain_segments must not be negative")
	}

	if s.SnapshotInterval < 0 || s.SnapshotOpThreshold < 0 || s.SnapshotRateLimitBytes < 0 {
		return invalid("storage.snapshot_* triggers must not be negative")
	}
	if s.SnapshotKeep < 1 {
		return invalid("storage.snapshot_keep must be at least 1, got %d", s.SnapshotKeep)
	}
	if !snapshot.Codec(s.SnapshotCompression).Valid() {
		return invalid("storage.snapshot_compression must be none, zstd or snappy, got %q", s.SnapshotCompression)
	}
	if s.SnapshotEncryptionKeyFile != "" {
		if _, err := os.Stat(s.SnapshotEncryptionKeyFile); err != nil {
			return invalid("storage.snapshot_encryption_key_file: %v", err)
		}
	}
	return nil
}

func verifyAdmin(a *AdminSection) error {
	if a.Addr != "" {
		if _, _, err := net.SplitHostPort(a.Addr); err != nil {
			return invalid("admin.addr %q: %v", a.Addr, err)
		}
	}
	if a.TLSEnabled() && (a.TLSCertFile == "" || a.TLSKeyFile == "") {
		return invalid("admin.tls_cert_file and admin.tls_key_file must be set together")
	}
	if a.TLSClientCA != "" && !a.TLSEnabled() {
		return invalid("admin.tls_client_ca requires admin.tls_cert_file")
	}
	for _, entry := range a.AllowList {
		if _, _, err := net.ParseCIDR(entry); err != nil && net.ParseIP(entry) == nil {
			return invalid("admin.allow_list entry %q is not an IP or CIDR", entry)
		}
	}
	if a.RateLimit < 0 {
		return invalid("admin.rate_limit must not be negative")
	}
	if a.ShutdownTimeout <= 0 {
		return invalid("admin.shutdown_timeout must be positive")
	}
	return nil
}

func verifyLog(l *LogSection) error {
	if !logger.ValidLevel(l.Level) {
		return invalid("log.level %q is not one of debug, info, warn, error", l.Level)
	}
	switch l.Format {
	case "json", "text":
	default:
		return invalid("log.format must be json or text, got %q", l.Format)
	}
	return nil
}
