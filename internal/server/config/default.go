package config

import (
	"time"

	"github.com/yndnr/shardkv/internal/storage"
	"github.com/yndnr/shardkv/internal/storage/memory"
	"github.com/yndnr/shardkv/internal/storage/snapshot"
	"github.com/yndnr/shardkv/internal/storage/wal"
)

// Default configuration values.
const (
	DefaultDataDir         = "/var/lib/shardkv"
	DefaultAdminAddr       = "127.0.0.1:9480"
	DefaultShutdownTimeout = 30 * time.Second

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Storage: StorageSection{
			DataDir:    DefaultDataDir,
			ShardCount: storage.DefaultShardCount,

			TTLSampleSize:     memory.DefaultSampleSize,
			TTLHotThreshold:   memory.DefaultHotThreshold,
			TTLMaxRounds:      memory.DefaultMaxRounds,
			TTLSampleInterval: memory.DefaultSampleInterval,

			WALMode:         string(wal.ModeAsync),
			WALBatchWindow:  wal.DefaultBatchWindow,
			WALBatchMaxSize: wal.DefaultBatchMaxSize,
			WALMaxPending:   wal.DefaultMaxPending,
			WALMaxFileSize:  wal.DefaultMaxFileSize,
			WALRetain:       wal.DefaultRetainCount,

			SnapshotInterval:    storage.DefaultSnapshotInterval,
			SnapshotOpThreshold: storage.DefaultSnapshotOpThreshold,
			SnapshotKeep:        snapshot.DefaultKeep,
			SnapshotCompression: string(snapshot.CodecNone),
		},
		Admin: AdminSection{
			Addr:            DefaultAdminAddr,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
