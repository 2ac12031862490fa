package config

import "time"

// ServerConfig is the root configuration for shardkv-server.
type ServerConfig struct {
	Storage StorageSection `koanf:"storage" json:"storage" yaml:"storage"`
	Admin   AdminSection   `koanf:"admin" json:"admin" yaml:"admin"`
	Log     LogSection     `koanf:"log" json:"log" yaml:"log"`
}

// StorageSection configures the storage engine.
type StorageSection struct {
	DataDir    string `koanf:"data_dir" json:"data_dir" yaml:"data_dir"`
	ShardCount int    `koanf:"shard_count" json:"shard_count" yaml:"shard_count"`

	// MaxMemoryMB caps the estimated size of stored entries; 0 is
	// unlimited. Writes past it fail with a memory limit error.
	MaxMemoryMB int64 `koanf:"max_memory_mb" json:"max_memory_mb" yaml:"max_memory_mb"`
	// AllowFlushCommands enables FlushDB and FlushAll.
	AllowFlushCommands bool `koanf:"allow_flush_commands" json:"allow_flush_commands" yaml:"allow_flush_commands"`

	TTLSampleSize     int           `koanf:"ttl_sample_size" json:"ttl_sample_size" yaml:"ttl_sample_size"`
	TTLHotThreshold   float64       `koanf:"ttl_hot_threshold" json:"ttl_hot_threshold" yaml:"ttl_hot_threshold"`
	TTLMaxRounds      int           `koanf:"ttl_max_rounds" json:"ttl_max_rounds" yaml:"ttl_max_rounds"`
	TTLSampleInterval time.Duration `koanf:"ttl_sample_interval" json:"ttl_sample_interval" yaml:"ttl_sample_interval"`

	WALMode         string        `koanf:"wal_mode" json:"wal_mode" yaml:"wal_mode"`
	WALBatchWindow  time.Duration `koanf:"wal_batch_window" json:"wal_batch_window" yaml:"wal_batch_window"`
	WALBatchMaxSize int           `koanf:"wal_batch_max_size" json:"wal_batch_max_size" yaml:"wal_batch_max_size"`
	WALMaxPending   int           `koanf:"wal_max_pending" json:"wal_max_pending" yaml:"wal_max_pending"`
	WALMaxFileSize  int64         `koanf:"wal_max_file_size" json:"wal_max_file_size" yaml:"wal_max_file_size"`
	WALRetain       int           `koanf:"wal_retain_segments" json:"wal_retain_segments" yaml:"wal_retain_segments"`

	// SnapshotPath defaults to <data_dir>/snapshots.
	SnapshotPath           string        `koanf:"snapshot_path" json:"snapshot_path" yaml:"snapshot_path"`
	SnapshotInterval       time.Duration `koanf:"snapshot_interval" json:"snapshot_interval" yaml:"snapshot_interval"`
	SnapshotOpThreshold    int64         `koanf:"snapshot_op_threshold" json:"snapshot_op_threshold" yaml:"snapshot_op_threshold"`
	SnapshotKeep           int           `koanf:"snapshot_keep" json:"snapshot_keep" yaml:"snapshot_keep"`
	SnapshotCompression    string        `koanf:"snapshot_compression" json:"snapshot_compression" yaml:"snapshot_compression"`
	SnapshotRateLimitBytes int64         `koanf:"snapshot_rate_limit_bytes" json:"snapshot_rate_limit_bytes" yaml:"snapshot_rate_limit_bytes"`
	// SnapshotEncryptionKeyFile holds the key material snapshot bodies are
	// encrypted with; empty writes plaintext snapshots.
	SnapshotEncryptionKeyFile string `koanf:"snapshot_encryption_key_file" json:"snapshot_encryption_key_file" yaml:"snapshot_encryption_key_file"`
}

// AdminSection configures the admin HTTP endpoint. An empty Addr disables
// it.
type AdminSection struct {
	Addr        string `koanf:"addr" json:"addr" yaml:"addr"`
	TLSCertFile string `koanf:"tls_cert_file" json:"tls_cert_file" yaml:"tls_cert_file"`
	TLSKeyFile  string `koanf:"tls_key_file" json:"tls_key_file" yaml:"tls_key_file"`
	// TLSClientCA, when set, requires client certificates signed by it.
	TLSClientCA string `koanf:"tls_client_ca" json:"tls_client_ca" yaml:"tls_client_ca"`

	// AllowList restricts /admin/ to these IPs and CIDRs.
	AllowList []string `koanf:"allow_list" json:"allow_list" yaml:"allow_list"`
	// RateLimit is requests per second per client on /admin/; 0 disables.
	RateLimit int `koanf:"rate_limit" json:"rate_limit" yaml:"rate_limit"`

	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// TLSEnabled reports whether the admin endpoint serves TLS.
func (a AdminSection) TLSEnabled() bool {
	return a.TLSCertFile != "" || a.TLSKeyFile != ""
}

// LogSection configures logging.
type LogSection struct {
	Level     string `koanf:"level" json:"level" yaml:"level"`
	Format    string `koanf:"format" json:"format" yaml:"format"`
	AddSource bool   `koanf:"add_source" json:"add_source" yaml:"add_source"`
}
