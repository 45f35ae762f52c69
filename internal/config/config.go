// Package config provides configuration management for targethook.
package config

import (
	"strconv"
	"time"
)

// Config is the root configuration structure for targethook.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Targeting TargetingConfig `mapstructure:"targeting"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Backup    BackupConfig    `mapstructure:"backup"`
}

// DatabaseConfig holds database settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string `mapstructure:"path"`

	// Enable WAL mode (recommended)
	WALMode bool `mapstructure:"wal_mode"`

	// Cache size in KB (negative for KB, positive for pages)
	CacheSize int `mapstructure:"cache_size"`

	// Busy timeout
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`

	// Maximum open connections
	MaxOpenConns int `mapstructure:"max_open_conns"`

	// Maximum idle connections
	MaxIdleConns int `mapstructure:"max_idle_conns"`

	// Connection max lifetime
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Log level (trace, debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Log format (json, console)
	Format string `mapstructure:"format"`

	// Include caller info
	Caller bool `mapstructure:"caller"`

	// Include timestamp
	Timestamp bool `mapstructure:"timestamp"`
}

// TargetingConfig holds defaults applied by the hook lifecycle engine.
type TargetingConfig struct {
	// Uses applied when AddHook is called without an explicit count
	DefaultUses int `mapstructure:"default_uses"`

	// Object type filter applied when AddHook is called without one
	DefaultFilter string `mapstructure:"default_filter"`

	// Longest accepted slot name
	MaxSlotLength int `mapstructure:"max_slot_length"`
}

// MetricsConfig holds settings for the metrics endpoint exposed by `serve`.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`

	// Cron expression for refreshing store gauges
	RefreshSchedule string `mapstructure:"refresh_schedule"`
}

// Address returns the metrics listener address in host:port format.
func (m *MetricsConfig) Address() string {
	return m.Host + ":" + strconv.Itoa(m.Port)
}

// BackupConfig holds settings for remote snapshot destinations.
type BackupConfig struct {
	S3 S3Config `mapstructure:"s3"`
}

// S3Config configures the S3-compatible store used for s3:// dump paths.
type S3Config struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// Use path-style addressing, required by most MinIO deployments
	ForcePathStyle bool `mapstructure:"force_path_style"`

	// Prepended to every bucket name
	BucketPrefix string `mapstructure:"bucket_prefix"`
}
