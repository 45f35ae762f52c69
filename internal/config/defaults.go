package config

import "time"

// Default configuration values.
const (
	// Database defaults.
	DefaultDBPath       = "targethook.db"
	DefaultCacheSize    = -16000 // 16MB
	DefaultBusyTimeout  = 5 * time.Second
	DefaultMaxOpenConns = 1 // SQLite works best with single writer
	DefaultMaxIdleConns = 1

	// Logging defaults.
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"

	// Targeting defaults.
	DefaultUses          = 1
	DefaultFilter        = "all"
	DefaultMaxSlotLength = 64

	// Metrics defaults.
	DefaultMetricsHost     = "localhost"
	DefaultMetricsPort     = 9464
	DefaultMetricsPath     = "/metrics"
	DefaultRefreshSchedule = "@every 30s"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:         DefaultDBPath,
			WALMode:      true,
			CacheSize:    DefaultCacheSize,
			BusyTimeout:  DefaultBusyTimeout,
			MaxOpenConns: DefaultMaxOpenConns,
			MaxIdleConns: DefaultMaxIdleConns,
		},
		Logging: LoggingConfig{
			Level:     DefaultLogLevel,
			Format:    DefaultLogFormat,
			Timestamp: true,
		},
		Targeting: TargetingConfig{
			DefaultUses:   DefaultUses,
			DefaultFilter: DefaultFilter,
			MaxSlotLength: DefaultMaxSlotLength,
		},
		Metrics: MetricsConfig{
			Enabled:         true,
			Host:            DefaultMetricsHost,
			Port:            DefaultMetricsPort,
			Path:            DefaultMetricsPath,
			RefreshSchedule: DefaultRefreshSchedule,
		},
	}
}
