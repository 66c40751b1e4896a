package config

import (
	"time"
)

// Config represents the complete application configuration. Values are
// layered: built-in defaults, then the config file, then THROTTLE_*
// environment variables.
type Config struct {
	Logging  LoggingConfig            `mapstructure:"logging"`
	Metrics  MetricsConfig            `mapstructure:"metrics"`
	Manager  ManagerConfig            `mapstructure:"manager"`
	Limiters map[string]LimiterConfig `mapstructure:"limiters"`
	Server   ServerConfig             `mapstructure:"server"`
	Mongo    MongoConfig              `mapstructure:"mongo"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: debug, info, warn, error
	Level string `mapstructure:"level"`

	// Format is either json or console
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the OpenTelemetry meter provider
type MetricsConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// ManagerConfig contains the shared budget of the limit manager
type ManagerConfig struct {
	// Rate is the aggregate bytes per second shared by active limiters,
	// 0 leaves every limiter on its own rate
	Rate int64 `mapstructure:"rate"`
}

// LimiterConfig is one named limiter
type LimiterConfig struct {
	BytesPerSecond int64 `mapstructure:"bytes_per_second"`
	MinTake        int64 `mapstructure:"min_take"`
	MaxTake        int64 `mapstructure:"max_take"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Root            string        `mapstructure:"root"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// MongoConfig locates the profile store, an empty URI and host disables it
type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// Enabled reports whether a profile store is configured
func (m MongoConfig) Enabled() bool {
	return m.URI != "" || m.Host != ""
}
