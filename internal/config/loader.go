package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/go-core-stack/throttle/errors"
	"github.com/go-core-stack/throttle/rate"
)

// EnvPrefix is prepended to every environment override, e.g.
// THROTTLE_SERVER_PORT
const EnvPrefix = "THROTTLE"

// SetDefaults registers the built-in defaults on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.interval", "15s")
	v.SetDefault("manager.rate", 0)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.root", ".")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("mongo.database", "throttle")
}

// New returns a viper instance with defaults and environment binding
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file into v and decodes the result
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values viper cannot check by itself
func (c *Config) Validate() error {
	if c.Manager.Rate < 0 {
		return errors.Wrapf(errors.InvalidArgument, "manager.rate must be >= 0, got %d", c.Manager.Rate)
	}
	for name, l := range c.Limiters {
		if _, err := l.WithDefaults(); err != nil {
			return errors.Wrapf(errors.InvalidArgument, "limiters.%s: %s", name, err)
		}
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return errors.Wrapf(errors.InvalidArgument, "logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

// WithDefaults fills unset takes with the allocator defaults and checks
// the result the way the allocator would
func (l LimiterConfig) WithDefaults() (LimiterConfig, error) {
	if l.MinTake == 0 {
		l.MinTake = rate.DefaultMinTake
	}
	if l.MaxTake == 0 {
		l.MaxTake = max(rate.DefaultMaxTake, l.MinTake)
	}
	switch {
	case l.BytesPerSecond < 0:
		return l, fmt.Errorf("bytes_per_second must be >= 0")
	case l.MinTake < 0:
		return l, fmt.Errorf("min_take must be > 0")
	case l.MaxTake < l.MinTake:
		return l, fmt.Errorf("max_take must be >= min_take")
	}
	return l, nil
}

// Register creates a limiter on mgr for every configured limiter
func (c *Config) Register(mgr *rate.LimitManager) error {
	for name, l := range c.Limiters {
		l, err := l.WithDefaults()
		if err != nil {
			return errors.Wrapf(errors.InvalidArgument, "limiters.%s: %s", name, err)
		}
		if _, err := mgr.NewLimiter(name, l.BytesPerSecond, l.MinTake, l.MaxTake); err != nil {
			return err
		}
	}
	return nil
}
