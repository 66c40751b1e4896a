package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-core-stack/throttle/errors"
	"github.com/go-core-stack/throttle/rate"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Metrics.Interval)
	assert.Equal(t, "throttle", cfg.Mongo.Database)
	assert.False(t, cfg.Mongo.Enabled())
	assert.Empty(t, cfg.Limiters)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: json
manager:
  rate: 2097152
limiters:
  uploads:
    bytes_per_second: 1048576
    min_take: 4096
    max_take: 65536
  downloads:
    bytes_per_second: 524288
server:
  port: 9090
  root: /srv/files
mongo:
  uri: mongodb://db.internal:27017
`)
	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, int64(2097152), cfg.Manager.Rate)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/srv/files", cfg.Server.Root)
	assert.True(t, cfg.Mongo.Enabled())
	require.Len(t, cfg.Limiters, 2)
	assert.Equal(t, LimiterConfig{BytesPerSecond: 1048576, MinTake: 4096, MaxTake: 65536}, cfg.Limiters["uploads"])
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("THROTTLE_SERVER_PORT", "7070")
	t.Setenv("THROTTLE_LOGGING_LEVEL", "warn")

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"negative manager rate", "manager:\n  rate: -1\n"},
		{"negative limiter rate", "limiters:\n  a:\n    bytes_per_second: -5\n"},
		{"max below min", "limiters:\n  a:\n    bytes_per_second: 5\n    min_take: 10\n    max_take: 5\n"},
		{"unknown log format", "logging:\n  format: xml\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(New(), writeConfig(t, tt.body))
			require.Error(t, err)
			assert.True(t, errors.IsInvalidArgument(err), "expected InvalidArgument, got %v", err)
		})
	}
}

func TestRegister(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{Format: "console"},
		Limiters: map[string]LimiterConfig{
			"small": {BytesPerSecond: 100, MinTake: 10, MaxTake: 50},
			"bulk":  {BytesPerSecond: 1 << 20},
			"tiny":  {BytesPerSecond: 10, MinTake: 1 << 20},
		},
	}
	require.NoError(t, cfg.Validate())

	mgr, err := rate.NewLimitManager(0)
	require.NoError(t, err)
	require.NoError(t, cfg.Register(mgr))
	assert.Equal(t, []string{"bulk", "small", "tiny"}, mgr.Keys())

	bulk, err := mgr.Get("bulk")
	require.NoError(t, err)
	assert.Equal(t, rate.Snapshot{BytesPerSecond: 1 << 20, MinTake: rate.DefaultMinTake, MaxTake: rate.DefaultMaxTake}, bulk.Allocator().Snapshot())

	// a min_take above the default max_take raises max_take with it
	tiny, err := mgr.Get("tiny")
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), tiny.Allocator().Snapshot().MaxTake)

	assert.True(t, errors.IsAlreadyExists(cfg.Register(mgr)))
}
