package config

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("TARGET_DIR", "/downloads")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "/downloads", cfg.TargetDir)
	assert.Equal(t, 0, cfg.MaxConcurrentTransfers)
	assert.Equal(t, 6*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, time.Duration(0), cfg.TotalTimeout)
	assert.Equal(t, 30*time.Second, cfg.MaxWait)
	assert.Equal(t, "0.0.0.0:9091", cfg.Web.BindAddress)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("TARGET_DIR", "/downloads")
	t.Setenv("MAX_CONCURRENT_TRANSFERS", "8")
	t.Setenv("TOTAL_TIMEOUT", "5m")
	t.Setenv("TELEMETRY_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("API_USERNAME", "admin")
	t.Setenv("API_PASSWORD", "secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.MaxConcurrentTransfers)
	assert.Equal(t, 5*time.Minute, cfg.TotalTimeout)
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
	assert.Equal(t, "admin", cfg.API.Username)
}

func TestLoadConfig_MissingTargetDir(t *testing.T) {
	t.Setenv("TARGET_DIR", "")
	require.NoError(t, os.Unsetenv("TARGET_DIR"))

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{MaxWait: time.Second}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "negative cap", mutate: func(c *Config) { c.MaxConcurrentTransfers = -1 }, wantErr: true},
		{name: "negative connect timeout", mutate: func(c *Config) { c.ConnectTimeout = -time.Second }, wantErr: true},
		{name: "zero max wait", mutate: func(c *Config) { c.MaxWait = 0 }, wantErr: true},
		{name: "username without password", mutate: func(c *Config) { c.API.Username = "admin" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, (&Config{LogLevel: "debug"}).SlogLevel())
	assert.Equal(t, slog.LevelWarn, (&Config{LogLevel: "WARN"}).SlogLevel())
	assert.Equal(t, slog.LevelInfo, (&Config{LogLevel: "bogus"}).SlogLevel())
}
