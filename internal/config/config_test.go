package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// allConfigKeys lists every CHECKPULSE_ env var Load can read.
var allConfigKeys = []string{
	"CHECKPULSE_CONFIG",
	"CHECKPULSE_GITHUB_TOKEN",
	"CHECKPULSE_GITHUB_API_URL",
	"CHECKPULSE_LISTEN_ADDR",
	"CHECKPULSE_DB_PATH",
	"CHECKPULSE_CACHE_TTL",
	"CHECKPULSE_MIN_COMPLETED_AGE",
	"CHECKPULSE_BOOTSTRAP_ATTEMPTS",
	"CHECKPULSE_BOOTSTRAP_DELAY",
	"CHECKPULSE_BACKOFF_MIN",
	"CHECKPULSE_BACKOFF_MAX",
	"CHECKPULSE_BACKOFF_MIDPOINT",
	"CHECKPULSE_BACKOFF_STEEPNESS",
	"CHECKPULSE_LOG_LEVEL",
	"CHECKPULSE_LOG_FORMAT",
	"CHECKPULSE_LOG_FILE",
	"CHECKPULSE_LOG_ROTATION_MAX_SIZE",
	"CHECKPULSE_LOG_ROTATION_MAX_BACKUPS",
	"CHECKPULSE_LOG_ROTATION_MAX_AGE",
	"CHECKPULSE_LOG_ROTATION_COMPRESS",
}

// isolateConfigEnv saves and unsets all CHECKPULSE_ env vars so tests don't
// inherit values from the host environment (e.g. a running dev server).
// t.Cleanup restores original values after the test.
func isolateConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range allConfigKeys {
		if orig, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, orig) })
		} else {
			t.Cleanup(func() { os.Unsetenv(key) })
		}
		os.Unsetenv(key)
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "checkpulse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	isolateConfigEnv(t)

	cfg, err := Load(viper.New())

	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr)
	assert.Equal(t, "checkpulse.db", cfg.DBPath)
	assert.Equal(t, 2*time.Hour, cfg.CacheTTL)
	assert.Equal(t, 20*time.Second, cfg.MinCompletedAge)
	assert.Equal(t, 5, cfg.BootstrapAttempts)
	assert.Equal(t, 10*time.Second, cfg.Backoff.Min)
	assert.Equal(t, 10*time.Minute, cfg.Backoff.Max)
	assert.InDelta(t, 0.02, cfg.Backoff.Steepness, 1e-9)
	assert.False(t, cfg.HasGitHubCredentials())
}

func TestLoad_Env(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("CHECKPULSE_GITHUB_TOKEN", "ghp_test123")
	t.Setenv("CHECKPULSE_GITHUB_API_URL", "https://ghe.example.com/api/v3/")
	t.Setenv("CHECKPULSE_LISTEN_ADDR", "0.0.0.0:9090")
	t.Setenv("CHECKPULSE_DB_PATH", "/tmp/test.db")
	t.Setenv("CHECKPULSE_CACHE_TTL", "30m")
	t.Setenv("CHECKPULSE_BOOTSTRAP_ATTEMPTS", "8")
	t.Setenv("CHECKPULSE_BACKOFF_MAX", "15m")
	t.Setenv("CHECKPULSE_BACKOFF_STEEPNESS", "0.05")
	t.Setenv("CHECKPULSE_LOG_FORMAT", "json")
	t.Setenv("CHECKPULSE_LOG_ROTATION_COMPRESS", "true")

	cfg, err := Load(viper.New())

	require.NoError(t, err)
	assert.True(t, cfg.HasGitHubCredentials())
	assert.Equal(t, "ghp_test123", cfg.GitHubToken)
	assert.Equal(t, "https://ghe.example.com/api/v3/", cfg.GitHubAPIURL)
	assert.Equal(t, "0.0.0.0:9090", cfg.ListenAddr)
	assert.Equal(t, "/tmp/test.db", cfg.DBPath)
	assert.Equal(t, 30*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 8, cfg.BootstrapAttempts)
	assert.Equal(t, 15*time.Minute, cfg.Backoff.Max)
	assert.Equal(t, 10*time.Second, cfg.Backoff.Min, "unset nested keys keep defaults")
	assert.InDelta(t, 0.05, cfg.Backoff.Steepness, 1e-9)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.True(t, cfg.LogRotation.Compress)
}

func TestLoad_ConfigFile(t *testing.T) {
	isolateConfigEnv(t)
	path := writeConfigFile(t, `
listen_addr: 127.0.0.1:7070
min_completed_age: 45s
backoff:
  min: 5s
  midpoint: 2m
log_file: /var/log/checkpulse.log
log_rotation:
  max_size: 50
`)
	v := viper.New()
	v.Set("config", path)

	cfg, err := Load(v)

	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7070", cfg.ListenAddr)
	assert.Equal(t, 45*time.Second, cfg.MinCompletedAge)
	assert.Equal(t, 5*time.Second, cfg.Backoff.Min)
	assert.Equal(t, 2*time.Minute, cfg.Backoff.Midpoint)
	assert.Equal(t, 10*time.Minute, cfg.Backoff.Max)
	assert.Equal(t, "/var/log/checkpulse.log", cfg.LogFile)
	assert.Equal(t, 50, cfg.LogRotation.MaxSizeMB)
	assert.Equal(t, 3, cfg.LogRotation.MaxBackups)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	isolateConfigEnv(t)
	path := writeConfigFile(t, "listen_addr: 127.0.0.1:7070\n")
	t.Setenv("CHECKPULSE_CONFIG", path)
	t.Setenv("CHECKPULSE_LISTEN_ADDR", "127.0.0.1:6060")

	cfg, err := Load(viper.New())

	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6060", cfg.ListenAddr)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	isolateConfigEnv(t)
	v := viper.New()
	v.Set("config", filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := Load(v)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file")
}

func TestLoad_InvalidDuration(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("CHECKPULSE_CACHE_TTL", "not-a-duration")

	_, err := Load(viper.New())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "max below min", mutate: func(c *Config) { c.Backoff.Max = time.Second }, wantErr: "backoff.max"},
		{name: "zero min", mutate: func(c *Config) { c.Backoff.Min = 0 }, wantErr: "backoff.min"},
		{name: "zero steepness", mutate: func(c *Config) { c.Backoff.Steepness = 0 }, wantErr: "backoff.steepness"},
		{name: "zero attempts", mutate: func(c *Config) { c.BootstrapAttempts = 0 }, wantErr: "bootstrap_attempts"},
		{name: "negative completed age", mutate: func(c *Config) { c.MinCompletedAge = -time.Second }, wantErr: "min_completed_age"},
		{name: "zero cache ttl", mutate: func(c *Config) { c.CacheTTL = 0 }, wantErr: "cache_ttl"},
		{name: "empty listen addr", mutate: func(c *Config) { c.ListenAddr = "" }, wantErr: "listen_addr"},
		{name: "unknown log format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantErr: "log_format"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)

			err := cfg.Validate()

			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
