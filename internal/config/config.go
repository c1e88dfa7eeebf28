// Package config loads application configuration from defaults, an optional
// YAML file, CHECKPULSE_* environment variables and bound CLI flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable Load reads.
const EnvPrefix = "CHECKPULSE"

// Config holds the application configuration.
type Config struct {
	GitHubToken  string        `mapstructure:"github_token"`
	GitHubAPIURL string        `mapstructure:"github_api_url"`
	ListenAddr   string        `mapstructure:"listen_addr"`
	DBPath       string        `mapstructure:"db_path"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`

	MinCompletedAge   time.Duration `mapstructure:"min_completed_age"`
	BootstrapAttempts int           `mapstructure:"bootstrap_attempts"`
	BootstrapDelay    time.Duration `mapstructure:"bootstrap_delay"`
	Backoff           BackoffConfig `mapstructure:"backoff"`

	LogLevel    string            `mapstructure:"log_level"`
	LogFormat   string            `mapstructure:"log_format"`
	LogFile     string            `mapstructure:"log_file"`
	LogRotation LogRotationConfig `mapstructure:"log_rotation"`
}

// BackoffConfig shapes the poll delay curve.
type BackoffConfig struct {
	Min       time.Duration `mapstructure:"min"`
	Max       time.Duration `mapstructure:"max"`
	Midpoint  time.Duration `mapstructure:"midpoint"`
	Steepness float64       `mapstructure:"steepness"`
}

// LogRotationConfig holds lumberjack settings used when LogFile is set.
type LogRotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		ListenAddr:        "127.0.0.1:8080",
		DBPath:            "checkpulse.db",
		CacheTTL:          2 * time.Hour,
		MinCompletedAge:   20 * time.Second,
		BootstrapAttempts: 5,
		BootstrapDelay:    2 * time.Second,
		Backoff: BackoffConfig{
			Min:       10 * time.Second,
			Max:       10 * time.Minute,
			Midpoint:  5 * time.Minute,
			Steepness: 0.02,
		},
		LogLevel:  "info",
		LogFormat: "text",
		LogRotation: LogRotationConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   false,
		},
	}
}

// HasGitHubCredentials reports whether a token is configured. Without one the
// server still starts and serves cached statuses, but no session can poll.
func (c *Config) HasGitHubCredentials() bool {
	return c.GitHubToken != ""
}

// Validate rejects settings the poll loop cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr must not be empty"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path must not be empty"))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("cache_ttl must be positive, got %s", c.CacheTTL))
	}
	if c.MinCompletedAge < 0 {
		errs = append(errs, fmt.Errorf("min_completed_age must not be negative, got %s", c.MinCompletedAge))
	}
	if c.BootstrapAttempts <= 0 {
		errs = append(errs, fmt.Errorf("bootstrap_attempts must be positive, got %d", c.BootstrapAttempts))
	}
	if c.BootstrapDelay <= 0 {
		errs = append(errs, fmt.Errorf("bootstrap_delay must be positive, got %s", c.BootstrapDelay))
	}
	if c.Backoff.Min <= 0 {
		errs = append(errs, fmt.Errorf("backoff.min must be positive, got %s", c.Backoff.Min))
	}
	if c.Backoff.Max < c.Backoff.Min {
		errs = append(errs, fmt.Errorf("backoff.max (%s) must not be below backoff.min (%s)", c.Backoff.Max, c.Backoff.Min))
	}
	if c.Backoff.Midpoint <= 0 {
		errs = append(errs, fmt.Errorf("backoff.midpoint must be positive, got %s", c.Backoff.Midpoint))
	}
	if c.Backoff.Steepness <= 0 {
		errs = append(errs, fmt.Errorf("backoff.steepness must be positive, got %g", c.Backoff.Steepness))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// Load builds a Config. Precedence, later overriding earlier:
//  1. Default() values
//  2. the YAML file named by the "config" key (--config or CHECKPULSE_CONFIG)
//  3. CHECKPULSE_* environment variables, nested keys joined by "_"
//  4. CLI flags already bound to v
//
// An explicitly named config file must exist.
func Load(v *viper.Viper) (*Config, error) {
	cfg := Default()

	defaultMap, err := structToMap(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode defaults: %w", err)
	}
	if err := v.MergeConfigMap(defaultMap); err != nil {
		return nil, fmt.Errorf("merge defaults: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		if err := loadConfigFile(v, path); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg, viperDecodeHook()); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// loadConfigFile reads a YAML file and merges it into v.
func loadConfigFile(v *viper.Viper, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	fileViper := viper.New()
	fileViper.SetConfigType("yaml")
	if err := fileViper.ReadConfig(file); err != nil {
		return err
	}
	return v.MergeConfigMap(fileViper.AllSettings())
}

func viperDecodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
}

// structToMap flattens cfg into the nested map shape viper merges.
func structToMap(cfg *Config) (map[string]interface{}, error) {
	result := make(map[string]interface{})

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "mapstructure",
		Result:     &result,
		DecodeHook: durationToStringHook(),
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(cfg); err != nil {
		return nil, err
	}
	return result, nil
}

// durationToStringHook converts time.Duration to its "1m30s" string form.
func durationToStringHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Type, data interface{}) (interface{}, error) {
		if from != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return data.(time.Duration).String(), nil
	}
}
