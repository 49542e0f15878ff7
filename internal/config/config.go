// Package config loads memvault configuration from a YAML file and
// MEMVAULT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "MEMVAULT"

// Config holds all application configuration.
type Config struct {
	DataDir          string `mapstructure:"data_dir" yaml:"data_dir"`
	MasterSecret     string `mapstructure:"master_secret" yaml:"master_secret"`
	PassphraseSalt   string `mapstructure:"passphrase_salt" yaml:"passphrase_salt"`
	PBKDF2Iterations int    `mapstructure:"pbkdf2_iterations" yaml:"pbkdf2_iterations"`

	SessionTTL         time.Duration `mapstructure:"session_ttl" yaml:"session_ttl"`
	MinPassphraseWords int           `mapstructure:"min_passphrase_words" yaml:"min_passphrase_words"`
	MaxAuthAttempts    int           `mapstructure:"max_auth_attempts" yaml:"max_auth_attempts"`
	AttemptWindow      time.Duration `mapstructure:"attempt_window" yaml:"attempt_window"`
	HintAfterFailures  int           `mapstructure:"hint_after_failures" yaml:"hint_after_failures"`

	PreviewLength    int `mapstructure:"preview_length" yaml:"preview_length"`
	MaxSearchTargets int `mapstructure:"max_search_targets" yaml:"max_search_targets"`

	Redis RedisConfig `mapstructure:"redis" yaml:"redis"`
	Log   LogConfig   `mapstructure:"log" yaml:"log"`
}

// RedisConfig points at the optional shared session cache. Empty Addr
// keeps sessions in process.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level   string `mapstructure:"level" yaml:"level"`
	Console bool   `mapstructure:"console" yaml:"console"`
}

// DefaultDir is ~/.memvault, or ./.memvault when there is no home.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".memvault"
	}
	return filepath.Join(home, ".memvault")
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:            DefaultDir(),
		PBKDF2Iterations:   200_000,
		SessionTTL:         10 * time.Minute,
		MinPassphraseWords: 10,
		MaxAuthAttempts:    5,
		AttemptWindow:      time.Hour,
		HintAfterFailures:  3,
		PreviewLength:      120,
		MaxSearchTargets:   25,
		Log:                LogConfig{Level: "info"},
	}
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("master_secret", d.MasterSecret)
	v.SetDefault("passphrase_salt", d.PassphraseSalt)
	v.SetDefault("pbkdf2_iterations", d.PBKDF2Iterations)
	v.SetDefault("session_ttl", d.SessionTTL)
	v.SetDefault("min_passphrase_words", d.MinPassphraseWords)
	v.SetDefault("max_auth_attempts", d.MaxAuthAttempts)
	v.SetDefault("attempt_window", d.AttemptWindow)
	v.SetDefault("hint_after_failures", d.HintAfterFailures)
	v.SetDefault("preview_length", d.PreviewLength)
	v.SetDefault("max_search_targets", d.MaxSearchTargets)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.console", d.Log.Console)
}

// Load reads configuration. An explicit path must exist; otherwise
// config.yaml is looked up in the default dir and the working directory,
// and a missing file just means defaults plus environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultDir())
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
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

// Validate rejects settings that would weaken the guarantees.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.PBKDF2Iterations < 200_000 {
		return fmt.Errorf("pbkdf2_iterations must be at least 200000, got %d", c.PBKDF2Iterations)
	}
	if c.SessionTTL <= 0 {
		return errors.New("session_ttl must be positive")
	}
	if c.MinPassphraseWords < 1 {
		return errors.New("min_passphrase_words must be positive")
	}
	if c.MaxAuthAttempts < 1 {
		return errors.New("max_auth_attempts must be positive")
	}
	if c.AttemptWindow <= 0 {
		return errors.New("attempt_window must be positive")
	}
	return nil
}

// Save writes cfg as YAML, creating parent directories. The file is
// private to the owner since it may hold the master secret.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	out, err := yaml.Marshal(toFile(cfg))
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, out, 0o600)
}

// fileConfig is the on-disk shape. Durations are written as strings so
// the file stays readable and round-trips through viper.
type fileConfig struct {
	DataDir            string      `yaml:"data_dir"`
	MasterSecret       string      `yaml:"master_secret"`
	PassphraseSalt     string      `yaml:"passphrase_salt"`
	PBKDF2Iterations   int         `yaml:"pbkdf2_iterations"`
	SessionTTL         string      `yaml:"session_ttl"`
	MinPassphraseWords int         `yaml:"min_passphrase_words"`
	MaxAuthAttempts    int         `yaml:"max_auth_attempts"`
	AttemptWindow      string      `yaml:"attempt_window"`
	HintAfterFailures  int         `yaml:"hint_after_failures"`
	PreviewLength      int         `yaml:"preview_length"`
	MaxSearchTargets   int         `yaml:"max_search_targets"`
	Redis              RedisConfig `yaml:"redis"`
	Log                LogConfig   `yaml:"log"`
}

func toFile(c *Config) fileConfig {
	return fileConfig{
		DataDir:            c.DataDir,
		MasterSecret:       c.MasterSecret,
		PassphraseSalt:     c.PassphraseSalt,
		PBKDF2Iterations:   c.PBKDF2Iterations,
		SessionTTL:         c.SessionTTL.String(),
		MinPassphraseWords: c.MinPassphraseWords,
		MaxAuthAttempts:    c.MaxAuthAttempts,
		AttemptWindow:      c.AttemptWindow.String(),
		HintAfterFailures:  c.HintAfterFailures,
		PreviewLength:      c.PreviewLength,
		MaxSearchTargets:   c.MaxSearchTargets,
		Redis:              c.Redis,
		Log:                c.Log,
	}
}
