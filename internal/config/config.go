// Package config builds the single, process-wide, fixed-at-startup
// configuration: built-in defaults, optionally overridden by a TOML
// file, optionally overridden again by environment variables. No
// command-line flags are parsed.
package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config is the server's immutable, process-wide configuration.
type Config struct {
	ListenAddr       string `toml:"listen_addr"`
	PIDFile          string `toml:"pid_file"`
	LogFile          string `toml:"log_file"`
	Workers          int    `toml:"workers"`
	CompactThreshold int64  `toml:"compact_threshold"`
	MaxValueSize     int    `toml:"max_value_size"`
	MaxKeySize       int    `toml:"max_key_size"`
}

// Defaults returns the built-in configuration used when no config file
// or environment variable overrides any given field.
func Defaults() Config {
	return Config{
		ListenAddr:       "127.0.0.1:7878",
		PIDFile:          "kvlite.pid",
		LogFile:          "kvlite.log",
		Workers:          4,
		CompactThreshold: 1024 * 1024,
		MaxValueSize:     1024 * 1024,
		MaxKeySize:       1024,
	}
}

// Environment variable names consulted after the defaults/file layer.
const (
	envConfigFile       = "KVLITE_CONFIG_FILE"
	envListenAddr       = "KVLITE_LISTEN_ADDR"
	envPIDFile          = "KVLITE_PID_FILE"
	envLogFile          = "KVLITE_LOG_FILE"
	envWorkers          = "KVLITE_WORKERS"
	envCompactThreshold = "KVLITE_COMPACT_THRESHOLD"
	envMaxValueSize     = "KVLITE_MAX_VALUE_SIZE"
	envMaxKeySize       = "KVLITE_MAX_KEY_SIZE"
)

// Load builds the configuration by layering defaults, an optional TOML
// file named by KVLITE_CONFIG_FILE, and environment variable overrides,
// then validates the result.
func Load() (Config, error) {
	cfg := Defaults()

	if path := os.Getenv(envConfigFile); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "load config file %s", path)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envPIDFile); v != "" {
		cfg.PIDFile = v
	}
	if v := os.Getenv(envLogFile); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv(envWorkers); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if v := os.Getenv(envCompactThreshold); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.CompactThreshold = n
		}
	}
	if v := os.Getenv(envMaxValueSize); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxValueSize = n
		}
	}
	if v := os.Getenv(envMaxKeySize); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxKeySize = n
		}
	}
}

// Validate rejects configurations that could never serve correctly.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("config: listen_addr must not be empty")
	}
	if c.PIDFile == "" {
		return errors.New("config: pid_file must not be empty")
	}
	if c.LogFile == "" {
		return errors.New("config: log_file must not be empty")
	}
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.CompactThreshold <= 0 {
		return errors.New("config: compact_threshold must be positive")
	}
	if c.MaxValueSize <= 0 {
		return errors.New("config: max_value_size must be positive")
	}
	if c.MaxKeySize <= 0 {
		return errors.New("config: max_key_size must be positive")
	}
	return nil
}
