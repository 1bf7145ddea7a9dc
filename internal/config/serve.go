package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

const (
	StateBackendDB   = "db"
	StateBackendFile = "file"
)

// ServeConfig holds settings for the HTTP API and its scheduler.
type ServeConfig struct {
	Common

	Addr           string
	RequestTimeout time.Duration

	Schedule     bool
	Interval     time.Duration
	StateBackend string
	StateFile    string
	MaxRetries   int
	RetryBackoff time.Duration
	Concurrency  int
}

// LoadServe merges config file, environment variables, and flags into ServeConfig.
func LoadServe(cfgFile string, flags *pflag.FlagSet) (ServeConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return ServeConfig{}, err
	}
	v.SetDefault("addr", ":8080")
	v.SetDefault("request-timeout", 30*time.Second)
	v.SetDefault("schedule", false)
	v.SetDefault("interval", 5*time.Minute)
	v.SetDefault("state-backend", StateBackendDB)
	v.SetDefault("state-file", "./data/scheduler.json")
	v.SetDefault("max-retries", 3)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("concurrency", 4)

	common, err := loadCommon(v)
	if err != nil {
		return ServeConfig{}, err
	}

	cfg := ServeConfig{
		Common:         common,
		Addr:           v.GetString("addr"),
		RequestTimeout: v.GetDuration("request-timeout"),
		Schedule:       v.GetBool("schedule"),
		Interval:       v.GetDuration("interval"),
		StateBackend:   v.GetString("state-backend"),
		StateFile:      v.GetString("state-file"),
		MaxRetries:     v.GetInt("max-retries"),
		RetryBackoff:   v.GetDuration("retry-backoff"),
		Concurrency:    v.GetInt("concurrency"),
	}
	if cfg.StateBackend != StateBackendDB && cfg.StateBackend != StateBackendFile {
		return ServeConfig{}, fmt.Errorf("unknown state backend %q", cfg.StateBackend)
	}
	if cfg.Schedule && cfg.Interval <= 0 {
		return ServeConfig{}, fmt.Errorf("interval must be positive")
	}
	return cfg, nil
}
