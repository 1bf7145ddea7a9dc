package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// StoreConfig selects the mirror database.
type StoreConfig struct {
	Driver     string
	SQLitePath string
	PGDSN      string
}

// SourcesConfig configures the snapshot adapters. Zero values fall back to
// each adapter's own defaults.
type SourcesConfig struct {
	Enabled []string
	Timeout time.Duration

	TappAPIURL      string
	TappNodeURL     string
	TappViewAddress string
	TappPageSize    int
	TappMaxPages    int
	TappRPS         float64

	HyperionURL string
	HyperionRPS float64

	EVMRPC   string
	EVMDex   string
	EVMPools []string
	EVMRPS   float64

	FileDir string
	FileDex string
}

// LockConfig enables the Redis scope lock when RedisAddr is set.
type LockConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	RedisTTL      time.Duration
}

// EventsConfig enables the Kafka publisher when brokers are set.
type EventsConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
}

// Common holds settings shared by every command.
type Common struct {
	Store       StoreConfig
	Sources     SourcesConfig
	Lock        LockConfig
	Events      EventsConfig
	ArchivePath string
	LogLevel    string
	LogFile     string
}

func setCommonDefaults(v *viper.Viper) {
	v.SetDefault("store", DriverSQLite)
	v.SetDefault("sqlite-path", "./data/mirror.db")
	v.SetDefault("sources", "tapp")
	v.SetDefault("source-timeout", 20*time.Second)
	v.SetDefault("tapp-rps", 5.0)
	v.SetDefault("hyperion-rps", 5.0)
	v.SetDefault("evm-rps", 10.0)
	v.SetDefault("file-dir", "./data/seed")
	v.SetDefault("redis-prefix", "poolmirror:lock:")
	v.SetDefault("redis-ttl", 30*time.Second)
	v.SetDefault("kafka-topic", "poolmirror.reconcile")
	v.SetDefault("log-level", "info")
}

// newViper merges .env, config file, environment variables, and flags.
func newViper(cfgFile string, flags *pflag.FlagSet) (*viper.Viper, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("MIRROR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	setCommonDefaults(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func loadCommon(v *viper.Viper) (Common, error) {
	cfg := Common{
		Store: StoreConfig{
			Driver:     strings.ToLower(v.GetString("store")),
			SQLitePath: v.GetString("sqlite-path"),
			PGDSN:      v.GetString("pg-dsn"),
		},
		Sources: SourcesConfig{
			Enabled:         getStringSlice(v, "sources"),
			Timeout:         v.GetDuration("source-timeout"),
			TappAPIURL:      v.GetString("tapp-api-url"),
			TappNodeURL:     v.GetString("tapp-node-url"),
			TappViewAddress: v.GetString("tapp-view-address"),
			TappPageSize:    v.GetInt("tapp-page-size"),
			TappMaxPages:    v.GetInt("tapp-max-pages"),
			TappRPS:         v.GetFloat64("tapp-rps"),
			HyperionURL:     v.GetString("hyperion-url"),
			HyperionRPS:     v.GetFloat64("hyperion-rps"),
			EVMRPC:          v.GetString("evm-rpc"),
			EVMDex:          v.GetString("evm-dex"),
			EVMPools:        getStringSlice(v, "evm-pools"),
			EVMRPS:          v.GetFloat64("evm-rps"),
			FileDir:         v.GetString("file-dir"),
			FileDex:         v.GetString("file-dex"),
		},
		Lock: LockConfig{
			RedisAddr:     v.GetString("redis-addr"),
			RedisPassword: v.GetString("redis-password"),
			RedisDB:       v.GetInt("redis-db"),
			RedisPrefix:   v.GetString("redis-prefix"),
			RedisTTL:      v.GetDuration("redis-ttl"),
		},
		Events: EventsConfig{
			KafkaBrokers: getStringSlice(v, "kafka-brokers"),
			KafkaTopic:   v.GetString("kafka-topic"),
		},
		ArchivePath: v.GetString("archive"),
		LogLevel:    v.GetString("log-level"),
		LogFile:     v.GetString("log-file"),
	}
	if err := cfg.Store.validate(); err != nil {
		return Common{}, err
	}
	return cfg, nil
}

func (s StoreConfig) validate() error {
	switch s.Driver {
	case DriverSQLite:
		if s.SQLitePath == "" {
			return fmt.Errorf("sqlite-path is required for the sqlite store")
		}
	case DriverPostgres:
		if s.PGDSN == "" {
			return fmt.Errorf("pg-dsn is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store driver %q", s.Driver)
	}
	return nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
