// Package config loads lockerd settings from defaults, an optional YAML
// file, LOCKERD_* environment variables and command-line flags, in
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/devghori1264/aerophoenix/lockerd/internal/storage"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "LOCKERD"

type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Store     StoreConfig     `mapstructure:"store"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Hardware  HardwareConfig  `mapstructure:"hardware"`
	Auth      AuthConfig      `mapstructure:"auth"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Inventory InventoryConfig `mapstructure:"inventory"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Log       LogConfig       `mapstructure:"log"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

type CacheConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
}

type HardwareConfig struct {
	Addr    string        `mapstructure:"addr"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type AuthConfig struct {
	Tokens []string `mapstructure:"tokens"`
}

// NATSConfig leaves event publishing disabled when URL is empty.
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type InventoryConfig struct {
	Path string `mapstructure:"path"`
}

type DispatchConfig struct {
	LegacyUnroutable bool `mapstructure:"legacy_unroutable"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("store.backend", storage.BackendBadger)
	v.SetDefault("store.path", "") // per backend, see storage.DefaultPath
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.purge_interval", time.Minute)
	v.SetDefault("hardware.addr", "localhost:50051")
	v.SetDefault("hardware.timeout", 10*time.Second)
	v.SetDefault("auth.tokens", []string{})
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "lockerd.machines.events")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("inventory.path", "")
	v.SetDefault("dispatch.legacy_unroutable", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"http-addr":     "http.addr",
	"metrics-addr":  "metrics.addr",
	"store":         "store.backend",
	"db":            "store.path",
	"hardware-addr": "hardware.addr",
	"nats-url":      "nats.url",
	"inventory":     "inventory.path",
	"log-level":     "log.level",
}

// Load resolves the configuration. file may be empty. flags may be nil;
// only flags that were set on the command line override other sources.
func Load(file string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	// env lists arrive as one comma-separated string
	if len(cfg.Auth.Tokens) == 1 && strings.Contains(cfg.Auth.Tokens[0], ",") {
		cfg.Auth.Tokens = strings.Split(cfg.Auth.Tokens[0], ",")
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = storage.DefaultPath(cfg.Store.Backend)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case storage.BackendBadger, storage.BackendSQLite, storage.BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend))
	}
	if c.Store.Backend != storage.BackendMemory && c.Store.Path == "" {
		errs = append(errs, errors.New("store.path: required"))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache.ttl: must be positive"))
	}
	if c.Cache.PurgeInterval <= 0 {
		errs = append(errs, errors.New("cache.purge_interval: must be positive"))
	}
	if c.Hardware.Timeout <= 0 {
		errs = append(errs, errors.New("hardware.timeout: must be positive"))
	}
	if c.Hardware.Addr == "" {
		errs = append(errs, errors.New("hardware.addr: required"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
