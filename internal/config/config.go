// Package config loads lakesync client configuration with the
// defaults-then-YAML-then-env precedence spec §6 describes.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure. Read-only after Load
// returns and safe for concurrent reads.
type Config struct {
	Client   ClientConfig   `yaml:"client"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Sync     SyncConfig     `yaml:"sync"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Schema   []TableSchema  `yaml:"schema"`
}

// ClientConfig identifies this sync client to the gateway.
type ClientConfig struct {
	ID string `yaml:"id"`
}

// GatewayConfig addresses the remote sync gateway.
type GatewayConfig struct {
	ID      string `yaml:"id"`
	BaseURL string `yaml:"base_url"`
	WSBase  string `yaml:"ws_base"`
	Token   string `yaml:"-"` // env-only, never in YAML
}

// SyncConfig carries spec §6's "recognised options" for the sync engine,
// scheduler, and action processor.
type SyncConfig struct {
	AutoSyncInterval  Duration `yaml:"auto_sync_interval"`
	RealtimeHeartbeat Duration `yaml:"realtime_heartbeat"`
	MaxRetries        int      `yaml:"max_retries"`
	MaxActionRetries  int      `yaml:"max_action_retries"`
	Mode              string   `yaml:"sync_mode"`  // full|pushOnly|pullOnly
	Strategy          string   `yaml:"strategy"`   // pull-first|push-first
	Backend           string   `yaml:"backend"`    // memory|persistent
}

// DatabaseConfig locates the local store's SQLite file. Ignored when
// Sync.Backend is "memory".
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration wraps time.Duration with YAML string parsing ("10s", "1m").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults -> YAML file -> env
// vars. Missing YAML file is not an error.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("LAKESYNC_CONFIG_PATH", "config/lakesync.yaml")
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	finalizeDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from an explicit path, which must
// exist. Used by tests and by callers that don't want LAKESYNC_CONFIG_PATH
// indirection.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	applyEnvOverrides(cfg)
	finalizeDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newDefaults() *Config {
	return &Config{
		Sync: SyncConfig{
			AutoSyncInterval:  Duration(10 * time.Second),
			RealtimeHeartbeat: Duration(60 * time.Second),
			MaxRetries:        10,
			MaxActionRetries:  5,
			Mode:              "full",
			Strategy:          "pull-first",
			Backend:           "persistent",
		},
		Database: DatabaseConfig{
			Path: "lakesync.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// finalizeDefaults fills in values that can't be computed at
// newDefaults() time, namely a random client_id (spec §6: "default
// random") — deferred until after YAML/env are applied so an explicit
// client.id always wins over the generated one.
func finalizeDefaults(cfg *Config) {
	if cfg.Client.ID == "" {
		cfg.Client.ID = uuid.NewString()
	}
}

func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LAKESYNC_CLIENT_ID"); v != "" {
		cfg.Client.ID = v
	}

	if v := os.Getenv("LAKESYNC_GATEWAY_ID"); v != "" {
		cfg.Gateway.ID = v
	}
	if v := os.Getenv("LAKESYNC_BASE_URL"); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := os.Getenv("LAKESYNC_WS_BASE"); v != "" {
		cfg.Gateway.WSBase = v
	}
	if v := os.Getenv("LAKESYNC_TOKEN"); v != "" {
		cfg.Gateway.Token = v
	}

	if v := os.Getenv("LAKESYNC_AUTO_SYNC_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.AutoSyncInterval = Duration(time.Duration(n) * time.Millisecond)
		}
	}
	if v := os.Getenv("LAKESYNC_REALTIME_HEARTBEAT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.RealtimeHeartbeat = Duration(time.Duration(n) * time.Millisecond)
		}
	}
	if v := os.Getenv("LAKESYNC_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.MaxRetries = n
		}
	}
	if v := os.Getenv("LAKESYNC_MAX_ACTION_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.MaxActionRetries = n
		}
	}
	if v := os.Getenv("LAKESYNC_SYNC_MODE"); v != "" {
		cfg.Sync.Mode = v
	}
	if v := os.Getenv("LAKESYNC_STRATEGY"); v != "" {
		cfg.Sync.Strategy = v
	}
	if v := os.Getenv("LAKESYNC_BACKEND"); v != "" {
		cfg.Sync.Backend = v
	}

	if v := os.Getenv("LAKESYNC_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("LAKESYNC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LAKESYNC_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func (c *Config) validate() error {
	if c.Gateway.BaseURL == "" && c.Gateway.WSBase == "" {
		return errors.New("gateway.base_url or gateway.ws_base is required")
	}
	if c.Gateway.ID == "" {
		return errors.New("gateway.id is required")
	}
	switch c.Sync.Mode {
	case "full", "pushOnly", "pullOnly":
	default:
		return fmt.Errorf("sync.sync_mode %q is not one of full|pushOnly|pullOnly", c.Sync.Mode)
	}
	switch c.Sync.Strategy {
	case "pull-first", "push-first":
	default:
		return fmt.Errorf("sync.strategy %q is not one of pull-first|push-first", c.Sync.Strategy)
	}
	switch c.Sync.Backend {
	case "memory", "persistent":
	default:
		return fmt.Errorf("sync.backend %q is not one of memory|persistent", c.Sync.Backend)
	}
	if c.Sync.AutoSyncInterval < 0 {
		return errors.New("sync.auto_sync_interval must be >= 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
