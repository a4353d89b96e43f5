// Package config loads mapview configuration from defaults, .mapview.yaml
// and MAPVIEW_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Config represents the complete mapview configuration.
type Config struct {
	Version int           `yaml:"version" json:"version"`
	Store   StoreConfig   `yaml:"store" json:"store"`
	Indexer IndexerConfig `yaml:"indexer" json:"indexer"`
	Server  ServerConfig  `yaml:"server" json:"server"`
	Views   []ViewConfig  `yaml:"views" json:"views"`
}

// StoreConfig selects and tunes the ordered store.
type StoreConfig struct {
	// Backend is one of badger, sqlite, memory.
	Backend string `yaml:"backend" json:"backend"`
	// Path is the data directory. Relative paths resolve against the config dir.
	Path string `yaml:"path" json:"path"`
	// SyncWrites fsyncs every badger write.
	SyncWrites bool `yaml:"sync_writes" json:"sync_writes"`
	// GCInterval is how often badger value log GC runs ("0" disables).
	GCInterval string `yaml:"gc_interval" json:"gc_interval"`
}

// IndexerConfig tunes synchronization timing.
type IndexerConfig struct {
	// ReadTimeout bounds archive metadata, history and file reads.
	ReadTimeout string `yaml:"read_timeout" json:"read_timeout"`
	// RetryInterval is the fixed delay between attempts on an unreachable archive.
	RetryInterval string `yaml:"retry_interval" json:"retry_interval"`
	// Debounce coalesces bursts of change events.
	Debounce string `yaml:"debounce" json:"debounce"`
}

// ServerConfig configures the MCP server and metrics endpoint.
type ServerConfig struct {
	LogLevel    string `yaml:"log_level" json:"log_level"`
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
}

// ViewConfig declares a view whose map and reduce are CEL expressions.
type ViewConfig struct {
	Name   string    `yaml:"name" json:"name"`
	Paths  []string  `yaml:"paths" json:"paths"`
	Map    MapConfig `yaml:"map" json:"map"`
	Reduce string    `yaml:"reduce,omitempty" json:"reduce,omitempty"`
	// ReduceExpr is a CEL expression over acc, value and key. It wins over Reduce.
	ReduceExpr string `yaml:"reduce_expr,omitempty" json:"reduce_expr,omitempty"`
}

// MapConfig holds the CEL expressions of a declarative map function.
// Expressions see doc (parsed JSON or null), content (string) and meta.
type MapConfig struct {
	// Filter skips the file unless it evaluates to true.
	Filter string `yaml:"filter,omitempty" json:"filter,omitempty"`
	// Each evaluates to a list; Key and Value then run once per element bound to item.
	Each  string `yaml:"each,omitempty" json:"each,omitempty"`
	Key   string `yaml:"key" json:"key"`
	Value string `yaml:"value,omitempty" json:"value,omitempty"`
}

// NewConfig returns a Config with default values.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Store: StoreConfig{
			Backend:    BackendBadger,
			Path:       filepath.Join(".mapview", "data"),
			GCInterval: "5m",
		},
		Indexer: IndexerConfig{
			ReadTimeout:   "30s",
			RetryInterval: "30s",
			Debounce:      "500ms",
		},
		Server: ServerConfig{
			LogLevel: "info",
		},
	}
}

// Load builds configuration for dir.
// Precedence (lowest to highest):
//  1. Hardcoded defaults
//  2. Config file (explicit path, else .mapview.yaml or .mapview.yml in dir)
//  3. Environment variables (MAPVIEW_*)
func Load(dir, explicit string) (*Config, error) {
	cfg := NewConfig()

	path := explicit
	if path == "" {
		path = findConfigFile(dir)
	}
	if path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
		if !filepath.IsAbs(cfg.Store.Path) {
			cfg.Store.Path = filepath.Join(filepath.Dir(path), cfg.Store.Path)
		}
	} else if !filepath.IsAbs(cfg.Store.Path) {
		cfg.Store.Path = filepath.Join(dir, cfg.Store.Path)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func findConfigFile(dir string) string {
	for _, name := range []string{".mapview.yaml", ".mapview.yml"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Store.Backend != "" {
		c.Store.Backend = other.Store.Backend
	}
	if other.Store.Path != "" {
		c.Store.Path = other.Store.Path
	}
	if other.Store.SyncWrites {
		c.Store.SyncWrites = true
	}
	if other.Store.GCInterval != "" {
		c.Store.GCInterval = other.Store.GCInterval
	}

	if other.Indexer.ReadTimeout != "" {
		c.Indexer.ReadTimeout = other.Indexer.ReadTimeout
	}
	if other.Indexer.RetryInterval != "" {
		c.Indexer.RetryInterval = other.Indexer.RetryInterval
	}
	if other.Indexer.Debounce != "" {
		c.Indexer.Debounce = other.Indexer.Debounce
	}

	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
	if other.Server.MetricsAddr != "" {
		c.Server.MetricsAddr = other.Server.MetricsAddr
	}

	if len(other.Views) > 0 {
		c.Views = append([]ViewConfig(nil), other.Views...)
	}
}

// applyEnvOverrides applies MAPVIEW_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MAPVIEW_STORE_BACKEND"); v != "" {
		c.Store.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("MAPVIEW_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("MAPVIEW_SYNC_WRITES"); v != "" {
		c.Store.SyncWrites = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("MAPVIEW_READ_TIMEOUT"); v != "" {
		c.Indexer.ReadTimeout = v
	}
	if v := os.Getenv("MAPVIEW_RETRY_INTERVAL"); v != "" {
		c.Indexer.RetryInterval = v
	}
	if v := os.Getenv("MAPVIEW_DEBOUNCE"); v != "" {
		c.Indexer.Debounce = v
	}
	if v := os.Getenv("MAPVIEW_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("MAPVIEW_METRICS_ADDR"); v != "" {
		c.Server.MetricsAddr = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendBadger, BackendSQLite, BackendMemory:
	default:
		return fmt.Errorf("store.backend must be 'badger', 'sqlite' or 'memory', got %q", c.Store.Backend)
	}
	if c.Store.Backend != BackendMemory && c.Store.Path == "" {
		return fmt.Errorf("store.path is required for backend %s", c.Store.Backend)
	}

	if d, err := parseDuration(c.Store.GCInterval); err != nil || d < 0 {
		return fmt.Errorf("store.gc_interval must be a non-negative duration, got %q", c.Store.GCInterval)
	}
	for name, raw := range map[string]string{
		"indexer.read_timeout":   c.Indexer.ReadTimeout,
		"indexer.retry_interval": c.Indexer.RetryInterval,
		"indexer.debounce":       c.Indexer.Debounce,
	} {
		if d, err := parseDuration(raw); err != nil || d <= 0 {
			return fmt.Errorf("%s must be a positive duration, got %q", name, raw)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	seen := make(map[string]bool, len(c.Views))
	for i, v := range c.Views {
		if v.Name == "" {
			return fmt.Errorf("views[%d].name is required", i)
		}
		if seen[v.Name] {
			return fmt.Errorf("views[%d].name %q is defined twice", i, v.Name)
		}
		seen[v.Name] = true
		if len(v.Paths) == 0 {
			return fmt.Errorf("view %q needs at least one path", v.Name)
		}
		if v.Map.Key == "" {
			return fmt.Errorf("view %q needs map.key", v.Name)
		}
	}

	return nil
}

// ReadTimeout returns the parsed indexer read timeout.
func (c *Config) ReadTimeout() time.Duration { return mustDuration(c.Indexer.ReadTimeout) }

// RetryInterval returns the parsed retry interval.
func (c *Config) RetryInterval() time.Duration { return mustDuration(c.Indexer.RetryInterval) }

// Debounce returns the parsed watch debounce window.
func (c *Config) Debounce() time.Duration { return mustDuration(c.Indexer.Debounce) }

// GCInterval returns the parsed badger GC interval.
func (c *Config) GCInterval() time.Duration { return mustDuration(c.Store.GCInterval) }

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// parseDuration accepts Go durations and a bare "0".
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// mustDuration is for values already checked by Validate.
func mustDuration(s string) time.Duration {
	d, _ := parseDuration(s)
	return d
}
