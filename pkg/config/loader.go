// pkg/config/loader.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix    = "CONF_"
	pathSep      = "__"
	configEnvVar = "QJAZZ_CONFIG_PATH"
)

// Loader loads configuration from layered sources: defaults, an
// optional YAML file, then environment variables, in ascending
// precedence, matching spec section 6.
type Loader struct {
	k           *koanf.Koanf
	configPaths []string
	envPrefix   string
}

// NewLoader creates a new configuration loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		k: koanf.New("."),
		configPaths: []string{
			"qjazz.yaml",
			"config/qjazz.yaml",
			"/etc/qjazz/qjazz.yaml",
		},
		envPrefix: envPrefix,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithConfigPaths overrides the list of candidate config file paths.
func WithConfigPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.configPaths = paths
	}
}

// WithEnvPrefix overrides the environment variable prefix.
func WithEnvPrefix(prefix string) LoaderOption {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// Load loads configuration with precedence:
// 1. Defaults (lowest)
// 2. Config file (yaml)
// 3. Environment variables (highest)
func (l *Loader) Load() (*Config, error) {
	if err := l.loadDefaults(); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if err := l.loadConfigFile(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	if err := l.loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}

	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDefaults loads the built-in default values for every recognized key.
func (l *Loader) loadDefaults() error {
	defaults := map[string]any{
		"app.name":        "qjazzd",
		"app.version":     "1.0.0",
		"app.environment": "development",
		"app.debug":       false,

		"server.listen":                  "0.0.0.0:23456",
		"server.timeout":                 20 * time.Second,
		"server.shutdown_grace_period":   10 * time.Second,
		"server.max_failure_pressure":    0.8,
		"server.enable_admin_services":   true,
		"server.max_recv_msg_size":       16 * 1024 * 1024,
		"server.max_send_msg_size":       16 * 1024 * 1024,
		"server.max_concurrent_conn":     1000,
		"server.keepalive.max_connection_idle":      15 * time.Minute,
		"server.keepalive.max_connection_age":       30 * time.Minute,
		"server.keepalive.max_connection_age_grace": 5 * time.Minute,
		"server.keepalive.time":                      5 * time.Minute,
		"server.keepalive.timeout":                   20 * time.Second,
		"server.tls.enabled":                         false,

		"worker.num_processes":           4,
		"worker.process_start_timeout":   10 * time.Second,
		"worker.cancel_timeout":          3 * time.Second,
		"worker.max_waiting_requests":    50,
		"worker.max_failure_pressure":    0.8,
		"worker.restore_projects":        []string{},
		"worker.restore_projects_source": "",
		"worker.respawn_rate_limit.rate_per_minute": 6.0,
		"worker.respawn_rate_limit.burst":           3,

		"worker.engine.max_projects":                        100,
		"worker.engine.load_project_on_request":              true,
		"worker.engine.reload_outdated_project_on_request":   true,
		"worker.engine.max_chunk_size":                       1024 * 1024,
		"worker.engine.ignore_interrupt_signal":               false,

		"log.level":       "info",
		"log.format":      "json",
		"log.output":      "stdout",
		"log.max_size":    100,
		"log.max_backups": 3,
		"log.max_age":     7,
		"log.compress":    true,

		"metrics.enabled":   true,
		"metrics.port":      9090,
		"metrics.path":      "/metrics",
		"metrics.namespace": "qjazz",
		"metrics.subsystem": "",

		"tracing.enabled":      false,
		"tracing.endpoint":     "localhost:4317",
		"tracing.service_name": "qjazzd",
		"tracing.sample_rate":  0.1,

		"rate_limit.enabled":          true,
		"rate_limit.requests":         200,
		"rate_limit.window":           time.Minute,
		"rate_limit.strategy":         "token_bucket",
		"rate_limit.backend":          "memory",
		"rate_limit.burst_size":       20,
		"rate_limit.cleanup_interval": 5 * time.Minute,
	}

	return l.k.Load(confmap.Provider(defaults, "."), nil)
}

// loadConfigFile loads configuration from a YAML file, either the one
// named by QJAZZ_CONFIG_PATH or the first candidate path that exists.
func (l *Loader) loadConfigFile() error {
	if configPath := os.Getenv(configEnvVar); configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return l.k.Load(file.Provider(configPath), yaml.Parser())
		}
	}

	for _, path := range l.configPaths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			continue
		}

		if _, err := os.Stat(absPath); err == nil {
			return l.k.Load(file.Provider(absPath), yaml.Parser())
		}
	}

	return fmt.Errorf("config file not found in paths: %v", l.configPaths)
}

// loadEnv loads configuration overrides from the environment, per spec
// section 6: key path upper-cased, joined by "__", prefixed "CONF_".
// List/map values are JSON-encoded strings; scalars that parse as JSON
// numbers/bools are decoded, everything else is kept as a raw string.
func (l *Loader) loadEnv() error {
	return l.k.Load(env.ProviderWithValue(l.envPrefix, ".", func(key, value string) (string, any) {
		path := strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(key, l.envPrefix), pathSep, "."))
		return path, decodeEnvValue(value)
	}), nil)
}

// decodeEnvValue decodes a raw CONF_ environment variable's value. JSON
// arrays/objects/numbers/bools are decoded to their native koanf form;
// anything that doesn't parse as JSON is kept as the literal string, so
// a plain "0.0.0.0:23456" for server.listen still works unquoted.
func decodeEnvValue(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return raw
	}

	switch trimmed[0] {
	case '[', '{', '"':
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}

	switch trimmed {
	case "true":
		return true
	case "false":
		return false
	}

	var f float64
	if err := json.Unmarshal([]byte(trimmed), &f); err == nil {
		return f
	}

	return raw
}

// MustLoad loads configuration or panics.
func MustLoad(opts ...LoaderOption) *Config {
	cfg, err := NewLoader(opts...).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Load is a convenience function using default loader options.
func Load() (*Config, error) {
	return NewLoader().Load()
}
