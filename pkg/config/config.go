// pkg/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the top-level configuration for qjazzd, per spec section 6:
// two recognized top-level sections, `server` and `worker`, plus the
// ambient log/metrics/tracing/rate-limit sections carried from the
// teacher stack.
type Config struct {
	App       AppConfig       `koanf:"app"`
	Server    ServerConfig    `koanf:"server"`
	Worker    WorkerConfig    `koanf:"worker"`
	Log       LogConfig       `koanf:"log"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Tracing   TracingConfig   `koanf:"tracing"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
}

// AppConfig carries ambient process identity, unrelated to dispatch semantics.
type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"` // development, staging, production
	Debug       bool   `koanf:"debug"`
}

// ServerConfig is the `server.*` section of spec section 6.
type ServerConfig struct {
	Listen              string          `koanf:"listen"` // host:port or unix:/path
	Timeout             time.Duration   `koanf:"timeout"`
	ShutdownGracePeriod time.Duration   `koanf:"shutdown_grace_period"`
	MaxFailurePressure  float64         `koanf:"max_failure_pressure"`
	EnableAdminServices bool            `koanf:"enable_admin_services"`
	MaxRecvMsgSize      int             `koanf:"max_recv_msg_size"`
	MaxSendMsgSize      int             `koanf:"max_send_msg_size"`
	MaxConcurrentConn   int             `koanf:"max_concurrent_conn"`
	KeepAlive           KeepAliveConfig `koanf:"keepalive"`
	TLS                 TLSConfig       `koanf:"tls"`
}

// KeepAliveConfig mirrors the teacher's gRPC keepalive knobs.
type KeepAliveConfig struct {
	MaxConnectionIdle     time.Duration `koanf:"max_connection_idle"`
	MaxConnectionAge      time.Duration `koanf:"max_connection_age"`
	MaxConnectionAgeGrace time.Duration `koanf:"max_connection_age_grace"`
	Time                  time.Duration `koanf:"time"`
	Timeout               time.Duration `koanf:"timeout"`
}

// TLSConfig mirrors the teacher's TLS knobs, unused unless server.tls.enabled.
type TLSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
	CAFile   string `koanf:"ca_file"`
}

// WorkerConfig is the `worker.*` section of spec section 6.
type WorkerConfig struct {
	NumProcesses          int                    `koanf:"num_processes"`
	ProcessStartTimeout   time.Duration          `koanf:"process_start_timeout"`
	CancelTimeout         time.Duration          `koanf:"cancel_timeout"`
	MaxWaitingRequests    int                    `koanf:"max_waiting_requests"`
	MaxFailurePressure    float64                `koanf:"max_failure_pressure"`
	RestoreProjects       []string               `koanf:"restore_projects"`
	RestoreProjectsSource string                 `koanf:"restore_projects_source"` // file path, "cmd:..." or a go-getter URL
	RespawnRateLimit      RespawnRateLimitConfig `koanf:"respawn_rate_limit"`
	Engine                EngineConfig           `koanf:"engine"`
}

// RespawnRateLimitConfig bounds the rate of replacement-child spawns (spec 4.4 "rate-limited to avoid thrash").
type RespawnRateLimitConfig struct {
	RatePerMinute float64 `koanf:"rate_per_minute"`
	Burst         int     `koanf:"burst"`
}

// EngineConfig is the per-child engine sub-block of spec section 6.
type EngineConfig struct {
	MaxProjects                    int          `koanf:"max_projects"`
	LoadProjectOnRequest           bool         `koanf:"load_project_on_request"`
	ReloadOutdatedProjectOnRequest bool         `koanf:"reload_outdated_project_on_request"`
	MaxChunkSize                   int          `koanf:"max_chunk_size"`
	IgnoreInterruptSignal          bool         `koanf:"ignore_interrupt_signal"`
	SearchPaths                    []SearchPath `koanf:"search_paths"`
}

// SearchPath is one row of the search-path table (spec 4.3): incoming
// paths matching Match (a `{var}`-templated prefix) are rewritten into
// a handler-specific URI via Target, substituting the captured `{var}`s.
type SearchPath struct {
	Match   string            `koanf:"match"`
	Handler string            `koanf:"handler"` // "local" or a registered URL-scheme handler name
	Target  string            `koanf:"target"`
	Options map[string]string `koanf:"options"`
}

// LogConfig carries the teacher's logging knobs, unchanged in shape.
type LogConfig struct {
	Level      string `koanf:"level"` // debug, info, warn, error
	Format     string `koanf:"format"`
	Output     string `koanf:"output"` // stdout, stderr, file
	FilePath   string `koanf:"file_path"`
	MaxSize    int    `koanf:"max_size"` // MB
	MaxBackups int    `koanf:"max_backups"`
	MaxAge     int    `koanf:"max_age"` // days
	Compress   bool   `koanf:"compress"`
}

// MetricsConfig carries the teacher's Prometheus knobs, unchanged in shape.
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Port      int    `koanf:"port"`
	Path      string `koanf:"path"`
	Namespace string `koanf:"namespace"`
	Subsystem string `koanf:"subsystem"`
}

// TracingConfig carries the teacher's OpenTelemetry knobs, unchanged in shape.
type TracingConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// RateLimitConfig guards every RPC on the gRPC server, data plane and
// admin plane alike; backend may be "memory" or "redis" for
// multi-instance qjazzctl/CI use.
type RateLimitConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Requests        int           `koanf:"requests"`
	Window          time.Duration `koanf:"window"`
	Strategy        string        `koanf:"strategy"`
	Backend         string        `koanf:"backend"`
	BurstSize       int           `koanf:"burst_size"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
	RedisAddr       string        `koanf:"redis_addr"`
}

// Validate checks the merged configuration, returning a combined error
// describing every violation found. Called on startup (exit code 2 on
// failure per spec section 6) and by the `validate-config` subcommand.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Listen == "" {
		errs = append(errs, "server.listen is required")
	}

	if c.Server.MaxFailurePressure <= 0 || c.Server.MaxFailurePressure > 1 {
		errs = append(errs, fmt.Sprintf("server.max_failure_pressure must be in (0,1], got %v", c.Server.MaxFailurePressure))
	}

	if c.Worker.NumProcesses <= 0 {
		errs = append(errs, fmt.Sprintf("worker.num_processes must be > 0, got %d", c.Worker.NumProcesses))
	}

	if c.Worker.MaxWaitingRequests <= 0 {
		errs = append(errs, fmt.Sprintf("worker.max_waiting_requests must be > 0, got %d", c.Worker.MaxWaitingRequests))
	}

	if c.Worker.MaxFailurePressure <= 0 || c.Worker.MaxFailurePressure > 1 {
		errs = append(errs, fmt.Sprintf("worker.max_failure_pressure must be in (0,1], got %v", c.Worker.MaxFailurePressure))
	}

	if c.Worker.Engine.MaxProjects <= 0 {
		errs = append(errs, fmt.Sprintf("worker.engine.max_projects must be > 0, got %d", c.Worker.Engine.MaxProjects))
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log.level must be one of: debug, info, warn, error, got %s", c.Log.Level))
	}

	for i, sp := range c.Worker.Engine.SearchPaths {
		if sp.Match == "" {
			errs = append(errs, fmt.Sprintf("worker.engine.search_paths[%d].match is required", i))
		}
		if sp.Handler == "" {
			errs = append(errs, fmt.Sprintf("worker.engine.search_paths[%d].handler is required", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}

// IsDevelopment reports whether the app is configured for a development environment.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development" || c.App.Environment == "dev"
}

// IsProduction reports whether the app is configured for a production environment.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production" || c.App.Environment == "prod"
}
