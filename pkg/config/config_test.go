package config

import (
	"testing"
	"time"
)

func validBaseConfig() Config {
	return Config{
		App:    AppConfig{Name: "qjazzd"},
		Server: ServerConfig{Listen: "0.0.0.0:23456", MaxFailurePressure: 0.8},
		Worker: WorkerConfig{
			NumProcesses:       4,
			MaxWaitingRequests: 50,
			MaxFailurePressure: 0.8,
			Engine:             EngineConfig{MaxProjects: 100},
		},
		Log: LogConfig{Level: "info"},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing listen address",
			mutate:  func(c *Config) { c.Server.Listen = "" },
			wantErr: true,
		},
		{
			name:    "invalid server failure pressure",
			mutate:  func(c *Config) { c.Server.MaxFailurePressure = 0 },
			wantErr: true,
		},
		{
			name:    "invalid server failure pressure above one",
			mutate:  func(c *Config) { c.Server.MaxFailurePressure = 1.5 },
			wantErr: true,
		},
		{
			name:    "zero num_processes",
			mutate:  func(c *Config) { c.Worker.NumProcesses = 0 },
			wantErr: true,
		},
		{
			name:    "zero max_waiting_requests",
			mutate:  func(c *Config) { c.Worker.MaxWaitingRequests = 0 },
			wantErr: true,
		},
		{
			name:    "invalid worker failure pressure",
			mutate:  func(c *Config) { c.Worker.MaxFailurePressure = 0 },
			wantErr: true,
		},
		{
			name:    "zero max_projects",
			mutate:  func(c *Config) { c.Worker.Engine.MaxProjects = 0 },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Log.Level = "invalid" },
			wantErr: true,
		},
		{
			name:    "valid debug level",
			mutate:  func(c *Config) { c.Log.Level = "debug" },
			wantErr: false,
		},
		{
			name: "search path missing match",
			mutate: func(c *Config) {
				c.Worker.Engine.SearchPaths = []SearchPath{{Handler: "local"}}
			},
			wantErr: true,
		},
		{
			name: "search path missing handler",
			mutate: func(c *Config) {
				c.Worker.Engine.SearchPaths = []SearchPath{{Match: "/prod/{name}"}}
			},
			wantErr: true,
		},
		{
			name: "valid search path",
			mutate: func(c *Config) {
				c.Worker.Engine.SearchPaths = []SearchPath{{Match: "/prod/{name}", Handler: "local", Target: "/data/{name}.qgs"}}
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validBaseConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	tests := []struct {
		env  string
		want bool
	}{
		{"development", true},
		{"dev", true},
		{"production", false},
		{"staging", false},
	}

	for _, tt := range tests {
		cfg := &Config{App: AppConfig{Environment: tt.env}}
		if got := cfg.IsDevelopment(); got != tt.want {
			t.Errorf("IsDevelopment() for %s = %v, want %v", tt.env, got, tt.want)
		}
	}
}

func TestConfig_IsProduction(t *testing.T) {
	tests := []struct {
		env  string
		want bool
	}{
		{"production", true},
		{"prod", true},
		{"development", false},
		{"staging", false},
	}

	for _, tt := range tests {
		cfg := &Config{App: AppConfig{Environment: tt.env}}
		if got := cfg.IsProduction(); got != tt.want {
			t.Errorf("IsProduction() for %s = %v, want %v", tt.env, got, tt.want)
		}
	}
}

func TestKeepAliveConfig(t *testing.T) {
	cfg := KeepAliveConfig{
		MaxConnectionIdle:     15 * time.Minute,
		MaxConnectionAge:      30 * time.Minute,
		MaxConnectionAgeGrace: 5 * time.Minute,
		Time:                  5 * time.Minute,
		Timeout:               20 * time.Second,
	}

	if cfg.MaxConnectionIdle != 15*time.Minute {
		t.Errorf("unexpected MaxConnectionIdle: %v", cfg.MaxConnectionIdle)
	}
}

func TestRespawnRateLimitConfig(t *testing.T) {
	cfg := RespawnRateLimitConfig{RatePerMinute: 6, Burst: 3}
	if cfg.RatePerMinute != 6 {
		t.Errorf("unexpected RatePerMinute: %v", cfg.RatePerMinute)
	}
	if cfg.Burst != 3 {
		t.Errorf("unexpected Burst: %v", cfg.Burst)
	}
}

func TestSearchPath(t *testing.T) {
	sp := SearchPath{
		Match:   "/prod/{name}",
		Handler: "local",
		Target:  "/data/projects/{name}.qgs",
		Options: map[string]string{"readonly": "true"},
	}

	if sp.Handler != "local" {
		t.Errorf("expected handler local, got %s", sp.Handler)
	}
	if sp.Options["readonly"] != "true" {
		t.Errorf("expected readonly option, got %v", sp.Options)
	}
}
