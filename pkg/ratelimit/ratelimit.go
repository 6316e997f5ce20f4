package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// sentinel errors
var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrLimiterClosed     = errors.New("limiter is closed")
)

// Limiter is a request rate limiter.
type Limiter interface {
	// Allow reports whether a request is permitted.
	Allow(ctx context.Context, key string) (bool, error)

	// AllowN reports whether n requests are permitted.
	AllowN(ctx context.Context, key string, n int) (bool, error)

	// Wait blocks until permission is granted.
	Wait(ctx context.Context, key string) error

	// Reset clears the limit state for a key.
	Reset(ctx context.Context, key string) error

	// GetInfo returns the current limit state.
	GetInfo(ctx context.Context, key string) (*LimitInfo, error)

	// Close releases the limiter's resources.
	Close() error
}

// LimitInfo describes the current limit state.
type LimitInfo struct {
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	ResetAt    time.Time     `json:"reset_at"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Config is the rate limiter configuration.
type Config struct {
	// Requests is the request count allowed per window.
	Requests int `koanf:"requests"`

	// Window is the time window requests are counted over.
	Window time.Duration `koanf:"window"`

	// Strategy selects the algorithm (sliding_window, token_bucket); any
	// other value, fixed_window included, selects sliding_window.
	Strategy string `koanf:"strategy"`

	// KeyFunc names a key extractor (ip, user, method). New does not read
	// it; the rate-limit interceptors use the KeyExtractor they are given,
	// or DefaultKeyExtractor when none is given.
	KeyFunc string `koanf:"key_func"`

	// Backend selects the storage backend (memory, redis).
	Backend string `koanf:"backend"`

	// BurstSize is the token bucket burst size.
	BurstSize int `koanf:"burst_size"`

	// CleanupInterval is the sweep interval for the in-memory backend.
	CleanupInterval time.Duration `koanf:"cleanup_interval"`

	// Redis connection settings.
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Requests:        100,
		Window:          time.Minute,
		Strategy:        "sliding_window",
		KeyFunc:         "ip",
		Backend:         "memory",
		BurstSize:       10,
		CleanupInterval: 5 * time.Minute,
	}
}

// New builds a Limiter from the given configuration.
func New(cfg *Config) (Limiter, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	switch cfg.Backend {
	case "redis":
		return NewRedisLimiter(cfg)
	case "memory", "":
		return NewMemoryLimiter(cfg), nil
	default:
		return NewMemoryLimiter(cfg), nil
	}
}

// KeyExtractor extracts a rate-limit key from a request.
type KeyExtractor func(ctx context.Context, method string, metadata map[string]string) string

// DefaultKeyExtractor extracts a key by client IP.
func DefaultKeyExtractor(_ context.Context, _ string, metadata map[string]string) string {
	if ip, ok := metadata["x-forwarded-for"]; ok && ip != "" {
		return ip
	}
	if ip, ok := metadata["x-real-ip"]; ok && ip != "" {
		return ip
	}
	if peer, ok := metadata[":authority"]; ok {
		return peer
	}
	return "unknown"
}

// MethodKeyExtractor extracts a key by RPC method.
func MethodKeyExtractor(_ context.Context, method string, _ map[string]string) string {
	return method
}

// UserKeyExtractor extracts a key by user ID.
func UserKeyExtractor(ctx context.Context, method string, metadata map[string]string) string {
	if userID, ok := metadata["x-user-id"]; ok && userID != "" {
		return userID
	}
	return DefaultKeyExtractor(ctx, method, metadata)
}

// CompositeKeyExtractor combines several key extractors.
func CompositeKeyExtractor(extractors ...KeyExtractor) KeyExtractor {
	return func(ctx context.Context, method string, metadata map[string]string) string {
		var key string
		for _, ext := range extractors {
			key += ext(ctx, method, metadata) + ":"
		}
		return key
	}
}

// RateLimitedMethods holds per-method rate limit configuration.
type RateLimitedMethods struct {
	mu            sync.RWMutex
	methods       map[string]*Config
	defaultConfig *Config
}

// NewRateLimitedMethods builds a per-method configuration set.
func NewRateLimitedMethods(defaultCfg *Config) *RateLimitedMethods {
	if defaultCfg == nil {
		defaultCfg = DefaultConfig()
	}
	return &RateLimitedMethods{
		methods:       make(map[string]*Config),
		defaultConfig: defaultCfg,
	}
}

// Set assigns a limit configuration to a method.
func (r *RateLimitedMethods) Set(method string, cfg *Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods[method] = cfg
}

// Get returns the configuration for a method.
func (r *RateLimitedMethods) Get(method string) *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cfg, ok := r.methods[method]; ok {
		return cfg
	}
	return r.defaultConfig
}
