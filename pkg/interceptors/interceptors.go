package interceptors

import (
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"

	"github.com/3liz/qjazz/pkg/ratelimit"
	"github.com/3liz/qjazz/pkg/telemetry"
)

// ServerConfig configures the gRPC interceptor chain of the daemon's
// single gRPC server, which hosts the data plane and, when enabled, the
// admin plane. When RateLimiter is set, it applies to every RPC on that
// server, data-plane and admin-plane alike.
type ServerConfig struct {
	ServiceName   string
	EnableTracing bool
	RateLimiter   ratelimit.Limiter
	KeyExtractor  ratelimit.KeyExtractor
}

// UnaryServerInterceptors returns the chained unary interceptor.
func UnaryServerInterceptors(cfg *ServerConfig) grpc.UnaryServerInterceptor {
	chain := []grpc.UnaryServerInterceptor{
		RecoveryInterceptor(),
		grpc_prometheus.UnaryServerInterceptor,
	}

	if cfg.RateLimiter != nil {
		chain = append(chain, RateLimitInterceptor(cfg.RateLimiter, cfg.KeyExtractor))
	}
	if cfg.EnableTracing {
		chain = append(chain, telemetry.UnaryServerInterceptor())
	}
	chain = append(chain,
		MetricsInterceptor(cfg.ServiceName),
		LoggingInterceptor(),
		ValidationInterceptor(),
	)

	return chainUnaryInterceptors(chain...)
}

// StreamServerInterceptors returns the chained stream interceptor.
func StreamServerInterceptors(cfg *ServerConfig) grpc.StreamServerInterceptor {
	chain := []grpc.StreamServerInterceptor{
		StreamRecoveryInterceptor(),
		grpc_prometheus.StreamServerInterceptor,
	}

	if cfg.RateLimiter != nil {
		chain = append(chain, StreamRateLimitInterceptor(cfg.RateLimiter, cfg.KeyExtractor))
	}
	if cfg.EnableTracing {
		chain = append(chain, telemetry.StreamServerInterceptor())
	}
	chain = append(chain,
		StreamMetricsInterceptor(cfg.ServiceName),
		StreamLoggingInterceptor(),
	)

	return chainStreamInterceptors(chain...)
}
