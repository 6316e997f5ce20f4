package server

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/3liz/qjazz/pkg/config"
	"github.com/3liz/qjazz/pkg/interceptors"
	"github.com/3liz/qjazz/pkg/logger"
	"github.com/3liz/qjazz/pkg/metrics"
	"github.com/3liz/qjazz/pkg/ratelimit"
	"github.com/3liz/qjazz/pkg/telemetry"
)

// GRPCServer wraps a single *grpc.Server hosting the data-plane
// service and, when server.enable_admin_services is set, the
// admin-plane service alongside it (spec section 6: one listen
// address, one process, admin surface gated by a single flag — there
// is no separate admin port).
type GRPCServer struct {
	server      *grpc.Server
	health      *health.Server
	serviceName string
	config      *config.Config
	telemetry   *telemetry.Provider
	rateLimiter ratelimit.Limiter
}

// New builds a GRPCServer from cfg with no rate limiter override.
func New(cfg *config.Config) *GRPCServer {
	return NewWithOptions(cfg, nil)
}

// ServerOptions lets the caller inject a rate limiter (e.g. a fake one
// for tests) instead of letting NewWithOptions build one from cfg.
type ServerOptions struct {
	RateLimiter  ratelimit.Limiter
	KeyExtractor ratelimit.KeyExtractor
}

// NewWithOptions builds the gRPC server per cfg.Server, ready for the
// caller to register DataPlane (always) and AdminPlane (when
// cfg.Server.EnableAdminServices) service descs on GetEngine().
func NewWithOptions(cfg *config.Config, opts *ServerOptions) *GRPCServer {
	if opts == nil {
		opts = &ServerOptions{}
	}

	kaParams := keepalive.ServerParameters{
		MaxConnectionIdle:     cfg.Server.KeepAlive.MaxConnectionIdle,
		MaxConnectionAge:      cfg.Server.KeepAlive.MaxConnectionAge,
		MaxConnectionAgeGrace: cfg.Server.KeepAlive.MaxConnectionAgeGrace,
		Time:                  cfg.Server.KeepAlive.Time,
		Timeout:               cfg.Server.KeepAlive.Timeout,
	}

	kaPolicy := keepalive.EnforcementPolicy{
		MinTime:             5 * time.Second,
		PermitWithoutStream: true,
	}

	rateLimiter := opts.RateLimiter
	if rateLimiter == nil && cfg.RateLimit.Enabled {
		var err error
		rateLimiter, err = ratelimit.New(&ratelimit.Config{
			Requests:        cfg.RateLimit.Requests,
			Window:          cfg.RateLimit.Window,
			Strategy:        cfg.RateLimit.Strategy,
			Backend:         cfg.RateLimit.Backend,
			BurstSize:       cfg.RateLimit.BurstSize,
			CleanupInterval: cfg.RateLimit.CleanupInterval,
			RedisAddr:       cfg.RateLimit.RedisAddr,
		})
		if err != nil {
			logger.Log.Warn("failed to create rate limiter, continuing without it", "error", err)
			rateLimiter = nil
		} else {
			logger.Log.Info("rate limiter initialized",
				"requests", cfg.RateLimit.Requests,
				"window", cfg.RateLimit.Window,
				"strategy", cfg.RateLimit.Strategy,
			)
		}
	}

	interceptorCfg := &interceptors.ServerConfig{
		ServiceName:   cfg.App.Name,
		EnableTracing: cfg.Tracing.Enabled,
		RateLimiter:   rateLimiter,
		KeyExtractor:  opts.KeyExtractor,
	}

	serverOpts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(cfg.Server.MaxRecvMsgSize),
		grpc.MaxSendMsgSize(cfg.Server.MaxSendMsgSize),
		grpc.MaxConcurrentStreams(uint32(cfg.Server.MaxConcurrentConn)),
		grpc.KeepaliveParams(kaParams),
		grpc.KeepaliveEnforcementPolicy(kaPolicy),
		grpc.UnaryInterceptor(interceptors.UnaryServerInterceptors(interceptorCfg)),
		grpc.StreamInterceptor(interceptors.StreamServerInterceptors(interceptorCfg)),
	}

	if cfg.Server.TLS.Enabled {
		logger.Log.Warn("TLS is enabled in config but not implemented yet")
	}

	s := grpc.NewServer(serverOpts...)
	grpc_prometheus.Register(s)

	h := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, h)

	if cfg.IsDevelopment() {
		reflection.Register(s)
		logger.Log.Debug("gRPC reflection enabled")
	}

	return &GRPCServer{
		server:      s,
		health:      h,
		serviceName: cfg.App.Name,
		config:      cfg,
		rateLimiter: rateLimiter,
	}
}

// GetEngine returns the underlying *grpc.Server for service registration.
func (s *GRPCServer) GetEngine() *grpc.Server {
	return s.server
}

// listenAddr splits a spec 4.1 "host:port or unix:/path" listen
// string into the net.Listen network/address pair.
func listenAddr(listen string) (network, address string) {
	if rest, ok := strings.CutPrefix(listen, "unix:"); ok {
		return "unix", rest
	}
	return "tcp", listen
}

// Run starts the server and blocks until a shutdown signal or serve error.
func (s *GRPCServer) Run() error {
	ctx := context.Background()

	if s.config.Tracing.Enabled {
		tp, err := telemetry.Init(ctx, telemetry.Config{
			Enabled:     s.config.Tracing.Enabled,
			Endpoint:    s.config.Tracing.Endpoint,
			ServiceName: s.config.Tracing.ServiceName,
			Version:     s.config.App.Version,
			Environment: s.config.App.Environment,
			SampleRate:  s.config.Tracing.SampleRate,
		})
		if err != nil {
			logger.Log.Warn("failed to init telemetry", "error", err)
		} else {
			s.telemetry = tp
			logger.Log.Info("telemetry initialized",
				"endpoint", s.config.Tracing.Endpoint,
				"sample_rate", s.config.Tracing.SampleRate,
			)
		}
	}

	if s.config.Metrics.Enabled {
		go func() {
			logger.Log.Info("starting metrics server",
				"port", s.config.Metrics.Port,
				"path", s.config.Metrics.Path,
			)
			if err := metrics.StartMetricsServer(s.config.Metrics.Port); err != nil {
				logger.Log.Error("metrics server failed", "error", err)
			}
		}()
	}

	network, address := listenAddr(s.config.Server.Listen)
	lc := net.ListenConfig{}
	lis, err := lc.Listen(ctx, network, address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s %s: %w", network, address, err)
	}

	s.health.SetServingStatus(s.serviceName, grpc_health_v1.HealthCheckResponse_SERVING)

	errCh := make(chan error, 1)

	go func() {
		logger.Log.Info("starting gRPC server",
			"service", s.serviceName,
			"listen", s.config.Server.Listen,
			"admin_services", s.config.Server.EnableAdminServices,
			"environment", s.config.App.Environment,
			"version", s.config.App.Version,
		)
		if err := s.server.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	if m := metrics.Get(); m != nil {
		m.SetServiceInfo(s.config.App.Version, s.config.App.Environment)
	}

	return s.waitForShutdown(errCh)
}

func (s *GRPCServer) waitForShutdown(errCh chan error) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Log.Info("received shutdown signal", "signal", sig)
	}

	grace := s.config.Server.ShutdownGracePeriod
	if grace <= 0 {
		grace = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	s.health.SetServingStatus(s.serviceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			logger.Log.Warn("failed to shutdown telemetry", "error", err)
		}
	}

	if s.rateLimiter != nil {
		if err := s.rateLimiter.Close(); err != nil {
			logger.Log.Warn("failed to close rate limiter", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		logger.Log.Info("server stopped gracefully")
	case <-ctx.Done():
		logger.Log.Warn("forcing server stop")
		s.server.Stop()
	}

	return nil
}

// SetServingStatus sets the gRPC health status reported for this
// service, driven by internal/supervisor.Healthy() at a steady cadence
// (spec 4.6: SERVING iff the pool has a live child and acceptable
// failure pressure).
func (s *GRPCServer) SetServingStatus(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus(s.serviceName, status)
}

// Stop stops the server immediately.
func (s *GRPCServer) Stop() {
	s.server.Stop()
}

// GracefulStop stops the server, waiting for in-flight RPCs to finish.
func (s *GRPCServer) GracefulStop() {
	s.server.GracefulStop()
}
