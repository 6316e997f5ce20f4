// Package supervisor owns process lifecycle (spec component C7):
// parallel child startup under a deadline, health derived from
// dispatcher state, graceful drain-then-kill shutdown, and rolling
// child replacement on SIGUSR1. It plays the role the teacher's
// service `main.go` files play inline (signal.Notify + a blocking
// Run loop), lifted into its own package since this daemon's startup
// additionally has to race N subprocess spawns under one deadline.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/3liz/qjazz/internal/child"
	"github.com/3liz/qjazz/internal/dispatcher"
	"github.com/3liz/qjazz/pkg/config"
)

// Exit codes, per spec section 6.
const (
	ExitOK              = 0
	ExitConfigInvalid   = 2
	ExitFailurePressure = 3
	ExitStartupTimeout  = 4
)

// ChildFactory constructs and starts the child.Host for process id.
// It is the one piece of subprocess wiring the supervisor does not
// own directly, so tests can substitute a fake without spawning a
// real engine binary.
type ChildFactory func(ctx context.Context, id int) (*child.Host, error)

// Supervisor drives one Pool through its full lifecycle.
type Supervisor struct {
	cfg     *config.Config
	pool    *dispatcher.Pool
	factory ChildFactory
	logger  *slog.Logger

	mu       sync.Mutex
	replacing bool
}

// New constructs a Supervisor. The Pool is expected to already be
// built (via dispatcher.New) with factory as its SpawnFunc.
func New(cfg *config.Config, pool *dispatcher.Pool, factory ChildFactory, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{cfg: cfg, pool: pool, factory: factory, logger: logger}
}

// Startup spawns worker.num_processes children in parallel, each
// bounded by worker.process_start_timeout, per spec 4.6 ("the
// supervisor spawns N children in parallel at startup"). It returns
// an error carrying ExitStartupTimeout semantics if not a single
// child reaches Idle before the deadline; partial success (some but
// not all children started) is logged and treated as a degraded-but-
// running pool, matching the dispatcher's general tolerance of
// per-child failure.
func (s *Supervisor) Startup(ctx context.Context) error {
	timeout := s.cfg.Worker.ProcessStartTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	startCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started, err := s.pool.Fill(startCtx, s.cfg.Worker.NumProcesses)
	if err != nil {
		return fmt.Errorf("startup: %w (exit %d)", err, ExitStartupTimeout)
	}
	s.logger.Info("worker pool started",
		"requested", s.cfg.Worker.NumProcesses,
		"started", started,
	)
	if started < s.cfg.Worker.NumProcesses {
		s.logger.Warn("worker pool started in a degraded state",
			"requested", s.cfg.Worker.NumProcesses,
			"started", started,
		)
	}
	return nil
}

// Healthy reports whether the pool currently satisfies the serving
// predicate of spec 4.6: at least one non-dead child and failure
// pressure at or below the configured ceiling.
func (s *Supervisor) Healthy() bool {
	return s.pool.Healthy()
}

// Run blocks until a terminating signal (SIGINT/SIGTERM), the pool's
// abort signal (sustained failure pressure, exit code 3), or ctx is
// done, returning the reason and whether it warrants abort exit code 3.
// A SIGUSR1 runs RollingReplace and the loop keeps waiting.
func (s *Supervisor) Run(ctx context.Context) (reason string, abort bool) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	usr1Ch := make(chan os.Signal, 1)
	signal.Notify(usr1Ch, syscall.SIGUSR1)
	defer signal.Stop(sigCh)
	defer signal.Stop(usr1Ch)

	for {
		select {
		case <-ctx.Done():
			return "context cancelled", false
		case sig := <-sigCh:
			return fmt.Sprintf("received signal %s", sig), false
		case <-s.pool.AbortSignal():
			return "sustained failure pressure exceeded max_failure_pressure", true
		case <-usr1Ch:
			s.logger.Info("received SIGUSR1, rolling every child")
			if err := s.RollingReplace(ctx); err != nil {
				s.logger.Error("rolling replace failed", "error", err)
			}
		}
	}
}

// Shutdown implements spec 4.6's drain sequence: mark not-serving
// (the caller flips the gRPC health status before calling this),
// stop handing out new work, wait shutdown_grace_period for
// in-flight requests to finish, then cancel/kill whatever remains.
func (s *Supervisor) Shutdown(ctx context.Context) {
	grace := s.cfg.Server.ShutdownGracePeriod
	if grace <= 0 {
		grace = 10 * time.Second
	}

	s.pool.Drain()

	drained := make(chan struct{})
	go func() {
		s.waitForIdle()
		close(drained)
	}()

	select {
	case <-drained:
		s.logger.Info("all in-flight requests finished before grace period elapsed")
	case <-time.After(grace):
		s.logger.Warn("shutdown grace period elapsed with requests still in flight")
	}

	s.pool.Shutdown()
}

// waitForIdle polls pool stats for zero active workers; this core has
// no per-request completion broadcast at the supervisor level, so a
// short poll loop is the simplest correct wait here (mirrors the
// teacher's own `time.Sleep`-based drain pause in pkg/server.go).
func (s *Supervisor) waitForIdle() {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		if s.pool.Stats().ActiveWorkers == 0 {
			return
		}
	}
}

// RollingReplace restarts every currently live child one at a time,
// letting the dispatcher's own respawn path (rate-limited) bring up
// its replacement, so in-flight requests on other children are never
// disturbed. This is the mechanism behind SIGUSR1 and behind
// SetConfig's cold-field Reload callback (spec 4.8).
func (s *Supervisor) RollingReplace(ctx context.Context) error {
	s.mu.Lock()
	if s.replacing {
		s.mu.Unlock()
		return fmt.Errorf("rolling replace already in progress")
	}
	s.replacing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.replacing = false
		s.mu.Unlock()
	}()

	children := s.pool.Children()
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(1)
	for _, h := range children {
		h := h
		group.Go(func() error {
			return s.replaceOne(gctx, h)
		})
	}
	return group.Wait()
}

// replaceOne kills one child after draining it and lets onChildFinished's
// respawn path bring up a fresh one in its place.
func (s *Supervisor) replaceOne(ctx context.Context, h *child.Host) error {
	h.Drain()
	// Give in-flight work on this child a chance to finish before the kill;
	// the dispatcher will not assign new work to a Draining child.
	deadline := time.Now().Add(s.cfg.Worker.CancelTimeout)
	for time.Now().Before(deadline) {
		if h.State() != child.StateBusy {
			break
		}
		time.Sleep(25 * time.Millisecond)
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	h.Kill()
	return nil
}
