package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/3liz/qjazz/internal/child"
	"github.com/3liz/qjazz/internal/dispatcher"
	"github.com/3liz/qjazz/pkg/apperror"
	"github.com/3liz/qjazz/pkg/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Listen:              "0.0.0.0:23456",
			MaxFailurePressure:  0.8,
			ShutdownGracePeriod: 100 * time.Millisecond,
		},
		Worker: config.WorkerConfig{
			NumProcesses:        2,
			MaxWaitingRequests:  10,
			MaxFailurePressure:  0.8,
			ProcessStartTimeout: 200 * time.Millisecond,
			CancelTimeout:       50 * time.Millisecond,
			Engine:              config.EngineConfig{MaxProjects: 10},
		},
	}
}

func failingFactory(ctx context.Context, id int) (*child.Host, error) {
	return nil, apperror.New(apperror.CodeInternal, "spawn disabled in test")
}

func newTestSupervisor(t *testing.T, cfg *config.Config) *Supervisor {
	t.Helper()
	pool := dispatcher.New(dispatcher.Options{
		MaxWaitingRequests: cfg.Worker.MaxWaitingRequests,
		RequestTimeout:     time.Second,
		CancelGrace:        cfg.Worker.CancelTimeout,
		MaxFailurePressure: cfg.Worker.MaxFailurePressure,
		RespawnRatePerMin:  60,
		RespawnBurst:       1,
		Spawn:              failingFactory,
	})
	return New(cfg, pool, failingFactory, nil)
}

func TestSupervisor_StartupWithAllSpawnsFailingReturnsError(t *testing.T) {
	s := newTestSupervisor(t, testConfig())
	err := s.Startup(context.Background())
	if err == nil {
		t.Fatal("expected startup error when no child can be spawned")
	}
}

func TestSupervisor_HealthyFalseWithNoChildren(t *testing.T) {
	s := newTestSupervisor(t, testConfig())
	if s.Healthy() {
		t.Error("expected unhealthy pool with zero children")
	}
}

func TestSupervisor_ShutdownReturnsPromptlyWithNoChildren(t *testing.T) {
	s := newTestSupervisor(t, testConfig())
	done := make(chan struct{})
	go func() {
		s.Shutdown(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not return in time")
	}
}

func TestSupervisor_RollingReplaceNoOpWithNoChildren(t *testing.T) {
	s := newTestSupervisor(t, testConfig())
	if err := s.RollingReplace(context.Background()); err != nil {
		t.Fatalf("RollingReplace: %v", err)
	}
}

func TestSupervisor_RollingReplaceRejectsConcurrentCall(t *testing.T) {
	s := newTestSupervisor(t, testConfig())
	s.mu.Lock()
	s.replacing = true
	s.mu.Unlock()

	err := s.RollingReplace(context.Background())
	if err == nil {
		t.Fatal("expected error when a rolling replace is already in progress")
	}
}
