package admin

import (
	"context"
	"testing"
	"time"

	"github.com/3liz/qjazz/internal/child"
	"github.com/3liz/qjazz/internal/dispatcher"
	"github.com/3liz/qjazz/pkg/apperror"
	"github.com/3liz/qjazz/pkg/config"
)

func validConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Listen: "0.0.0.0:23456", MaxFailurePressure: 0.8},
		Worker: config.WorkerConfig{
			NumProcesses:       4,
			MaxWaitingRequests: 64,
			MaxFailurePressure: 0.8,
			Engine:             config.EngineConfig{MaxProjects: 100},
		},
		Log: config.LogConfig{Level: "info"},
	}
}

func newTestAdmin(t *testing.T, reload ReloadFunc) *Admin {
	t.Helper()
	pool := dispatcher.New(dispatcher.Options{
		MaxWaitingRequests: 10,
		RequestTimeout:     time.Second,
		CancelGrace:        time.Millisecond,
		MaxFailurePressure: 0.9,
		RespawnRatePerMin:  60,
		RespawnBurst:       1,
		Spawn: func(ctx context.Context, id int) (*child.Host, error) {
			return nil, apperror.New(apperror.CodeInternal, "spawn disabled in test")
		},
	})
	return New(Options{Pool: pool, Config: validConfig(), Reload: reload})
}

func TestPatch_ClassifyHotOnly(t *testing.T) {
	newVal := 0.5
	p := Patch{ServerMaxFailurePress: &newVal}
	hot, cold := p.Classify()
	if len(hot) != 1 || len(cold) != 0 {
		t.Errorf("expected 1 hot field, 0 cold, got hot=%v cold=%v", hot, cold)
	}
}

func TestPatch_ClassifyColdOnly(t *testing.T) {
	n := 8
	p := Patch{WorkerNumProcesses: &n}
	hot, cold := p.Classify()
	if len(hot) != 0 || len(cold) != 1 {
		t.Errorf("expected 0 hot, 1 cold, got hot=%v cold=%v", hot, cold)
	}
}

func TestAdmin_ApplyHotFieldNeedsNoReload(t *testing.T) {
	reloadCalled := false
	a := newTestAdmin(t, func(ctx context.Context) error {
		reloadCalled = true
		return nil
	})

	newVal := 0.5
	if err := a.Apply(context.Background(), Patch{ServerMaxFailurePress: &newVal}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if reloadCalled {
		t.Error("hot field patch should not trigger reload")
	}
	if a.Config().Server.MaxFailurePressure != 0.5 {
		t.Errorf("expected patched value applied, got %v", a.Config().Server.MaxFailurePressure)
	}
}

func TestAdmin_ApplyColdFieldTriggersReload(t *testing.T) {
	reloadCalled := false
	a := newTestAdmin(t, func(ctx context.Context) error {
		reloadCalled = true
		return nil
	})

	n := 8
	if err := a.Apply(context.Background(), Patch{WorkerNumProcesses: &n}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !reloadCalled {
		t.Error("cold field patch should trigger reload")
	}
	if a.Config().Worker.NumProcesses != 8 {
		t.Errorf("expected patched value applied, got %v", a.Config().Worker.NumProcesses)
	}
}

func TestAdmin_ApplyRejectsInvalidPatch(t *testing.T) {
	a := newTestAdmin(t, nil)
	bad := -1.0
	err := a.Apply(context.Background(), Patch{ServerMaxFailurePress: &bad})
	if err == nil {
		t.Fatal("expected validation error for out-of-range failure pressure")
	}
	if a.Config().Server.MaxFailurePressure != 0.8 {
		t.Error("invalid patch must not mutate the live config")
	}
}

func TestAdmin_ApplyColdFieldWithoutReloadFuncErrors(t *testing.T) {
	a := newTestAdmin(t, nil)
	n := 8
	err := a.Apply(context.Background(), Patch{WorkerNumProcesses: &n})
	if err == nil {
		t.Fatal("expected error when cold field changes but no reload function is wired")
	}
}

func TestAdmin_NoChildrenReturnsEmptyBroadcastResults(t *testing.T) {
	a := newTestAdmin(t, nil)
	if results := a.ListCache(context.Background()); len(results) != 0 {
		t.Errorf("expected no results with zero children, got %d", len(results))
	}
}
