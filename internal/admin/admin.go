// Package admin implements the control plane (spec component C5):
// broadcast cache operations across every child, tolerant of
// per-child divergence, and hot/cold configuration patching.
package admin

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/3liz/qjazz/internal/dispatcher"
	"github.com/3liz/qjazz/pkg/config"
	"github.com/3liz/qjazz/pkg/metrics"
)

// ReloadFunc performs a rolling replacement of every child, used when a
// cold configuration field changes (spec 4.8: "cold fields require
// Reload: a rolling replacement of every child with the new config").
type ReloadFunc func(ctx context.Context) error

// Admin is the admin-plane coordinator. It never goes through the fair
// dispatcher: broadcast operations address child.Host directly via
// SendCacheOp, using Pool.Children only to enumerate the live set
// (spec 4.5: "admin operations bypass the fair queue entirely").
type Admin struct {
	pool    *dispatcher.Pool
	reload  ReloadFunc
	sem     *semaphore.Weighted
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu  sync.RWMutex
	cfg *config.Config
}

// Options configures an Admin.
type Options struct {
	Pool              *dispatcher.Pool
	Config            *config.Config
	Reload            ReloadFunc
	MaxConcurrentOps  int64
	Logger            *slog.Logger
	Metrics           *metrics.Metrics
}

// New constructs an Admin bound to pool.
func New(opts Options) *Admin {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxConcurrent := opts.MaxConcurrentOps
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	return &Admin{
		pool:    opts.Pool,
		reload:  opts.Reload,
		sem:     semaphore.NewWeighted(maxConcurrent),
		logger:  logger,
		metrics: opts.Metrics,
		cfg:     opts.Config,
	}
}

// Config returns a copy of the current configuration, guarded against
// concurrent SetConfig hot-patches.
func (a *Admin) Config() config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return *a.cfg
}
