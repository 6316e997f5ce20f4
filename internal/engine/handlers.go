package engine

import (
	"path/filepath"
	"strings"

	"github.com/3liz/qjazz/internal/cache"
	"github.com/3liz/qjazz/internal/cache/handlers"
	"github.com/3liz/qjazz/pkg/config"
)

// BuildCache constructs the per-child cache.Manager described by
// worker.engine (spec 4.3): a search-path table compiled from config,
// and a single "local" storage handler rooted at the directory of the
// first "local" row's target (the target's literal part before its
// first {var}); local rows whose targets lie outside that directory
// fail at checkout time. Non-local handler ids (s3, postgres, http, ...) need a
// concrete Backend this core doesn't implement — spec.md's Non-goals
// exclude object-store/relational project storage, so only "local" is
// wired; a search-path row naming any other handler id compiles fine
// but fails lookups at checkout time with "no handler registered for
// id ..." rather than panicking at startup.
func BuildCache(cfg config.EngineConfig) *cache.Manager {
	rows := make([]cache.SearchPathRow, len(cfg.SearchPaths))
	handlerSet := map[string]cache.Handler{}
	for i, sp := range cfg.SearchPaths {
		rows[i] = cache.SearchPathRow{
			Match:   sp.Match,
			Handler: sp.Handler,
			Target:  sp.Target,
			Options: sp.Options,
		}
		if sp.Handler == "local" {
			if _, ok := handlerSet["local"]; !ok {
				root := sp.Target
				if i := strings.Index(root, "{"); i >= 0 {
					root = root[:i]
				}
				handlerSet["local"] = handlers.NewLocal(filepath.Dir(root))
			}
		}
	}
	return cache.NewManager(cfg.MaxProjects, handlerSet, cache.NewSearchPathTable(rows))
}
