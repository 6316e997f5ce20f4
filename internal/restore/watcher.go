package restore

import (
	"context"
	"log/slog"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a restore-list source path (when it's a local file,
// not a "cmd:" invocation or remote reference) and the active config
// file, notifying onChange whenever either is rewritten — feeding a
// reload into internal/supervisor the same way a SIGUSR1 would (spec
// 4.8's config hot-reload, C8).
type Watcher struct {
	fsw      *fsnotify.Watcher
	logger   *slog.Logger
	onChange func()
}

// NewWatcher watches every path in paths that exists on disk (a
// "cmd:"-sourced or remote restore list has nothing local to watch and
// is silently skipped).
func NewWatcher(paths []string, onChange func(), logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		if p == "" || isRemote(p) || strings.HasPrefix(p, "cmd:") {
			continue
		}
		if err := fsw.Add(p); err != nil {
			logger.Warn("failed to watch path for changes", "path", p, "error", err)
		}
	}
	return &Watcher{fsw: fsw, logger: logger, onChange: onChange}, nil
}

// Run blocks, invoking onChange on every write/create event, until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.logger.Info("watched file changed, triggering reload", "path", ev.Name, "op", ev.Op.String())
				w.onChange()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fsnotify watcher error", "error", err)
		}
	}
}
