package gray

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"
)

import (
	"github.com/fsnotify/fsnotify"
)

import (
	"github.com/nanjiek/pixiu-gateway/internal/config"
)

// ConfigWatcher reloads the gray section of the config file into the
// router when the file changes, so weight updates take effect without a
// restart. Editors replace files via rename, so the parent directory is
// watched rather than the file itself.
type ConfigWatcher struct {
	path     string
	router   *Router
	logger   *slog.Logger
	debounce time.Duration
}

func NewConfigWatcher(path string, router *Router, logger *slog.Logger) *ConfigWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfigWatcher{
		path:     path,
		router:   router,
		logger:   logger,
		debounce: 200 * time.Millisecond,
	}
}

// Start watches until ctx is cancelled. Run it in its own goroutine.
func (w *ConfigWatcher) Start(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Error("config watcher init failed", "err", err)
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		w.logger.Error("config watcher add failed", "dir", dir, "err", err)
		return
	}

	var pending *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			// Coalesce the burst of events a single save produces.
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(w.debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case <-reload:
			w.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "err", err)
		}
	}
}

func (w *ConfigWatcher) reload() {
	cfg, err := config.Load(w.path)
	if err != nil {
		w.logger.Warn("gray reload skipped, config invalid", "path", w.path, "err", err)
		return
	}
	w.router.Reload(cfg.Gray)
}
