package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces bursts of fsnotify events from editors that write
// a file several times in quick succession.
const watchDebounce = 100 * time.Millisecond

// Watcher invalidates a Cache eagerly when the transformer file changes on
// disk. It is an optimization: the mtime comparison performed by Cache.Load
// is still the reload contract, so running without a watcher is safe.
type Watcher struct {
	cache   *Cache
	paths   Paths
	watcher *fsnotify.Watcher
	logger  *slog.Logger
}

// NewWatcher creates a watcher for the primary transformer path.
func NewWatcher(cache *Cache, paths Paths) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Watcher{
		cache:   cache,
		paths:   paths,
		watcher: fsWatcher,
		logger:  slog.Default().With("component", "config.watcher"),
	}, nil
}

// Watch blocks processing file events until ctx is cancelled. Watching the
// containing directory rather than the file survives rename-based saves.
func (w *Watcher) Watch(ctx context.Context) error {
	defer w.watcher.Close()

	dir := filepath.Dir(w.paths.Primary)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info("config watcher started", "dir", dir, "file", w.paths.Primary)

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	target := filepath.Clean(w.paths.Primary)
	for {
		var debounceFired <-chan time.Time
		if debounce != nil {
			debounceFired = debounce.C
		}

		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(watchDebounce)
			} else {
				debounce.Reset(watchDebounce)
			}

		case <-debounceFired:
			debounce = nil
			w.logger.Debug("transformer changed, invalidating cache", "file", w.paths.Primary)
			w.cache.Invalidate()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}
