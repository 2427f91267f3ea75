package config

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"lightapi/router/pkg/routererr"
)

// Cache holds the most recently parsed transformer and refreshes it when the
// file's modification time changes. Readers share the cached *ApiConfig;
// the value is immutable after insertion, so snapshots held by in-flight
// requests survive a refresh.
type Cache struct {
	mu    sync.RWMutex
	entry *cachedEntry
}

type cachedEntry struct {
	config   *ApiConfig
	source   string
	modTime  time.Time
	hasMtime bool
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{}
}

var (
	sharedOnce  sync.Once
	sharedCache *Cache
)

// Shared returns the process-wide cache, created lazily on first use.
func Shared() *Cache {
	sharedOnce.Do(func() {
		sharedCache = NewCache()
	})
	return sharedCache
}

// Load returns the current configuration for paths. The cached entry is
// reused until the primary file's mtime advances; parsing happens outside
// the read path, under the write lock, only when a reload is needed.
func (c *Cache) Load(paths Paths) (*ApiConfig, error) {
	c.mu.RLock()
	if entry := c.entry; entry != nil && !entry.needsReload(paths) {
		cfg := entry.config
		c.mu.RUnlock()
		return cfg, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have refreshed while we waited for the lock.
	if entry := c.entry; entry != nil && !entry.needsReload(paths) {
		return entry.config, nil
	}

	entry, err := loadEntry(paths)
	if err != nil {
		return nil, err
	}
	c.entry = entry
	return entry.config, nil
}

// Invalidate drops the cached entry so the next Load re-reads the file.
// The config watcher calls this on file events; the mtime comparison in
// Load remains the correctness contract.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.entry = nil
	c.mu.Unlock()
}

// needsReload reports whether the cached entry is stale for paths.
func (e *cachedEntry) needsReload(paths Paths) bool {
	info, err := os.Stat(paths.Primary)
	if err == nil {
		if e.source != paths.Primary {
			return true
		}
		return !e.hasMtime || !e.modTime.Equal(info.ModTime())
	}

	// Primary is gone. A cache built from the primary must reload (and
	// fall back); a cache built from the fallback is stale only when the
	// fallback itself changed.
	if e.source == paths.Primary {
		return true
	}
	fallbackInfo, fallbackErr := os.Stat(paths.Fallback)
	if fallbackErr != nil {
		return true
	}
	return !e.hasMtime || !e.modTime.Equal(fallbackInfo.ModTime())
}

// loadEntry reads the primary transformer, falling back to the fallback path
// on read errors only. Parse errors always surface.
func loadEntry(paths Paths) (*cachedEntry, error) {
	cfg, modTime, err := readConfigFile(paths.Primary)
	if err == nil {
		slog.Debug("loaded API config", "path", paths.Primary)
		return &cachedEntry{
			config:   cfg,
			source:   paths.Primary,
			modTime:  modTime,
			hasMtime: !modTime.IsZero(),
		}, nil
	}

	if !routererr.IsKind(err, routererr.KindConfigRead) {
		return nil, err
	}

	slog.Warn("primary config unreadable, trying fallback",
		"primary", paths.Primary,
		"fallback", paths.Fallback,
		"error", err,
	)
	cfg, modTime, fallbackErr := readConfigFile(paths.Fallback)
	if fallbackErr != nil {
		return nil, err
	}
	return &cachedEntry{
		config:   cfg,
		source:   paths.Fallback,
		modTime:  modTime,
		hasMtime: !modTime.IsZero(),
	}, nil
}
