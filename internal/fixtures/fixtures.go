// ABOUTME: File-backed cache of representative test inputs keyed by "package/export".
// ABOUTME: Reloads when the file's mtime or size changes, or on fsnotify events while watching.

package fixtures

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Cache holds test inputs loaded from a YAML or JSON file of the form
//
//	"@acme/tools/formatDate":
//	  date: "2024-01-01"
//
// A missing file is an empty cache. A file that fails to parse leaves the
// previously loaded inputs in place.
type Cache struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]map[string]any
	modTime time.Time
	size    int64
	loaded  bool
}

// New creates a cache for path. Nothing is read until the first Lookup.
// An empty path yields a cache that never has entries.
func New(path string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		path:    path,
		logger:  logger.With("component", "fixtures"),
		entries: map[string]map[string]any{},
	}
}

// Key formats the lookup key for a tool.
func Key(packageName, exportName string) string {
	return packageName + "/" + exportName
}

// Lookup returns a copy of the recorded input for a tool.
func (c *Cache) Lookup(packageName, exportName string) (map[string]any, bool) {
	if c == nil || c.path == "" {
		return nil, false
	}
	if c.stale() {
		if err := c.Reload(); err != nil {
			c.logger.Warn("fixtures reload failed, keeping previous inputs", "path", c.path, "error", err)
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	input, ok := c.entries[Key(packageName, exportName)]
	if !ok {
		return nil, false
	}
	return maps.Clone(input), true
}

// Len returns the number of loaded entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) stale() bool {
	info, err := os.Stat(c.path)

	c.mu.RLock()
	defer c.mu.RUnlock()
	if err != nil {
		// A deleted file should empty the cache once.
		return !c.loaded || len(c.entries) > 0
	}
	return !c.loaded || !info.ModTime().Equal(c.modTime) || info.Size() != c.size
}

// Reload reads the file now.
func (c *Cache) Reload() error {
	info, statErr := os.Stat(c.path)
	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		c.mu.Lock()
		c.entries = map[string]map[string]any{}
		c.modTime, c.size, c.loaded = time.Time{}, 0, true
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading fixtures: %w", err)
	}
	if statErr != nil {
		return fmt.Errorf("stat fixtures: %w", statErr)
	}

	entries := map[string]map[string]any{}
	if err := yaml.Unmarshal(data, &entries); err != nil {
		// Remember the attempt so a broken file is not re-parsed on every lookup.
		c.mu.Lock()
		c.modTime, c.size, c.loaded = info.ModTime(), info.Size(), true
		c.mu.Unlock()
		return fmt.Errorf("parsing fixtures %s: %w", c.path, err)
	}
	for key, input := range entries {
		if input == nil {
			entries[key] = map[string]any{}
		}
	}

	c.mu.Lock()
	c.entries = entries
	c.modTime, c.size, c.loaded = info.ModTime(), info.Size(), true
	c.mu.Unlock()

	c.logger.Debug("fixtures loaded", "path", c.path, "entries", len(entries))
	return nil
}

// Watch reloads on filesystem events until ctx is done. The parent
// directory is watched so editors that replace the file are seen.
func (c *Cache) Watch(ctx context.Context) error {
	if c.path == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(c.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	target := filepath.Clean(c.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				if err := c.Reload(); err != nil {
					c.logger.Warn("fixtures reload failed, keeping previous inputs", "path", c.path, "error", err)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("fixtures watcher error", "error", err)
		}
	}
}
