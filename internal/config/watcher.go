package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the configuration file on write and republishes only
// the sections safe to change without restarting an active deployment
// driver: breaker defaults, resource advisor thresholds, and log
// level. The strategy phase tables are fixed per binary version and
// are never touched by a live reload.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	watched bool
}

// NewWatcher opens an fsnotify watcher on the directory containing
// path, without starting the watch loop.
func NewWatcher(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config file watcher: %w", err)
	}
	return &Watcher{path: path, watcher: fsw}, nil
}

// Reload is invoked with the newly loaded Config whenever path changes
// and successfully reparses.
type Reload func(*Config)

// Watch starts watching path for writes. On every write it reloads
// the file with Load and, if that succeeds, applies the safe-to-change
// sections onto base in place and invokes onReload. A reload that
// fails to parse or validate is logged by the caller via the returned
// error channel and the previous configuration is retained.
func (w *Watcher) Watch(ctx context.Context, base *Config, onReload Reload) (<-chan error, error) {
	w.mu.Lock()
	if w.watched {
		w.mu.Unlock()
		return nil, fmt.Errorf("watcher already started")
	}
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		w.mu.Unlock()
		return nil, fmt.Errorf("watch config directory %s: %w", dir, err)
	}
	w.watched = true
	w.mu.Unlock()

	errs := make(chan error, 8)

	go func() {
		defer close(errs)
		for {
			select {
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if event.Name != w.path || event.Op&fsnotify.Write != fsnotify.Write {
					continue
				}
				next, err := Load(w.path)
				if err != nil {
					errs <- fmt.Errorf("config reload rejected: %w", err)
					continue
				}
				applyLiveSections(base, next)
				onReload(base)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				errs <- err
			case <-ctx.Done():
				return
			}
		}
	}()

	return errs, nil
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watched = false
	return w.watcher.Close()
}

// applyLiveSections copies only the sections safe to change live from
// next onto base, leaving Strategies and Server untouched.
func applyLiveSections(base, next *Config) {
	base.Breaker = next.Breaker
	base.ResourceAdvisor = next.ResourceAdvisor
	base.Logging.Level = next.Logging.Level
}
