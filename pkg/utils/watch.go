package utils

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchPolicy calls apply with the ingest section of path every time the
// file is written or replaced, until ctx ends. The directory is watched so
// editors that save by rename are seen too. A file that fails to parse is
// logged and the previous policy stays in force.
func WatchPolicy(ctx context.Context, path string, apply func(PolicyConfig), logger *log.Logger) error {
	if logger == nil {
		logger = log.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				p, err := LoadPolicy(abs)
				if err != nil {
					logger.Printf("[config] keeping previous ingest policy: %v", err)
					continue
				}
				logger.Printf("[config] ingest policy reloaded: retrograde_tolerance=%s min_sync_interval=%s",
					p.RetrogradeTolerance, p.MinSyncInterval)
				apply(p)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Printf("[config] watcher error: %v", err)
			}
		}
	}()
	return nil
}
