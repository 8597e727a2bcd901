package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/marmos91/dsserver/internal/logger"
)

// reloadDelay coalesces the burst of events editors produce on save.
const reloadDelay = 100 * time.Millisecond

// Watch reloads the configuration at path each time the file changes and
// hands the result to onChange, which receives either a validated config
// or the load error. Watching stops when ctx is done.
//
// The parent directory is watched rather than the file so that editors
// replacing the file on save are still seen.
func Watch(ctx context.Context, path string, onChange func(*Config, error)) error {
	if path == "" {
		return fmt.Errorf("watch: config path is required")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch: failed to watch %s: %w", filepath.Dir(abs), err)
	}

	go func() {
		defer func() { _ = watcher.Close() }()

		var pending <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				pending = time.After(reloadDelay)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Config watcher error: %v", err)

			case <-pending:
				pending = nil
				cfg, err := Load(abs)
				onChange(cfg, err)
			}
		}
	}()

	return nil
}
