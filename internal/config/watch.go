package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config when its file changes and calls onChange after a
// successful reload. Editors often write via rename, so the parent directory
// is watched and events are debounced briefly.
func Watch(ctx context.Context, path string, cfg *Config, onChange func(), log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()

		var pending *time.Timer
		reload := func() {
			if err := cfg.Reload(path); err != nil {
				log.Warn("config reload failed", "path", path, "error", err)
				return
			}
			log.Info("config reloaded", "path", path)
			if onChange != nil {
				onChange()
			}
		}

		for {
			select {
			case <-ctx.Done():
				if pending != nil {
					pending.Stop()
				}
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if pending != nil {
					pending.Reset(200 * time.Millisecond)
				} else {
					pending = time.AfterFunc(200*time.Millisecond, reload)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("config watch error", "error", err)
			}
		}
	}()
	return nil
}
