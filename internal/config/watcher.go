package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads agent and Dify settings when the config file changes on
// disk. Transport credentials are deliberately NOT hot-applied: a changed
// app_id/app_secret requires an explicit connection restart (the connection
// manager's Invalidate + Start), matching the admin-save semantics.
func Watch(ctx context.Context, cfg *Config, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Watch the directory: editors replace files, which drops the watch on
	// the file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()

		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(300*time.Millisecond, func() {
					reload(cfg, path)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "error", err)
			}
		}
	}()

	return nil
}

func reload(cfg *Config, path string) {
	fresh, err := Load(path)
	if err != nil {
		slog.Warn("config reload failed, keeping previous config", "error", err)
		return
	}

	cfg.mu.Lock()
	cfg.Agents = fresh.Agents
	cfg.Dify = fresh.Dify
	cfg.mu.Unlock()

	slog.Info("config reloaded", "agents", len(fresh.Agents))
}
