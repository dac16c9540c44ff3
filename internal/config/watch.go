package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the event bursts editors and atomic writers emit
// for a single save.
const watchDebounce = 250 * time.Millisecond

// Watch re-loads the config file whenever it changes on disk and hands the
// freshly parsed result to onChange. The parent directory is watched rather
// than the file itself, because atomic writers replace the inode. Files that
// fail to parse are logged and skipped; the previous config stays in effect.
// The watcher stops when ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return err
	}
	target := filepath.Clean(path)

	go func() {
		defer w.Close()
		var pending *time.Timer
		reload := make(chan struct{}, 1)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if pending == nil {
					pending = time.AfterFunc(watchDebounce, func() {
						select {
						case reload <- struct{}{}:
						default:
						}
					})
				} else {
					pending.Reset(watchDebounce)
				}
			case <-reload:
				pending = nil
				cfg, err := Load(path)
				if err != nil {
					slog.Warn("config reload skipped", "path", path, "error", err)
					continue
				}
				slog.Info("config reloaded", "path", path)
				onChange(cfg)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("config watch error", "error", err)
			}
		}
	}()
	return nil
}
