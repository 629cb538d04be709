package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadDebounce = 300 * time.Millisecond

// Watch reloads the config file whenever it changes and hands every valid
// result to apply. Invalid files are logged and ignored. Watch returns once
// the watcher is installed; it stops when ctx is cancelled.
func Watch(ctx context.Context, path string, log *zap.Logger, apply func(Config)) error {
	if path == "" {
		return nil
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return err
	}

	reload := make(chan struct{}, 1)
	var timer *time.Timer
	fire := func() {
		select {
		case reload <- struct{}{}:
		default:
		}
	}

	go func() {
		defer func() { _ = w.Close() }()

		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer == nil {
					timer = time.AfterFunc(reloadDebounce, fire)
				} else {
					timer.Reset(reloadDebounce)
				}
			case <-reload:
				cfg, err := Load(path)
				if err != nil {
					log.Warn("config reload failed", zap.Error(err))
					continue
				}
				apply(cfg)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("fsnotify error", zap.Error(err))
			}
		}
	}()

	return nil
}
