package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mrmushfiq/ai-gateway/internal/gateway"
)

// DefaultDebounce groups the burst of events an editor produces on save.
const DefaultDebounce = 500 * time.Millisecond

// Updater receives configuration changes. *gateway.Gateway implements it.
type Updater interface {
	UpdateConfig(gateway.ConfigUpdate) error
}

// Watcher reloads the config file on change and applies it to an Updater.
// A file that fails to parse or validate is logged and the running
// configuration is kept.
type Watcher struct {
	path     string
	target   Updater
	logger   *slog.Logger
	debounce time.Duration

	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// Watch starts watching path. The directory is watched rather than the
// file so that editors replacing the file are still seen.
func Watch(ctx context.Context, path string, target Updater, logger *slog.Logger, debounce time.Duration) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, err
	}

	w := &Watcher{
		path:     abs,
		target:   target,
		logger:   logger,
		debounce: debounce,
		watcher:  fw,
		done:     make(chan struct{}),
	}
	go w.loop(ctx)
	return w, nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = w.watcher.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	o, err := LoadFile(w.path)
	if err != nil {
		w.logger.Error("failed to reload config, keeping current", "path", w.path, "error", err)
		return
	}
	if err := w.target.UpdateConfig(o.Update()); err != nil {
		w.logger.Error("config rejected, keeping current", "path", w.path, "error", err)
		return
	}
	w.logger.Info("configuration reloaded", "path", w.path)
}

// Close stops the watcher and waits for its loop to exit.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		err = w.watcher.Close()
		<-w.done
	})
	return err
}
