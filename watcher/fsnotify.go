package watcher

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// RunFS subscribes to filesystem events on the selections file instead of
// polling, reconciling on every write/create/rename (§4.8 "or, where
// available, subscribes to filesystem events"). It falls back to Run's
// polling loop if the watch cannot be established (e.g. the selections
// file's directory does not exist).
func (w *ConfigWatcher) RunFS(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.WithError(err).Warn("fsnotify unavailable, falling back to polling")
		return w.Run(ctx)
	}
	defer fsw.Close()

	dir := filepath.Dir(w.cfg.SelectionsPath)
	if err := fsw.Add(dir); err != nil {
		w.log.WithError(err).Warn("fsnotify could not watch selections directory, falling back to polling")
		return w.Run(ctx)
	}

	w.reconcile(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.cfg.SelectionsPath) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.reconcile(ctx)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("fsnotify watch error")
		}
	}
}
