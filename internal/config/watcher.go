package config

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

type ReloadEvent struct {
	Path string
	Op   fsnotify.Op
}

// Watcher reports writes to the config file and the declarative task list so
// the daemon can reload without a restart.
type Watcher struct {
	paths  []string
	logger *slog.Logger
	events chan ReloadEvent
}

func NewWatcher(logger *slog.Logger, paths ...string) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		paths:  paths,
		logger: logger,
		events: make(chan ReloadEvent, 16),
	}
}

func (w *Watcher) Events() <-chan ReloadEvent {
	return w.events
}

func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	for _, file := range w.paths {
		_ = fsw.Add(file)
	}

	go func() {
		defer fsw.Close()
		defer close(w.events)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				select {
				case w.events <- ReloadEvent{Path: ev.Name, Op: ev.Op}:
				default:
				}
				w.logger.Info("watched file changed", "path", ev.Name, "op", ev.Op.String())
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Error("file watcher error", "error", err)
			}
		}
	}()
	return nil
}
