package grammarfile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses the burst of events editors emit on save.
const DefaultDebounce = 200 * time.Millisecond

// Watcher re-syncs a Loader whenever grammar files in its directory change.
type Watcher struct {
	loader   *Loader
	log      *slog.Logger
	debounce time.Duration
	synced   func(Report, error)
}

type WatchOption func(*Watcher)

func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) { w.debounce = d }
}

// OnSync is called after every sync the watcher triggers.
func OnSync(fn func(Report, error)) WatchOption {
	return func(w *Watcher) { w.synced = fn }
}

func NewWatcher(loader *Loader, opts ...WatchOption) *Watcher {
	w := &Watcher{
		loader:   loader,
		log:      loader.log,
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.loader.Dir()); err != nil {
		return fmt.Errorf("watch %s: %w", w.loader.Dir(), err)
	}
	w.log.Info("watching grammar directory")

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !IsGrammarFile(ev.Name) || ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("grammar watcher error", slog.String("error", err.Error()))
		case <-timer.C:
			report, err := w.loader.Sync()
			if err != nil {
				w.log.Warn("grammar sync incomplete", slog.String("error", err.Error()))
			}
			if w.synced != nil {
				w.synced(report, err)
			}
		}
	}
}
