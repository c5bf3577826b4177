package creds

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes the shared store file and reports external mutations,
// covering refreshes performed by sibling processes that the in-process
// broadcast cannot reach. Store writes land by rename, so the parent
// directory is watched rather than the file itself.
type Watcher struct {
	store    *Store
	onChange func(State)
	log      *slog.Logger
}

func NewWatcher(store *Store, onChange func(State), log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{store: store, onChange: onChange, log: log}
}

// Run blocks until ctx is cancelled, invoking onChange for every observed
// store mutation.
func (w *Watcher) Run(ctx context.Context) error {
	dir := filepath.Dir(w.store.Path())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(dir); err != nil {
		return err
	}

	base := filepath.Base(w.store.Path())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
				continue
			}
			st, err := w.store.Load()
			if err != nil {
				w.log.Warn("credential store changed but unreadable", "err", err)
				continue
			}
			w.onChange(st)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("credential watcher error", "err", err)
		}
	}
}
