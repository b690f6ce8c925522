package scene

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/taleweave/taleweave/pkg/logger"
)

const watchDebounce = 250 * time.Millisecond

// Watch reloads the store whenever its backing file changes on disk. It
// blocks until ctx is cancelled. Editors often write via rename, so the
// watch is placed on the parent directory and filtered by name.
func Watch(ctx context.Context, store *Store) error {
	log := logger.GetLogger()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(store.Path())
	if err := watcher.Add(dir); err != nil {
		return err
	}

	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(store.Path()) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(watchDebounce)
				debounceC = debounce.C
			} else {
				debounce.Reset(watchDebounce)
			}

		case <-debounceC:
			debounce = nil
			debounceC = nil
			changed, err := store.ReloadIfChanged()
			if err != nil {
				log.Warn("Scene reload failed, keeping previous graph",
					"path", store.Path(), "error", err)
				continue
			}
			if changed {
				repo := store.Current()
				log.Info("Scene graph reloaded",
					"path", store.Path(),
					"scenes", repo.Len(),
					"checksum", repo.Checksum())
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("Scene watcher error", "error", err)
		}
	}
}
