package fswatch

import (
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/pairsync/pkg/errors"
)

var fs = afero.NewOsFs()

// Watch watches for files being created, written, renamed or removed
// directly within `dir`. It sends an event on the returned channel whenever
// the directory's contents change. Bursts of changes are coalesced, so a
// single event may represent many changes.
func Watch(dir string) (chan struct{}, error) {
	fi, err := fs.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound{Path: dir}
		}
		return nil, errors.WithContext(err, "stat")
	}

	if !fi.IsDir() {
		return nil, errors.NewFriendlyError("%s is not a directory", dir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.WithContext(err, "create watcher")
	}

	if err := watcher.Add(dir); err != nil {
		// Close the watcher so that we release its file handles.
		if err := watcher.Close(); err != nil {
			log.WithError(err).Warn("Failed to close file watcher")
		}
		return nil, errors.WithContext(err, fmt.Sprintf("watch %q", dir))
	}

	go func() {
		for err := range watcher.Errors {
			log.WithError(err).Warn("File watcher error")
		}
	}()
	return combineUpdates(watcher.Events), nil
}

func combineUpdates(updates <-chan fsnotify.Event) chan struct{} {
	combined := make(chan struct{}, 1)
	go func() {
		for event := range updates {
			// Permission changes don't affect file contents.
			if event.Op == fsnotify.Chmod {
				continue
			}

			select {
			case combined <- struct{}{}:
			default:
			}
		}
	}()
	return combined
}
