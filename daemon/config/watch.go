package config

import (
	"github.com/fsnotify/fsnotify"

	"github.com/vhostmd/vhostmd-go/daemon/logger"
)

// WatchForChanges watches path and logs a warning whenever it is modified.
// Configuration is immutable for the process lifetime (§3), so a changed
// file on disk never triggers a reload; this only tells the operator a
// restart is required. The returned watcher must be closed by the caller.
func WatchForChanges(path string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					logger.Warning("config: %s changed on disk; restart the daemon to apply changes", path)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("config: watcher error: %v", err)
			}
		}
	}()

	return w, nil
}
