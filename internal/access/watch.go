package access

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/1ureka/accesspoint/internal/util"
)

// Watch reloads the allow-list file whenever it changes, until ctx is done.
// The containing directory is watched so that editors replacing the file
// are noticed too. It returns immediately when the list has no file.
func (l *List) Watch(ctx context.Context) error {
	if l.configFile == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	target := filepath.Clean(l.configFile)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if err := l.Reload(); err != nil {
					util.LogWarning("keeping previous allow-list: %v", err)
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				util.LogWarning("allow-list watcher: %v", err)

			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}
