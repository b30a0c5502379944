package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/mpapenbr/lapcounter-go/log"
)

// WatchRaceConfig calls onChange with the new configuration whenever file changes
// and still holds a valid configuration. It returns when ctx is done.
// The directory is watched since editors often replace the file.
//
//nolint:whitespace // false positive
func WatchRaceConfig(
	ctx context.Context,
	file string,
	onChange func(cfg *RaceConfig),
) error {
	l := log.GetFromContext(ctx).Named("config")
	file, err := filepath.Abs(file)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(file)); err != nil {
		watcher.Close()
		return err
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				l.Debug("context done, stopping race config watch")
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != file ||
					!event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				l.Info("race config changed, reloading", log.String("file", file))
				cfg, err := LoadRaceConfig(file)
				if err != nil {
					l.Error("could not reload race config", log.ErrorField(err))
					continue
				}
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.Error("watcher error", log.ErrorField(err))
			}
		}
	}()
	return nil
}
