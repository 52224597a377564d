package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/worldhost/worldhost/pkg/logger"
)

// debounce merges bursts of editor writes into one reload
const debounce = 200 * time.Millisecond

// CapacityWatcher reloads per-world capacities when the config file changes.
type CapacityWatcher struct {
	path     string
	onChange func(Capacity)
	log      *logger.Logger
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

func NewCapacityWatcher(path string, onChange func(Capacity), log *logger.Logger) (*CapacityWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// watch the dir since editors replace files on save
	if err = w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, err
	}
	return &CapacityWatcher{
		path:     filepath.Clean(path),
		onChange: onChange,
		log:      log.Extend(log.With().Str(logger.ModuleField, "config")),
		watcher:  w,
		done:     make(chan struct{}),
	}, nil
}

func (cw *CapacityWatcher) Run() { go cw.watch() }

func (cw *CapacityWatcher) watch() {
	defer close(cw.done)
	var timer *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				if timer != nil {
					timer.Stop()
				}
				return
			}
			if filepath.Clean(event.Name) != cw.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, cw.reload)
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.log.Warn().Err(err).Msg("config watch")
		}
	}
}

func (cw *CapacityWatcher) reload() {
	var conf HostConfig
	if _, err := LoadConfig(&conf, filepath.Dir(cw.path)); err != nil {
		cw.log.Error().Err(err).Msg("config reload has failed")
		return
	}
	cw.log.Info().Int("default", conf.Host.Capacity.Default).
		Int("worlds", len(conf.Host.Capacity.Worlds)).Msg("Capacity reloaded")
	cw.onChange(conf.Host.Capacity)
}

func (cw *CapacityWatcher) Shutdown(context.Context) error {
	err := cw.watcher.Close()
	<-cw.done
	return err
}

func (cw *CapacityWatcher) String() string { return "config watcher" }
