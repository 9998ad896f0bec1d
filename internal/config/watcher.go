package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher watches the config file and sudoers drop-in directory for
// changes and invokes onChange with a freshly-loaded Config whenever
// either changes. It never blocks the caller: events are handled on
// an internal goroutine, matching internal/config's fsnotify-based
// watcher in the teacher repo.
type Watcher struct {
	fsw    *fsnotify.Watcher
	done   chan struct{}
	stopped bool
}

// WatchConfig starts watching configPath (and, if non-empty,
// sudoersDir) and calls onChange on every write/create/rename event.
func WatchConfig(configPath, sudoersDir string, onChange func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if configPath != "" {
		if err := fsw.Add(configPath); err != nil {
			log.Warn().Err(err).Str("path", configPath).Msg("config: unable to watch config file")
		}
	}
	if sudoersDir != "" {
		if err := fsw.Add(sudoersDir); err != nil {
			log.Warn().Err(err).Str("path", sudoersDir).Msg("config: unable to watch sudoers drop-in directory")
		}
	}

	w := &Watcher{fsw: fsw, done: make(chan struct{})}

	go func() {
		for {
			select {
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				cfg, err := Load(configPath)
				if err != nil {
					log.Warn().Err(err).Msg("config: reload after change failed, keeping previous config")
					continue
				}
				onChange(cfg)
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("config: watcher error")
			case <-w.done:
				return
			}
		}
	}()

	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.done)
	return w.fsw.Close()
}
