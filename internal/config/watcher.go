package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// ReloadCallback is called with the freshly loaded config after the file
// changes on disk.
type ReloadCallback func(*Config)

// Watcher monitors the config file and reloads it on change. Editors and
// atomic writers replace the file rather than writing in place, so the
// parent directory is watched and events are debounced.
type Watcher struct {
	watcher    *fsnotify.Watcher
	loader     *Loader
	configPath string
	onReload   ReloadCallback
	done       chan struct{}
	stopOnce   sync.Once

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

const reloadDebounce = 250 * time.Millisecond

// NewWatcher creates a config watcher. Start must be called to begin
// watching.
func NewWatcher(loader *Loader, onReload ReloadCallback) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	configPath, err := loader.Path()
	if err != nil {
		watcher.Close()
		return nil, err
	}

	return &Watcher{
		watcher:    watcher,
		loader:     loader,
		configPath: configPath,
		onReload:   onReload,
		done:       make(chan struct{}),
	}, nil
}

// Start starts watching the config file's directory
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.configPath)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	go w.eventLoop()

	log.Info().Str("path", w.configPath).Msg("Config watcher started")
	return nil
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceMu.Unlock()

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.configPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Config watcher error")
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(reloadDebounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Config reload failed, keeping previous config")
		return
	}
	if err := cfg.Validate(); err != nil {
		log.Warn().Err(err).Msg("Reloaded config invalid, keeping previous config")
		return
	}

	log.Info().Msg("Config reloaded")
	w.onReload(cfg)
}
