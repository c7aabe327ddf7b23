// Package watcher hot-reloads the configuration file. Writes are debounced,
// unchanged content is ignored by hash, and every successfully parsed
// configuration is handed to the reload callback.
package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/Aslarex/go-curl2/internal/config"
	log "github.com/Aslarex/go-curl2/internal/logging"
	"github.com/fsnotify/fsnotify"
)

const configReloadDebounce = 150 * time.Millisecond

// Watcher monitors one configuration file.
type Watcher struct {
	configPath     string
	reloadCallback func(*config.Config)
	watcher        *fsnotify.Watcher
	debounce       time.Duration

	stateMu        sync.RWMutex
	config         *config.Config
	lastConfigHash string

	configReloadMu    sync.Mutex
	configReloadTimer *time.Timer

	started bool
	done    chan struct{}
}

// NewWatcher creates a watcher for configPath. reloadCallback runs on the
// watcher's goroutine after each successful reload.
func NewWatcher(configPath string, reloadCallback func(*config.Config)) (*Watcher, error) {
	watcher, errNewWatcher := fsnotify.NewWatcher()
	if errNewWatcher != nil {
		return nil, errNewWatcher
	}
	abs, err := filepath.Abs(configPath)
	if err != nil {
		_ = watcher.Close()
		return nil, err
	}
	return &Watcher{
		configPath:     abs,
		reloadCallback: reloadCallback,
		watcher:        watcher,
		debounce:       configReloadDebounce,
		done:           make(chan struct{}),
	}, nil
}

// Start watches the directory holding the config file, so atomic replaces
// by editors are seen as well as in-place writes.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.configPath)
	if errAdd := w.watcher.Add(dir); errAdd != nil {
		log.Errorf("failed to watch config directory %s: %v", dir, errAdd)
		return errAdd
	}
	w.stateMu.Lock()
	if w.lastConfigHash == "" {
		w.lastConfigHash, _ = fileHash(w.configPath)
	}
	w.started = true
	w.stateMu.Unlock()
	log.Debugf("watching config file: %s", w.configPath)

	go w.processEvents(ctx)
	return nil
}

// Stop stops the file watcher.
func (w *Watcher) Stop() error {
	w.stopConfigReloadTimer()
	err := w.watcher.Close()
	w.stateMu.RLock()
	started := w.started
	w.stateMu.RUnlock()
	if started {
		<-w.done
	}
	return err
}

// SetConfig records the configuration currently in effect.
func (w *Watcher) SetConfig(cfg *config.Config) {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	w.config = cfg
}

// Config returns the configuration currently in effect.
func (w *Watcher) Config() *config.Config {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return w.config
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case errWatch, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("file watcher error: %v", errWatch)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	configOps := fsnotify.Write | fsnotify.Create | fsnotify.Rename
	if filepath.Clean(event.Name) != w.configPath || event.Op&configOps == 0 {
		return
	}
	log.Debugf("config file event: %s %s", event.Op.String(), event.Name)
	w.scheduleConfigReload()
}
