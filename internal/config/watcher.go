package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// reloadDebounce coalesces the burst of events editors and atomic
// renames produce into a single reload.
const reloadDebounce = 150 * time.Millisecond

// Watcher watches the configuration file and invokes a callback with the
// re-parsed configuration when its content changes. Tunables such as
// thumbnail sizing and upload quotas take effect without a restart;
// listener and store settings still require one.
type Watcher struct {
	configPath     string
	reloadCallback func(*Config)
	watcher        *fsnotify.Watcher

	mu          sync.Mutex
	reloadTimer *time.Timer
	lastHash    string
}

// NewWatcher creates a watcher for the given configuration file.
func NewWatcher(configPath string, reloadCallback func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		configPath:     configPath,
		reloadCallback: reloadCallback,
		watcher:        fsw,
	}
	if data, err := os.ReadFile(configPath); err == nil {
		w.lastHash = hashBytes(data)
	}
	return w, nil
}

// Start begins watching. It watches the parent directory rather than the
// file itself so atomic replaces (rename over the path) keep being seen.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.configPath)
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	go w.loop(ctx)
	log.Debugf("watching config file: %s", w.configPath)
	return nil
}

// Stop stops the watcher and cancels any pending reload.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.reloadTimer != nil {
		w.reloadTimer.Stop()
		w.reloadTimer = nil
	}
	w.mu.Unlock()
	return w.watcher.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.configPath) {
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
			log.Warnf("config watcher error: %v", err)
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.reloadTimer != nil {
		w.reloadTimer.Stop()
	}
	w.reloadTimer = time.AfterFunc(reloadDebounce, w.reload)
}

func (w *Watcher) reload() {
	data, err := os.ReadFile(w.configPath)
	if err != nil {
		log.Warnf("config reload skipped: %v", err)
		return
	}
	sum := hashBytes(data)
	w.mu.Lock()
	unchanged := sum == w.lastHash
	if !unchanged {
		w.lastHash = sum
	}
	w.mu.Unlock()
	if unchanged {
		return
	}
	cfg, err := LoadConfig(w.configPath)
	if err != nil {
		log.Errorf("config reload failed, keeping previous configuration: %v", err)
		return
	}
	log.Info("configuration reloaded")
	w.reloadCallback(cfg)
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
