package update

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher triggers an update attempt when the watched manifest file is
// written or replaced. Rapid changes are debounced into one attempt.
type Watcher struct {
	path     string
	updater  *Updater
	debounce time.Duration
	onChange func(path string, st Status, err error)

	watcher *fsnotify.Watcher
	running atomic.Bool
	trigger chan struct{}

	mu    sync.RWMutex
	stats WatcherStats
}

// WatcherStats counts reloads driven by file events.
type WatcherStats struct {
	ReloadsTotal   int64     `json:"reloads_total"`
	ReloadsSuccess int64     `json:"reloads_success"`
	ReloadsFailed  int64     `json:"reloads_failed"`
	LastReload     time.Time `json:"last_reload,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Path     string
	Updater  *Updater
	Debounce time.Duration
	OnChange func(path string, st Status, err error)
}

// NewWatcher validates cfg and returns a stopped watcher.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("manifest path is required")
	}
	if cfg.Updater == nil {
		return nil, fmt.Errorf("updater is required")
	}
	debounce := cfg.Debounce
	if debounce == 0 {
		debounce = 100 * time.Millisecond
	}
	return &Watcher{
		path:     filepath.Clean(cfg.Path),
		updater:  cfg.Updater,
		debounce: debounce,
		onChange: cfg.OnChange,
		trigger:  make(chan struct{}, 1),
	}, nil
}

// Start watches the manifest's directory, so atomic rename-into-place
// replacements are seen as well as in-place writes.
func (w *Watcher) Start(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return fmt.Errorf("watcher already running")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.running.Store(false)
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		w.running.Store(false)
		return fmt.Errorf("watching directory: %w", err)
	}
	w.watcher = fw

	go w.processEvents(ctx)
	go w.processReloads(ctx)
	return nil
}

func (w *Watcher) processEvents(ctx context.Context) {
	var pending time.Time
	tick := w.debounce / 2
	if tick < time.Millisecond {
		tick = time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				pending = time.Now()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.recordError(fmt.Sprintf("watcher error: %v", err))

		case <-ticker.C:
			if !pending.IsZero() && time.Since(pending) >= w.debounce {
				pending = time.Time{}
				select {
				case w.trigger <- struct{}{}:
				default:
				}
			}

		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) processReloads(ctx context.Context) {
	for {
		select {
		case <-w.trigger:
			w.handleReload(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) handleReload(ctx context.Context) {
	w.mu.Lock()
	w.stats.ReloadsTotal++
	w.mu.Unlock()

	st, err := w.updater.CheckNow(ctx)
	if err != nil {
		w.recordError(err.Error())
	} else {
		w.mu.Lock()
		w.stats.ReloadsSuccess++
		w.stats.LastReload = time.Now()
		w.mu.Unlock()
	}
	if w.onChange != nil {
		w.onChange(w.path, st, err)
	}
}

func (w *Watcher) recordError(msg string) {
	w.mu.Lock()
	w.stats.ReloadsFailed++
	w.stats.LastError = msg
	w.mu.Unlock()
}

// Stop closes the underlying watcher.
func (w *Watcher) Stop() error {
	if !w.running.CompareAndSwap(true, false) {
		return nil
	}
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

// Stats returns a copy of the reload counters.
func (w *Watcher) Stats() WatcherStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}
