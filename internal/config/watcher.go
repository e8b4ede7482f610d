package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/banshee-data/serialscope/internal/monitoring"
)

// DefaultDebounce coalesces the burst of events editors emit on save.
const DefaultDebounce = 100 * time.Millisecond

// Watcher reloads a config file whenever it changes on disk and hands every
// valid result to OnChange. Invalid files are logged and ignored.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(*Config)

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher returns a watcher for path. A zero debounce uses DefaultDebounce.
func NewWatcher(path string, debounce time.Duration, onChange func(*Config)) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{path: filepath.Clean(path), debounce: debounce, onChange: onChange}
}

// Run watches the file's directory until ctx is done. The directory rather
// than the file is watched so atomic rename-on-save is observed.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	defer w.stopTimer()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.schedule(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			monitoring.Logf("config watcher error: %v", err)
		}
	}
}

func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		w.reload()
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		monitoring.Logf("config reload of %s failed: %v", w.path, err)
		return
	}
	monitoring.Logf("config reloaded from %s", w.path)
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
