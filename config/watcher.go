package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hupe1980/agentpool/core"
	"github.com/hupe1980/agentpool/logging"
)

// UpdateHandler receives every successfully reloaded configuration.
type UpdateHandler func(cfg Config)

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// Debounce collapses bursts of file events into one reload.
	Debounce time.Duration

	// Logger is the structured logger. Nil means no logging.
	Logger logging.Logger
}

// Watcher reloads a configuration file when it changes on disk. Reloads
// that fail to parse or validate are logged and dropped; the last good
// configuration stays current.
type Watcher struct {
	path     string
	opts     WatcherOptions
	onUpdate UpdateHandler

	mu       sync.Mutex
	current  Config
	debounce *time.Timer
}

// NewWatcher loads the file once and prepares a watcher for it.
func NewWatcher(path string, onUpdate UpdateHandler, optFns ...func(o *WatcherOptions)) (*Watcher, error) {
	opts := WatcherOptions{
		Debounce: 250 * time.Millisecond,
		Logger:   logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	return &Watcher{
		path:     path,
		opts:     opts,
		onUpdate: onUpdate,
		current:  cfg,
	}, nil
}

// Current returns the last good configuration.
func (w *Watcher) Current() Config {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.current
}

// Run watches the file until the context is cancelled. The parent
// directory is watched because editors and config writers typically
// replace the file instead of rewriting it in place.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: create watcher: %v", core.ErrConfig, err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("%w: watch %s: %v", core.ErrConfig, filepath.Dir(w.path), err)
	}

	for {
		select {
		case <-ctx.Done():
			w.stopDebounce()
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.scheduleReload()
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.opts.Logger.Warn("Config watcher error", "path", w.path, "error", err)
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}

	w.debounce = time.AfterFunc(w.opts.Debounce, w.reload)
}

func (w *Watcher) stopDebounce() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
}

// reload parses the file and delivers it when it differs from the current
// configuration.
func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.opts.Logger.Error("Config reload rejected", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()

	w.opts.Logger.Info("Config reloaded", "path", w.path)

	if w.onUpdate != nil {
		w.onUpdate(cfg)
	}
}
