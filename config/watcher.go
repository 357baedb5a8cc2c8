package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/goclaw/sagaflow/pkg/logger"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher reloads the config file through its Loader when the file changes
// and hands each valid result to the OnChange callbacks. The parent directory
// is watched so saves that replace the file are seen too.
type Watcher struct {
	mu         sync.RWMutex
	fs         *fsnotify.Watcher
	loader     *Loader
	configPath string
	callbacks  []func(*Config)
	debounce   time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
	running    bool
	log        logger.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long the file must stay quiet before a reload.
// Non-positive values keep the default.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithWatcherLogger sets the logger for reload failures.
func WithWatcherLogger(l logger.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher creates a watcher for configPath. Nothing is watched until Watch.
func NewWatcher(configPath string, loader *Loader, opts ...WatcherOption) (*Watcher, error) {
	if configPath == "" {
		return nil, fmt.Errorf("config path is required for watching")
	}
	if loader == nil {
		loader = NewLoader()
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		fs:         fs,
		loader:     loader,
		configPath: filepath.Clean(configPath),
		debounce:   defaultDebounce,
		stopCh:     make(chan struct{}),
		log:        logger.Global(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.debounce = durationOrDefault(w.debounce, defaultDebounce)

	return w, nil
}

// Watch blocks until ctx is done or Stop is called. Bursts of file events
// collapse into one reload once the file has been quiet for the debounce
// period.
func (w *Watcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher is already running")
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	if _, err := os.Stat(w.configPath); err != nil {
		return fmt.Errorf("watch config file: %w", err)
	}
	if err := w.fs.Add(filepath.Dir(w.configPath)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.configPath), err)
	}

	var reload <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-w.stopCh:
			return nil

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if w.touchesConfig(ev) {
				reload = time.After(w.debounce)
			}

		case <-reload:
			reload = nil
			w.reloadConfig(ctx)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("config watcher error", "path", w.configPath, "error", err)
		}
	}
}

func (w *Watcher) touchesConfig(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.configPath {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}

// reloadConfig loads the file again and runs the callbacks in registration
// order. An invalid file keeps the previous configuration.
func (w *Watcher) reloadConfig(ctx context.Context) {
	cfg, err := w.loader.Reload(w.configPath)
	if err != nil {
		w.log.WarnContext(ctx, "config reload failed, keeping previous configuration",
			"path", w.configPath, "error", err)
		return
	}

	w.mu.RLock()
	callbacks := append(([]func(*Config))(nil), w.callbacks...)
	w.mu.RUnlock()

	for _, cb := range callbacks {
		w.notify(cb, cfg)
	}
}

func (w *Watcher) notify(cb func(*Config), cfg *Config) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("config callback panic", "path", w.configPath, "panic", r)
		}
	}()
	cb(cfg)
}

// OnChange registers a callback for every successful reload.
func (w *Watcher) OnChange(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Stop ends Watch and releases the fsnotify handle.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		err = w.fs.Close()
	})
	return err
}

// IsRunning reports whether Watch is active.
func (w *Watcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// ConfigPath returns the watched file.
func (w *Watcher) ConfigPath() string {
	return w.configPath
}

// HotReloadableConfig contains configuration values that take effect without a restart.
type HotReloadableConfig struct {
	LogLevel           string
	ExecutorMaxRetries int
	ExecutorRateLimit  RateLimitConfig
}

// ExtractHotReloadable extracts hot-reloadable values from Config.
func ExtractHotReloadable(cfg *Config) HotReloadableConfig {
	return HotReloadableConfig{
		LogLevel:           cfg.Log.Level,
		ExecutorMaxRetries: cfg.Executor.MaxRetries,
		ExecutorRateLimit:  cfg.Executor.RateLimit,
	}
}

// Changed checks if hot-reloadable configuration has changed.
func (h HotReloadableConfig) Changed(other HotReloadableConfig) bool {
	return h != other
}
