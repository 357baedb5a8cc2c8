package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
}

// startWatcher runs w.Watch until the test ends and waits for it to settle.
func startWatcher(t *testing.T, w *Watcher) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		w.Stop()
	})

	deadline := time.Now().Add(time.Second)
	for !w.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("watcher did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}
	// Let the directory watch register before the test touches files.
	time.Sleep(50 * time.Millisecond)
	return done
}

func levels(w *Watcher) <-chan string {
	ch := make(chan string, 8)
	w.OnChange(func(cfg *Config) { ch <- cfg.Log.Level })
	return ch
}

func expectLevel(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("reloaded log level = %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no reload with log level %q", want)
	}
}

func expectQuiet(t *testing.T, ch <-chan string, d time.Duration) {
	t.Helper()
	select {
	case got := <-ch:
		t.Fatalf("unexpected reload with log level %q", got)
	case <-time.After(d):
	}
}

func TestNewWatcher(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	w, err := NewWatcher(configPath+"/", nil, WithDebounce(100*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	if w.ConfigPath() != configPath {
		t.Errorf("ConfigPath() = %s, want %s", w.ConfigPath(), configPath)
	}
	if w.debounce != 100*time.Millisecond {
		t.Errorf("debounce = %v, want 100ms", w.debounce)
	}
	if w.loader == nil {
		t.Error("a nil loader must be replaced by a default one")
	}

	if _, err := NewWatcher("", NewLoader()); err == nil {
		t.Fatal("expected error for empty config path")
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, configPath, "log:\n  level: info\n")

	w, err := NewWatcher(configPath, NewLoader(), WithDebounce(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	ch := levels(w)
	startWatcher(t, w)

	writeConfig(t, configPath, "log:\n  level: debug\n")
	expectLevel(t, ch, "debug")
}

func TestWatcher_ReloadsOnReplace(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	writeConfig(t, configPath, "log:\n  level: info\n")

	w, err := NewWatcher(configPath, NewLoader(), WithDebounce(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	ch := levels(w)
	startWatcher(t, w)

	// Editors save by writing a sibling and renaming it over the original.
	tmp := filepath.Join(dir, ".config.yaml.swp")
	writeConfig(t, tmp, "log:\n  level: warn\n")
	if err := os.Rename(tmp, configPath); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	expectLevel(t, ch, "warn")

	// The watch survives the replacement.
	writeConfig(t, configPath, "log:\n  level: error\n")
	expectLevel(t, ch, "error")
}

func TestWatcher_CollapsesBursts(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, configPath, "log:\n  level: info\n")

	w, err := NewWatcher(configPath, NewLoader(), WithDebounce(150*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	ch := levels(w)
	startWatcher(t, w)

	writeConfig(t, configPath, "log:\n  level: debug\n")
	writeConfig(t, configPath, "log:\n  level: warn\n")
	writeConfig(t, configPath, "log:\n  level: error\n")

	expectLevel(t, ch, "error")
	expectQuiet(t, ch, 300*time.Millisecond)
}

func TestWatcher_IgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	writeConfig(t, configPath, "log:\n  level: info\n")

	w, err := NewWatcher(configPath, NewLoader(), WithDebounce(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	ch := levels(w)
	startWatcher(t, w)

	writeConfig(t, filepath.Join(dir, "other.yaml"), "log:\n  level: debug\n")
	expectQuiet(t, ch, 300*time.Millisecond)
}

func TestWatcher_Lifecycle(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, configPath, "app:\n  name: test\n")

	t.Run("stops on context cancel", func(t *testing.T) {
		w, err := NewWatcher(configPath, NewLoader())
		if err != nil {
			t.Fatalf("NewWatcher() error = %v", err)
		}
		defer w.Stop()

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- w.Watch(ctx) }()
		time.Sleep(50 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			if err != context.Canceled {
				t.Errorf("Watch() error = %v, want context.Canceled", err)
			}
		case <-time.After(time.Second):
			t.Error("watcher did not stop on context cancel")
		}
	})

	t.Run("rejects a second Watch", func(t *testing.T) {
		w, err := NewWatcher(configPath, NewLoader())
		if err != nil {
			t.Fatalf("NewWatcher() error = %v", err)
		}
		startWatcher(t, w)

		if err := w.Watch(context.Background()); err == nil {
			t.Error("expected error when starting a second watch")
		}
	})

	t.Run("Stop ends Watch", func(t *testing.T) {
		w, err := NewWatcher(configPath, NewLoader())
		if err != nil {
			t.Fatalf("NewWatcher() error = %v", err)
		}
		done := startWatcher(t, w)

		if err := w.Stop(); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Watch() error = %v after Stop", err)
			}
		case <-time.After(time.Second):
			t.Fatal("watcher did not stop")
		}
		if w.IsRunning() {
			t.Error("expected watcher to not be running after Stop")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		w, err := NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), NewLoader())
		if err != nil {
			t.Fatalf("NewWatcher() error = %v", err)
		}
		defer w.Stop()

		if err := w.Watch(context.Background()); err == nil {
			t.Error("expected error when watching a missing file")
		}
	})
}

func TestWatcher_CallbacksRunInOrder(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, configPath, "app:\n  name: ordered\n")

	w, err := NewWatcher(configPath, NewLoader())
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	var mu sync.Mutex
	var calls []string
	w.OnChange(func(cfg *Config) {
		mu.Lock()
		calls = append(calls, "first:"+cfg.App.Name)
		mu.Unlock()
		panic("callback failure")
	})
	w.OnChange(func(cfg *Config) {
		mu.Lock()
		calls = append(calls, "second:"+cfg.App.Name)
		mu.Unlock()
	})

	w.reloadConfig(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 2 || calls[0] != "first:ordered" || calls[1] != "second:ordered" {
		t.Fatalf("calls = %v", calls)
	}
}

func TestWatcher_ReloadKeepsOverrides(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, configPath, "log:\n  level: info\n")

	loader := NewLoader()
	if _, err := loader.Load(configPath, map[string]interface{}{"log.format": "text"}); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	w, err := NewWatcher(configPath, loader)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	var got *Config
	w.OnChange(func(cfg *Config) { got = cfg })
	writeConfig(t, configPath, "log:\n  level: debug\n  format: json\n")
	w.reloadConfig(context.Background())

	if got == nil || got.Log.Level != "debug" || got.Log.Format != "text" {
		t.Fatalf("reloaded log config = %+v", got)
	}
}

func TestWatcher_InvalidReloadSkipsCallbacks(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, configPath, "log:\n  level: loud\n")

	w, err := NewWatcher(configPath, NewLoader(), WithDebounce(0))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	if w.debounce != defaultDebounce {
		t.Errorf("expected non-positive debounce to fall back to %v, got %v", defaultDebounce, w.debounce)
	}

	called := false
	w.OnChange(func(*Config) { called = true })
	w.reloadConfig(context.Background())
	if called {
		t.Error("callback must not run when the reloaded config is invalid")
	}
}

func TestHotReloadableConfig(t *testing.T) {
	t.Run("ExtractHotReloadable", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Log.Level = "debug"
		cfg.Executor.MaxRetries = 3
		cfg.Executor.RateLimit.Enabled = true

		hot := ExtractHotReloadable(cfg)

		if hot.LogLevel != "debug" {
			t.Errorf("expected log level 'debug', got '%s'", hot.LogLevel)
		}
		if hot.ExecutorMaxRetries != 3 {
			t.Errorf("expected max retries 3, got %d", hot.ExecutorMaxRetries)
		}
		if !hot.ExecutorRateLimit.Enabled {
			t.Error("expected rate limit enabled")
		}
	})

	t.Run("Changed detects differences", func(t *testing.T) {
		h1 := ExtractHotReloadable(DefaultConfig())

		h2 := h1
		if h1.Changed(h2) {
			t.Error("expected no change detected")
		}

		h2.LogLevel = "debug"
		if !h1.Changed(h2) {
			t.Error("expected change detected for log level")
		}

		h3 := h1
		h3.ExecutorRateLimit.Burst++
		if !h1.Changed(h3) {
			t.Error("expected change detected for rate limit burst")
		}
	})
}
