package cliconfig

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestWatcher_ReloadInvokesCallback(t *testing.T) {
	path := writeConfigFile(t, `
data_dir = "/var/lib/connectsync"
max_retries = 9
backoff_base = "2s"
`)

	var mu sync.Mutex
	var got *Config
	w := NewWatcher(path, DefaultConfig(), zerolog.Nop(), func(cfg Config) {
		mu.Lock()
		defer mu.Unlock()
		got = &cfg
	})

	w.reload()

	mu.Lock()
	defer mu.Unlock()
	if got == nil {
		t.Fatal("callback not invoked")
	}
	if got.MaxRetries != 9 {
		t.Errorf("MaxRetries = %v, want 9", got.MaxRetries)
	}
	if got.BackoffBase != 2*time.Second {
		t.Errorf("BackoffBase = %v, want 2s", got.BackoffBase)
	}
}

func TestWatcher_InvalidReloadKeepsCurrent(t *testing.T) {
	path := writeConfigFile(t, `backend = "redis"`)

	base := DefaultConfig()
	base.DataDir = "/var/lib/connectsync"

	called := false
	w := NewWatcher(path, base, zerolog.Nop(), func(Config) { called = true })
	w.reload()

	if called {
		t.Error("callback invoked for invalid config")
	}
}

func TestWatcher_PicksUpFileWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(`data_dir = "/var/lib/connectsync"`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var mu sync.Mutex
	reloads := 0
	w := NewWatcher(path, DefaultConfig(), zerolog.Nop(), func(Config) {
		mu.Lock()
		defer mu.Unlock()
		reloads++
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Give the watcher time to register before writing.
	time.Sleep(50 * time.Millisecond)
	content := []byte("data_dir = \"/var/lib/connectsync\"\nmax_retries = 4\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := reloads
		mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("reload callback never fired")
}
