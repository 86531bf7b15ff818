package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func tempManager(t *testing.T) *Manager {
	t.Helper()
	dir, err := os.MkdirTemp("", "rowboat-config")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return NewManagerAt(dir)
}

func TestLoadMissingFile(t *testing.T) {
	m := tempManager(t)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if *cfg != (Config{}) {
		t.Errorf("cfg = %+v, want zero value", cfg)
	}
	if m.Exists() {
		t.Error("Exists should be false before first save")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m := tempManager(t)
	want := &Config{
		Provider:             "anthropic",
		Model:                "claude-sonnet-4-20250514",
		APIKey:               "sk-test",
		DebugLevel:           "DEBUG",
		MaxSessionTurns:      40,
		CompressionThreshold: 0.8,
	}
	if err := m.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(m.Path())
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config perms = %o, want 0600", info.Mode().Perm())
	}

	got, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if *got != *want {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}

func TestSessionsDir(t *testing.T) {
	m := NewManagerAt("/tmp/rb")
	if m.SessionsDir() != filepath.Join("/tmp/rb", "sessions") {
		t.Errorf("SessionsDir = %q", m.SessionsDir())
	}
}

func TestWatcherFiresOnChange(t *testing.T) {
	m := tempManager(t)
	if err := m.Save(&Config{Model: "before"}); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var got *Config
	w, err := m.Watch(func(cfg *Config) {
		mu.Lock()
		got = cfg
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Stop()

	if err := m.Save(&Config{Model: "after"}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		reloaded := got != nil && got.Model == "after"
		mu.Unlock()
		if reloaded {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("watcher never delivered the reloaded config")
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	m := tempManager(t)

	fired := make(chan struct{}, 1)
	w, err := m.Watch(func(cfg *Config) {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(m.Dir(), "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-fired:
		t.Error("unrelated file should not trigger a reload")
	case <-time.After(800 * time.Millisecond):
	}
}
