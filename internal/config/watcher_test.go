package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mwolters/parlo/internal/config"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	// Push the mtime forward so coarse filesystem timestamp granularity
	// cannot mask the change from the watcher.
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "parlo.yaml")
	writeConfig(t, path, validYAML)

	w, err := config.NewWatcher(path, nil, config.WithInterval(time.Hour))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if got := w.Current().Server.ListenAddr; got != ":8080" {
		t.Errorf("initial config listen_addr: got %q", got)
	}
}

func TestWatcher_InitialLoadFailsOnInvalidConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "parlo.yaml")
	writeConfig(t, path, "server:\n  log_level: loud\n")

	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Error("invalid initial config must fail NewWatcher")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "parlo.yaml")
	writeConfig(t, path, validYAML)

	changed := make(chan *config.Config, 1)
	w, err := config.NewWatcher(path, func(_, new *config.Config) {
		changed <- new
	}, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeConfig(t, path, strings.Replace(validYAML, "rachel", "adam", 1))

	select {
	case cfg := <-changed:
		if cfg.Pipeline.Voice != "adam" {
			t.Errorf("reloaded voice: got %q", cfg.Pipeline.Voice)
		}
		if w.Current().Pipeline.Voice != "adam" {
			t.Error("Current() does not reflect the reloaded config")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not detect the change")
	}
}

func TestWatcher_KeepsOldConfigOnInvalidUpdate(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "parlo.yaml")
	writeConfig(t, path, validYAML)

	w, err := config.NewWatcher(path, nil, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeConfig(t, path, "session:\n  backend: etcd\n")

	// Give the watcher a few polling cycles to (not) pick up the bad file.
	time.Sleep(100 * time.Millisecond)

	if got := w.Current().Session.Backend; got != config.BackendMemory {
		t.Errorf("Current() changed to invalid config: backend %q", got)
	}
}
