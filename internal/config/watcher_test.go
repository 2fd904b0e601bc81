package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cho1y0/neulbom/internal/config"
)

func writeConfig(t *testing.T, path, body string, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	// Force a distinct mtime; some filesystems only keep second precision.
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "neulbom.yaml")
	writeConfig(t, path, "server: {log_level: loud}\n", time.Now())
	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Fatal("expected error for invalid initial config")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "neulbom.yaml")
	base := time.Now().Add(-time.Minute)
	writeConfig(t, path, minimalYAML, base)

	var (
		mu    sync.Mutex
		diffs []config.ConfigDiff
	)
	changed := make(chan struct{}, 4)
	w, err := config.NewWatcher(path, func(d config.ConfigDiff, _ *config.Config) {
		mu.Lock()
		diffs = append(diffs, d)
		mu.Unlock()
		changed <- struct{}{}
	}, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeConfig(t, path, minimalYAML+"server: {log_level: debug}\n", base.Add(10*time.Second))

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("no change reported")
	}
	mu.Lock()
	d := diffs[0]
	mu.Unlock()
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("diff = %+v", d)
	}
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Errorf("Current log level = %s", w.Current().Server.LogLevel)
	}
}

func TestWatcher_IgnoresInvalidEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "neulbom.yaml")
	base := time.Now().Add(-time.Minute)
	writeConfig(t, path, minimalYAML, base)

	called := make(chan struct{}, 1)
	w, err := config.NewWatcher(path, func(config.ConfigDiff, *config.Config) {
		called <- struct{}{}
	}, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeConfig(t, path, "server: {mode: later}\n", base.Add(10*time.Second))

	select {
	case <-called:
		t.Fatal("callback ran for an invalid config")
	case <-time.After(200 * time.Millisecond):
	}
	if w.Current().Server.Mode != config.ModeSync {
		t.Errorf("Current mode = %s, want previous sync", w.Current().Server.Mode)
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "neulbom.yaml")
	writeConfig(t, path, minimalYAML, time.Now())
	w, err := config.NewWatcher(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
}

func TestWatcher_TouchWithoutEditIsQuiet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "neulbom.yaml")
	base := time.Now().Add(-time.Minute)
	writeConfig(t, path, minimalYAML, base)

	called := make(chan struct{}, 1)
	w, err := config.NewWatcher(path, func(config.ConfigDiff, *config.Config) {
		called <- struct{}{}
	}, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	touched := base.Add(10 * time.Second)
	if err := os.Chtimes(path, touched, touched); err != nil {
		t.Fatal(err)
	}
	select {
	case <-called:
		t.Fatal("callback ran for an unchanged file")
	case <-time.After(200 * time.Millisecond):
	}
}
