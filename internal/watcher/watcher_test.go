package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Aslarex/go-curl2/internal/config"
)

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestReloadIfChanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "max-concurrency: 10\n")

	var got []*config.Config
	w, err := NewWatcher(path, func(cfg *config.Config) { got = append(got, cfg) })
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.watcher.Close()

	if !w.reloadIfChanged() {
		t.Fatal("first reload skipped")
	}
	if w.reloadIfChanged() {
		t.Error("unchanged content reloaded")
	}

	writeConfig(t, path, "max-concurrency: 20\n")
	if !w.reloadIfChanged() {
		t.Fatal("changed content skipped")
	}
	if len(got) != 2 || got[1].MaxConcurrency != 20 || w.Config().MaxConcurrency != 20 {
		t.Errorf("callbacks = %d, latest = %+v", len(got), w.Config())
	}

	writeConfig(t, path, "cache:\n  backend: bogus\n")
	if w.reloadIfChanged() {
		t.Error("invalid config applied")
	}
	if w.Config().MaxConcurrency != 20 {
		t.Error("invalid config replaced the current one")
	}

	writeConfig(t, path, "")
	if w.reloadIfChanged() {
		t.Error("empty file applied")
	}
}

func TestWatcher_Events(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "max-concurrency: 10\n")

	reloaded := make(chan *config.Config, 4)
	w, err := NewWatcher(path, func(cfg *config.Config) { reloaded <- cfg })
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.debounce = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err = w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	writeConfig(t, filepath.Join(dir, "other.yaml"), "max-concurrency: 99\n")
	writeConfig(t, path, "max-concurrency: 42\n")

	select {
	case cfg := <-reloaded:
		if cfg.MaxConcurrency != 42 {
			t.Errorf("MaxConcurrency = %d", cfg.MaxConcurrency)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after write")
	}
}

func TestConfigChangeDetails(t *testing.T) {
	a := config.NewDefaultConfig()
	b := config.NewDefaultConfig()
	b.MaxConcurrency = 5
	b.Defaults.ProxyURL = "http://user:secret@p:1"
	details := configChangeDetails(a, b)
	if len(details) != 2 {
		t.Fatalf("details = %v", details)
	}
	if details[0] != "max-concurrency: 250 -> 5" {
		t.Errorf("first detail = %q", details[0])
	}
	if details[1] != "defaults.proxy-url: changed" {
		t.Errorf("proxy detail = %q", details[1])
	}
}
