package config_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/odvcencio/stepwise/pkg/config"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "stepwise.yaml")
	writeFile(t, path, "tools:\n  endpoints:\n    get_time: http://tools.local/time\n")

	changes := make(chan *config.Config, 4)
	w, err := config.NewWatcher(path, nil, func(cfg *config.Config) { changes <- cfg })
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	writeFile(t, path, "tools:\n  endpoints:\n    get_time: http://tools.local/time\n    web_search: http://tools.local/search\n")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if cfg.Tools.Endpoints["web_search"] == "http://tools.local/search" {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for reload with new endpoint")
		}
	}
}

func TestWatcherSkipsInvalidFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "stepwise.yaml")
	writeFile(t, path, "loop:\n  window: 5\n")

	changes := make(chan *config.Config, 4)
	w, err := config.NewWatcher(path, nil, func(cfg *config.Config) { changes <- cfg })
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	writeFile(t, path, "loop:\n  threshold: 99\n")

	select {
	case cfg := <-changes:
		t.Fatalf("invalid config should not be delivered: %+v", cfg.Loop)
	case <-time.After(700 * time.Millisecond):
	}
}

func TestWatcherStartFailureReleasesWatcher(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "missing", "stepwise.yaml")

	w, err := config.NewWatcher(path, nil, func(*config.Config) {})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(context.Background()); err == nil {
		t.Fatalf("expected Start to fail for a missing directory")
	}

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatalf("Stop blocked after a failed Start")
	}

	if err := w.Start(context.Background()); err == nil {
		t.Fatalf("expected restart of a released watcher to fail")
	}
}
