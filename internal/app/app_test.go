package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/iabetor/pivox/internal/config"
	"github.com/iabetor/pivox/internal/engine"
	"github.com/iabetor/pivox/internal/ort"
	"github.com/iabetor/pivox/internal/sample"
)

var cpuOnly = Options{Runtime: ort.Options{Probe: func() (ort.SupportedDevices, error) {
	return ort.SupportedDevices{CPU: true}, nil
}}}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Engine.DictDir = filepath.Join(dir, "dict")
	cfg.Engine.ModelDir = filepath.Join(dir, "models")
	cfg.Cache.Path = filepath.Join(dir, "cache.db")
	if err := sample.WriteDictionary(cfg.Engine.DictDir); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(cfg.Engine.ModelDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := sample.WriteModel(filepath.Join(cfg.Engine.ModelDir, "a.vvm"), sample.DefaultModel()); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestStartLoadsModelDir(t *testing.T) {
	cfg := testConfig(t)
	extra := filepath.Join(t.TempDir(), "b.vvm")
	if err := sample.WriteModel(extra, sample.Model{Styles: []uint32{7}}); err != nil {
		t.Fatal(err)
	}
	cfg.Engine.Models = []string{extra}

	a, err := New(cfg, cpuOnly)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	if a.Cache() != nil {
		t.Error("cache should be nil when disabled")
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if got := a.Engine().State(); got != engine.StateModelLoaded {
		t.Errorf("state = %v", got)
	}
	if got := len(a.Engine().Models()); got != 2 {
		t.Errorf("models = %d, want 2", got)
	}
	if a.Watcher() == nil || len(a.Watcher().Loaded()) != 1 {
		t.Error("model dir should be scanned")
	}
}

func TestStartErrors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Engine.DictDir = ""
	a, err := New(cfg, cpuOnly)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	if err := a.Start(context.Background()); err == nil {
		t.Error("expected error without dict_dir")
	}

	cfg = testConfig(t)
	cfg.Engine.Models = []string{filepath.Join(t.TempDir(), "missing.vvm")}
	a, err = New(cfg, cpuOnly)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	if err := a.Start(context.Background()); err == nil {
		t.Error("expected error for missing explicit model")
	}
}

func TestCacheEnabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Enabled = true
	cfg.Cache.MaxSizeMB = 1

	a, err := New(cfg, cpuOnly)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	if !a.Cache().Enabled() {
		t.Fatal("cache should be enabled")
	}
	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Engine().TTS(ctx, "こんにちは", 0, true); err != nil {
		t.Fatal(err)
	}
	stats, err := a.Cache().Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Entries != 1 || stats.MaxSize != 1024*1024 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestWatchModels(t *testing.T) {
	cfg := testConfig(t)
	cfg.Engine.WatchModels = true
	a, err := New(cfg, cpuOnly)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := sample.WriteModel(filepath.Join(cfg.Engine.ModelDir, "c.vvm"), sample.Model{Styles: []uint32{9}}); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for len(a.Engine().Models()) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("new model was not loaded")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
