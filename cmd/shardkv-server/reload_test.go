package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/yndnr/shardkv/internal/server/config"
	"github.com/yndnr/shardkv/internal/telemetry/logger"
)

type fakeTuner struct {
	calls        int
	sampleSize   int
	hotThreshold float64
}

func (f *fakeTuner) TuneSampler(sampleSize int, hotThreshold float64) {
	f.calls++
	f.sampleSize = sampleSize
	f.hotThreshold = hotThreshold
}

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestReloadAppliesTunables(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shardkv.yaml")
	writeConfig(t, path, "storage:\n  data_dir: "+dir+"\nlog:\n  level: info\n")

	cfg, err := config.Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	tuner := &fakeTuner{}
	r := newReloader(path, nil, cfg, tuner, logger.Discard())
	defer logger.SetLevel("info")

	writeConfig(t, path, "storage:\n  data_dir: "+dir+"\n  ttl_sample_size: 50\n  ttl_hot_threshold: 0.5\nlog:\n  level: debug\n")
	r.reload()

	if tuner.calls != 1 || tuner.sampleSize != 50 || tuner.hotThreshold != 0.5 {
		t.Fatalf("tuner = %+v", tuner)
	}
	if got := logger.GetLevel(); got != "debug" {
		t.Fatalf("log level = %q, want debug", got)
	}

	// Unchanged tunables are not reapplied.
	r.reload()
	if tuner.calls != 1 {
		t.Fatalf("tuner called %d times", tuner.calls)
	}
}

func TestReloadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shardkv.yaml")
	writeConfig(t, path, "storage:\n  data_dir: "+dir+"\n")

	cfg, err := config.Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	tuner := &fakeTuner{}
	r := newReloader(path, nil, cfg, tuner, logger.Discard())

	writeConfig(t, path, "storage:\n  data_dir: "+dir+"\n  ttl_sample_size: -3\n")
	r.reload()

	if tuner.calls != 0 {
		t.Fatal("invalid config was applied")
	}
	if r.current != cfg {
		t.Fatal("current config replaced by an invalid one")
	}
}

func TestReloadKeepsOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shardkv.yaml")
	writeConfig(t, path, "log:\n  level: info\n")

	overrides := map[string]any{"storage.data_dir": dir, "log.level": "warn"}
	cfg, err := config.Load(path, overrides)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	r := newReloader(path, overrides, cfg, &fakeTuner{}, logger.Discard())
	defer logger.SetLevel("info")

	writeConfig(t, path, "log:\n  level: debug\n")
	r.reload()
	if r.current.Log.Level != "warn" {
		t.Fatalf("log level = %q, flag override lost", r.current.Log.Level)
	}
}
