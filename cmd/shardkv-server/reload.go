package main

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/yndnr/shardkv/internal/infra/confloader"
	"github.com/yndnr/shardkv/internal/server/config"
	"github.com/yndnr/shardkv/internal/telemetry/logger"
)

type samplerTuner interface {
	TuneSampler(sampleSize int, hotThreshold float64)
}

// reloader applies config file edits to the running server.
type reloader struct {
	path      string
	overrides map[string]any
	engine    samplerTuner
	logger    *slog.Logger

	mu      sync.Mutex
	current *config.ServerConfig
}

func newReloader(path string, overrides map[string]any, cfg *config.ServerConfig, engine samplerTuner, log *slog.Logger) *reloader {
	return &reloader{
		path:      path,
		overrides: overrides,
		engine:    engine,
		logger:    log,
		current:   cfg,
	}
}

func (r *reloader) watch(w *confloader.Watcher) error {
	if err := w.Watch(r.path); err != nil {
		return err
	}
	abs, err := filepath.Abs(r.path)
	if err != nil {
		return err
	}
	w.OnChange(func(changed string) {
		if changed == abs {
			r.reload()
		}
	})
	return nil
}

// reload rereads the file. An invalid file leaves the running settings
// untouched.
func (r *reloader) reload() {
	next, err := config.Load(r.path, r.overrides)
	if err != nil {
		r.logger.Error("config reload rejected", "path", r.path, "error", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Tunables()
	t := next.Tunables()
	if t.LogLevel != prev.LogLevel {
		logger.SetLevel(t.LogLevel)
	}
	if t.TTLSampleSize != prev.TTLSampleSize || t.TTLHotThreshold != prev.TTLHotThreshold {
		r.engine.TuneSampler(t.TTLSampleSize, t.TTLHotThreshold)
	}
	if keys := r.current.RestartRequired(next); len(keys) > 0 {
		r.logger.Warn("config changes need a restart to take effect", "keys", keys)
	}
	r.logger.Info("config reloaded",
		"path", r.path,
		"log_level", t.LogLevel,
		"ttl_sample_size", t.TTLSampleSize,
		"ttl_hot_threshold", t.TTLHotThreshold,
	)
	r.current = next
}
