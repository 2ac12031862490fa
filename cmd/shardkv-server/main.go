package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/shardkv/internal/infra/buildinfo"
	"github.com/yndnr/shardkv/internal/infra/confloader"
	"github.com/yndnr/shardkv/internal/infra/shutdown"
	"github.com/yndnr/shardkv/internal/infra/tlsroots"
	"github.com/yndnr/shardkv/internal/server/config"
	"github.com/yndnr/shardkv/internal/storage"
	"github.com/yndnr/shardkv/internal/telemetry/logger"
	"github.com/yndnr/shardkv/internal/telemetry/metric"
)

func main() {
	app := &cli.App{
		Name:    "shardkv-server",
		Usage:   "sharded in-memory key-value engine",
		Version: buildinfo.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "configuration file", EnvVars: []string{"SHARDKV_CONFIG"}},
			&cli.StringFlag{Name: "data-dir", Usage: "override storage.data_dir"},
			&cli.StringFlag{Name: "admin-addr", Usage: "override admin.addr"},
			&cli.StringFlag{Name: "wal-mode", Usage: "override storage.wal_mode (sync, async, off)"},
			&cli.StringFlag{Name: "log-level", Usage: "override log.level"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// flagOverrides maps set flags to config keys.
func flagOverrides(c *cli.Context) map[string]any {
	keys := map[string]string{
		"data-dir":   "storage.data_dir",
		"admin-addr": "admin.addr",
		"wal-mode":   "storage.wal_mode",
		"log-level":  "log.level",
	}
	out := make(map[string]any)
	for flag, key := range keys {
		if c.IsSet(flag) {
			out[key] = c.String(flag)
		}
	}
	return out
}

func run(c *cli.Context) error {
	configFile := c.String("config")
	overrides := flagOverrides(c)

	cfg, err := config.Load(configFile, overrides)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.LoggerConfig(os.Stderr))
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.SetDefault(log)

	info := buildinfo.Get()
	log.Info("starting shardkv-server",
		"version", info.Version,
		"commit", info.Commit,
		"go_version", info.GoVersion,
		"config", configFile,
	)

	reg := metric.NewRegistry()
	storageCfg := cfg.StorageConfig(log.With("component", "storage"))
	storageCfg.Observer = reg
	storageCfg.WAL.Observer = reg
	storageCfg.WAL.Logger = log.With("component", "wal")
	storageCfg.Snapshot.Logger = log.With("component", "snapshot")

	engine, err := storage.Open(c.Context, storageCfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	reg.MustRegister(metric.NewCollector(engine.Stats))

	shutdownHandler := shutdown.NewHandler(cfg.Admin.ShutdownTimeout, log)
	// Registered first so it stops last.
	shutdownHandler.OnShutdown("storage", engine.Close)

	watcher, err := confloader.NewWatcher(confloader.WithWatcherLogger(log.With("component", "watcher")))
	if err != nil {
		return errors.Join(fmt.Errorf("create watcher: %w", err), shutdownHandler.Run("startup failed"))
	}
	shutdownHandler.OnShutdown("watcher", func(context.Context) error { return watcher.Close() })

	if configFile != "" {
		r := newReloader(configFile, overrides, cfg, engine, log)
		if err := r.watch(watcher); err != nil {
			log.Warn("config hot reload disabled", "path", configFile, "error", err)
		}
	}
	go func() {
		if err := watcher.Run(context.Background()); err != nil {
			log.Warn("watcher stopped", "error", err)
		}
	}()

	if _, err := startAdmin(cfg, engine, reg.Handler(), watcher, shutdownHandler, log); err != nil {
		return errors.Join(err, shutdownHandler.Run("startup failed"))
	}

	log.Info("server started",
		"keys", engine.Len(),
		"shard_count", cfg.Storage.ShardCount,
		"wal_mode", cfg.Storage.WALMode,
	)
	if err := shutdownHandler.Wait(c.Context); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

// adminTLS loads the admin certificate and keeps it fresh through watcher.
// It returns nil when TLS is off.
func adminTLS(cfg *config.ServerConfig, watcher *confloader.Watcher, log *slog.Logger) (*tls.Config, error) {
	if !cfg.Admin.TLSEnabled() {
		return nil, nil
	}
	kp, err := tlsroots.LoadKeypair(cfg.Admin.TLSCertFile, cfg.Admin.TLSKeyFile, log.With("component", "tls"))
	if err != nil {
		return nil, err
	}
	if err := kp.Watch(watcher); err != nil {
		log.Warn("certificate reload disabled", "error", err)
	}

	var clientCAs *x509.CertPool
	if cfg.Admin.TLSClientCA != "" {
		clientCAs, err = tlsroots.LoadPool(cfg.Admin.TLSClientCA)
		if err != nil {
			return nil, fmt.Errorf("load client CA: %w", err)
		}
	}
	return tlsroots.ServerConfig(kp, clientCAs), nil
}
