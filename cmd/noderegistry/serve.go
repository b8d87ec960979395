package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/zero-day-ai/noderegistry/config"
	"github.com/zero-day-ai/noderegistry/health"
	"github.com/zero-day-ai/noderegistry/registry"
	"github.com/zero-day-ai/noderegistry/serve"
	"github.com/zero-day-ai/noderegistry/store"
	"github.com/zero-day-ai/noderegistry/store/etcdstore"
	"github.com/zero-day-ai/noderegistry/store/filestore"
	"github.com/zero-day-ai/noderegistry/store/redisstore"
	"github.com/zero-day-ai/noderegistry/store/sqlitestore"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the registry daemon",
		Long: `Run the registry daemon and serve it over gRPC until SIGINT or SIGTERM.

Examples:
  # In-memory registry on the default port
  noderegistry serve

  # Persist to a YAML snapshot
  noderegistry serve --store file --store-path /var/lib/noderegistry

  # Share state between daemons through redis
  NODEREGISTRY_STORE_TYPE=redis noderegistry serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			logger, err := a.logger()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), a.cfg, logger)
		},
	}

	flags := cmd.Flags()
	flags.Int("port", 0, "gRPC port")
	flags.String("store", "", "store type (memory, file, sqlite, redis, etcd)")
	flags.String("store-path", "", "snapshot file or sqlite database path")
	flags.Bool("detect-cycles", false, "reject parent assignments that close a cycle")

	_ = a.v.BindPFlag("server.port", flags.Lookup("port"))
	_ = a.v.BindPFlag("store.type", flags.Lookup("store"))
	_ = a.v.BindPFlag("store.path", flags.Lookup("store-path"))
	_ = a.v.BindPFlag("registry.detect_cycles", flags.Lookup("detect-cycles"))

	return cmd
}

func runServe(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	st, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("closing store failed", "error", err)
		}
	}()

	opts := []registry.Option{
		registry.WithLogger(logger),
		registry.WithCycleDetection(cfg.Registry.DetectCycles),
	}
	if st != nil {
		opts = append(opts, registry.WithStore(st))
	}
	reg, err := registry.New(opts...)
	if err != nil {
		return fmt.Errorf("creating registry: %w", err)
	}
	if err := reg.Reload(ctx); err != nil {
		return fmt.Errorf("loading registry state: %w", err)
	}
	logger.Info("registry loaded",
		"store", cfg.Store.GetType(), "nodes", len(reg.ListNodes(ctx)), "revision", reg.Revision())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if w, ok := st.(store.Watcher); ok {
		go followStore(ctx, w, reg, logger)
	}

	srv, err := serve.NewServer(reg,
		serve.WithPort(cfg.Server.Port),
		serve.WithGracefulShutdown(cfg.Server.GetGracefulTimeout()),
		serve.WithTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile),
		serve.WithHealthInterval(cfg.Server.GetHealthInterval()),
		serve.WithHealthChecks(healthChecks(cfg.Store, st)...),
		serve.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// openStore builds the configured store. A nil store means in-memory only.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.GetType() {
	case config.StoreMemory:
		return nil, noop, nil

	case config.StoreFile:
		s, err := filestore.New(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil

	case config.StoreSQLite:
		s, err := sqlitestore.New(ctx, cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case config.StoreRedis:
		s, err := redisstore.New(redisstore.Options{
			URL:    cfg.Redis.URL,
			Prefix: cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case config.StoreEtcd:
		etcdCfg := etcdstore.Config{
			Endpoints:   cfg.Etcd.Endpoints,
			Namespace:   cfg.Etcd.Namespace,
			DialTimeout: cfg.Etcd.GetDialTimeout(),
		}
		if cfg.Etcd.TLS.Enabled {
			etcdCfg.TLS = &etcdstore.TLSConfig{
				Enabled:  true,
				CertFile: cfg.Etcd.TLS.CertFile,
				KeyFile:  cfg.Etcd.TLS.KeyFile,
				CAFile:   cfg.Etcd.TLS.CAFile,
			}
		}
		s, err := etcdstore.New(etcdCfg)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}

	return nil, nil, fmt.Errorf("unknown store type %q", cfg.Type)
}

func healthChecks(cfg config.StoreConfig, st store.Store) []health.Check {
	var pinger store.Pinger
	if p, ok := st.(store.Pinger); ok {
		pinger = p
	}
	checks := []health.Check{health.StoreCheck(pinger)}

	switch cfg.GetType() {
	case config.StoreFile:
		if fs, ok := st.(*filestore.Store); ok {
			checks = append(checks, health.FileCheck(filepath.Dir(fs.Path())))
		}
	case config.StoreSQLite:
		if cfg.Path != "" && cfg.Path != ":memory:" {
			checks = append(checks, health.FileCheck(cfg.Path))
		}
	}
	return checks
}

// followStore reloads the registry whenever another writer changes the
// store.
func followStore(ctx context.Context, w store.Watcher, reg *registry.Registry, logger *slog.Logger) {
	changes, err := w.Watch(ctx)
	if err != nil {
		logger.Warn("store watch unavailable, relying on reload before read", "error", err)
		return
	}

	for rev := range changes {
		if rev == reg.Revision() {
			continue
		}
		if err := reg.Reload(ctx); err != nil {
			logger.Warn("reload after store change failed", "revision", rev, "error", err)
			continue
		}
		logger.Debug("registry reloaded", "revision", rev)
	}
}
