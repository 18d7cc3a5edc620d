// Package bootstrap opens the stores and collaborators the service binaries
// share, so each cmd/ main only wires what it serves.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/backend/registry"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/schema"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/tasks"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/searchapi/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/sqlite"
)

// Postgres opens the shared database with every migration applied.
func Postgres(cfg *config.Config) (*postgres.Client, error) {
	return postgres.New(cfg.Postgres, schema.Migrations()...)
}

// TaskStore opens the task log configured by tasks.store. pg may be nil when
// the log lives in SQLite. The returned close function releases only what
// TaskStore itself opened.
func TaskStore(ctx context.Context, cfg *config.Config, pg *postgres.Client) (*tasks.SQLStore, func() error, error) {
	switch cfg.Tasks.Store {
	case "postgres":
		if pg == nil {
			return nil, nil, errors.New("tasks.store is postgres but no database is open")
		}
		return tasks.NewPostgresStore(pg.DB), func() error { return nil }, nil
	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.SQLite.Path, cfg.SQLite.BusyTimeout, tasks.SQLiteSchema...)
		if err != nil {
			return nil, nil, err
		}
		return tasks.NewSQLiteStore(db), db.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown task store %q", cfg.Tasks.Store)
}

// Registry loads the catalog and builds a registry over it.
func Registry(cfg *config.Config, m *metrics.Metrics) (*registry.Registry, error) {
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}
	factory := registry.DefaultFactory(registry.FactoryOptions{
		DataDir:           cfg.Catalog.DataDir,
		RPCTimeout:        cfg.RPC.CallTimeout,
		SQLiteBusyTimeout: cfg.SQLite.BusyTimeout,
	})
	return registry.New(cat,
		registry.WithFactory(factory),
		registry.WithMetrics(m),
	), nil
}

// TaskManager builds a manager over store with the configured lock
// directory and concurrency.
func TaskManager(cfg *config.Config, store tasks.Store, reg *registry.Registry, m *metrics.Metrics, opts ...tasks.Option) *tasks.Manager {
	opts = append([]tasks.Option{
		tasks.WithMetrics(m),
		tasks.WithLockDir(cfg.Tasks.LockDir),
		tasks.WithConcurrency(cfg.Tasks.Concurrency),
	}, opts...)
	return tasks.NewManager(store, reg, opts...)
}

// QueryCache connects to the search result cache the services share
// through Redis. Both results are nil when caching is disabled.
func QueryCache(cfg *config.Config, m *metrics.Metrics) (*cache.QueryCache, *pkgredis.Client, error) {
	if cfg.Redis.CacheTTL <= 0 {
		return nil, nil, nil
	}
	client, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	return cache.New(client, cfg.Redis.CacheTTL, m), client, nil
}

// EvictOnExecuted drops the cached results of every index a task of mgr
// changed. Whichever process drains a server keeps the shared cache fresh.
func EvictOnExecuted(mgr *tasks.Manager, c *cache.QueryCache) {
	if c == nil {
		return
	}
	mgr.OnExecuted(func(t tasks.Task) { c.Evict(t.IndexID) })
}

// Serve runs srv until ctx is cancelled, then shuts it down gracefully
// within cfg.Server.ShutdownTimeout.
func Serve(ctx context.Context, cfg *config.Config, name string, handler http.Handler) error {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received", "service", name)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info(name+" listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartMetrics starts the metrics server when enabled and returns its
// shutdown function, which is a no-op otherwise.
func StartMetrics(cfg *config.Config, name string) func(context.Context) error {
	if !cfg.Metrics.Enabled {
		return func(context.Context) error { return nil }
	}
	return metrics.StartServer(cfg.Metrics.Port, name)
}
