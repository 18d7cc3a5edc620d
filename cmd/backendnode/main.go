// Command backendnode hosts one local search backend and serves it over the
// JSON-over-TCP RPC layer, so catalog servers of type "remote" can point at
// it. The search API and task worker talk to it exactly as they would to an
// in-process backend.
//
// Usage:
//
//	go run ./cmd/backendnode [-config configs/development.yaml] -backend bleve -path data/node
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/backend/registry"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/backend/remote"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/middleware"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	backendType := flag.String("backend", catalog.BackendBleve, "backend to host: memory, bleve or sqlite")
	path := flag.String("path", "data/node", "index path of the bleve or sqlite backend")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *backendType == catalog.BackendRemote {
		fmt.Fprintln(os.Stderr, "a backend node cannot host a remote backend")
		os.Exit(1)
	}

	logger.Setup("backendnode", cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting backend node", "backend", *backendType, "path", *path, "rpc_addr", cfg.RPC.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	factory := registry.DefaultFactory(registry.FactoryOptions{
		DataDir:           cfg.Catalog.DataDir,
		SQLiteBusyTimeout: cfg.SQLite.BusyTimeout,
	})
	b, err := factory(ctx, &catalog.Server{
		ID:      "node",
		Enabled: true,
		Backend: catalog.BackendConfig{Type: *backendType, Path: *path},
	})
	if err != nil {
		slog.Error("failed to open backend", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	rpcServer := remote.NewServer(b)
	go func() {
		if err := rpcServer.Serve(cfg.RPC.Addr); err != nil {
			slog.Error("rpc server error", "error", err)
			stop()
		}
	}()
	defer rpcServer.Stop()
	slog.Info("backend node serving", "methods", rpcServer.MethodCount())

	checker := health.NewChecker()
	checker.Register("backend", func(ctx context.Context) health.ComponentHealth {
		return health.ComponentHealth{Status: health.StatusUp, Message: *backendType}
	})

	r := mux.NewRouter()
	r.HandleFunc("/health/live", checker.LiveHandler()).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", checker.ReadyHandler()).Methods(http.MethodGet)

	if err := bootstrap.Serve(ctx, cfg, "backend node", middleware.RequestID(r)); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("backend node stopped")
}
