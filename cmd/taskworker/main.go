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
	"time"

	"github.com/gorilla/mux"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/tasks"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup("taskworker", cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting task worker",
		"store", cfg.Tasks.Store,
		"drain_interval", cfg.Tasks.DrainInterval,
		"concurrency", cfg.Tasks.Concurrency,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	shutdownMetrics := bootstrap.StartMetrics(cfg, "task-worker")
	defer shutdownMetrics(context.Background())

	var pg *postgres.Client
	if cfg.Tasks.Store == "postgres" {
		pg, err = bootstrap.Postgres(cfg)
		if err != nil {
			slog.Error("failed to open postgres", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
	}

	store, closeStore, err := bootstrap.TaskStore(ctx, cfg, pg)
	if err != nil {
		slog.Error("failed to open task store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	reg, err := bootstrap.Registry(cfg, m)
	if err != nil {
		slog.Error("failed to load catalog", "error", err)
		os.Exit(1)
	}
	defer reg.Close()

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.TaskEvents)
	defer producer.Close()
	manager := bootstrap.TaskManager(cfg, store, reg, m, tasks.WithNotifier(producer))

	checker := health.NewChecker()
	queryCache, redisClient, err := bootstrap.QueryCache(cfg, m)
	switch {
	case err != nil:
		slog.Warn("redis unavailable, drained tasks will not evict cached results", "error", err)
	case redisClient != nil:
		defer redisClient.Close()
		checker.Register("redis", health.FromPing(redisClient.Ping, false))
		bootstrap.EvictOnExecuted(manager, queryCache)
	}
	checker.Register("task_store", health.FromPing(store.Ping, true))
	reg.RegisterHealth(checker)

	go drainLoop(ctx, manager, cfg.Tasks.DrainInterval)

	r := mux.NewRouter()
	r.HandleFunc("/health/live", checker.LiveHandler()).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", checker.ReadyHandler()).Methods(http.MethodGet)
	tasks.NewHandler(manager).Routes(r)
	r.Use(middleware.Metrics(m))

	var chain http.Handler = r
	chain = middleware.Timeout(cfg.Server.RequestTimeout)(chain)
	chain = middleware.RequestID(chain)

	if err := bootstrap.Serve(ctx, cfg, "task worker", chain); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("task worker stopped")
}

// drainLoop drains every server once per interval. Failing servers keep
// their tasks and are retried on the next tick.
func drainLoop(ctx context.Context, manager *tasks.Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		report, err := manager.Drain(ctx)
		switch {
		case err != nil:
			slog.Error("drain failed", "error", err)
		case len(report.Executed) > 0 || report.AnyFailed():
			slog.Info("drain finished",
				"executed", len(report.Executed),
				"skipped", len(report.Skipped),
				"purged", report.Purged,
				"failing_servers", report.FailingServers,
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
