// Command analytics starts the standalone analytics aggregation service.
//
// It consumes search events and task log events from Kafka, aggregates them
// in memory (query volume, latency percentiles, cache hit rate, ignored
// words, drain outcomes), snapshots the aggregate to PostgreSQL and exposes
// GET /api/v1/analytics/stats and GET /api/v1/analytics/snapshots.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
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

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/analytics/snapshot"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/tasks"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/middleware"
)

const consumerGroup = "searchapi-analytics"

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup("analytics", cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting analytics service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	shutdownMetrics := bootstrap.StartMetrics(cfg, "analytics")
	defer shutdownMetrics(context.Background())

	aggregator := analytics.NewAggregator()
	aggregator.AddConsumer(kafka.NewGroupConsumer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents, consumerGroup, analytics.HandleSearchEvent(aggregator),
		kafka.WithEventTypes(analytics.EventTypeSearch)))
	aggregator.AddConsumer(kafka.NewGroupConsumer(cfg.Kafka, cfg.Kafka.Topics.TaskEvents, consumerGroup, analytics.HandleTaskEvent(aggregator),
		kafka.WithEventTypes(tasks.EventEnqueued, tasks.EventDrained)))

	go func() {
		if err := aggregator.Start(ctx); err != nil {
			slog.Error("aggregator error", "error", err)
		}
	}()
	slog.Info("analytics aggregator started",
		"search_topic", cfg.Kafka.Topics.AnalyticsEvents,
		"task_topic", cfg.Kafka.Topics.TaskEvents,
	)

	checker := health.NewChecker()

	var history analytics.History
	pg, err := bootstrap.Postgres(cfg)
	if err != nil {
		slog.Warn("postgres unavailable, analytics snapshots disabled", "error", err)
	} else {
		defer pg.Close()
		store := snapshot.NewStore(pg.DB)
		store.StartPeriodicSave(ctx, aggregator, cfg.Analytics.SnapshotInterval)
		checker.Register("postgres", health.FromPing(pg.Ping, false))
		history = store
	}

	r := mux.NewRouter()
	analytics.NewHandler(aggregator, history).Routes(r)
	r.HandleFunc("/health/live", checker.LiveHandler()).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", checker.ReadyHandler()).Methods(http.MethodGet)
	r.Use(middleware.Metrics(m))

	var chain http.Handler = r
	chain = middleware.Timeout(cfg.Server.RequestTimeout)(chain)
	chain = middleware.RequestID(chain)

	if err := bootstrap.Serve(ctx, cfg, "analytics service", chain); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("analytics service stopped")
}
