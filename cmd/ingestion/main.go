// Command ingestion starts the item ingestion HTTP service.
//
// The service accepts items via POST /api/v1/items and deletions via
// DELETE /api/v1/items/{id}?datasource=, stores the item in PostgreSQL and
// publishes an item event to Kafka for the indexer.
//
// Usage:
//
//	go run ./cmd/ingestion [-config configs/development.yaml]
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

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/content"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/middleware"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup("ingestion", cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting ingestion service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	shutdownMetrics := bootstrap.StartMetrics(cfg, "ingestion")
	defer shutdownMetrics(context.Background())

	pg, err := bootstrap.Postgres(cfg)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pg.Close()
	slog.Info("connected to postgres")

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.ItemEvents)
	defer producer.Close()
	slog.Info("kafka producer initialized", "topic", cfg.Kafka.Topics.ItemEvents)

	checker := health.NewChecker()
	checker.Register("postgres", health.FromPing(pg.Ping, true))

	pub := publisher.New(content.NewPostgresStore(pg.DB), producer)
	h := handler.New(pub)

	r := mux.NewRouter()
	h.Routes(r)
	r.HandleFunc("/health/live", checker.LiveHandler()).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", checker.ReadyHandler()).Methods(http.MethodGet)
	r.Use(middleware.Metrics(m))

	var chain http.Handler = r
	chain = middleware.Timeout(cfg.Server.RequestTimeout)(chain)
	chain = middleware.RequestID(chain)

	if err := bootstrap.Serve(ctx, cfg, "ingestion service", chain); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("ingestion service stopped")
}
