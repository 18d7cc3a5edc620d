// Command indexer consumes item events and keeps every index listing the
// item's datasource up to date. Upserts are indexed immediately; deletions
// go through the task log so an unreachable server catches up on its next
// drain.
//
// Usage:
//
//	go run ./cmd/indexer [-config configs/development.yaml]
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

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/content"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/processor/builtin"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/tasks"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/tracing"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup("indexer", cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting indexer service", "catalog", cfg.Catalog.Path)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	shutdownMetrics := bootstrap.StartMetrics(cfg, "indexer")
	defer shutdownMetrics(context.Background())

	pg, err := bootstrap.Postgres(cfg)
	if err != nil {
		slog.Error("failed to open postgres", "error", err)
		os.Exit(1)
	}
	defer pg.Close()

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

	queryCache, redisClient, err := bootstrap.QueryCache(cfg, m)
	switch {
	case err != nil:
		slog.Warn("redis unavailable, indexed items will not evict cached results", "error", err)
	case redisClient != nil:
		defer redisClient.Close()
		bootstrap.EvictOnExecuted(manager, queryCache)
	}

	contentStore := content.NewPostgresStore(pg.DB)
	deps := builtin.Deps{
		Access:     contentStore,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Metrics:    m,
	}
	svc := indexer.NewService(reg, contentStore, deps,
		indexer.WithMetrics(m),
		indexer.WithTracer(tracing.New(cfg.Tracing)),
		indexer.WithEvicter(queryCache),
	)

	kafkaConsumer := kafka.NewGroupConsumer(
		cfg.Kafka,
		cfg.Kafka.Topics.ItemEvents,
		cfg.Kafka.ConsumerGroup,
		consumer.HandleMessage(svc, func(datasource string) []*catalog.Index {
			return reg.Catalog().IndexesOn(datasource)
		}, manager),
		kafka.WithEventTypes(ingestion.OpUpsert.EventType(), ingestion.OpDelete.EventType()),
	)
	indexConsumer := consumer.New(kafkaConsumer)

	slog.Info("indexer service ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.ItemEvents,
		"group", cfg.Kafka.ConsumerGroup,
	)

	if err := indexConsumer.Start(ctx); err != nil {
		slog.Error("consumer error", "error", err)
	}

	slog.Info("indexer service stopped")
}
