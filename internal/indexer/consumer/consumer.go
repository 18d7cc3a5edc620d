// Package consumer reads item events from Kafka and keeps every index that
// lists the item's datasource up to date.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/tasks"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/logger"
)

// Submitter runs a backend operation now or queues it. tasks.Manager
// implements it.
type Submitter interface {
	Submit(ctx context.Context, serverID string, typ tasks.Type, indexID string, data any) error
}

// IndexLister returns the indexes that list items of a datasource.
type IndexLister func(datasource string) []*catalog.Index

// IndexConsumer wraps a Kafka consumer to drive the indexing pipeline.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// New creates an IndexConsumer backed by the given Kafka consumer.
func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// HandleMessage returns a Kafka MessageHandler for item events. Upserts are
// indexed right away; deletions go through submit so that a backend that is
// down gets them once it recovers. Undecodable events are logged and
// committed.
func HandleMessage(svc *indexer.Service, indexes IndexLister, submit Submitter) kafka.MessageHandler {
	log := slog.Default().With("component", "index-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[ingestion.ItemEvent](value)
		if err != nil {
			log.Error("failed to decode item event",
				"error", err,
				"key", string(key),
			)
			return nil
		}
		ctx = logger.With(ctx, "item_id", event.ItemID, "datasource", event.Datasource)
		targets := indexes(event.Datasource)
		log.Debug("processing item event",
			"item_id", event.ItemID,
			"op", event.Op,
			"indexes", len(targets),
		)

		switch event.Op {
		case ingestion.OpUpsert:
			if _, err := svc.IndexAll(ctx, targets, []string{event.ItemID}); err != nil {
				return fmt.Errorf("indexing item %s: %w", event.ItemID, err)
			}
		case ingestion.OpDelete:
			var errs []error
			for _, idx := range targets {
				if !idx.Enabled || idx.ReadOnly {
					continue
				}
				if err := submit.Submit(ctx, idx.ServerID, tasks.TypeDeleteItems, idx.ID, []string{event.ItemID}); err != nil {
					errs = append(errs, err)
				}
			}
			if err := errors.Join(errs...); err != nil {
				return fmt.Errorf("deleting item %s: %w", event.ItemID, err)
			}
		default:
			log.Warn("ignoring item event with unknown op", "op", event.Op, "item_id", event.ItemID)
			return nil
		}

		log.Info("item event applied",
			"item_id", event.ItemID,
			"op", event.Op,
			"indexes", len(targets),
		)
		return nil
	}
}
