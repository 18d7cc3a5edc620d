// Package publisher writes items to the content store and publishes item
// events to Kafka for downstream indexing.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/content"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchapi/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/kafka"
)

const (
	StatusAccepted = "ACCEPTED"
	StatusDeleted  = "DELETED"
)

// Publisher coordinates content persistence and Kafka event production.
type Publisher struct {
	store    content.Writer
	producer kafka.Publisher
	logger   *slog.Logger
}

// New creates a Publisher. producer may be nil when no indexer listens.
func New(store content.Writer, producer kafka.Publisher) *Publisher {
	return &Publisher{
		store:    store,
		producer: producer,
		logger:   slog.Default().With("component", "publisher"),
	}
}

// Upsert stores the item and announces the change. A publish failure is
// logged, not returned: the item is stored and can be reindexed later.
func (p *Publisher) Upsert(ctx context.Context, req *ingestion.ItemRequest) (*ingestion.ItemResponse, error) {
	it, err := req.Item()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	if err := p.store.UpsertItem(ctx, it); err != nil {
		return nil, fmt.Errorf("storing item: %w", err)
	}
	p.publish(ctx, ingestion.OpUpsert, it.Datasource, it.ID)
	return &ingestion.ItemResponse{ItemID: it.ID, Datasource: it.Datasource, Status: StatusAccepted}, nil
}

// Delete removes the item and announces the removal.
func (p *Publisher) Delete(ctx context.Context, datasource, id string) (*ingestion.ItemResponse, error) {
	if err := p.store.DeleteItem(ctx, datasource, id); err != nil {
		return nil, fmt.Errorf("deleting item: %w", err)
	}
	p.publish(ctx, ingestion.OpDelete, datasource, id)
	return &ingestion.ItemResponse{ItemID: id, Datasource: datasource, Status: StatusDeleted}, nil
}

func (p *Publisher) publish(ctx context.Context, op ingestion.Op, datasource, id string) {
	if p.producer == nil {
		return
	}
	event := kafka.Event{
		Key:  datasource + ":" + id,
		Type: op.EventType(),
		Value: ingestion.ItemEvent{
			Op:         op,
			Datasource: datasource,
			ItemID:     id,
			OccurredAt: time.Now().UTC(),
		},
	}
	if err := p.producer.Publish(ctx, event); err != nil {
		p.logger.Error("failed to publish item event, item will not be reindexed until the next change",
			"item_id", id,
			"datasource", datasource,
			"op", op,
			"error", err,
		)
	}
}
