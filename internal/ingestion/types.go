// Package ingestion defines the request/response types and Kafka event schemas
// used when items are written through the content API.
package ingestion

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/item"
)

// Op is the change an ItemEvent announces.
type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// EventType is the event-type header of an ItemEvent with this op.
func (o Op) EventType() string { return "item." + string(o) }

// ItemRequest is the JSON body accepted by POST /api/v1/items.
type ItemRequest struct {
	ID         string                 `json:"id"`
	Datasource string                 `json:"datasource"`
	Fields     map[string]*item.Field `json:"fields"`
}

// Item converts the request into a normalized item.
func (r *ItemRequest) Item() (*item.Item, error) {
	it := &item.Item{ID: r.ID, Datasource: r.Datasource, Fields: r.Fields}
	if it.Fields == nil {
		it.Fields = make(map[string]*item.Field)
	}
	if err := it.Normalize(); err != nil {
		return nil, err
	}
	return it, nil
}

// ItemResponse is returned to the caller after a change is stored.
type ItemResponse struct {
	ItemID     string `json:"item_id"`
	Datasource string `json:"datasource"`
	Status     string `json:"status"`
}

// ItemEvent is the Kafka message payload produced after an item change is
// persisted. Indexers reload the item from the content store, so the event
// carries no field values.
type ItemEvent struct {
	Op         Op        `json:"op"`
	Datasource string    `json:"datasource"`
	ItemID     string    `json:"item_id"`
	OccurredAt time.Time `json:"occurred_at"`
}
