// Package backend defines the contract a search engine adapter fulfils.
// Every operation must be safe to repeat: the task queue re-delivers
// effects after a crash mid-drain.
package backend

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/item"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/query"
)

type Backend interface {
	AddIndex(ctx context.Context, idx *catalog.Index) error
	// UpdateIndex reconciles idx with the backend. prev is the index as it
	// was before the change, when known.
	UpdateIndex(ctx context.Context, idx *catalog.Index, prev *catalog.Index) error
	RemoveIndex(ctx context.Context, indexID string) error
	// IndexItems stores items and returns the ids that were indexed.
	IndexItems(ctx context.Context, idx *catalog.Index, items []*item.Item) ([]string, error)
	DeleteItems(ctx context.Context, idx *catalog.Index, ids []string) error
	DeleteAllIndexItems(ctx context.Context, idx *catalog.Index) error
	Search(ctx context.Context, idx *catalog.Index, q *query.Query) (*query.Results, error)
	Close() error
}

// Page applies offset and limit to an already ordered result slice.
func Page(results []query.Result, offset, limit int) []query.Result {
	if offset >= len(results) {
		return []query.Result{}
	}
	results = results[offset:]
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
