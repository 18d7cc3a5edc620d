// Package bleve stores each search index in its own bleve index, on disk
// under the server's path or in memory when no path is configured.
package bleve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/simple"
	"github.com/blevesearch/bleve/v2/mapping"
	bq "github.com/blevesearch/bleve/v2/search/query"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/backend"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/item"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchapi/pkg/errors"
)

type Backend struct {
	mu      sync.Mutex
	root    string
	indexes map[string]bleve.Index
	logger  *slog.Logger
}

var _ backend.Backend = (*Backend)(nil)

// New returns a backend rooted at dir. An empty dir keeps every index in
// memory.
func New(dir string) (*Backend, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating bleve root %s: %w", dir, err)
		}
	}
	return &Backend{
		root:    dir,
		indexes: make(map[string]bleve.Index),
		logger:  slog.Default().With("component", "bleve-backend"),
	}, nil
}

func (b *Backend) path(indexID string) string {
	return filepath.Join(b.root, indexID+".bleve")
}

func buildMapping(idx *catalog.Index) *mapping.IndexMappingImpl {
	doc := bleve.NewDocumentMapping()
	for name, spec := range idx.Fields {
		doc.AddFieldMappingsAt(name, fieldMapping(spec))
	}
	doc.AddFieldMappingsAt(item.AccessField, bleve.NewKeywordFieldMapping())

	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc
	im.DefaultAnalyzer = simple.Name
	return im
}

func fieldMapping(spec catalog.FieldSpec) *mapping.FieldMapping {
	switch spec.Type {
	case item.TypeInteger:
		return bleve.NewNumericFieldMapping()
	case item.TypeBoolean:
		return bleve.NewBooleanFieldMapping()
	case item.TypeDate:
		return bleve.NewDateTimeFieldMapping()
	}
	if !spec.Fulltext {
		return bleve.NewKeywordFieldMapping()
	}
	fm := bleve.NewTextFieldMapping()
	fm.Analyzer = simple.Name
	return fm
}

// open returns the index, opening it from disk when it exists there.
func (b *Backend) open(indexID string) (bleve.Index, error) {
	if ix, ok := b.indexes[indexID]; ok {
		return ix, nil
	}
	if b.root == "" {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrIndexNotFound, indexID)
	}
	ix, err := bleve.Open(b.path(indexID))
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrIndexNotFound, indexID)
	}
	if err != nil {
		return nil, fmt.Errorf("opening bleve index %s: %w", indexID, err)
	}
	b.indexes[indexID] = ix
	return ix, nil
}

func (b *Backend) create(idx *catalog.Index) error {
	m := buildMapping(idx)
	var (
		ix  bleve.Index
		err error
	)
	if b.root == "" {
		ix, err = bleve.NewMemOnly(m)
	} else {
		ix, err = bleve.New(b.path(idx.ID), m)
	}
	if err != nil {
		return fmt.Errorf("creating bleve index %s: %w", idx.ID, err)
	}
	b.indexes[idx.ID] = ix
	return nil
}

func (b *Backend) drop(indexID string) error {
	if ix, ok := b.indexes[indexID]; ok {
		if err := ix.Close(); err != nil {
			b.logger.Warn("closing bleve index", "index_id", indexID, "error", err)
		}
		delete(b.indexes, indexID)
	}
	if b.root == "" {
		return nil
	}
	if err := os.RemoveAll(b.path(indexID)); err != nil {
		return fmt.Errorf("removing bleve index %s: %w", indexID, err)
	}
	return nil
}

func (b *Backend) AddIndex(_ context.Context, idx *catalog.Index) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.open(idx.ID); err == nil {
		return nil
	} else if !errors.Is(err, apperrors.ErrIndexNotFound) {
		return err
	}
	return b.create(idx)
}

// UpdateIndex recreates the index when its field mapping changed. Items
// have to be indexed again afterwards.
func (b *Backend) UpdateIndex(ctx context.Context, idx *catalog.Index, prev *catalog.Index) error {
	if prev == nil || reflect.DeepEqual(prev.Fields, idx.Fields) {
		return b.AddIndex(ctx, idx)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.drop(idx.ID); err != nil {
		return err
	}
	b.logger.Warn("field mapping changed, index recreated", "index_id", idx.ID)
	return b.create(idx)
}

func (b *Backend) RemoveIndex(_ context.Context, indexID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drop(indexID)
}

func toDocument(it *item.Item) map[string]any {
	doc := make(map[string]any, len(it.Fields))
	for name, f := range it.Fields {
		switch len(f.Values) {
		case 0:
		case 1:
			doc[name] = f.Values[0]
		default:
			doc[name] = f.Values
		}
	}
	return doc
}

func (b *Backend) IndexItems(_ context.Context, idx *catalog.Index, items []*item.Item) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ix, err := b.open(idx.ID)
	if err != nil {
		return nil, err
	}
	batch := ix.NewBatch()
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if err := batch.Index(it.ID, toDocument(it)); err != nil {
			return nil, fmt.Errorf("indexing item %s: %w", it.ID, err)
		}
		ids = append(ids, it.ID)
	}
	if err := ix.Batch(batch); err != nil {
		return nil, fmt.Errorf("executing batch: %w", err)
	}
	return ids, nil
}

func (b *Backend) DeleteItems(_ context.Context, idx *catalog.Index, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ix, err := b.open(idx.ID)
	if errors.Is(err, apperrors.ErrIndexNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	batch := ix.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := ix.Batch(batch); err != nil {
		return fmt.Errorf("deleting items: %w", err)
	}
	return nil
}

// DeleteAllIndexItems recreates the index empty.
func (b *Backend) DeleteAllIndexItems(_ context.Context, idx *catalog.Index) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.open(idx.ID); errors.Is(err, apperrors.ErrIndexNotFound) {
		return nil
	}
	if err := b.drop(idx.ID); err != nil {
		return err
	}
	return b.create(idx)
}

func (b *Backend) Search(ctx context.Context, idx *catalog.Index, q *query.Query) (*query.Results, error) {
	b.mu.Lock()
	ix, err := b.open(idx.ID)
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	size := q.Limit
	if size <= 0 {
		n, err := ix.DocCount()
		if err != nil {
			return nil, fmt.Errorf("counting documents: %w", err)
		}
		size = int(n)
	}
	req := bleve.NewSearchRequestOptions(buildQuery(idx, q), size, q.Offset, false)
	res, err := ix.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve search: %w", err)
	}
	out := &query.Results{ResultCount: int(res.Total), Results: make([]query.Result, 0, len(res.Hits))}
	for _, hit := range res.Hits {
		out.Results = append(out.Results, query.Result{ID: hit.ID, Score: hit.Score})
	}
	return out, nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	for id, ix := range b.indexes {
		if err := ix.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", id, err))
		}
		delete(b.indexes, id)
	}
	return errors.Join(errs...)
}

func buildQuery(idx *catalog.Index, q *query.Query) bq.Query {
	fields := q.Fields
	if len(fields) == 0 {
		fields = idx.FulltextFields()
	}
	var parts []bq.Query
	if k := q.Keys; !k.Empty() {
		terms := make([]bq.Query, 0, len(k.Terms))
		for _, t := range k.Terms {
			terms = append(terms, termQuery(idx, fields, t))
		}
		if k.Conjunction == query.OR {
			parts = append(parts, bleve.NewDisjunctionQuery(terms...))
		} else {
			parts = append(parts, bleve.NewConjunctionQuery(terms...))
		}
	}
	if k := q.Keys; k != nil && len(k.Negated) > 0 {
		neg := bleve.NewBooleanQuery()
		neg.AddMust(bleve.NewMatchAllQuery())
		for _, t := range k.Negated {
			neg.AddMustNot(termQuery(idx, fields, t))
		}
		parts = append(parts, neg)
	}
	if f := groupQuery(q.Filter); f != nil {
		parts = append(parts, f)
	}
	if len(parts) == 0 {
		return bleve.NewMatchAllQuery()
	}
	return bleve.NewConjunctionQuery(parts...)
}

// termQuery matches term in any of fields, weighted by field boost.
func termQuery(idx *catalog.Index, fields []string, term string) bq.Query {
	per := make([]bq.Query, 0, len(fields))
	for _, f := range fields {
		mq := bleve.NewMatchQuery(term)
		mq.SetField(f)
		if boost := idx.Fields[f].Boost; boost > 0 {
			mq.SetBoost(boost)
		}
		per = append(per, mq)
	}
	return bleve.NewDisjunctionQuery(per...)
}

func groupQuery(g *query.ConditionGroup) bq.Query {
	if g == nil || len(g.Conditions)+len(g.Groups) == 0 {
		return nil
	}
	var parts []bq.Query
	for _, c := range g.Conditions {
		parts = append(parts, conditionQuery(c))
	}
	for _, sub := range g.Groups {
		if sq := groupQuery(sub); sq != nil {
			parts = append(parts, sq)
		}
	}
	if len(parts) == 0 {
		return nil
	}
	if g.Conjunction == query.OR {
		return bleve.NewDisjunctionQuery(parts...)
	}
	return bleve.NewConjunctionQuery(parts...)
}

func conditionQuery(c query.Condition) bq.Query {
	var match bq.Query
	switch v := c.Value.(type) {
	case bool:
		bf := bleve.NewBoolFieldQuery(v)
		bf.SetField(c.Field)
		match = bf
	case int64, int, float64:
		n := toFloat(v)
		inclusive := true
		nq := bleve.NewNumericRangeInclusiveQuery(&n, &n, &inclusive, &inclusive)
		nq.SetField(c.Field)
		match = nq
	default:
		tq := bleve.NewTermQuery(fmt.Sprint(v))
		tq.SetField(c.Field)
		match = tq
	}
	if c.Operator != query.OpNotEqual {
		return match
	}
	neg := bleve.NewBooleanQuery()
	neg.AddMust(bleve.NewMatchAllQuery())
	neg.AddMustNot(match)
	return neg
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case float64:
		return n
	}
	return 0
}
