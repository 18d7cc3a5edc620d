// Package indexer loads items from the content store, runs them through the
// index's processor pipeline and hands the result to the index's backend.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/backend"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/content"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/item"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/processor/builtin"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchapi/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/tracing"
)

const DefaultBatchSize = 100

// Resolver is the part of the backend registry the indexer needs.
type Resolver interface {
	Server(id string) (*catalog.Server, error)
	Index(id string) (*catalog.Index, error)
	Backend(ctx context.Context, serverID string) (backend.Backend, error)
}

// Evicter drops cached search results of an index.
// *cache.QueryCache implements it.
type Evicter interface {
	Evict(indexID string)
}

// PipelineBuilder builds the processor pipeline of an index.
type PipelineBuilder func(ctx context.Context, idx *catalog.Index) (*pipeline.Pipeline, error)

// Result summarizes one IndexItems call.
type Result struct {
	IndexID   string   `json:"index_id"`
	Requested int      `json:"requested"`
	Loaded    int      `json:"loaded"`
	Skipped   int      `json:"skipped"`
	Indexed   []string `json:"indexed"`
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithTracer logs sampled span trees of index passes.
func WithTracer(t *tracing.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithEvicter evicts an index's cached results after items were indexed
// into it.
func WithEvicter(e Evicter) Option {
	return func(s *Service) { s.evicter = e }
}

func WithPipelineBuilder(b PipelineBuilder) Option {
	return func(s *Service) { s.build = b }
}

type Service struct {
	resolver  Resolver
	loader    content.Loader
	build     PipelineBuilder
	metrics   *metrics.Metrics
	tracer    *tracing.Tracer
	evicter   Evicter
	batchSize int
	logger    *slog.Logger
}

// NewService wires the indexer. Pipelines are built with builtin.Build and
// deps unless WithPipelineBuilder overrides it.
func NewService(resolver Resolver, loader content.Loader, deps builtin.Deps, opts ...Option) *Service {
	s := &Service{
		resolver:  resolver,
		loader:    loader,
		batchSize: DefaultBatchSize,
		logger:    slog.Default().With("component", "indexer"),
	}
	s.build = func(ctx context.Context, idx *catalog.Index) (*pipeline.Pipeline, error) {
		return builtin.Build(ctx, idx, deps)
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = deps.Metrics
	}
	return s
}

// target resolves an index that may receive items.
func (s *Service) target(ctx context.Context, indexID string) (*catalog.Index, backend.Backend, error) {
	idx, err := s.resolver.Index(indexID)
	if err != nil {
		return nil, nil, err
	}
	if !idx.Enabled {
		return nil, nil, fmt.Errorf("%w: %s", apperrors.ErrIndexDisabled, idx.ID)
	}
	if idx.ReadOnly {
		return nil, nil, fmt.Errorf("%w: %s", apperrors.ErrReadOnlyIndex, idx.ID)
	}
	b, err := s.resolver.Backend(ctx, idx.ServerID)
	if err != nil {
		return nil, nil, err
	}
	return idx, b, nil
}

// IndexItems indexes the items with ids into indexID. Ids the content store
// does not know and items a processor removes are counted as skipped.
func (s *Service) IndexItems(ctx context.Context, indexID string, ids []string) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "index_items", logger.RequestID(ctx))
	defer s.tracer.Finish(span)
	span.SetAttr("index_id", indexID)
	span.SetAttr("requested", len(ids))

	res, err := s.indexItems(ctx, indexID, ids)
	if err != nil {
		span.RecordError(err)
	}
	return res, err
}

func (s *Service) indexItems(ctx context.Context, indexID string, ids []string) (*Result, error) {
	start := time.Now()
	res := &Result{IndexID: indexID, Requested: len(ids), Indexed: []string{}}
	idx, b, err := s.target(ctx, indexID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return res, nil
	}

	pl, err := s.build(ctx, idx)
	if err != nil {
		return nil, err
	}
	eff := pl.EffectiveIndex(idx)

	loadCtx, loadSpan := tracing.StartChildSpan(ctx, "load")
	items, err := s.loader.LoadItems(loadCtx, idx.Datasource.Type, ids)
	loadSpan.End()
	if err != nil {
		return nil, fmt.Errorf("loading items for %s: %w", idx.ID, err)
	}
	res.Loaded = len(items)

	set := item.NewSet()
	for _, it := range items {
		s.conform(eff, it)
		set.Add(it)
	}

	procCtx, procSpan := tracing.StartChildSpan(ctx, "process")
	err = pl.ProcessItems(procCtx, pl.NewRun(), set)
	procSpan.End()
	if err != nil {
		return nil, fmt.Errorf("processing items for %s: %w", idx.ID, err)
	}
	res.Skipped = len(ids) - set.Len()

	sendCtx, sendSpan := tracing.StartChildSpan(ctx, "backend")
	defer sendSpan.End()
	// Earlier batches stay indexed when a later one fails.
	defer s.evict(idx.ID, res)
	batch := set.Items()
	for len(batch) > 0 {
		n := min(s.batchSize, len(batch))
		done, err := b.IndexItems(sendCtx, eff, batch[:n])
		if err != nil {
			return nil, fmt.Errorf("indexing items into %s: %w", idx.ID, err)
		}
		res.Indexed = append(res.Indexed, done...)
		batch = batch[n:]
	}

	if s.metrics != nil {
		s.metrics.ItemsIndexedTotal.WithLabelValues(idx.ID).Add(float64(len(res.Indexed)))
		s.metrics.ItemsSkippedTotal.WithLabelValues(idx.ID).Add(float64(res.Skipped))
	}
	logger.FromContext(ctx).Info("items indexed",
		"index_id", idx.ID,
		"requested", res.Requested,
		"indexed", len(res.Indexed),
		"skipped", res.Skipped,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (s *Service) evict(indexID string, res *Result) {
	if s.evicter != nil && len(res.Indexed) > 0 {
		s.evicter.Evict(indexID)
	}
}

// conform drops fields the index does not declare and applies the declared
// type and fulltext flag to the rest. Values that cannot take the declared
// type drop the field.
func (s *Service) conform(idx *catalog.Index, it *item.Item) {
	for name, f := range it.Fields {
		spec, ok := idx.Fields[name]
		if !ok {
			delete(it.Fields, name)
			continue
		}
		if f.Type != spec.Type {
			values := make([]any, 0, len(f.Values))
			for _, v := range f.Values {
				nv, err := item.NormalizeValue(spec.Type, v)
				if err != nil {
					s.logger.Warn("dropping field with values of the wrong type",
						"index_id", idx.ID, "item_id", it.ID, "field", name, "error", err)
					values = nil
					break
				}
				values = append(values, nv)
			}
			if values == nil {
				delete(it.Fields, name)
				continue
			}
			f.Values = values
		}
		f.Name = name
		f.Type = spec.Type
		f.Fulltext = spec.Fulltext
	}
}

// IndexAll indexes ids into each enabled, writable index of indexes whose
// server is enabled.
// Failures of one index do not stop the others; they are returned joined.
func (s *Service) IndexAll(ctx context.Context, indexes []*catalog.Index, ids []string) ([]*Result, error) {
	var (
		out  []*Result
		errs []error
	)
	for _, idx := range indexes {
		if !idx.Enabled || idx.ReadOnly {
			continue
		}
		if srv, err := s.resolver.Server(idx.ServerID); err == nil && !srv.Enabled {
			continue
		}
		res, err := s.IndexItems(ctx, idx.ID, ids)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, res)
	}
	return out, errors.Join(errs...)
}
