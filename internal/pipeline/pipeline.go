// Package pipeline runs an ordered set of processors over items at index
// time and over queries and results at search time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/item"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/processor"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/query"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/metrics"
)

// Pipeline is immutable after New and safe for concurrent runs.
type Pipeline struct {
	processors []processor.Processor
	metrics    *metrics.Metrics
}

type Option func(*Pipeline)

// WithMetrics records per-stage durations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New orders processors by ascending weight, ties broken by id.
func New(processors []processor.Processor, opts ...Option) *Pipeline {
	sorted := append([]processor.Processor(nil), processors...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Weight() != sorted[j].Weight() {
			return sorted[i].Weight() < sorted[j].Weight()
		}
		return sorted[i].ID() < sorted[j].ID()
	})
	p := &Pipeline{processors: sorted}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Processors returns the processors in execution order.
func (p *Pipeline) Processors() []processor.Processor {
	return append([]processor.Processor(nil), p.processors...)
}

// IDs returns processor ids in execution order.
func (p *Pipeline) IDs() []string {
	ids := make([]string, len(p.processors))
	for i, proc := range p.processors {
		ids[i] = proc.ID()
	}
	return ids
}

// NewRun starts a run. One run covers one index pass or one search.
func (p *Pipeline) NewRun() *processor.RunContext {
	return processor.NewRunContext()
}

// ProcessItems applies every processor, in order, to the items still in set.
// Item processors see the set first; field processors then rewrite each
// fulltext field of each remaining item. Items removed by a processor are
// not seen by later ones.
func (p *Pipeline) ProcessItems(ctx context.Context, rc *processor.RunContext, set *item.Set) error {
	defer p.observe("index", time.Now())
	for _, proc := range p.processors {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ip, ok := proc.(processor.ItemProcessor); ok {
			if err := ip.ProcessItems(ctx, rc, set); err != nil {
				return fmt.Errorf("processor %s: %w", proc.ID(), err)
			}
		}
		if fp, ok := proc.(processor.FieldProcessor); ok {
			set.Each(func(it *item.Item) {
				for _, name := range sortedFields(it) {
					if f := it.Fields[name]; f.Fulltext {
						fp.ProcessField(rc, f)
					}
				}
			})
		}
	}
	return nil
}

// PreprocessQuery resets the run's ignored words, then lets each processor
// rewrite q.
func (p *Pipeline) PreprocessQuery(ctx context.Context, rc *processor.RunContext, q *query.Query) error {
	defer p.observe("preprocess", time.Now())
	rc.ResetIgnored()
	for _, proc := range p.processors {
		if qp, ok := proc.(processor.QueryPreprocessor); ok {
			if err := qp.PreprocessQuery(ctx, rc, q); err != nil {
				return fmt.Errorf("processor %s: %w", proc.ID(), err)
			}
		}
	}
	return nil
}

// PostprocessResults lets each processor annotate res.
func (p *Pipeline) PostprocessResults(ctx context.Context, rc *processor.RunContext, q *query.Query, res *query.Results) {
	defer p.observe("postprocess", time.Now())
	for _, proc := range p.processors {
		if rp, ok := proc.(processor.ResultPostprocessor); ok {
			rp.PostprocessResults(ctx, rc, q, res)
		}
	}
}

// Validate checks every processor's configuration and returns all failures.
func (p *Pipeline) Validate(ctx context.Context) error {
	var errs []error
	for _, proc := range p.processors {
		if v, ok := proc.(processor.Validator); ok {
			if err := v.Validate(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// RequiredFields is the union of the fields processors need indexed.
func (p *Pipeline) RequiredFields(idx *catalog.Index) map[string]catalog.FieldSpec {
	out := make(map[string]catalog.FieldSpec)
	for _, proc := range p.processors {
		if fr, ok := proc.(processor.FieldRequirer); ok {
			for name, spec := range fr.RequiredFields(idx) {
				out[name] = spec
			}
		}
	}
	return out
}

// EffectiveIndex returns a copy of idx that also declares the fields
// processors require. A declared field keeps its type and boost but is
// always indexed once a processor requires it.
func (p *Pipeline) EffectiveIndex(idx *catalog.Index) *catalog.Index {
	c := idx.Clone()
	for name, spec := range p.RequiredFields(idx) {
		declared, ok := c.Fields[name]
		if !ok {
			c.Fields[name] = spec
			continue
		}
		declared.Indexed = true
		c.Fields[name] = declared
	}
	return c
}

func (p *Pipeline) observe(stage string, start time.Time) {
	if p.metrics == nil {
		return
	}
	p.metrics.ProcessorDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func sortedFields(it *item.Item) []string {
	names := make([]string, 0, len(it.Fields))
	for name := range it.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
