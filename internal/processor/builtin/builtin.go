// Package builtin builds the processor pipeline configured on an index.
package builtin

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/content"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/processor"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/processor/nodeaccess"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/processor/stopwords"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/processor/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/metrics"
)

// Deps are the collaborators processors may need.
type Deps struct {
	Access     content.AccessStore
	HTTPClient *http.Client
	Metrics    *metrics.Metrics
}

// Build constructs and validates the enabled processors of idx. Processors
// that do not apply to the index's datasource are left out.
func Build(ctx context.Context, idx *catalog.Index, deps Deps) (*pipeline.Pipeline, error) {
	var procs []processor.Processor
	for _, cfg := range idx.Processors {
		if !cfg.Enabled {
			continue
		}
		p, err := build(idx, cfg, deps)
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", idx.ID, err)
		}
		if p != nil {
			procs = append(procs, p)
		}
	}

	var opts []pipeline.Option
	if deps.Metrics != nil {
		opts = append(opts, pipeline.WithMetrics(deps.Metrics))
	}
	pl := pipeline.New(procs, opts...)
	if err := pl.Validate(ctx); err != nil {
		return nil, fmt.Errorf("index %s: %w", idx.ID, err)
	}
	return pl, nil
}

func build(idx *catalog.Index, cfg catalog.ProcessorConfig, deps Deps) (processor.Processor, error) {
	switch cfg.ID {
	case tokenizer.ID:
		return tokenizer.FromConfig(cfg.Options, cfg.Weight)
	case stopwords.ID:
		return stopwords.FromConfig(cfg.Options, cfg.Weight, deps.HTTPClient)
	case nodeaccess.ID:
		if !nodeaccess.Applicable(idx) {
			slog.Default().With("component", "processors").Warn("node access enabled on a datasource without node grants, skipping",
				"index_id", idx.ID, "datasource", idx.Datasource.Type)
			return nil, nil
		}
		weight := nodeaccess.DefaultWeight
		if cfg.Weight != nil {
			weight = *cfg.Weight
		}
		return nodeaccess.New(deps.Access, weight), nil
	}
	return nil, &processor.ConfigError{Processor: cfg.ID, Err: fmt.Errorf("unknown processor")}
}

// IDs lists the processors Build knows.
func IDs() []string {
	return []string{nodeaccess.ID, stopwords.ID, tokenizer.ID}
}
