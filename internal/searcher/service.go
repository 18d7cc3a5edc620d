// Package searcher runs a search through the index's processor pipeline,
// the result cache and the backend of the index's server.
package searcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/backend"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/processor/builtin"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/query"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/searcher/cache"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchapi/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/tracing"
)

const (
	DefaultLimit      = 10
	DefaultMaxResults = 100
)

// Resolver is the part of the backend registry the searcher needs.
type Resolver interface {
	Index(id string) (*catalog.Index, error)
	Backend(ctx context.Context, serverID string) (backend.Backend, error)
	Breaker(serverID string) *resilience.CircuitBreaker
}

// Tracker receives analytics events. *analytics.Collector implements it.
type Tracker interface {
	Track(event any)
}

// PipelineBuilder builds the processor pipeline of an index.
type PipelineBuilder func(ctx context.Context, idx *catalog.Index) (*pipeline.Pipeline, error)

// Response is a postprocessed result page.
type Response struct {
	*query.Results
	Query    string `json:"query"`
	CacheHit bool   `json:"cache_hit"`
	TookMs   int64  `json:"took_ms"`
}

type Option func(*Service)

func WithCache(c *cache.QueryCache) Option {
	return func(s *Service) { s.cache = c }
}

func WithTracker(t Tracker) Option {
	return func(s *Service) { s.tracker = t }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithTracer(t *tracing.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithLimits sets the page size used when a query names none and the
// largest page a query may ask for.
func WithLimits(defaultLimit, maxResults int) Option {
	return func(s *Service) {
		if defaultLimit > 0 {
			s.defaultLimit = defaultLimit
		}
		if maxResults > 0 {
			s.maxResults = maxResults
		}
	}
}

// WithBackendTimeout bounds each backend search call.
func WithBackendTimeout(d time.Duration) Option {
	return func(s *Service) { s.backendTimeout = d }
}

func WithPipelineBuilder(b PipelineBuilder) Option {
	return func(s *Service) { s.build = b }
}

type Service struct {
	resolver       Resolver
	build          PipelineBuilder
	cache          *cache.QueryCache
	tracker        Tracker
	metrics        *metrics.Metrics
	tracer         *tracing.Tracer
	defaultLimit   int
	maxResults     int
	backendTimeout time.Duration
	logger         *slog.Logger
}

func NewService(resolver Resolver, deps builtin.Deps, opts ...Option) *Service {
	s := &Service{
		resolver:     resolver,
		defaultLimit: DefaultLimit,
		maxResults:   DefaultMaxResults,
		logger:       slog.Default().With("component", "searcher"),
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

// Search runs q against its index. q is not modified.
func (s *Service) Search(ctx context.Context, q *query.Query) (*Response, error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "search", logger.RequestID(ctx))
	defer s.tracer.Finish(span)
	span.SetAttr("index_id", q.IndexID)

	resp, err := s.search(ctx, q.Clone())
	if err != nil {
		span.RecordError(err)
		s.observe(q.IndexID, "error", 0)
		return nil, err
	}
	resp.TookMs = time.Since(start).Milliseconds()
	outcome := "ok"
	if resp.ResultCount == 0 {
		outcome = "zero_result"
	}
	s.observe(q.IndexID, outcome, len(resp.Results.Results))
	if s.metrics != nil {
		s.metrics.SearchLatency.WithLabelValues(cacheStatus(resp.CacheHit)).Observe(time.Since(start).Seconds())
	}
	s.track(ctx, q, resp)
	return resp, nil
}

func (s *Service) search(ctx context.Context, q *query.Query) (*Response, error) {
	idx, err := s.resolver.Index(q.IndexID)
	if err != nil {
		return nil, err
	}
	if !idx.Enabled {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrIndexDisabled, idx.ID)
	}
	b, err := s.resolver.Backend(ctx, idx.ServerID)
	if err != nil {
		return nil, err
	}
	if q.Limit <= 0 {
		q.Limit = s.defaultLimit
	}
	if q.Limit > s.maxResults {
		q.Limit = s.maxResults
	}
	if q.Offset < 0 {
		return nil, fmt.Errorf("%w: negative offset", apperrors.ErrInvalidInput)
	}

	pl, err := s.build(ctx, idx)
	if err != nil {
		return nil, err
	}
	eff := pl.EffectiveIndex(idx)
	rc := pl.NewRun()
	if err := pl.PreprocessQuery(ctx, rc, q); err != nil {
		return nil, fmt.Errorf("preprocessing query: %w", err)
	}

	breaker := s.resolver.Breaker(idx.ServerID)
	compute := func() (*query.Results, error) {
		_, bspan := tracing.StartChildSpan(ctx, "backend")
		defer bspan.End()
		var res *query.Results
		err := breaker.Execute(func() error {
			return resilience.WithTimeout(ctx, s.backendTimeout, "backend-search", func(ctx context.Context) error {
				var err error
				res, err = b.Search(ctx, eff, q)
				return err
			})
		})
		if errors.Is(err, resilience.ErrCircuitOpen) {
			err = fmt.Errorf("%w: %w", apperrors.ErrBackendUnavailable, err)
		}
		if err != nil {
			bspan.RecordError(err)
			return nil, fmt.Errorf("searching %s: %w", idx.ID, err)
		}
		return res, nil
	}

	var (
		res *query.Results
		hit bool
	)
	if s.cache != nil {
		res, hit, err = s.cache.GetOrCompute(ctx, q, compute)
	} else {
		res, err = compute()
	}
	if err != nil {
		return nil, err
	}

	pl.PostprocessResults(ctx, rc, q, res)
	if s.metrics != nil && len(res.Ignored) > 0 {
		s.metrics.IgnoredWordsTotal.Add(float64(len(res.Ignored)))
	}
	return &Response{Results: res, Query: q.Raw, CacheHit: hit}, nil
}

// Cache returns the result cache, or nil when caching is off.
func (s *Service) Cache() *cache.QueryCache {
	return s.cache
}

func (s *Service) observe(indexID, outcome string, returned int) {
	if s.metrics == nil {
		return
	}
	s.metrics.SearchQueriesTotal.WithLabelValues(indexID, outcome).Inc()
	if outcome != "error" {
		s.metrics.SearchResultsCount.Observe(float64(returned))
	}
}

func cacheStatus(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}

func (s *Service) track(ctx context.Context, q *query.Query, resp *Response) {
	if s.tracker == nil {
		return
	}
	var terms []string
	if q.Keys != nil {
		terms = q.Keys.Terms
	}
	eventType := analytics.EventCacheMiss
	if resp.CacheHit {
		eventType = analytics.EventCacheHit
	}
	s.tracker.Track(analytics.SearchEvent{
		EventID:   uuid.NewString(),
		Type:      eventType,
		IndexID:   q.IndexID,
		Query:     resp.Query,
		Terms:     terms,
		Ignored:   resp.Ignored,
		TotalHits: resp.ResultCount,
		Returned:  len(resp.Results.Results),
		LatencyMs: resp.TookMs,
		CacheHit:  resp.CacheHit,
		Timestamp: time.Now().UTC(),
		RequestID: logger.RequestID(ctx),
	})
}
