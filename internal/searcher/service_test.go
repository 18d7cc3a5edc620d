package searcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/backend"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/backend/memory"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/backend/registry"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/content"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/item"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/processor/builtin"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/query"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/searcher/cache"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchapi/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/resilience"
)

// flaky fails searches while err is set.
type flaky struct {
	*memory.Backend
	mu       sync.Mutex
	err      error
	searches atomic.Int32
}

func (f *flaky) Search(ctx context.Context, idx *catalog.Index, q *query.Query) (*query.Results, error) {
	f.searches.Add(1)
	f.mu.Lock()
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Backend.Search(ctx, idx, q)
}

func (f *flaky) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []analytics.SearchEvent
}

func (r *recorder) Track(event any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event.(analytics.SearchEvent))
}

type fixture struct {
	svc     *Service
	backend *flaky
	tracker *recorder
	metrics *metrics.Metrics
}

func article(id string, opts ...func(*catalog.Index)) *catalog.Index {
	idx := &catalog.Index{
		ID:       id,
		ServerID: "main",
		Enabled:  true,
		Datasource: catalog.Datasource{
			Type:         "node",
			Capabilities: []string{catalog.CapabilityNodeAccess},
		},
		Fields: map[string]catalog.FieldSpec{
			"title":  {Type: item.TypeText, Fulltext: true, Indexed: true},
			"status": {Type: item.TypeBoolean, Indexed: true},
		},
		Processors: []catalog.ProcessorConfig{
			{ID: "tokenizer", Enabled: true},
			{ID: "stopwords", Enabled: true, Options: map[string]any{"stopwords": "the a"}},
			{ID: "node_access", Enabled: true},
		},
	}
	for _, o := range opts {
		o(idx)
	}
	return idx
}

func setup(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	cat, err := catalog.New(
		[]*catalog.Server{{ID: "main", Enabled: true, Backend: catalog.BackendConfig{Type: catalog.BackendMemory}}},
		[]*catalog.Index{
			article("articles"),
			article("sleeping", func(i *catalog.Index) { i.Enabled = false }),
		},
	)
	require.NoError(t, err)

	be := &flaky{Backend: memory.New(memory.Options{})}
	reg := registry.New(cat,
		registry.WithFactory(func(context.Context, *catalog.Server) (backend.Backend, error) { return be, nil }),
		registry.WithBreakerConfig(resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour}),
	)
	articles, err := reg.Index("articles")
	require.NoError(t, err)
	require.NoError(t, be.AddIndex(ctx, articles))

	store := content.NewMemoryStore()
	store.SetAccount(&content.Account{ID: content.AnonymousID, Grants: []content.Grant{{Realm: "all", GID: 0}}})
	store.SetAccount(&content.Account{ID: 1, Bypass: true})

	published := item.New("node", "1")
	published.Set("title", item.TypeText, "the cat-house")
	published.Set("status", item.TypeBoolean, true)
	require.NoError(t, store.UpsertItem(ctx, published))
	store.SetGrants("1", content.Grant{Realm: "all", GID: 0})

	draft := item.New("node", "2")
	draft.Set("title", item.TypeText, "a cat nap")
	draft.Set("status", item.TypeBoolean, false)
	require.NoError(t, store.UpsertItem(ctx, draft))
	store.SetGrants("2", content.Grant{Realm: "author", GID: 5})

	deps := builtin.Deps{Access: store}
	_, err = indexer.NewService(reg, store, deps).IndexItems(ctx, "articles", []string{"1", "2"})
	require.NoError(t, err)

	rec := &recorder{}
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	opts = append([]Option{
		WithCache(cache.New(cache.NewLocal(64, time.Minute), time.Minute, m)),
		WithTracker(rec),
		WithMetrics(m),
	}, opts...)
	return &fixture{svc: NewService(reg, deps, opts...), backend: be, tracker: rec, metrics: m}
}

func ids(r *Response) []string {
	out := make([]string, 0, len(r.Results.Results))
	for _, res := range r.Results.Results {
		out = append(out, res.ID)
	}
	return out
}

func TestSearchRunsPipelineAndCaches(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	q := query.New("articles", "the cat")

	first, err := f.svc.Search(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids(first), "anonymous viewers see published items only")
	assert.Equal(t, []string{"the"}, first.Ignored)
	assert.Equal(t, "the cat", first.Query)
	assert.False(t, first.CacheHit)

	second, err := f.svc.Search(ctx, q)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, []string{"1"}, ids(second))
	assert.Equal(t, []string{"the"}, second.Ignored, "postprocessing runs on cached results too")
	assert.Equal(t, int32(1), f.backend.searches.Load())

	assert.Equal(t, 0, q.Limit, "the caller's query is not rewritten")
	assert.Equal(t, []string{"the", "cat"}, q.Keys.Terms)

	require.Len(t, f.tracker.events, 2)
	ev := f.tracker.events[1]
	assert.Equal(t, analytics.EventCacheHit, ev.Type)
	assert.Equal(t, "articles", ev.IndexID)
	assert.Equal(t, []string{"the"}, ev.Ignored)
	assert.NotEmpty(t, ev.EventID)

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.SearchQueriesTotal.WithLabelValues("articles", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.IgnoredWordsTotal))
}

func TestSearchHonoursAccount(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	q := query.New("articles", "cat")
	q.Account = "1"
	res, err := f.svc.Search(ctx, q)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2"}, ids(res))

	anon, err := f.svc.Search(ctx, query.New("articles", "cat"))
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids(anon))
	assert.False(t, anon.CacheHit, "accounts never share cached results")
}

func TestSearchLimits(t *testing.T) {
	f := setup(t, WithLimits(1, 1))
	q := query.New("articles", "cat")
	q.Account = "1"
	q.Limit = 50

	res, err := f.svc.Search(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ResultCount)
	assert.Len(t, res.Results.Results, 1)
}

func TestSearchErrors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Search(ctx, query.New("missing", "cat"))
	assert.ErrorIs(t, err, apperrors.ErrIndexNotFound)

	_, err = f.svc.Search(ctx, query.New("sleeping", "cat"))
	assert.ErrorIs(t, err, apperrors.ErrIndexDisabled)

	q := query.New("articles", "cat")
	q.Offset = -1
	_, err = f.svc.Search(ctx, q)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.SearchQueriesTotal.WithLabelValues("missing", "error"))+
		testutil.ToFloat64(f.metrics.SearchQueriesTotal.WithLabelValues("sleeping", "error"))+
		testutil.ToFloat64(f.metrics.SearchQueriesTotal.WithLabelValues("articles", "error")))
	assert.Empty(t, f.tracker.events)
}

func TestSearchBreakerOpensOnBackendFailures(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	boom := errors.New("connection refused")
	f.backend.fail(boom)

	for i := 0; i < 2; i++ {
		_, err := f.svc.Search(ctx, query.New("articles", "cat"))
		assert.ErrorIs(t, err, boom)
	}

	_, err := f.svc.Search(ctx, query.New("articles", "cat"))
	assert.ErrorIs(t, err, apperrors.ErrBackendUnavailable)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), f.backend.searches.Load(), "an open breaker keeps calls off the backend")
}

func TestEvictedIndexMissesTheCache(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	q := query.New("articles", "cat")

	_, err := f.svc.Search(ctx, q)
	require.NoError(t, err)
	res, err := f.svc.Search(ctx, q)
	require.NoError(t, err)
	require.True(t, res.CacheHit)

	f.svc.Cache().Evict("articles")

	res, err = f.svc.Search(ctx, q)
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
}

func TestSearchWithoutCache(t *testing.T) {
	f := setup(t, WithCache(nil))
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		res, err := f.svc.Search(ctx, query.New("articles", "cat"))
		require.NoError(t, err)
		assert.False(t, res.CacheHit)
	}
	assert.Equal(t, int32(2), f.backend.searches.Load())
	assert.Nil(t, f.svc.Cache())
	f.svc.Cache().Evict("articles")
}
