package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/backend"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/backend/memory"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/item"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchapi/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/resilience"
)

func testCatalog(t *testing.T, mainPath string) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New(
		[]*catalog.Server{
			{ID: "main", Enabled: true, Backend: catalog.BackendConfig{Type: catalog.BackendMemory, Path: mainPath}},
			{ID: "off", Enabled: false, Backend: catalog.BackendConfig{Type: catalog.BackendMemory}},
		},
		[]*catalog.Index{
			{ID: "articles", ServerID: "main", Enabled: true, Fields: map[string]catalog.FieldSpec{
				"title": {Type: item.TypeText, Fulltext: true, Indexed: true},
			}},
		},
	)
	require.NoError(t, err)
	return cat
}

type countingFactory struct {
	built int
}

func (f *countingFactory) build(context.Context, *catalog.Server) (backend.Backend, error) {
	f.built++
	return memory.New(memory.Options{}), nil
}

func TestResolve(t *testing.T) {
	r := New(testCatalog(t, ""))

	idx, err := r.Index("articles")
	require.NoError(t, err)
	assert.Equal(t, "main", idx.ServerID)

	_, err = r.Index("missing")
	assert.ErrorIs(t, err, apperrors.ErrIndexNotFound)
	_, err = r.Server("missing")
	assert.ErrorIs(t, err, apperrors.ErrServerNotFound)
}

func TestBackendIsBuiltOnceAndCached(t *testing.T) {
	ctx := context.Background()
	f := &countingFactory{}
	r := New(testCatalog(t, ""), WithFactory(f.build))
	defer r.Close()

	b1, err := r.Backend(ctx, "main")
	require.NoError(t, err)
	b2, err := r.Backend(ctx, "main")
	require.NoError(t, err)
	assert.Same(t, b1, b2)
	assert.Equal(t, 1, f.built)

	_, err = r.Backend(ctx, "off")
	assert.ErrorIs(t, err, apperrors.ErrServerDisabled)
	_, err = r.Backend(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrServerNotFound)
	assert.Equal(t, 1, f.built)
}

func TestSetCatalogRebuildsChangedBackends(t *testing.T) {
	ctx := context.Background()
	f := &countingFactory{}
	r := New(testCatalog(t, ""), WithFactory(f.build))
	defer r.Close()

	_, err := r.Backend(ctx, "main")
	require.NoError(t, err)

	r.SetCatalog(testCatalog(t, ""))
	_, err = r.Backend(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, 1, f.built, "unchanged server keeps its backend")

	r.SetCatalog(testCatalog(t, "elsewhere"))
	_, err = r.Backend(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, 2, f.built)
}

func TestDefaultFactory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	build := DefaultFactory(FactoryOptions{DataDir: dir})

	for _, typ := range []string{catalog.BackendMemory, catalog.BackendBleve, catalog.BackendSQLite} {
		t.Run(typ, func(t *testing.T) {
			b, err := build(ctx, &catalog.Server{ID: typ, Backend: catalog.BackendConfig{Type: typ, Path: typ + "-data"}})
			require.NoError(t, err)
			require.NoError(t, b.Close())
		})
	}
	assert.DirExists(t, filepath.Join(dir, "bleve-data"))

	_, err := build(ctx, &catalog.Server{ID: "x", Backend: catalog.BackendConfig{Type: "solr"}})
	assert.ErrorIs(t, err, apperrors.ErrInvalidConfig)
}

func TestBreakerPerServerReportsState(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	r := New(testCatalog(t, ""), WithMetrics(m), WithBreakerConfig(resilience.CircuitBreakerConfig{FailureThreshold: 1}))

	cb := r.Breaker("main")
	assert.Same(t, cb, r.Breaker("main"))
	assert.NotSame(t, cb, r.Breaker("off"))

	_ = cb.Execute(func() error { return errors.New("down") })
	assert.Equal(t, resilience.StateOpen, cb.GetState())
	assert.Equal(t, float64(resilience.StateOpen), testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("server:main")))
}

func TestBreakerIgnoresQueryErrors(t *testing.T) {
	r := New(testCatalog(t, ""), WithBreakerConfig(resilience.CircuitBreakerConfig{FailureThreshold: 1}))
	cb := r.Breaker("main")

	_ = cb.Execute(func() error { return fmt.Errorf("search: %w", apperrors.ErrInvalidInput) })
	_ = cb.Execute(func() error { return fmt.Errorf("articles: %w", apperrors.ErrIndexNotFound) })
	_ = cb.Execute(func() error { return context.Canceled })
	assert.Equal(t, resilience.StateClosed, cb.GetState())
}

func TestHealthChecksEnabledServers(t *testing.T) {
	r := New(testCatalog(t, ""))
	defer r.Close()
	c := health.NewChecker()
	r.RegisterHealth(c)

	report := c.Run(context.Background())
	assert.Contains(t, report.Components, "server:main")
	assert.NotContains(t, report.Components, "server:off")
	assert.Equal(t, health.StatusUp, report.Components["server:main"].Status)
}
