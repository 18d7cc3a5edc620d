package cache

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

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/query"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/metrics"
)

func results(ids ...string) *query.Results {
	r := &query.Results{ResultCount: len(ids)}
	for _, id := range ids {
		r.Results = append(r.Results, query.Result{ID: id, Score: 1})
	}
	return r
}

func TestKeyDependsOnRewrittenQuery(t *testing.T) {
	a := query.New("articles", "cat dog")
	b := query.New("articles", "cat dog")
	ka, err := Key(a)
	require.NoError(t, err)
	kb, err := Key(b)
	require.NoError(t, err)
	assert.Equal(t, ka, kb)
	assert.Regexp(t, `^search:articles:[0-9a-f]{16}$`, ka)

	b.AddFilter(query.NewConditionGroup(query.OR).Add("status", true))
	kb, _ = Key(b)
	assert.NotEqual(t, ka, kb, "filters are part of the key")

	c := query.New("articles", "cat dog")
	c.Offset = 10
	kc, _ := Key(c)
	assert.NotEqual(t, ka, kc)
}

func TestGetOrComputeCachesAndCopies(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	c := New(NewLocal(16, time.Minute), time.Minute, m)
	ctx := context.Background()
	q := query.New("articles", "cat")

	calls := 0
	compute := func() (*query.Results, error) {
		calls++
		return results("1", "2"), nil
	}

	first, hit, err := c.GetOrCompute(ctx, q, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	first.AddIgnored("the")

	second, hit, err := c.GetOrCompute(ctx, q, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"1", "2"}, []string{second.Results[0].ID, second.Results[1].ID})
	assert.Empty(t, second.Ignored, "postprocessing one caller's copy leaks into the cache")

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(2), misses)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHitsTotal))
}

func TestGetOrComputeErrorsAreNotCached(t *testing.T) {
	c := New(NewLocal(16, time.Minute), time.Minute, nil)
	ctx := context.Background()
	q := query.New("articles", "cat")
	boom := errors.New("backend down")

	_, _, err := c.GetOrCompute(ctx, q, func() (*query.Results, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	res, hit, err := c.GetOrCompute(ctx, q, func() (*query.Results, error) { return results("1"), nil })
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Len(t, res.Results, 1)
}

func TestConcurrentMissesComputeOnce(t *testing.T) {
	c := New(NewLocal(16, time.Minute), time.Minute, nil)
	ctx := context.Background()
	q := query.New("articles", "cat")

	var calls atomic.Int32
	release := make(chan struct{})
	compute := func() (*query.Results, error) {
		calls.Add(1)
		<-release
		return results("1"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, _, err := c.GetOrCompute(ctx, q, compute)
			assert.NoError(t, err)
			assert.Len(t, res.Results, 1)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.LessOrEqual(t, calls.Load(), int32(2))
}

func TestInvalidateIndex(t *testing.T) {
	c := New(NewLocal(16, time.Minute), time.Minute, nil)
	ctx := context.Background()
	compute := func() (*query.Results, error) { return results("1"), nil }

	articles := query.New("articles", "cat")
	pages := query.New("pages", "cat")
	_, _, err := c.GetOrCompute(ctx, articles, compute)
	require.NoError(t, err)
	_, _, err = c.GetOrCompute(ctx, pages, compute)
	require.NoError(t, err)

	require.NoError(t, c.InvalidateIndex(ctx, "articles"))

	_, hit, _ := c.GetOrCompute(ctx, articles, compute)
	assert.False(t, hit)
	_, hit, _ = c.GetOrCompute(ctx, pages, compute)
	assert.True(t, hit)

	require.NoError(t, c.Invalidate(ctx))
	_, hit, _ = c.GetOrCompute(ctx, pages, compute)
	assert.False(t, hit)
}

func TestLocalExpires(t *testing.T) {
	l := NewLocal(4, 20*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, l.Set(ctx, "k", "v", 0))
	v, err := l.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	assert.Eventually(t, func() bool {
		_, err := l.Get(ctx, "k")
		return errors.Is(err, ErrMiss)
	}, time.Second, 10*time.Millisecond)

	assert.Error(t, l.Set(ctx, "k", 42, 0))
}

func TestEvict(t *testing.T) {
	c := New(NewLocal(16, time.Minute), time.Minute, nil)
	ctx := context.Background()
	keys := map[string]string{}
	for _, index := range []string{"articles", "pages"} {
		key, err := Key(query.New(index, "cat"))
		require.NoError(t, err)
		c.Set(ctx, key, results("1"))
		keys[index] = key
	}

	c.Evict("articles")
	_, hit := c.Get(ctx, keys["articles"])
	assert.False(t, hit)
	_, hit = c.Get(ctx, keys["pages"])
	assert.True(t, hit)

	c.Evict("")
	_, hit = c.Get(ctx, keys["pages"])
	assert.False(t, hit)

	var disabled *QueryCache
	disabled.Evict("articles")
}
