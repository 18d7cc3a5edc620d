// Package cache stores backend search results keyed by the preprocessed
// query, in Redis or in process.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/query"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/searchapi/pkg/redis"
)

const (
	keyPrefix    = "search:"
	evictTimeout = 5 * time.Second
)

// ErrMiss is returned by a Store that does not hold a key.
var ErrMiss = errors.New("cache miss")

// Store is a string key/value store with glob invalidation.
// *pkgredis.Client and *Local implement it.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type QueryCache struct {
	store   Store
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New returns a cache over store. m may be nil.
func New(store Store, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		store:   store,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

func isMiss(err error) bool {
	return errors.Is(err, ErrMiss) || pkgredis.IsNilError(err)
}

func (c *QueryCache) Get(ctx context.Context, key string) (*query.Results, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !isMiss(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var result query.Results
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	c.logger.Debug("cache hit", "key", key)
	return &result, true
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

func (c *QueryCache) Set(ctx context.Context, key string, result *query.Results) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, string(data), c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached results for q or computes and stores
// them. Concurrent misses on one key compute once. Every caller gets its
// own copy, so postprocessing one does not touch another.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	q *query.Query,
	computeFn func() (*query.Results, error),
) (*query.Results, bool, error) {
	key, err := Key(q)
	if err != nil {
		res, err := computeFn()
		return res, false, err
	}
	if result, ok := c.Get(ctx, key); ok {
		return result, true, nil
	}
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if result, ok := c.Get(ctx, key); ok {
			return result, nil
		}
		result, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, key, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return clone(val.(*query.Results)), false, nil
}

// InvalidateIndex drops every cached result of indexID.
func (c *QueryCache) InvalidateIndex(ctx context.Context, indexID string) error {
	deleted, err := c.store.FlushByPattern(ctx, keyPrefix+escapeGlob(indexID)+":*")
	if err != nil {
		return fmt.Errorf("invalidating cache of %s: %w", indexID, err)
	}
	c.logger.Info("cache invalidate", "index_id", indexID, "keys_deleted", deleted)
	return nil
}

// Evict drops the results a change to indexID made stale, or every result
// when indexID is empty. Failures are logged. A nil cache does nothing.
func (c *QueryCache) Evict(indexID string) {
	if c == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), evictTimeout)
	defer cancel()
	var err error
	if indexID == "" {
		err = c.Invalidate(ctx)
	} else {
		err = c.InvalidateIndex(ctx, indexID)
	}
	if err != nil {
		c.logger.Warn("cache eviction failed", "index_id", indexID, "error", err)
	}
}

func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := c.store.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidate", "keys_deleted", deleted)
	return nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Key derives the cache key of a preprocessed query. Queries that differ in
// keys, filters (including access filters), paging or options never share
// a key.
func Key(q *query.Query) (string, error) {
	raw, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("encoding query: %w", err)
	}
	return fmt.Sprintf("%s%s:%016x", keyPrefix, q.IndexID, xxhash.Sum64(raw)), nil
}

func clone(r *query.Results) *query.Results {
	c := *r
	c.Results = append([]query.Result(nil), r.Results...)
	c.Ignored = append([]string(nil), r.Ignored...)
	c.Warnings = append([]string(nil), r.Warnings...)
	return &c
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
