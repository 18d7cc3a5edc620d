package cache

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Local is an in-process Store for deployments without Redis. Entries
// expire after the ttl given to NewLocal; the ttl passed to Set is ignored.
type Local struct {
	lru *expirable.LRU[string, string]
}

func NewLocal(size int, ttl time.Duration) *Local {
	return &Local{lru: expirable.NewLRU[string, string](size, nil, ttl)}
}

func (l *Local) Get(_ context.Context, key string) (string, error) {
	v, ok := l.lru.Get(key)
	if !ok {
		return "", ErrMiss
	}
	return v, nil
}

func (l *Local) Set(_ context.Context, key string, value any, _ time.Duration) error {
	switch v := value.(type) {
	case string:
		l.lru.Add(key, v)
	case []byte:
		l.lru.Add(key, string(v))
	default:
		return fmt.Errorf("local cache stores strings, got %T", value)
	}
	return nil
}

// FlushByPattern removes keys matching a Redis-style glob.
func (l *Local) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	var n int64
	for _, key := range l.lru.Keys() {
		ok, err := path.Match(pattern, key)
		if err != nil {
			return n, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		if ok && l.lru.Remove(key) {
			n++
		}
	}
	return n, nil
}
