// Package ratelimit is an in-memory token bucket per API key.
package ratelimit

import (
	"sync"
	"time"
)

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// Limiter gives each key limit tokens per window, refilled continuously.
type Limiter struct {
	mu           sync.Mutex
	buckets      map[string]*bucket
	window       time.Duration
	defaultLimit int
	now          func() time.Time
	stop         chan struct{}
	stopOnce     sync.Once
}

// New starts a limiter. defaultLimit applies to keys that carry no limit of
// their own. Call Close to stop the idle-bucket sweeper.
func New(window time.Duration, defaultLimit int) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	if defaultLimit <= 0 {
		defaultLimit = 100
	}
	l := &Limiter{
		buckets:      make(map[string]*bucket),
		window:       window,
		defaultLimit: defaultLimit,
		now:          time.Now,
		stop:         make(chan struct{}),
	}
	go l.sweep()
	return l
}

// Allow consumes a token of key and reports whether one was available.
// A limit <= 0 means the default limit.
func (l *Limiter) Allow(key string, limit int) bool {
	if limit <= 0 {
		limit = l.defaultLimit
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{tokens: float64(limit - 1), lastCheck: now}
		return true
	}

	rate := float64(limit) / l.window.Seconds()
	b.tokens += now.Sub(b.lastCheck).Seconds() * rate
	b.lastCheck = now
	if b.tokens > float64(limit) {
		b.tokens = float64(limit)
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RetryAfter is how long a key with the given limit waits for one token.
func (l *Limiter) RetryAfter(limit int) time.Duration {
	if limit <= 0 {
		limit = l.defaultLimit
	}
	return l.window / time.Duration(limit)
}

func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// sweep drops buckets idle for two windows; they would be full anyway.
func (l *Limiter) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			cutoff := l.now().Add(-2 * l.window)
			for key, b := range l.buckets {
				if b.lastCheck.Before(cutoff) {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}
