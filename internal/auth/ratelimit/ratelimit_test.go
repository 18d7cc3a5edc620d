package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowRefillsOverWindow(t *testing.T) {
	l := New(time.Minute, 10)
	defer l.Close()
	clock := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("k", 3), "request %d", i)
	}
	assert.False(t, l.Allow("k", 3))

	clock = clock.Add(20 * time.Second)
	assert.True(t, l.Allow("k", 3))
	assert.False(t, l.Allow("k", 3))

	clock = clock.Add(time.Hour)
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("k", 3), "bucket refills to its limit, not beyond")
	}
	assert.False(t, l.Allow("k", 3))
}

func TestDefaultLimitAndReset(t *testing.T) {
	l := New(time.Minute, 2)
	defer l.Close()
	l.now = func() time.Time { return time.Unix(0, 0) }

	assert.True(t, l.Allow("k", 0))
	assert.True(t, l.Allow("k", 0))
	assert.False(t, l.Allow("k", 0))
	assert.True(t, l.Allow("other", 0))

	l.Reset("k")
	assert.True(t, l.Allow("k", 0))
	assert.Equal(t, 30*time.Second, l.RetryAfter(0))
}
