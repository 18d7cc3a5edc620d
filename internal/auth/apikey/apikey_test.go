package apikey

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/config"
)

func TestHashKey(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", HashKey(""))
	assert.Len(t, generateRawKey(), 64)
	assert.NotEqual(t, generateRawKey(), generateRawKey())
}

func TestStatic(t *testing.T) {
	s, err := NewStatic([]config.APIKey{
		{Key: "k1", Name: "editor", Account: 7, RateLimit: 50},
		{Key: "k2", Name: "admin", Account: 1, Admin: true},
	})
	require.NoError(t, err)
	ctx := context.Background()

	info, err := s.Validate(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), info.AccountID)
	assert.Equal(t, 50, info.RateLimit)
	assert.False(t, info.Admin)
	assert.Equal(t, HashKey("k1")[:12], info.ID)

	_, err = s.Validate(ctx, "k3")
	assert.ErrorIs(t, err, ErrInvalidKey)

	keys, err := s.ListKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "admin", keys[0].Name)
}

func TestStaticRejectsBadKeys(t *testing.T) {
	_, err := NewStatic([]config.APIKey{{Name: "empty"}})
	assert.Error(t, err)
	_, err = NewStatic([]config.APIKey{{Key: "k", Name: "a"}, {Key: "k", Name: "b"}})
	assert.Error(t, err)
}
