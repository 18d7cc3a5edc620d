package nodeaccess

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/content"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/item"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/processor"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchapi/pkg/errors"
)

func newStore(t *testing.T) *content.MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := content.NewMemoryStore()
	s.SetAccount(&content.Account{ID: content.AnonymousID, Grants: []content.Grant{{Realm: "all", GID: 0}}})
	for _, id := range []string{"public", "private"} {
		require.NoError(t, s.UpsertItem(ctx, item.New("node", id)))
	}
	s.SetGrants("public", content.Grant{Realm: "all", GID: 0})
	s.SetGrants("private", content.Grant{Realm: "realm1", GID: 1}, content.Grant{Realm: "realm2", GID: 5})
	return s
}

func TestAccessTokens(t *testing.T) {
	// Given one item the anonymous viewer can see and one with two grants
	na := New(newStore(t), DefaultWeight)
	set := item.NewSet(item.New("node", "public"), item.New("node", "private"))

	// When the items are processed
	require.NoError(t, na.ProcessItems(context.Background(), processor.NewRunContext(), set))

	// Then the public item carries only the sentinel and the private one
	// carries exactly its grant tokens
	assert.Equal(t, []any{AllToken}, set.Get("public").Field(item.AccessField).Values)
	assert.Equal(t, []any{"realm1:1", "realm2:5"}, set.Get("private").Field(item.AccessField).Values)
}

func TestAccessFieldIsReplacedEachPass(t *testing.T) {
	store := newStore(t)
	na := New(store, DefaultWeight)
	it := item.New("node", "private")
	it.Set(item.AccessField, item.TypeString, "stale:9")

	store.SetGrants("private", content.Grant{Realm: "realm1", GID: 1})
	require.NoError(t, na.ProcessItems(context.Background(), processor.NewRunContext(), item.NewSet(it)))
	assert.Equal(t, []any{"realm1:1"}, it.Field(item.AccessField).Values)
}

func TestUnknownItemsAreRemoved(t *testing.T) {
	na := New(newStore(t), DefaultWeight)
	set := item.NewSet(item.New("node", "ghost"), item.New("node", "public"))
	require.NoError(t, na.ProcessItems(context.Background(), processor.NewRunContext(), set))
	assert.Equal(t, []string{"public"}, set.IDs())
}

func TestPreprocessQuery(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	store.SetAccount(&content.Account{ID: 7, Grants: []content.Grant{{Realm: "realm1", GID: 1}}})
	store.SetAccount(&content.Account{ID: 1, Bypass: true})
	na := New(store, DefaultWeight)

	t.Run("anonymous", func(t *testing.T) {
		q := query.New("articles", "cat")
		require.NoError(t, na.PreprocessQuery(ctx, processor.NewRunContext(), q))
		require.Len(t, q.Filter.Groups, 2)
		access := q.Filter.Groups[0]
		assert.Equal(t, query.OR, access.Conjunction)
		assert.Equal(t, []any{AllToken, "all:0"}, values(access))
		assert.Equal(t, []any{true}, values(q.Filter.Groups[1]))
	})

	t.Run("authenticated", func(t *testing.T) {
		q := query.New("articles", "cat")
		q.Account = "7"
		require.NoError(t, na.PreprocessQuery(ctx, processor.NewRunContext(), q))
		assert.Equal(t, []any{AllToken, "realm1:1"}, values(q.Filter.Groups[0]))
		assert.Equal(t, []any{true, int64(7)}, values(q.Filter.Groups[1]))
		published := q.Filter.Groups[1].Conditions
		assert.Equal(t, "status", published[0].Field)
		assert.Equal(t, "author", published[1].Field)
	})

	t.Run("bypass", func(t *testing.T) {
		q := query.New("articles", "cat")
		q.Account = "1"
		require.NoError(t, na.PreprocessQuery(ctx, processor.NewRunContext(), q))
		assert.Empty(t, q.Filter.Groups)
	})

	t.Run("bad account", func(t *testing.T) {
		q := query.New("articles", "cat")
		q.Account = "bob"
		err := na.PreprocessQuery(ctx, processor.NewRunContext(), q)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})
}

func TestRequiredFieldsAndApplicability(t *testing.T) {
	na := New(nil, DefaultWeight)
	assert.Error(t, na.Validate(context.Background()))

	idx := &catalog.Index{Datasource: catalog.Datasource{Type: "node", Capabilities: []string{catalog.CapabilityNodeAccess}}}
	assert.True(t, Applicable(idx))
	assert.False(t, Applicable(&catalog.Index{}))

	req := na.RequiredFields(idx)
	assert.Equal(t, item.TypeBoolean, req[StatusField].Type)
	assert.Equal(t, item.TypeInteger, req[AuthorField].Type)
	assert.True(t, req[item.AccessField].Indexed)
}

func values(g *query.ConditionGroup) []any {
	out := make([]any, 0, len(g.Conditions))
	for _, c := range g.Conditions {
		out = append(out, c.Value)
	}
	return out
}
