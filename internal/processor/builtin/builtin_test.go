package builtin

import (
	"context"
	"encoding/json"
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

func intPtr(v int) *int { return &v }

func articles() *catalog.Index {
	return &catalog.Index{
		ID:       "articles",
		ServerID: "main",
		Enabled:  true,
		Datasource: catalog.Datasource{
			Type:         "node",
			Capabilities: []string{catalog.CapabilityNodeAccess},
		},
		Fields: map[string]catalog.FieldSpec{
			"title": {Type: item.TypeText, Fulltext: true, Indexed: true},
			"body":  {Type: item.TypeText, Fulltext: true, Indexed: true},
		},
		Processors: []catalog.ProcessorConfig{
			{ID: "stopwords", Enabled: true, Options: map[string]any{"stopwords": "the a"}},
			{ID: "tokenizer", Enabled: true},
			{ID: "node_access", Enabled: true},
			{ID: "highlight", Enabled: false},
		},
	}
}

func accessStore(t *testing.T) *content.MemoryStore {
	t.Helper()
	s := content.NewMemoryStore()
	s.SetAccount(&content.Account{ID: content.AnonymousID, Grants: []content.Grant{{Realm: "all", GID: 0}}})
	require.NoError(t, s.UpsertItem(context.Background(), item.New("node", "1")))
	s.SetGrants("1", content.Grant{Realm: "all", GID: 0})
	return s
}

func sample() *item.Item {
	it := item.New("node", "1")
	it.Set("title", item.TypeText, "The Cat-House").Fulltext = true
	it.Set("body", item.TypeText, "the cat and a dog's bone").Fulltext = true
	it.Set("status", item.TypeBoolean, true)
	return it
}

func TestBuildOrdersByWeightThenID(t *testing.T) {
	pl, err := Build(context.Background(), articles(), Deps{Access: accessStore(t)})
	require.NoError(t, err)
	assert.Equal(t, []string{"node_access", "tokenizer", "stopwords"}, pl.IDs())

	idx := articles()
	idx.Processors[0].Weight = intPtr(20)
	pl, err = Build(context.Background(), idx, Deps{Access: accessStore(t)})
	require.NoError(t, err)
	assert.Equal(t, []string{"node_access", "stopwords", "tokenizer"}, pl.IDs())
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	tests := map[string]func(*catalog.Index){
		"unknown processor": func(idx *catalog.Index) {
			idx.Processors = append(idx.Processors, catalog.ProcessorConfig{ID: "stemmer", Enabled: true})
		},
		"bad pattern": func(idx *catalog.Index) {
			idx.Processors[1].Options = map[string]any{"spaces": "[z-a]"}
		},
		"empty stop words": func(idx *catalog.Index) {
			idx.Processors[0].Options = nil
		},
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			idx := articles()
			mutate(idx)
			_, err := Build(context.Background(), idx, Deps{Access: accessStore(t)})
			assert.ErrorIs(t, err, apperrors.ErrInvalidConfig)
		})
	}
}

func TestNodeAccessSkippedWithoutCapability(t *testing.T) {
	idx := articles()
	idx.Datasource.Capabilities = nil
	pl, err := Build(context.Background(), idx, Deps{})
	require.NoError(t, err)
	assert.Equal(t, []string{"tokenizer", "stopwords"}, pl.IDs())
	assert.NotContains(t, pl.RequiredFields(idx), "status")
}

func TestIndexPass(t *testing.T) {
	ctx := context.Background()
	pl, err := Build(ctx, articles(), Deps{Access: accessStore(t)})
	require.NoError(t, err)

	set := item.NewSet(sample(), item.New("node", "unknown"))
	require.NoError(t, pl.ProcessItems(ctx, pl.NewRun(), set))

	require.Equal(t, []string{"1"}, set.IDs())
	it := set.Get("1")
	assert.Equal(t, []any{"The", "Cat", "House"}, it.Field("title").Values)
	assert.Equal(t, []any{"cat", "and", "dogs", "bone"}, it.Field("body").Values)
	assert.Equal(t, []any{"node_access__all"}, it.Field(item.AccessField).Values)
	assert.Equal(t, []any{true}, it.Field("status").Values)

	required := pl.RequiredFields(articles())
	assert.Contains(t, required, "status")
	assert.Contains(t, required, "author")
}

func TestRoundTripSymmetry(t *testing.T) {
	// Given the same processors for indexing and searching
	ctx := context.Background()
	pl, err := Build(ctx, articles(), Deps{Access: accessStore(t)})
	require.NoError(t, err)

	// When a stop word is indexed and searched for
	set := item.NewSet(sample())
	require.NoError(t, pl.ProcessItems(ctx, pl.NewRun(), set))
	indexed := set.Get("1").Field("body").Strings()

	rc := pl.NewRun()
	q := query.New("articles", "the dog's")
	require.NoError(t, pl.PreprocessQuery(ctx, rc, q))
	res := &query.Results{}
	pl.PostprocessResults(ctx, rc, q, res)

	// Then it is gone from both sides and reported as ignored
	assert.NotContains(t, indexed, "the")
	assert.Equal(t, []string{"dogs"}, q.Keys.Terms)
	assert.Equal(t, []string{"the"}, res.Ignored)
	for _, term := range q.Keys.Terms {
		assert.Contains(t, indexed, term)
	}
}

func TestIgnoredResetPerQuery(t *testing.T) {
	ctx := context.Background()
	pl, err := Build(ctx, articles(), Deps{Access: accessStore(t)})
	require.NoError(t, err)

	rc := pl.NewRun()
	require.NoError(t, pl.PreprocessQuery(ctx, rc, query.New("articles", "the cat")))
	q := query.New("articles", "a dog")
	require.NoError(t, pl.PreprocessQuery(ctx, rc, q))
	res := &query.Results{}
	pl.PostprocessResults(ctx, rc, q, res)
	assert.Equal(t, []string{"a"}, res.Ignored)
}

func TestDeterminism(t *testing.T) {
	ctx := context.Background()
	pl, err := Build(ctx, articles(), Deps{Access: accessStore(t)})
	require.NoError(t, err)

	run := func() []byte {
		set := item.NewSet(sample())
		require.NoError(t, pl.ProcessItems(ctx, pl.NewRun(), set))
		out, err := json.Marshal(set.Items())
		require.NoError(t, err)
		return out
	}
	assert.Equal(t, run(), run())
}

func TestInvalidOptionsSurfaceAsConfigErrors(t *testing.T) {
	idx := articles()
	idx.Processors[0].Options = nil
	idx.Processors[1].Options = map[string]any{"ignorable": "("}
	_, err := Build(context.Background(), idx, Deps{Access: accessStore(t)})
	require.Error(t, err)
	assert.True(t, processor.IsConfigError(err))
}
