package bleve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/item"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchapi/pkg/errors"
)

func testIndex() *catalog.Index {
	return &catalog.Index{
		ID: "articles",
		Fields: map[string]catalog.FieldSpec{
			"title":  {Type: item.TypeText, Fulltext: true, Indexed: true},
			"status": {Type: item.TypeBoolean, Indexed: true},
			"uid":    {Type: item.TypeInteger, Indexed: true},
		},
	}
}

func doc(id, title string, status bool, uid int64, access ...any) *item.Item {
	it := item.New("node", id)
	it.Set("title", item.TypeText, title)
	it.Set("status", item.TypeBoolean, status)
	it.Set("uid", item.TypeInteger, uid)
	it.Set(item.AccessField, item.TypeString, access...)
	return it
}

func resultIDs(res *query.Results) []string {
	out := make([]string, 0, len(res.Results))
	for _, r := range res.Results {
		out = append(out, r.ID)
	}
	return out
}

func TestLifecycle(t *testing.T) {
	for name, dir := range map[string]string{"memory": "", "disk": t.TempDir()} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b, err := New(dir)
			require.NoError(t, err)
			defer b.Close()
			idx := testIndex()

			_, err = b.IndexItems(ctx, idx, []*item.Item{doc("1", "x", true, 1)})
			assert.ErrorIs(t, err, apperrors.ErrIndexNotFound)

			require.NoError(t, b.AddIndex(ctx, idx))
			require.NoError(t, b.AddIndex(ctx, idx))

			_, err = b.IndexItems(ctx, idx, []*item.Item{
				doc("1", "Go concurrency patterns", true, 1, "node_access__all"),
				doc("2", "Rust ownership patterns", false, 2, "realm1:1"),
			})
			require.NoError(t, err)

			res, err := b.Search(ctx, idx, &query.Query{Keys: query.Parse("patterns"), Limit: 10})
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"1", "2"}, resultIDs(res))
			assert.Equal(t, 2, res.ResultCount)

			res, err = b.Search(ctx, idx, &query.Query{Keys: query.Parse("patterns NOT rust")})
			require.NoError(t, err)
			assert.Equal(t, []string{"1"}, resultIDs(res))

			q := &query.Query{Keys: query.Parse("patterns")}
			q.AddFilter(query.NewConditionGroup(query.OR).Add(item.AccessField, "realm1:1"))
			q.AddFilter(query.NewConditionGroup(query.OR).Add("status", true).Add("uid", int64(2)))
			res, err = b.Search(ctx, idx, q)
			require.NoError(t, err)
			assert.Equal(t, []string{"2"}, resultIDs(res))

			require.NoError(t, b.DeleteItems(ctx, idx, []string{"1", "missing"}))
			res, err = b.Search(ctx, idx, &query.Query{})
			require.NoError(t, err)
			assert.Equal(t, []string{"2"}, resultIDs(res))

			require.NoError(t, b.DeleteAllIndexItems(ctx, idx))
			res, err = b.Search(ctx, idx, &query.Query{})
			require.NoError(t, err)
			assert.Zero(t, res.ResultCount)

			require.NoError(t, b.RemoveIndex(ctx, idx.ID))
			require.NoError(t, b.RemoveIndex(ctx, idx.ID))
			require.NoError(t, b.DeleteItems(ctx, idx, []string{"2"}))
			_, err = b.Search(ctx, idx, &query.Query{})
			assert.ErrorIs(t, err, apperrors.ErrIndexNotFound)
		})
	}
}

func TestDiskIndexSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	idx := testIndex()

	b, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, b.AddIndex(ctx, idx))
	_, err = b.IndexItems(ctx, idx, []*item.Item{doc("1", "persistent", true, 1)})
	require.NoError(t, err)
	require.NoError(t, b.Close())

	b, err = New(dir)
	require.NoError(t, err)
	defer b.Close()
	res, err := b.Search(ctx, idx, &query.Query{Keys: query.Parse("persistent")})
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, resultIDs(res))
}

func TestUpdateIndexRecreatesOnMappingChange(t *testing.T) {
	ctx := context.Background()
	b, err := New("")
	require.NoError(t, err)
	defer b.Close()
	idx := testIndex()
	require.NoError(t, b.AddIndex(ctx, idx))
	_, err = b.IndexItems(ctx, idx, []*item.Item{doc("1", "hello", true, 1)})
	require.NoError(t, err)

	// Same fields keep the data.
	require.NoError(t, b.UpdateIndex(ctx, idx, idx.Clone()))
	res, err := b.Search(ctx, idx, &query.Query{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ResultCount)

	prev := idx.Clone()
	idx.Fields["body"] = catalog.FieldSpec{Type: item.TypeText, Fulltext: true, Indexed: true}
	require.NoError(t, b.UpdateIndex(ctx, idx, prev))
	res, err = b.Search(ctx, idx, &query.Query{})
	require.NoError(t, err)
	assert.Zero(t, res.ResultCount)
}
