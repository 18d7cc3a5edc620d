package tokenizer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/item"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/processor"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchapi/pkg/errors"
)

func newDefault(t *testing.T) *Tokenizer {
	t.Helper()
	tok, err := New(DefaultOptions())
	require.NoError(t, err)
	return tok
}

func TestScalarAndListShapes(t *testing.T) {
	tok := newDefault(t)
	rc := processor.NewRunContext()

	scalar := &item.Field{Name: "label", Type: item.TypeString, Fulltext: true, Values: []any{"foo-bar  baz"}}
	tok.ProcessField(rc, scalar)
	assert.Equal(t, []any{"foo bar baz"}, scalar.Values)

	list := &item.Field{Name: "body", Type: item.TypeText, Fulltext: true, Values: []any{"foo-bar  baz"}}
	tok.ProcessField(rc, list)
	assert.Equal(t, []any{"foo", "bar", "baz"}, list.Values)
}

func TestSingleTokenStaysScalar(t *testing.T) {
	tok := newDefault(t)
	f := &item.Field{Name: "body", Type: item.TypeText, Values: []any{"--don't--"}}
	tok.ProcessField(processor.NewRunContext(), f)
	assert.Equal(t, []any{"dont"}, f.Values)
}

func TestWrongTypesAreIgnored(t *testing.T) {
	tok := newDefault(t)
	f := &item.Field{Name: "uid", Type: item.TypeInteger, Values: []any{int64(5)}}
	tok.ProcessField(processor.NewRunContext(), f)
	assert.Equal(t, []any{int64(5)}, f.Values)

	mixed := &item.Field{Name: "body", Type: item.TypeText, Values: []any{int64(5), "a b"}}
	tok.ProcessField(processor.NewRunContext(), mixed)
	assert.Equal(t, []any{int64(5), "a", "b"}, mixed.Values)
}

func TestQueryTermsMirrorIndexing(t *testing.T) {
	tok := newDefault(t)
	q := query.New("articles", "foo-bar O'Neil NOT x.y")
	require.NoError(t, tok.PreprocessQuery(context.Background(), processor.NewRunContext(), q))
	assert.Equal(t, []string{"foo", "bar", "ONeil"}, q.Keys.Terms)
	assert.Equal(t, []string{"x", "y"}, q.Keys.Negated)

	q = query.New("articles", "---")
	require.NoError(t, tok.PreprocessQuery(context.Background(), processor.NewRunContext(), q))
	assert.Empty(t, q.Keys.Terms)
}

func TestInvalidClasses(t *testing.T) {
	tests := []struct {
		name   string
		opts   map[string]any
		option string
	}{
		{"bad spaces", map[string]any{"spaces": "[a-"}, "spaces"},
		{"bad ignorable", map[string]any{"ignorable": "(("}, "ignorable"},
		{"wrong type", map[string]any{"spaces": 4}, "spaces"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromConfig(tt.opts, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrInvalidConfig)
			var ce *processor.ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.option, ce.Option)
		})
	}
}

func TestFromConfigWeight(t *testing.T) {
	w := 3
	tok, err := FromConfig(map[string]any{"spaces": "[ ]"}, &w)
	require.NoError(t, err)
	assert.Equal(t, 3, tok.Weight())
	assert.Equal(t, []string{"a-b", "c"}, tok.Tokens("a-b   c"))

	def, err := FromConfig(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultWeight, def.Weight())
}
