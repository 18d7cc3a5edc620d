package item

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetOrderAndRemoval(t *testing.T) {
	s := NewSet(New("node", "1"), New("node", "2"), New("node", "3"))
	require.Equal(t, []string{"1", "2", "3"}, s.IDs())

	var visited []string
	s.Each(func(it *Item) {
		visited = append(visited, it.ID)
		if it.ID == "1" {
			s.Remove("2")
		}
	})
	assert.Equal(t, []string{"1", "3"}, visited)
	assert.Equal(t, 2, s.Len())
	assert.Nil(t, s.Get("2"))

	// Re-adding an existing id keeps its position.
	replacement := New("node", "1")
	s.Add(replacement)
	assert.Equal(t, []string{"1", "3"}, s.IDs())
	assert.Same(t, replacement, s.Items()[0])
}

func TestCloneIsIndependent(t *testing.T) {
	it := New("node", "7")
	it.Set("title", TypeText, "hello world")

	c := it.Clone()
	c.Fields["title"].Values[0] = "changed"
	c.Set("extra", TypeString, "x")

	assert.Equal(t, "hello world", it.Field("title").First())
	assert.Nil(t, it.Field("extra"))
}

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		name    string
		typ     FieldType
		in      any
		want    any
		wantErr bool
	}{
		{"json number to int", TypeInteger, float64(42), int64(42), false},
		{"fractional int", TypeInteger, 1.5, nil, true},
		{"bool from int", TypeBoolean, int64(1), true, false},
		{"bytes to string", TypeString, []byte("abc"), "abc", false},
		{"rfc3339 date", TypeDate, "2024-01-02T03:04:05Z", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), false},
		{"bad date", TypeDate, "yesterday", nil, true},
		{"wrong type", TypeText, 12, nil, true},
		{"unknown type", FieldType("blob"), "x", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeValue(tt.typ, tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFieldStrings(t *testing.T) {
	f := &Field{Name: "tags", Type: TypeString, Values: []any{"a", int64(3), "b"}}
	assert.Equal(t, []string{"a", "b"}, f.Strings())
	assert.True(t, TypeText.IsText())
	assert.False(t, TypeString.IsText())
	assert.False(t, FieldType("x").Valid())
}

func TestNormalizeDecodedItem(t *testing.T) {
	it := New("node", "7")
	it.Set("uid", TypeInteger, int64(3))
	it.Set("status", TypeBoolean, true)
	it.Set("changed", TypeDate, time.Unix(1700000000, 0).UTC())

	raw, err := json.Marshal(it)
	require.NoError(t, err)
	var decoded Item
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.NoError(t, decoded.Normalize())

	assert.Equal(t, []any{int64(3)}, decoded.Field("uid").Values)
	assert.Equal(t, []any{true}, decoded.Field("status").Values)
	assert.Equal(t, []any{time.Unix(1700000000, 0).UTC()}, decoded.Field("changed").Values)
}
