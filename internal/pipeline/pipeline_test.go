package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/item"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/processor"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/query"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/metrics"
)

// recorder logs every hook call into a shared trace.
type recorder struct {
	id     string
	weight int
	trace  *[]string
	drop   string
	err    error
}

func (r *recorder) ID() string  { return r.id }
func (r *recorder) Weight() int { return r.weight }

func (r *recorder) ProcessItems(_ context.Context, _ *processor.RunContext, set *item.Set) error {
	*r.trace = append(*r.trace, r.id+":items")
	if r.drop != "" {
		set.Remove(r.drop)
	}
	return r.err
}

func (r *recorder) ProcessField(_ *processor.RunContext, f *item.Field) {
	*r.trace = append(*r.trace, r.id+":"+f.Name)
}

func (r *recorder) PreprocessQuery(context.Context, *processor.RunContext, *query.Query) error {
	*r.trace = append(*r.trace, r.id+":query")
	return nil
}

func (r *recorder) PostprocessResults(context.Context, *processor.RunContext, *query.Query, *query.Results) {
	*r.trace = append(*r.trace, r.id+":results")
}

func (r *recorder) Validate(context.Context) error { return r.err }

func (r *recorder) RequiredFields(*catalog.Index) map[string]catalog.FieldSpec {
	return map[string]catalog.FieldSpec{r.id: {Type: item.TypeString, Indexed: true}}
}

// fieldOnly implements nothing but the field hook.
type fieldOnly struct{ trace *[]string }

func (f fieldOnly) ID() string  { return "fieldonly" }
func (f fieldOnly) Weight() int { return 100 }
func (f fieldOnly) ProcessField(_ *processor.RunContext, fl *item.Field) {
	*f.trace = append(*f.trace, "fieldonly:"+fl.Name)
}

func TestStagesRunInWeightOrder(t *testing.T) {
	var trace []string
	pl := New([]processor.Processor{
		&recorder{id: "b", weight: 5, trace: &trace},
		&recorder{id: "a", weight: 5, trace: &trace},
		&recorder{id: "z", weight: -1, trace: &trace},
	})
	assert.Equal(t, []string{"z", "a", "b"}, pl.IDs())

	ctx := context.Background()
	rc := pl.NewRun()
	q := query.New("i", "x")
	require.NoError(t, pl.PreprocessQuery(ctx, rc, q))
	pl.PostprocessResults(ctx, rc, q, &query.Results{})
	assert.Equal(t, []string{"z:query", "a:query", "b:query", "z:results", "a:results", "b:results"}, trace)
}

func TestRemovedItemsAreNotPassedOn(t *testing.T) {
	var trace []string
	pl := New([]processor.Processor{
		&recorder{id: "filter", weight: 0, trace: &trace, drop: "2"},
		fieldOnly{trace: &trace},
	})

	one := item.New("node", "1")
	one.Set("body", item.TypeText, "x").Fulltext = true
	one.Set("status", item.TypeBoolean, true)
	two := item.New("node", "2")
	two.Set("body", item.TypeText, "y").Fulltext = true

	set := item.NewSet(one, two)
	require.NoError(t, pl.ProcessItems(context.Background(), pl.NewRun(), set))

	assert.Equal(t, []string{"filter:items", "filter:body", "fieldonly:body"}, trace)
	assert.Equal(t, []string{"1"}, set.IDs())
}

func TestItemProcessorErrorStopsRun(t *testing.T) {
	var trace []string
	boom := errors.New("store down")
	pl := New([]processor.Processor{
		&recorder{id: "a", weight: 0, trace: &trace, err: boom},
		fieldOnly{trace: &trace},
	})
	err := pl.ProcessItems(context.Background(), pl.NewRun(), item.NewSet(item.New("n", "1")))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a:items"}, trace)
}

func TestValidateJoinsAndRequiredFieldsUnion(t *testing.T) {
	var trace []string
	e1, e2 := errors.New("one"), errors.New("two")
	pl := New([]processor.Processor{
		&recorder{id: "a", trace: &trace, err: e1},
		&recorder{id: "b", trace: &trace, err: e2},
		fieldOnly{trace: &trace},
	})
	err := pl.Validate(context.Background())
	assert.ErrorIs(t, err, e1)
	assert.ErrorIs(t, err, e2)

	req := pl.RequiredFields(&catalog.Index{})
	assert.Len(t, req, 2)
	assert.Contains(t, req, "a")
	assert.Contains(t, req, "b")
}

func TestStageMetrics(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	pl := New(nil, WithMetrics(m))
	require.NoError(t, pl.ProcessItems(context.Background(), pl.NewRun(), item.NewSet()))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ProcessorDuration))
}

func TestEffectiveIndexAddsRequiredFields(t *testing.T) {
	var trace []string
	pl := New([]processor.Processor{&recorder{id: "status", trace: &trace}})
	idx := &catalog.Index{ID: "i", Fields: map[string]catalog.FieldSpec{
		"title":  {Type: item.TypeText, Fulltext: true, Indexed: true},
		"status": {Type: item.TypeBoolean, Indexed: false},
	}}

	eff := pl.EffectiveIndex(idx)
	assert.Equal(t, item.TypeBoolean, eff.Fields["status"].Type, "declared type wins")
	assert.True(t, eff.Fields["status"].Indexed, "required fields are always indexed")
	assert.False(t, idx.Fields["status"].Indexed, "the catalog index is not modified")
	assert.Len(t, idx.Fields, 2)

	pl = New([]processor.Processor{&recorder{id: "uid", trace: &trace}})
	eff = pl.EffectiveIndex(idx)
	assert.Contains(t, eff.Fields, "uid")
	assert.NotContains(t, idx.Fields, "uid")
}
