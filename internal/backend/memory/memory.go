// Package memory is an in-process inverted index backend with BM25
// scoring. It keeps the raw field values of every item so that filters can
// be evaluated and fulltext fields re-analyzed when an index changes.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/backend"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/item"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchapi/pkg/errors"
)

type Options struct {
	// Stemming applies a suffix stripper to indexed tokens and query terms.
	Stemming bool
}

// OptionsFrom reads backend options from the catalog.
func OptionsFrom(raw map[string]any) Options {
	stem, _ := raw["stemming"].(bool)
	return Options{Stemming: stem}
}

type Backend struct {
	mu      sync.RWMutex
	indexes map[string]*memIndex
	opts    Options
}

var _ backend.Backend = (*Backend)(nil)

func New(opts Options) *Backend {
	return &Backend{indexes: make(map[string]*memIndex), opts: opts}
}

type document struct {
	values map[string][]any
	terms  map[string]map[string]int // field -> term -> frequency
	length int
}

type memIndex struct {
	mu       sync.RWMutex
	fields   map[string]catalog.FieldSpec
	postings map[string]map[string]map[string]*Posting // field -> term -> doc
	docs     map[string]*document
	totalLen int
	stemming bool
}

func newMemIndex(idx *catalog.Index, stemming bool) *memIndex {
	m := &memIndex{stemming: stemming, docs: make(map[string]*document)}
	m.configure(idx)
	return m
}

func (m *memIndex) configure(idx *catalog.Index) {
	m.fields = make(map[string]catalog.FieldSpec, len(idx.Fields))
	for name, spec := range idx.Fields {
		m.fields[name] = spec
	}
	m.postings = make(map[string]map[string]map[string]*Posting)
	m.totalLen = 0
	for id, doc := range m.docs {
		m.insert(id, doc.values)
	}
}

func (m *memIndex) fulltext(field string) bool {
	spec, ok := m.fields[field]
	return ok && spec.Fulltext
}

func (m *memIndex) insert(id string, values map[string][]any) {
	doc := &document{values: values, terms: make(map[string]map[string]int)}
	for field, vals := range values {
		if !m.fulltext(field) {
			continue
		}
		pos := 0
		tf := make(map[string]int)
		positions := make(map[string][]int)
		for _, v := range vals {
			s, ok := v.(string)
			if !ok {
				continue
			}
			for _, term := range analyze(s, m.stemming) {
				tf[term]++
				positions[term] = append(positions[term], pos)
				pos++
			}
		}
		if len(tf) == 0 {
			continue
		}
		doc.terms[field] = tf
		doc.length += pos
		byTerm := m.postings[field]
		if byTerm == nil {
			byTerm = make(map[string]map[string]*Posting)
			m.postings[field] = byTerm
		}
		for term, freq := range tf {
			if byTerm[term] == nil {
				byTerm[term] = make(map[string]*Posting)
			}
			byTerm[term][id] = &Posting{DocID: id, Frequency: freq, Positions: positions[term]}
		}
	}
	m.docs[id] = doc
	m.totalLen += doc.length
}

func (m *memIndex) remove(id string) {
	doc, ok := m.docs[id]
	if !ok {
		return
	}
	for field, tf := range doc.terms {
		for term := range tf {
			delete(m.postings[field][term], id)
			if len(m.postings[field][term]) == 0 {
				delete(m.postings[field], term)
			}
		}
	}
	m.totalLen -= doc.length
	delete(m.docs, id)
}

func (b *Backend) index(id string) (*memIndex, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m, ok := b.indexes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrIndexNotFound, id)
	}
	return m, nil
}

// AddIndex creates the index, or reconfigures it when it already exists.
func (b *Backend) AddIndex(_ context.Context, idx *catalog.Index) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.indexes[idx.ID]; ok {
		m.mu.Lock()
		m.configure(idx)
		m.mu.Unlock()
		return nil
	}
	b.indexes[idx.ID] = newMemIndex(idx, b.opts.Stemming)
	return nil
}

// UpdateIndex re-analyzes stored items under the new field configuration.
func (b *Backend) UpdateIndex(ctx context.Context, idx *catalog.Index, _ *catalog.Index) error {
	return b.AddIndex(ctx, idx)
}

func (b *Backend) RemoveIndex(_ context.Context, indexID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.indexes, indexID)
	return nil
}

func (b *Backend) IndexItems(_ context.Context, idx *catalog.Index, items []*item.Item) ([]string, error) {
	m, err := b.index(idx.ID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(items))
	for _, it := range items {
		values := make(map[string][]any, len(it.Fields))
		for name, f := range it.Fields {
			values[name] = append([]any(nil), f.Values...)
		}
		m.remove(it.ID)
		m.insert(it.ID, values)
		ids = append(ids, it.ID)
	}
	return ids, nil
}

func (b *Backend) DeleteItems(_ context.Context, idx *catalog.Index, ids []string) error {
	m, err := b.index(idx.ID)
	if err != nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.remove(id)
	}
	return nil
}

func (b *Backend) DeleteAllIndexItems(_ context.Context, idx *catalog.Index) error {
	m, err := b.index(idx.ID)
	if err != nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = make(map[string]*document)
	m.postings = make(map[string]map[string]map[string]*Posting)
	m.totalLen = 0
	return nil
}

func (b *Backend) Close() error { return nil }

// DocCount returns the number of items in the index.
func (b *Backend) DocCount(indexID string) int {
	m, err := b.index(indexID)
	if err != nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

func (b *Backend) Search(ctx context.Context, idx *catalog.Index, q *query.Query) (*query.Results, error) {
	m, err := b.index(idx.ID)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fields := m.searchFields(q.Fields)
	scores := m.match(q.Keys, fields)
	for id := range scores {
		doc := m.docs[id]
		if !q.Filter.Match(func(field string) []any { return doc.values[field] }) {
			delete(scores, id)
		}
	}

	ranked := rank(scores)
	all := make([]query.Result, len(ranked))
	for i, r := range ranked {
		all[i] = query.Result{ID: r.DocID, Score: r.Score}
	}
	return &query.Results{ResultCount: len(all), Results: backend.Page(all, q.Offset, q.Limit)}, nil
}

func (m *memIndex) searchFields(requested []string) []string {
	var out []string
	for _, f := range requested {
		if m.fulltext(f) {
			out = append(out, f)
		}
	}
	if len(out) > 0 {
		return out
	}
	for name := range m.fields {
		if m.fulltext(name) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (m *memIndex) analyzeTerms(terms []string) []string {
	var out []string
	for _, t := range terms {
		out = append(out, analyze(t, m.stemming)...)
	}
	return out
}

// match returns the candidate documents for keys with their scores.
// Without positive terms every document not excluded by a negated term
// matches with a zero score.
func (m *memIndex) match(keys *query.Keys, fields []string) map[string]float64 {
	scores := make(map[string]float64)
	if keys == nil {
		keys = &query.Keys{}
	}

	terms := m.analyzeTerms(keys.Terms)
	var candidates map[string]struct{}
	if keys.Empty() {
		candidates = make(map[string]struct{}, len(m.docs))
		for id := range m.docs {
			candidates[id] = struct{}{}
		}
	}
	for i, term := range terms {
		hits := m.docsWith(term, fields)
		switch {
		case i == 0:
			candidates = hits
		case keys.Conjunction == query.OR:
			for id := range hits {
				candidates[id] = struct{}{}
			}
		default:
			for id := range candidates {
				if _, ok := hits[id]; !ok {
					delete(candidates, id)
				}
			}
		}
	}
	for _, term := range m.analyzeTerms(keys.Negated) {
		for id := range m.docsWith(term, fields) {
			delete(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return scores
	}

	params := rankParams{TotalDocs: int64(len(m.docs))}
	if len(m.docs) > 0 {
		params.AvgDocLength = float64(m.totalLen) / float64(len(m.docs))
	}
	docLength := func(id string) int { return m.docs[id].length }
	for _, field := range fields {
		perTerm := make(map[string]PostingList, len(terms))
		for _, term := range terms {
			for _, p := range m.postings[field][term] {
				perTerm[term] = append(perTerm[term], *p)
			}
		}
		boost := m.fields[field].Boost
		if boost == 0 {
			boost = 1
		}
		scoreBM25(scores, perTerm, params, docLength, boost)
	}
	for id := range scores {
		if _, ok := candidates[id]; !ok {
			delete(scores, id)
		}
	}
	for id := range candidates {
		if _, ok := scores[id]; !ok {
			scores[id] = 0
		}
	}
	return scores
}

func (m *memIndex) docsWith(term string, fields []string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range fields {
		for id := range m.postings[f][term] {
			out[id] = struct{}{}
		}
	}
	return out
}
