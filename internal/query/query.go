// Package query defines search queries and result sets as they travel
// through the processor pipeline and into a backend.
package query

import (
	"slices"
	"strings"
)

type Conjunction string

const (
	AND Conjunction = "AND"
	OR  Conjunction = "OR"
)

// Keys is the fulltext part of a query.
type Keys struct {
	Conjunction Conjunction `json:"conjunction"`
	Terms       []string    `json:"terms"`
	Negated     []string    `json:"negated,omitempty"`
}

// Empty reports whether no positive terms are left.
func (k *Keys) Empty() bool {
	return k == nil || len(k.Terms) == 0
}

type Operator string

const (
	OpEqual    Operator = "="
	OpNotEqual Operator = "<>"
)

type Condition struct {
	Field    string   `json:"field"`
	Value    any      `json:"value"`
	Operator Operator `json:"operator"`
}

// ConditionGroup is a boolean filter tree.
type ConditionGroup struct {
	Conjunction Conjunction       `json:"conjunction"`
	Conditions  []Condition       `json:"conditions,omitempty"`
	Groups      []*ConditionGroup `json:"groups,omitempty"`
}

func NewConditionGroup(c Conjunction) *ConditionGroup {
	return &ConditionGroup{Conjunction: c}
}

// Add appends an equality condition and returns g for chaining.
func (g *ConditionGroup) Add(field string, value any) *ConditionGroup {
	g.Conditions = append(g.Conditions, Condition{Field: field, Value: value, Operator: OpEqual})
	return g
}

// Match evaluates the group against a field lookup returning all values of a
// field. A multi-valued field matches an equality condition when any of its
// values does.
func (g *ConditionGroup) Match(values func(field string) []any) bool {
	if g == nil {
		return true
	}
	n := len(g.Conditions) + len(g.Groups)
	if n == 0 {
		return true
	}
	hit := func(ok bool) (done bool, result bool) {
		if g.Conjunction == OR && ok {
			return true, true
		}
		if g.Conjunction != OR && !ok {
			return true, false
		}
		return false, false
	}
	for _, c := range g.Conditions {
		if done, res := hit(c.match(values(c.Field))); done {
			return res
		}
	}
	for _, sub := range g.Groups {
		if done, res := hit(sub.Match(values)); done {
			return res
		}
	}
	return g.Conjunction != OR
}

func (c Condition) match(have []any) bool {
	found := slices.ContainsFunc(have, func(v any) bool { return equalValue(v, c.Value) })
	if c.Operator == OpNotEqual {
		return !found
	}
	return found
}

func equalValue(a, b any) bool {
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return x == y
		case int:
			return x == int64(y)
		case float64:
			return float64(x) == y
		}
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	}
	return a == b
}

// Query is one search request against an index.
type Query struct {
	IndexID string          `json:"index_id"`
	Keys    *Keys           `json:"keys,omitempty"`
	Fields  []string        `json:"fields,omitempty"`
	Filter  *ConditionGroup `json:"filter,omitempty"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
	// Account is the viewer the query runs for; empty means anonymous.
	Account string         `json:"account,omitempty"`
	Options map[string]any `json:"options,omitempty"`
	// Raw is the text the keys were parsed from. It is not part of the
	// query's identity.
	Raw string `json:"-"`
}

// New returns a query for index with keys parsed from raw.
func New(indexID, raw string) *Query {
	return &Query{IndexID: indexID, Keys: Parse(raw), Filter: NewConditionGroup(AND), Raw: raw}
}

// AddFilter attaches g to the query's top-level AND filter.
func (q *Query) AddFilter(g *ConditionGroup) {
	if q.Filter == nil {
		q.Filter = NewConditionGroup(AND)
	}
	q.Filter.Groups = append(q.Filter.Groups, g)
}

// Clone copies the query deeply enough for processors to rewrite keys and
// filters without touching the caller's value.
func (q *Query) Clone() *Query {
	c := *q
	if q.Keys != nil {
		k := *q.Keys
		k.Terms = slices.Clone(q.Keys.Terms)
		k.Negated = slices.Clone(q.Keys.Negated)
		c.Keys = &k
	}
	c.Fields = slices.Clone(q.Fields)
	c.Filter = q.Filter.clone()
	return &c
}

func (g *ConditionGroup) clone() *ConditionGroup {
	if g == nil {
		return nil
	}
	c := &ConditionGroup{Conjunction: g.Conjunction, Conditions: slices.Clone(g.Conditions)}
	for _, sub := range g.Groups {
		c.Groups = append(c.Groups, sub.clone())
	}
	return c
}

// Parse splits a user query into keys. The words AND and OR switch the
// conjunction, NOT negates the next word. Terms are kept verbatim; the
// processor pipeline normalizes them.
func Parse(raw string) *Keys {
	keys := &Keys{Conjunction: AND, Terms: make([]string, 0)}
	if strings.TrimSpace(raw) == "" {
		return keys
	}
	words := strings.Fields(raw)
	excludeNext := false
	for _, w := range words {
		switch w {
		case "AND":
			keys.Conjunction = AND
			continue
		case "OR":
			keys.Conjunction = OR
			continue
		case "NOT":
			excludeNext = true
			continue
		}
		if excludeNext {
			keys.Negated = append(keys.Negated, w)
			excludeNext = false
		} else {
			keys.Terms = append(keys.Terms, w)
		}
	}
	return keys
}
