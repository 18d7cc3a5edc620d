// Package item holds the field value store every processor reads and
// mutates: items, their typed fields, and the ordered working set an index
// pass operates on.
package item

import (
	"fmt"
	"time"
)

// FieldType is the declared type of an indexed field.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeText    FieldType = "text"
	TypeInteger FieldType = "integer"
	TypeBoolean FieldType = "boolean"
	TypeDate    FieldType = "date"
)

// AccessField is the reserved field carrying access grant tokens.
const AccessField = "search_api_access_node"

// Valid reports whether t is one of the known types.
func (t FieldType) Valid() bool {
	switch t {
	case TypeString, TypeText, TypeInteger, TypeBoolean, TypeDate:
		return true
	}
	return false
}

// IsText reports whether values of t are free text eligible for tokenizing.
func (t FieldType) IsText() bool {
	return t == TypeText
}

// Field is one named field of an item. Values holds string, int64, bool or
// time.Time values; a field is multi-valued when it has more than one.
type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Fulltext bool      `json:"fulltext,omitempty"`
	Values   []any     `json:"values"`
}

// Strings returns the string values of the field, skipping others.
func (f *Field) Strings() []string {
	out := make([]string, 0, len(f.Values))
	for _, v := range f.Values {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// First returns the first value or nil.
func (f *Field) First() any {
	if len(f.Values) == 0 {
		return nil
	}
	return f.Values[0]
}

// Item is one indexable unit.
type Item struct {
	ID         string            `json:"id"`
	Datasource string            `json:"datasource"`
	Fields     map[string]*Field `json:"fields"`
}

// New returns an empty item.
func New(datasource, id string) *Item {
	return &Item{ID: id, Datasource: datasource, Fields: make(map[string]*Field)}
}

// Set replaces the named field.
func (it *Item) Set(name string, typ FieldType, values ...any) *Field {
	f := &Field{Name: name, Type: typ, Values: values}
	if it.Fields == nil {
		it.Fields = make(map[string]*Field)
	}
	it.Fields[name] = f
	return f
}

// Field returns the named field or nil.
func (it *Item) Field(name string) *Field {
	return it.Fields[name]
}

// Clone deep-copies the item. Values are copied shallowly, which is enough
// because every supported value type is immutable.
func (it *Item) Clone() *Item {
	c := &Item{ID: it.ID, Datasource: it.Datasource, Fields: make(map[string]*Field, len(it.Fields))}
	for name, f := range it.Fields {
		cf := *f
		cf.Values = append([]any(nil), f.Values...)
		c.Fields[name] = &cf
	}
	return c
}

// NormalizeValue converts decoded JSON and database values into the Go type
// expected for typ. It is used by loaders; processors only see normalized
// values.
func NormalizeValue(typ FieldType, v any) (any, error) {
	switch typ {
	case TypeString, TypeText:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		}
	case TypeInteger:
		switch x := v.(type) {
		case int:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case int64:
			return x, nil
		case float64:
			if x == float64(int64(x)) {
				return int64(x), nil
			}
		}
	case TypeBoolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		case float64:
			return x != 0, nil
		}
	case TypeDate:
		switch x := v.(type) {
		case time.Time:
			return x.UTC(), nil
		case string:
			t, err := time.Parse(time.RFC3339, x)
			if err != nil {
				return nil, fmt.Errorf("parsing date %q: %w", x, err)
			}
			return t.UTC(), nil
		case int64:
			return time.Unix(x, 0).UTC(), nil
		case float64:
			return time.Unix(int64(x), 0).UTC(), nil
		}
	default:
		return nil, fmt.Errorf("unknown field type %q", typ)
	}
	return nil, fmt.Errorf("value %v (%T) is not a valid %s", v, v, typ)
}

// Normalize converts every value of a decoded item in place. Items arriving
// as JSON carry float64 numbers and string dates.
func (it *Item) Normalize() error {
	for name, f := range it.Fields {
		if f.Name == "" {
			f.Name = name
		}
		for i, v := range f.Values {
			nv, err := NormalizeValue(f.Type, v)
			if err != nil {
				return fmt.Errorf("item %s field %s: %w", it.ID, name, err)
			}
			f.Values[i] = nv
		}
	}
	return nil
}
