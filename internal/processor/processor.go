// Package processor defines the hooks a pluggable processor may implement
// and the per-run state shared by the processors of one pipeline run.
//
// A processor declares what it does by the interfaces it satisfies. The
// pipeline only calls the hooks a processor actually implements.
package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/item"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchapi/pkg/errors"
)

type Processor interface {
	ID() string
	Weight() int
}

// FieldProcessor rewrites the values of one fulltext field in place. Values
// of a type the processor does not handle are left alone.
type FieldProcessor interface {
	Processor
	ProcessField(rc *RunContext, f *item.Field)
}

// ItemProcessor sees the whole working set and may remove items from it.
type ItemProcessor interface {
	Processor
	ProcessItems(ctx context.Context, rc *RunContext, set *item.Set) error
}

type QueryPreprocessor interface {
	Processor
	PreprocessQuery(ctx context.Context, rc *RunContext, q *query.Query) error
}

type ResultPostprocessor interface {
	Processor
	PostprocessResults(ctx context.Context, rc *RunContext, q *query.Query, res *query.Results)
}

type Validator interface {
	Processor
	Validate(ctx context.Context) error
}

// FieldRequirer forces fields to be indexed whenever the processor is
// enabled on an index.
type FieldRequirer interface {
	Processor
	RequiredFields(idx *catalog.Index) map[string]catalog.FieldSpec
}

// ConfigError reports an invalid processor option.
type ConfigError struct {
	Processor string
	Option    string
	Err       error
}

func (e *ConfigError) Error() string {
	if e.Option == "" {
		return fmt.Sprintf("processor %s: %v", e.Processor, e.Err)
	}
	return fmt.Sprintf("processor %s: option %s: %v", e.Processor, e.Option, e.Err)
}

func (e *ConfigError) Unwrap() []error {
	return []error{apperrors.ErrInvalidConfig, e.Err}
}

// StringOption reads a string option, falling back to def when unset.
func StringOption(processorID string, opts map[string]any, key, def string) (string, error) {
	v, ok := opts[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", &ConfigError{Processor: processorID, Option: key, Err: fmt.Errorf("expected string, got %T", v)}
	}
	return s, nil
}

// RewriteTerms passes every positive and negated key term through fn. A term
// may expand into several terms; empty results are dropped.
func RewriteTerms(keys *query.Keys, fn func(term string) []string) {
	if keys == nil {
		return
	}
	keys.Terms = rewrite(keys.Terms, fn)
	keys.Negated = rewrite(keys.Negated, fn)
}

func rewrite(terms []string, fn func(string) []string) []string {
	if terms == nil {
		return nil
	}
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		for _, r := range fn(t) {
			if r != "" {
				out = append(out, r)
			}
		}
	}
	return out
}

// MapStrings replaces each string value of f with the values fn returns.
// Values of other types are kept as they are; empty strings are dropped.
func MapStrings(f *item.Field, fn func(string) []string) {
	out := make([]any, 0, len(f.Values))
	for _, v := range f.Values {
		s, ok := v.(string)
		if !ok {
			out = append(out, v)
			continue
		}
		for _, r := range fn(s) {
			if r != "" {
				out = append(out, r)
			}
		}
	}
	f.Values = out
}

// SplitSpaces splits on single spaces and drops empty parts.
func SplitSpaces(s string) []string {
	parts := strings.Split(s, " ")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IsConfigError reports whether err is a processor configuration error.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
