// Package tokenizer splits fulltext values into tokens on a configurable
// whitespace character class after deleting a class of ignorable
// characters. The same rules are applied to query terms so that a query
// matches what was indexed.
package tokenizer

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/item"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/processor"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/query"
)

const (
	ID = "tokenizer"

	DefaultWeight    = 20
	DefaultSpaces    = `[^[:alnum:]]`
	DefaultIgnorable = `[']`
)

// Compiled patterns are shared by every tokenizer instance; pipelines are
// rebuilt per run and would otherwise recompile on each search.
var patterns, _ = lru.New[string, *regexp.Regexp](256)

func compile(class string) (*regexp.Regexp, error) {
	expr := "(" + class + ")+"
	if re, ok := patterns.Get(expr); ok {
		return re, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	re.MatchString("")
	patterns.Add(expr, re)
	return re, nil
}

type Tokenizer struct {
	weight    int
	spaces    *regexp.Regexp
	ignorable *regexp.Regexp
	spacesSrc string
	ignSrc    string
}

// Options are the tokenizer's settings. Empty classes disable the
// corresponding step.
type Options struct {
	Spaces    string
	Ignorable string
	Weight    int
}

func DefaultOptions() Options {
	return Options{Spaces: DefaultSpaces, Ignorable: DefaultIgnorable, Weight: DefaultWeight}
}

// New compiles both classes and fails with a *processor.ConfigError when
// either is not a valid pattern.
func New(opts Options) (*Tokenizer, error) {
	t := &Tokenizer{weight: opts.Weight, spacesSrc: opts.Spaces, ignSrc: opts.Ignorable}
	if err := t.Validate(context.Background()); err != nil {
		return nil, err
	}
	t.spaces, _ = compileOptional(opts.Spaces)
	t.ignorable, _ = compileOptional(opts.Ignorable)
	return t, nil
}

// FromConfig reads the "spaces" and "ignorable" options.
func FromConfig(opts map[string]any, weight *int) (*Tokenizer, error) {
	o := DefaultOptions()
	var err error
	if o.Spaces, err = processor.StringOption(ID, opts, "spaces", o.Spaces); err != nil {
		return nil, err
	}
	if o.Ignorable, err = processor.StringOption(ID, opts, "ignorable", o.Ignorable); err != nil {
		return nil, err
	}
	if weight != nil {
		o.Weight = *weight
	}
	return New(o)
}

func compileOptional(class string) (*regexp.Regexp, error) {
	if class == "" {
		return nil, nil
	}
	return compile(class)
}

func (t *Tokenizer) ID() string  { return ID }
func (t *Tokenizer) Weight() int { return t.weight }

func (t *Tokenizer) Validate(context.Context) error {
	if _, err := compileOptional(t.spacesSrc); err != nil {
		return &processor.ConfigError{Processor: ID, Option: "spaces", Err: fmt.Errorf("invalid character class %q: %w", t.spacesSrc, err)}
	}
	if _, err := compileOptional(t.ignSrc); err != nil {
		return &processor.ConfigError{Processor: ID, Option: "ignorable", Err: fmt.Errorf("invalid character class %q: %w", t.ignSrc, err)}
	}
	return nil
}

func (t *Tokenizer) strip(s string) string {
	if t.ignorable == nil {
		return s
	}
	return t.ignorable.ReplaceAllString(s, "")
}

// Scalar deletes ignorable runs and collapses whitespace runs into a single
// space, keeping the value a single string.
func (t *Tokenizer) Scalar(s string) string {
	s = t.strip(s)
	if t.spaces != nil {
		s = t.spaces.ReplaceAllString(s, " ")
	}
	return strings.Trim(s, " ")
}

// Tokens deletes ignorable runs and splits on whitespace runs. Empty tokens
// are dropped.
func (t *Tokenizer) Tokens(s string) []string {
	s = t.strip(s)
	if t.spaces == nil {
		if s == "" {
			return nil
		}
		return []string{s}
	}
	parts := t.spaces.Split(s, -1)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ProcessField turns each value of a text field into tokens. Other string
// fields stay scalar.
func (t *Tokenizer) ProcessField(_ *processor.RunContext, f *item.Field) {
	if f.Type.IsText() {
		processor.MapStrings(f, t.Tokens)
		return
	}
	if f.Type == item.TypeString {
		processor.MapStrings(f, func(s string) []string { return []string{t.Scalar(s)} })
	}
}

// PreprocessQuery treats every key term as a scalar and then splits it on
// the collapsed spaces, mirroring what ProcessField does to text.
func (t *Tokenizer) PreprocessQuery(_ context.Context, _ *processor.RunContext, q *query.Query) error {
	processor.RewriteTerms(q.Keys, func(term string) []string {
		return processor.SplitSpaces(t.Scalar(term))
	})
	return nil
}
