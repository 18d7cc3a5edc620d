// Package stopwords drops configured words from fulltext values and query
// keys, reporting the dropped query words back with the results.
package stopwords

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/item"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/processor"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/query"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/resilience"
)

const (
	ID            = "stopwords"
	DefaultWeight = 30

	memoKey = "stopwords.set"
)

type StopWords struct {
	weight int
	words  string
	file   string
	client *http.Client
	logger *slog.Logger
}

type Options struct {
	// Words is a whitespace separated list.
	Words string
	// File is a URI of a word list: file://, a plain path, or http(s)://.
	File   string
	Weight int
	Client *http.Client
}

func New(opts Options) *StopWords {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &StopWords{
		weight: opts.Weight,
		words:  opts.Words,
		file:   opts.File,
		client: client,
		logger: slog.Default().With("component", "stopwords"),
	}
}

// FromConfig reads the "stopwords" and "file" options.
func FromConfig(opts map[string]any, weight *int, client *http.Client) (*StopWords, error) {
	o := Options{Weight: DefaultWeight, Client: client}
	var err error
	if o.Words, err = processor.StringOption(ID, opts, "stopwords", ""); err != nil {
		return nil, err
	}
	if o.File, err = processor.StringOption(ID, opts, "file", ""); err != nil {
		return nil, err
	}
	if weight != nil {
		o.Weight = *weight
	}
	return New(o), nil
}

func (s *StopWords) ID() string  { return ID }
func (s *StopWords) Weight() int { return s.weight }

// Validate fails when no words are configured or the word list cannot be
// read.
func (s *StopWords) Validate(ctx context.Context) error {
	if strings.TrimSpace(s.words) == "" && strings.TrimSpace(s.file) == "" {
		return &processor.ConfigError{Processor: ID, Option: "stopwords", Err: errors.New("either a word list or a file is required")}
	}
	if s.file != "" {
		if _, err := s.readFile(ctx); err != nil {
			return &processor.ConfigError{Processor: ID, Option: "file", Err: err}
		}
	}
	return nil
}

// set returns the union of both sources, read once per run.
func (s *StopWords) set(ctx context.Context, rc *processor.RunContext) (map[string]struct{}, error) {
	return processor.Memo(rc, memoKey, func() (map[string]struct{}, error) {
		set := make(map[string]struct{})
		for _, w := range strings.Fields(s.words) {
			set[w] = struct{}{}
		}
		if s.file != "" {
			data, err := s.readFile(ctx)
			if err != nil {
				return nil, err
			}
			for _, w := range strings.Fields(string(data)) {
				set[w] = struct{}{}
			}
		}
		return set, nil
	})
}

func (s *StopWords) readFile(ctx context.Context) ([]byte, error) {
	uri := s.file
	switch {
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return s.fetch(ctx, uri)
	case strings.HasPrefix(uri, "file://"):
		uri = strings.TrimPrefix(uri, "file://")
	}
	data, err := os.ReadFile(uri)
	if err != nil {
		return nil, fmt.Errorf("reading stop word file: %w", err)
	}
	return data, nil
}

type statusError struct{ code int }

func (e statusError) Error() string { return fmt.Sprintf("unexpected status %d", e.code) }

func (s *StopWords) fetch(ctx context.Context, uri string) ([]byte, error) {
	var body []byte
	err := resilience.Retry(ctx, "stopwords-fetch", resilience.RetryConfig{
		MaxAttempts: 3,
		Retryable: func(err error) bool {
			var se statusError
			return !errors.As(err, &se) || se.code >= 500
		},
	}, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return err
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return statusError{code: resp.StatusCode}
		}
		body, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching stop word list %s: %w", uri, err)
	}
	return body, nil
}

// Filter removes stop words from value, records them as ignored and rejoins
// the rest with single spaces.
func (s *StopWords) Filter(rc *processor.RunContext, set map[string]struct{}, value string) string {
	words := strings.Fields(value)
	kept := words[:0]
	for _, w := range words {
		if _, stop := set[w]; stop {
			rc.Ignore(w)
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// ProcessItems loads the word set for the run with the caller's context.
func (s *StopWords) ProcessItems(ctx context.Context, rc *processor.RunContext, _ *item.Set) error {
	_, err := s.set(ctx, rc)
	return err
}

func (s *StopWords) ProcessField(rc *processor.RunContext, f *item.Field) {
	set, err := s.set(context.Background(), rc)
	if err != nil {
		s.logger.Warn("stop word list unavailable", "field", f.Name, "error", err)
		return
	}
	if f.Type != item.TypeText && f.Type != item.TypeString {
		return
	}
	processor.MapStrings(f, func(v string) []string {
		return []string{s.Filter(rc, set, v)}
	})
}

func (s *StopWords) PreprocessQuery(ctx context.Context, rc *processor.RunContext, q *query.Query) error {
	set, err := s.set(ctx, rc)
	if err != nil {
		return err
	}
	processor.RewriteTerms(q.Keys, func(term string) []string {
		return strings.Fields(s.Filter(rc, set, term))
	})
	return nil
}

// PostprocessResults attaches the words dropped from the query.
func (s *StopWords) PostprocessResults(_ context.Context, rc *processor.RunContext, _ *query.Query, res *query.Results) {
	if ignored := rc.Ignored(); len(ignored) > 0 {
		res.AddIgnored(ignored...)
	}
}
