// Package tracing follows an index pass or a search request through the
// processor pipeline and the backend call. A finished trace is written to
// slog as one record per span, keyed by the span's path ("search/backend").
package tracing

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/config"
)

type spanKey struct{}

// Span is one timed step of a trace.
type Span struct {
	Name      string
	TraceID   string
	StartTime time.Time
	EndTime   time.Time
	Children  []*Span
	Err       error

	mu    sync.Mutex
	attrs []slog.Attr
}

// Tracer decides which traces get logged.
type Tracer struct {
	enabled bool
	// traces whose id hashes below threshold are kept
	threshold uint64
}

// New returns a Tracer for cfg. A disabled or nil tracer still lets callers
// build spans; it never logs them.
func New(cfg config.TracingConfig) *Tracer {
	t := &Tracer{enabled: cfg.Enabled}
	switch {
	case cfg.SampleRate >= 1:
		t.threshold = math.MaxUint64
	case cfg.SampleRate > 0:
		t.threshold = uint64(cfg.SampleRate * math.MaxUint64)
	}
	return t
}

// Sampled reports whether traceID is logged. The decision depends only on
// the id, so every service handling the same request agrees.
func (t *Tracer) Sampled(traceID string) bool {
	if t == nil || !t.enabled {
		return false
	}
	if t.threshold == math.MaxUint64 {
		return true
	}
	return xxhash.Sum64String(traceID) < t.threshold
}

// Finish ends the root span and logs its tree when sampled.
func (t *Tracer) Finish(s *Span) {
	s.End()
	if t.Sampled(s.TraceID) {
		s.Log()
	}
}

// StartSpan starts a root span and stores it in the returned context.
func StartSpan(ctx context.Context, name, traceID string) (context.Context, *Span) {
	s := &Span{Name: name, TraceID: traceID, StartTime: time.Now()}
	return context.WithValue(ctx, spanKey{}, s), s
}

// StartChildSpan starts a span under the one in ctx. Without a parent it is
// a root span with no trace id.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	s := &Span{Name: name, StartTime: time.Now()}
	if parent := SpanFromContext(ctx); parent != nil {
		s.TraceID = parent.TraceID
		parent.mu.Lock()
		parent.Children = append(parent.Children, s)
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, spanKey{}, s), s
}

func SpanFromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(spanKey{}).(*Span)
	return s
}

// End stamps the end time once; later calls are no-ops.
func (s *Span) End() {
	s.mu.Lock()
	if s.EndTime.IsZero() {
		s.EndTime = time.Now()
	}
	s.mu.Unlock()
}

// Duration is zero until the span ends.
func (s *Span) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, slog.Any(key, value))
	s.mu.Unlock()
}

func (s *Span) RecordError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	s.Err = err
	s.mu.Unlock()
}

// Log writes the span and its descendants, parents first.
func (s *Span) Log() {
	s.walk(nil, func(path []string, sp *Span) {
		args := []any{
			"trace_id", sp.TraceID,
			"span", strings.Join(path, "/"),
			"duration_ms", sp.Duration().Milliseconds(),
		}
		sp.mu.Lock()
		for _, a := range sp.attrs {
			args = append(args, a)
		}
		if sp.Err != nil {
			args = append(args, "error", sp.Err)
		}
		sp.mu.Unlock()
		slog.Info("span", args...)
	})
}

func (s *Span) walk(path []string, fn func([]string, *Span)) {
	path = append(path, s.Name)
	fn(path, s)
	s.mu.Lock()
	children := append([]*Span(nil), s.Children...)
	s.mu.Unlock()
	for _, c := range children {
		c.walk(path, fn)
	}
}
