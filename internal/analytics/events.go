package analytics

import "time"

// EventTypeSearch is the event-type header of a SearchEvent.
const EventTypeSearch = "search"

type EventType string

const (
	EventCacheHit  EventType = "cache_hit"
	EventCacheMiss EventType = "cache_miss"
)

// SearchEvent describes one answered search.
type SearchEvent struct {
	EventID   string    `json:"event_id"`
	Type      EventType `json:"type"`
	IndexID   string    `json:"index_id"`
	Query     string    `json:"query"`
	Terms     []string  `json:"terms"`
	Ignored   []string  `json:"ignored,omitempty"`
	TotalHits int       `json:"total_hits"`
	Returned  int       `json:"returned"`
	LatencyMs int64     `json:"latency_ms"`
	CacheHit  bool      `json:"cache_hit"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}
