package analytics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/tasks"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/kafka"
)

// maxLatencies bounds the latency window percentiles are computed over.
const maxLatencies = 10000

type AggregatedStats struct {
	TotalSearches     int64            `json:"total_searches"`
	CacheHits         int64            `json:"cache_hits"`
	CacheMisses       int64            `json:"cache_misses"`
	ZeroResultCount   int64            `json:"zero_result_count"`
	AvgLatencyMs      float64          `json:"avg_latency_ms"`
	P50LatencyMs      int64            `json:"p50_latency_ms"`
	P95LatencyMs      int64            `json:"p95_latency_ms"`
	P99LatencyMs      int64            `json:"p99_latency_ms"`
	SearchesByIndex   map[string]int64 `json:"searches_by_index"`
	TopQueries        []QueryCount     `json:"top_queries"`
	ZeroResultQueries []QueryCount     `json:"zero_result_queries"`
	TopIgnoredWords   []QueryCount     `json:"top_ignored_words"`
	QueriesPerMinute  float64          `json:"queries_per_minute"`
	TasksEnqueued     int64            `json:"tasks_enqueued"`
	Drains            int64            `json:"drains"`
	TasksExecuted     int64            `json:"tasks_executed"`
	FailingServers    []string         `json:"failing_servers"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator folds search events and task events into running stats.
type Aggregator struct {
	mu                sync.RWMutex
	totalSearches     atomic.Int64
	cacheHits         atomic.Int64
	cacheMisses       atomic.Int64
	zeroResults       atomic.Int64
	tasksEnqueued     atomic.Int64
	drains            atomic.Int64
	tasksExecuted     atomic.Int64
	latencies         []int64
	byIndex           map[string]int64
	queryCounts       map[string]int64
	zeroResultQueries map[string]int64
	ignoredWords      map[string]int64
	failing           map[string]bool
	startTime         time.Time

	consumers []*kafka.Consumer
	logger    *slog.Logger
}

func NewAggregator(consumers ...*kafka.Consumer) *Aggregator {
	return &Aggregator{
		latencies:         make([]int64, 0, maxLatencies),
		byIndex:           make(map[string]int64),
		queryCounts:       make(map[string]int64),
		zeroResultQueries: make(map[string]int64),
		ignoredWords:      make(map[string]int64),
		failing:           make(map[string]bool),
		startTime:         time.Now(),
		consumers:         consumers,
		logger:            slog.Default().With("component", "analytics-aggregator"),
	}
}

// AddConsumer registers a consumer Start runs. Consumers are built after
// the aggregator because their handlers close over it.
func (a *Aggregator) AddConsumer(c *kafka.Consumer) {
	a.consumers = append(a.consumers, c)
}

// Start runs every consumer until ctx is done and returns the first error.
func (a *Aggregator) Start(ctx context.Context) error {
	a.logger.Info("analytics aggregator starting", "consumers", len(a.consumers))
	errCh := make(chan error, len(a.consumers))
	for _, c := range a.consumers {
		go func(c *kafka.Consumer) { errCh <- c.Start(ctx) }(c)
	}
	var first error
	for range a.consumers {
		if err := <-errCh; err != nil && first == nil {
			first = err
		}
	}
	return first
}

// HandleSearchEvent consumes the analytics topic.
func HandleSearchEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[SearchEvent](value)
		if err != nil {
			agg.logger.Error("failed to decode search event", "error", err)
			return nil
		}
		agg.RecordSearch(event)
		return nil
	}
}

// HandleTaskEvent consumes the task events topic.
func HandleTaskEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[tasks.Event](value)
		if err != nil {
			agg.logger.Error("failed to decode task event", "error", err)
			return nil
		}
		agg.RecordTask(event)
		return nil
	}
}

func (a *Aggregator) RecordSearch(event SearchEvent) {
	a.totalSearches.Add(1)

	if event.CacheHit {
		a.cacheHits.Add(1)
	} else {
		a.cacheMisses.Add(1)
	}

	if event.TotalHits == 0 {
		a.zeroResults.Add(1)
	}

	a.mu.Lock()
	if len(a.latencies) >= maxLatencies {
		a.latencies = append(a.latencies[:0], a.latencies[len(a.latencies)/2:]...)
	}
	a.latencies = append(a.latencies, event.LatencyMs)
	a.byIndex[event.IndexID]++
	a.queryCounts[event.Query]++
	if event.TotalHits == 0 {
		a.zeroResultQueries[event.Query]++
	}
	for _, w := range event.Ignored {
		a.ignoredWords[w]++
	}
	a.mu.Unlock()
}

func (a *Aggregator) RecordTask(event tasks.Event) {
	switch event.Kind {
	case tasks.EventEnqueued:
		a.tasksEnqueued.Add(1)
	case tasks.EventDrained:
		a.drains.Add(1)
		a.tasksExecuted.Add(int64(event.Executed))
		a.mu.Lock()
		if event.Failing {
			a.failing[event.ServerID] = true
		} else {
			delete(a.failing, event.ServerID)
		}
		a.mu.Unlock()
	default:
		a.logger.Debug("ignoring task event", "kind", event.Kind)
	}
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalSearches:   a.totalSearches.Load(),
		CacheHits:       a.cacheHits.Load(),
		CacheMisses:     a.cacheMisses.Load(),
		ZeroResultCount: a.zeroResults.Load(),
		TasksEnqueued:   a.tasksEnqueued.Load(),
		Drains:          a.drains.Load(),
		TasksExecuted:   a.tasksExecuted.Load(),
		SearchesByIndex: make(map[string]int64, len(a.byIndex)),
		FailingServers:  make([]string, 0, len(a.failing)),
	}
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	for idx, n := range a.byIndex {
		stats.SearchesByIndex[idx] = n
	}
	for id := range a.failing {
		stats.FailingServers = append(stats.FailingServers, id)
	}
	sort.Strings(stats.FailingServers)
	stats.TopQueries = topN(a.queryCounts, 10)
	stats.ZeroResultQueries = topN(a.zeroResultQueries, 10)
	stats.TopIgnoredWords = topN(a.ignoredWords, 10)
	elapsed := time.Since(a.startTime).Minutes()
	if elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalSearches) / elapsed
	}

	return stats
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN orders by count, then alphabetically so ties are stable.
func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Query < result[j].Query
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
