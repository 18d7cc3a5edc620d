// Command loadtest drives concurrent searches against a running search API
// and reports throughput, latency percentiles, cache hit rate and status
// codes.
//
// Usage:
//
//	go run ./cmd/loadtest -url http://localhost:8080 -index articles -duration 30s
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

var defaultQueries = []string{
	"distributed systems",
	"search engine",
	"the quick brown fox",
	"indexing items",
	"query processing",
	"cache invalidation",
	"access grants",
	"a stop word heavy query of the day",
	"circuit breaker",
	"full text search",
}

type Config struct {
	BaseURL     string
	Index       string
	APIKey      string
	Concurrency int
	Duration    time.Duration
	Limit       int
	Queries     []string
}

type Stats struct {
	total     atomic.Int64
	success   atomic.Int64
	errors    atomic.Int64
	cacheHits atomic.Int64
	ignored   atomic.Int64

	mu          sync.Mutex
	latencies   []time.Duration
	statusCodes map[int]int64
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]int64),
	}
}

// searchResponse is the part of a search response the report uses.
type searchResponse struct {
	CacheHit bool     `json:"cache_hit"`
	Ignored  []string `json:"ignored"`
}

func (s *Stats) Record(duration time.Duration, status int, body *searchResponse, err error) {
	s.total.Add(1)
	if err != nil {
		s.errors.Add(1)
		return
	}
	if status >= 200 && status < 300 {
		s.success.Add(1)
	} else {
		s.errors.Add(1)
	}
	if body != nil {
		if body.CacheHit {
			s.cacheHits.Add(1)
		}
		s.ignored.Add(int64(len(body.Ignored)))
	}

	s.mu.Lock()
	s.latencies = append(s.latencies, duration)
	s.statusCodes[status]++
	s.mu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the search API")
	index := flag.String("index", "articles", "index to search")
	apiKey := flag.String("api-key", os.Getenv("SP_API_KEY"), "API key sent as X-API-Key")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	limit := flag.Int("limit", 10, "page size of each search")
	queriesFile := flag.String("queries", "", "file with one query per line (default: built-in set)")
	flag.Parse()

	queries := defaultQueries
	if *queriesFile != "" {
		var err error
		if queries, err = readQueries(*queriesFile); err != nil {
			fmt.Fprintf(os.Stderr, "reading queries: %v\n", err)
			os.Exit(1)
		}
	}

	cfg := Config{
		BaseURL:     strings.TrimRight(*baseURL, "/"),
		Index:       *index,
		APIKey:      *apiKey,
		Concurrency: *concurrency,
		Duration:    *duration,
		Limit:       *limit,
		Queries:     queries,
	}

	fmt.Println("=== Search API Load Test ===")
	fmt.Printf("Target:      %s (index %s)\n", cfg.BaseURL, cfg.Index)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Queries:     %d unique\n", len(cfg.Queries))
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()
	stats := Run(ctx, cfg, newClient(cfg.Concurrency))
	if !printReport(os.Stdout, stats, cfg.Duration) {
		os.Exit(1)
	}
}

func readQueries(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s holds no queries", path)
	}
	return out, nil
}

func newClient(concurrency int) *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        concurrency * 2,
			MaxIdleConnsPerHost: concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

func (c Config) searchURL(q string) string {
	return fmt.Sprintf("%s/api/v1/indexes/%s/search?q=%s&limit=%d",
		c.BaseURL, url.PathEscape(c.Index), url.QueryEscape(q), c.Limit)
}

// Run searches until ctx ends. Worker i starts at query i so that workers
// do not move through the set in lockstep.
func Run(ctx context.Context, cfg Config, client *http.Client) *Stats {
	stats := NewStats()
	var g errgroup.Group
	for w := 0; w < cfg.Concurrency; w++ {
		g.Go(func() error {
			for i := w; ctx.Err() == nil; i++ {
				search(ctx, cfg, client, cfg.Queries[i%len(cfg.Queries)], stats)
			}
			return nil
		})
	}
	_ = g.Wait()
	return stats
}

func search(ctx context.Context, cfg Config, client *http.Client, q string, stats *Stats) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.searchURL(q), nil)
	if err != nil {
		stats.Record(0, 0, nil, err)
		return
	}
	if cfg.APIKey != "" {
		req.Header.Set("X-API-Key", cfg.APIKey)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// The run ended mid-request; not a service error.
			return
		}
		stats.Record(time.Since(start), 0, nil, err)
		return
	}
	defer resp.Body.Close()

	var body *searchResponse
	if resp.StatusCode == http.StatusOK {
		var decoded searchResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err == nil {
			body = &decoded
		} else if ctx.Err() != nil {
			return
		}
	}
	io.Copy(io.Discard, resp.Body)
	stats.Record(time.Since(start), resp.StatusCode, body, nil)
}

// printReport writes the summary and reports whether any request completed.
func printReport(w io.Writer, stats *Stats, duration time.Duration) bool {
	total := stats.total.Load()
	success := stats.success.Load()
	errs := stats.errors.Load()

	fmt.Fprintln(w, "=== Results ===")
	fmt.Fprintf(w, "Total Requests:  %d\n", total)
	fmt.Fprintf(w, "Successful:      %d\n", success)
	fmt.Fprintf(w, "Errors:          %d\n", errs)
	if total > 0 {
		fmt.Fprintf(w, "Error Rate:      %.2f%%\n", float64(errs)/float64(total)*100)
		fmt.Fprintf(w, "Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}
	if success > 0 {
		fmt.Fprintf(w, "Cache Hit Rate:  %.2f%%\n", float64(stats.cacheHits.Load())/float64(success)*100)
		fmt.Fprintf(w, "Ignored Words:   %d\n", stats.ignored.Load())
	}

	stats.mu.Lock()
	latencies := slices.Clone(stats.latencies)
	codes := make([]int, 0, len(stats.statusCodes))
	for code := range stats.statusCodes {
		codes = append(codes, code)
	}
	counts := make(map[int]int64, len(codes))
	for _, code := range codes {
		counts[code] = stats.statusCodes[code]
	}
	stats.mu.Unlock()

	if len(latencies) > 0 {
		slices.Sort(latencies)
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))

		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Latency ===")
		fmt.Fprintf(w, "Min:    %s\n", latencies[0])
		fmt.Fprintf(w, "Avg:    %s\n", avg)
		fmt.Fprintf(w, "P50:    %s\n", percentile(latencies, 50))
		fmt.Fprintf(w, "P90:    %s\n", percentile(latencies, 90))
		fmt.Fprintf(w, "P95:    %s\n", percentile(latencies, 95))
		fmt.Fprintf(w, "P99:    %s\n", percentile(latencies, 99))
		fmt.Fprintf(w, "Max:    %s\n", latencies[len(latencies)-1])
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Status Codes ===")
	slices.Sort(codes)
	for _, code := range codes {
		fmt.Fprintf(w, "  %d: %d\n", code, counts[code])
	}

	if total == 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "WARNING: No requests completed. Is the service running?")
		return false
	}
	return true
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
