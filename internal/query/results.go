package query

import "sort"

type Result struct {
	ID     string         `json:"id"`
	Score  float64        `json:"score"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Results is what a backend returns, annotated by postprocessors.
type Results struct {
	ResultCount int      `json:"result_count"`
	Results     []Result `json:"results"`
	// Ignored lists search words dropped by the pipeline, in encounter order.
	Ignored  []string `json:"ignored,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// AddIgnored appends words in order. A word dropped twice is listed twice.
func (r *Results) AddIgnored(words ...string) {
	r.Ignored = append(r.Ignored, words...)
}

// SortResults orders results by descending score, then ascending id.
func SortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}
