package memory

import (
	"math"
	"sort"
)

type Posting struct {
	DocID     string
	Frequency int
	Positions []int
}

type PostingList []Posting

const (
	k1 = 1.2
	b  = 0.75
)

type rankParams struct {
	TotalDocs    int64
	AvgDocLength float64
}

// scoreBM25 adds the BM25 contribution of each term's postings to scores,
// multiplied by boost.
func scoreBM25(scores map[string]float64, postingsPerTerm map[string]PostingList, params rankParams, docLength func(docID string) int, boost float64) {
	for _, postings := range postingsPerTerm {
		idf := computeIDF(params.TotalDocs, int64(len(postings)))
		for _, p := range postings {
			tf := computeTFNorm(float64(p.Frequency), float64(docLength(p.DocID)), params.AvgDocLength)
			scores[p.DocID] += boost * idf * tf
		}
	}
}

func computeIDF(totalDocs int64, docFreq int64) float64 {
	numerator := float64(totalDocs) - float64(docFreq)
	denominator := float64(docFreq) + 0.5
	return math.Log(numerator/denominator + 1)
}

func computeTFNorm(termFreq float64, docLength float64, avgDocLength float64) float64 {
	if avgDocLength == 0 {
		return 0
	}
	lengthRatio := docLength / avgDocLength
	denominator := termFreq + k1*(1-b+b*lengthRatio)
	return (termFreq * (k1 + 1)) / denominator
}

type scoredDoc struct {
	DocID string
	Score float64
}

// rank orders docs by descending score, then id.
func rank(scores map[string]float64) []scoredDoc {
	out := make([]scoredDoc, 0, len(scores))
	for id, s := range scores {
		out = append(out, scoredDoc{DocID: id, Score: math.Round(s*10000) / 10000})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].DocID < out[j].DocID
	})
	return out
}
