package tokenizer

import (
	"fmt"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/item"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/processor"
)

var sampleTexts = map[string]string{
	"short": "The quick brown fox jumps over the lazy dog",
	"medium": `Search servers process queries against their own indexes. Each index
        keeps the fields its datasource declares and responds to queries
        independently. Processors tokenize, drop stop words and attach access
        grants before items reach the backend.`,
	"long": strings.Repeat(`Information retrieval systems form the backbone of modern search
        infrastructure. These systems combine tokenization, stemming, and stop word
        removal to normalize text into searchable terms. Caching layers reduce
        latency for repeated queries while circuit breakers protect against cascade
        failures in distributed deployments. `, 20),
}

func BenchmarkTokens(b *testing.B) {
	tok, err := New(DefaultOptions())
	if err != nil {
		b.Fatal(err)
	}
	for name, text := range sampleTexts {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				_ = tok.Tokens(text)
			}
		})
	}
}

func BenchmarkTokensParallel(b *testing.B) {
	tok, err := New(DefaultOptions())
	if err != nil {
		b.Fatal(err)
	}
	text := sampleTexts["medium"]
	b.ReportAllocs()
	b.SetBytes(int64(len(text)))
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = tok.Tokens(text)
		}
	})
}

func BenchmarkProcessFieldVaryingSize(b *testing.B) {
	tok, err := New(DefaultOptions())
	if err != nil {
		b.Fatal(err)
	}
	base := "search servers index items with processors "
	for _, size := range []int{10, 100, 500, 1000, 5000} {
		text := strings.Repeat(base, size/len(base)+1)[:size]
		b.Run(fmt.Sprintf("bytes_%d", size), func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			rc := processor.NewRunContext()
			for i := 0; i < b.N; i++ {
				f := &item.Field{Name: "body", Type: item.TypeText, Fulltext: true, Values: []any{text}}
				tok.ProcessField(rc, f)
			}
		})
	}
}
