package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/item"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/query"
)

var benchWords = []string{
	"search", "index", "server", "processor", "query", "cache",
	"grant", "account", "token", "backend", "drain", "task",
}

func benchItems(n int) []*item.Item {
	items := make([]*item.Item, n)
	for i := range items {
		title := fmt.Sprintf("%s %s", benchWords[i%len(benchWords)], benchWords[(i/3)%len(benchWords)])
		body := fmt.Sprintf("%s %s %s", benchWords[(i*7)%len(benchWords)], benchWords[(i*5)%len(benchWords)], title)
		items[i] = doc(fmt.Sprintf("doc-%d", i), title, body, i%2 == 0)
	}
	return items
}

func BenchmarkIndexItems(b *testing.B) {
	ctx := context.Background()
	items := benchItems(1000)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		be := New(Options{})
		idx := testIndex()
		if err := be.AddIndex(ctx, idx); err != nil {
			b.Fatal(err)
		}
		if _, err := be.IndexItems(ctx, idx, items); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSearch(b *testing.B) {
	ctx := context.Background()
	for _, n := range []int{100, 1000, 10000} {
		be := New(Options{})
		idx := testIndex()
		if err := be.AddIndex(ctx, idx); err != nil {
			b.Fatal(err)
		}
		if _, err := be.IndexItems(ctx, idx, benchItems(n)); err != nil {
			b.Fatal(err)
		}
		queries := map[string]*query.Keys{
			"single": {Conjunction: query.AND, Terms: []string{"search"}},
			"and":    {Conjunction: query.AND, Terms: []string{"search", "cache"}},
			"or":     {Conjunction: query.OR, Terms: []string{"grant", "drain", "token"}},
		}
		for name, keys := range queries {
			b.Run(fmt.Sprintf("docs_%d/%s", n, name), func(b *testing.B) {
				b.ReportAllocs()
				for i := 0; i < b.N; i++ {
					if _, err := be.Search(ctx, idx, &query.Query{Keys: keys, Limit: 10}); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}

func BenchmarkSearchParallel(b *testing.B) {
	ctx := context.Background()
	be := New(Options{})
	idx := testIndex()
	if err := be.AddIndex(ctx, idx); err != nil {
		b.Fatal(err)
	}
	if _, err := be.IndexItems(ctx, idx, benchItems(1000)); err != nil {
		b.Fatal(err)
	}
	keys := &query.Keys{Conjunction: query.AND, Terms: []string{"search"}}
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := be.Search(ctx, idx, &query.Query{Keys: keys, Limit: 10}); err != nil {
				b.Fatal(err)
			}
		}
	})
}
