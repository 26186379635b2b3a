package index

import (
	"fmt"
	"testing"
	"time"
)

func benchIndex(n int) *MemoryIndex {
	mi := NewMemoryIndex()
	for i := 0; i < n; i++ {
		mi.AddDocument(Document{
			URL:      fmt.Sprintf("https://host%d.example/doc/%d", i%100, i),
			Title:    "distributed peer search",
			Body:     "search engine with distributed indexing and result merging across peers",
			Quality:  i % 50,
			Modified: time.Unix(int64(i)*3600, 0),
		})
	}
	return mi
}

func BenchmarkAddDocument(b *testing.B) {
	mi := NewMemoryIndex()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		mi.AddDocument(Document{
			URL:   fmt.Sprintf("https://bench.example/%d", i),
			Title: "benchmark title",
			Body:  "a benchmark document with several terms for the memory index",
		})
	}
}

func BenchmarkSearch(b *testing.B) {
	mi := benchIndex(10000)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = mi.Search("search")
	}
}

func BenchmarkJoin(b *testing.B) {
	mi := benchIndex(10000)
	for _, mode := range []Mode{ModeAND, ModeOR} {
		b.Run(fmt.Sprintf("mode_%d", mode), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = mi.Join([]string{"search", "peer"}, nil, mode, 100)
			}
		})
	}
}

func BenchmarkJoinParallel(b *testing.B) {
	mi := benchIndex(10000)
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = mi.Join([]string{"search", "peer"}, nil, ModeAND, 100)
		}
	})
}
