package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/kafka"
)

type AggregatedStats struct {
	TotalSessions     int64        `json:"total_sessions"`
	ZeroResultCount   int64        `json:"zero_result_count"`
	PartialCount      int64        `json:"partial_count"`
	AvgRemotePeers    float64      `json:"avg_remote_peers"`
	AvgLatencyMs      float64      `json:"avg_latency_ms"`
	P50LatencyMs      int64        `json:"p50_latency_ms"`
	P95LatencyMs      int64        `json:"p95_latency_ms"`
	P99LatencyMs      int64        `json:"p99_latency_ms"`
	TopQueries        []QueryCount `json:"top_queries"`
	ZeroResultQueries []QueryCount `json:"zero_result_queries"`
	FailingSources    []QueryCount `json:"failing_sources"`
	SessionsPerMinute float64      `json:"sessions_per_minute"`

	// Consumer is set when the stats come from the merge-event topic.
	Consumer *kafka.ConsumerStats `json:"consumer,omitempty"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// maxLatencies bounds the latency sample kept for percentiles.
const maxLatencies = 10000

// Aggregator keeps statistics over merge events. It is fed either directly
// through Track or from the merge-event topic through HandleEvent.
type Aggregator struct {
	mu                sync.RWMutex
	totalSessions     atomic.Int64
	zeroResults       atomic.Int64
	partial           atomic.Int64
	remotePeers       atomic.Int64
	latencies         []int64
	next              int
	queryCounts       map[string]int64
	zeroResultQueries map[string]int64
	failingSources    map[string]int64
	startTime         time.Time

	logger *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:         make([]int64, 0, 1024),
		queryCounts:       make(map[string]int64),
		zeroResultQueries: make(map[string]int64),
		failingSources:    make(map[string]int64),
		startTime:         time.Now(),
		logger:            slog.Default().With("component", "merge-aggregator"),
	}
}

func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[MergeEvent](value)
		if err != nil {
			return fmt.Errorf("merge event %q: %w", key, err)
		}
		agg.Track(event)
		return nil
	}
}

func (a *Aggregator) Track(event MergeEvent) {
	a.totalSessions.Add(1)
	a.remotePeers.Add(int64(event.RemotePeerCount))
	switch event.Type {
	case EventZeroResult:
		a.zeroResults.Add(1)
	case EventPartialMerge:
		a.partial.Add(1)
	}

	a.mu.Lock()
	if len(a.latencies) < maxLatencies {
		a.latencies = append(a.latencies, event.LatencyMs)
	} else {
		a.latencies[a.next] = event.LatencyMs
		a.next = (a.next + 1) % maxLatencies
	}
	a.queryCounts[event.Query]++
	if event.Type == EventZeroResult {
		a.zeroResultQueries[event.Query]++
	}
	for _, src := range event.FailedSources {
		a.failingSources[src]++
	}
	a.mu.Unlock()
}

// DefaultTop is the length of the ranked lists in Stats.
const DefaultTop = 10

func (a *Aggregator) Stats() AggregatedStats {
	return a.Snapshot(DefaultTop)
}

// Snapshot is Stats with ranked lists of at most top entries.
func (a *Aggregator) Snapshot(top int) AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalSessions:   a.totalSessions.Load(),
		ZeroResultCount: a.zeroResults.Load(),
		PartialCount:    a.partial.Load(),
	}
	if stats.TotalSessions > 0 {
		stats.AvgRemotePeers = float64(a.remotePeers.Load()) / float64(stats.TotalSessions)
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
	stats.TopQueries = topN(a.queryCounts, top)
	stats.ZeroResultQueries = topN(a.zeroResultQueries, top)
	stats.FailingSources = topN(a.failingSources, top)
	elapsed := time.Since(a.startTime).Minutes()
	if elapsed > 0 {
		stats.SessionsPerMinute = float64(stats.TotalSessions) / elapsed
	}
	return stats
}

// Reset clears every counter and restarts the rate clock.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalSessions.Store(0)
	a.zeroResults.Store(0)
	a.partial.Store(0)
	a.remotePeers.Store(0)
	a.latencies = a.latencies[:0]
	a.next = 0
	clear(a.queryCounts)
	clear(a.zeroResultQueries)
	clear(a.failingSources)
	a.startTime = time.Now()
	a.logger.Info("merge statistics reset")
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

// topN orders by count, then name, so equal counts list deterministically.
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
