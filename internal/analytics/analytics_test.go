package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/kafka"
)

type recordingPublisher struct {
	mu      sync.Mutex
	batches [][]kafka.Event
}

func (p *recordingPublisher) PublishBatch(_ context.Context, events []kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, append([]kafka.Event(nil), events...))
	return nil
}

func (p *recordingPublisher) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range p.batches {
		n += len(b)
	}
	return n
}

func TestCollectorBatches(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewCollector(pub, 16, 2, time.Hour)
	c.Start(context.Background())

	for i := 0; i < 5; i++ {
		c.Track(MergeEvent{Type: EventMerge, SessionID: "s", Query: "peer"})
	}
	c.Close()

	if pub.total() != 5 {
		t.Fatalf("published = %d, want 5", pub.total())
	}
	for _, b := range pub.batches[:len(pub.batches)-1] {
		if len(b) != 2 {
			t.Errorf("batch size = %d, want 2", len(b))
		}
	}
	ev := pub.batches[0][0]
	if ev.Key != "s" || ev.Kind != KindMergeEvent {
		t.Errorf("event key/kind = %q/%q", ev.Key, ev.Kind)
	}
}

func TestCollectorFlushesOnInterval(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewCollector(pub, 16, 100, 10*time.Millisecond)
	c.Start(context.Background())
	defer c.Close()

	c.Track(MergeEvent{SessionID: "s1"})
	deadline := time.Now().Add(2 * time.Second)
	for pub.total() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if pub.total() != 1 {
		t.Errorf("published = %d, want 1", pub.total())
	}
}

func TestAggregator(t *testing.T) {
	agg := NewAggregator()
	agg.Track(MergeEvent{Type: EventMerge, Query: "peer", LatencyMs: 10, RemotePeerCount: 2})
	agg.Track(MergeEvent{Type: EventMerge, Query: "peer", LatencyMs: 30, RemotePeerCount: 0})
	agg.Track(MergeEvent{Type: EventZeroResult, Query: "nothing", LatencyMs: 20, FailedSources: []string{"peer-b:9400"}})

	stats := agg.Stats()
	if stats.TotalSessions != 3 || stats.ZeroResultCount != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.AvgLatencyMs != 20 {
		t.Errorf("avg latency = %v", stats.AvgLatencyMs)
	}
	if len(stats.TopQueries) == 0 || stats.TopQueries[0].Query != "peer" || stats.TopQueries[0].Count != 2 {
		t.Errorf("top queries = %+v", stats.TopQueries)
	}
	if len(stats.FailingSources) != 1 || stats.FailingSources[0].Query != "peer-b:9400" {
		t.Errorf("failing sources = %+v", stats.FailingSources)
	}
	if stats.AvgRemotePeers < 0.66 || stats.AvgRemotePeers > 0.67 {
		t.Errorf("avg peers = %v", stats.AvgRemotePeers)
	}
}

func TestHandleEvent(t *testing.T) {
	agg := NewAggregator()
	handle := HandleEvent(agg)
	data, _ := json.Marshal(MergeEvent{Type: EventPartialMerge, Query: "peer"})
	if err := handle(context.Background(), nil, data); err != nil {
		t.Fatal(err)
	}
	if err := handle(context.Background(), nil, []byte("garbage")); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("garbage: err = %v, want ErrInvalidInput", err)
	}
	if agg.Stats().PartialCount != 1 {
		t.Errorf("partial = %d", agg.Stats().PartialCount)
	}
}

func statsMux(agg *Aggregator, consumer func() kafka.ConsumerStats) *http.ServeMux {
	mux := http.NewServeMux()
	h := NewHandler(agg)
	if consumer != nil {
		h = h.WithConsumer(consumer)
	}
	h.Routes(mux)
	return mux
}

func TestStatsHandler(t *testing.T) {
	agg := NewAggregator()
	for _, q := range []string{"peer", "peer", "merge", "rank", "crawl"} {
		agg.Track(MergeEvent{Type: EventMerge, Query: q})
	}
	mux := statsMux(agg, func() kafka.ConsumerStats { return kafka.ConsumerStats{Processed: 5, Malformed: 1} })

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats?top=2", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var stats AggregatedStats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.TotalSessions != 5 {
		t.Errorf("sessions = %d", stats.TotalSessions)
	}
	if len(stats.TopQueries) != 2 || stats.TopQueries[0] != (QueryCount{Query: "peer", Count: 2}) {
		t.Errorf("top queries = %+v", stats.TopQueries)
	}
	if stats.Consumer == nil || stats.Consumer.Malformed != 1 {
		t.Errorf("consumer = %+v", stats.Consumer)
	}
}

func TestStatsHandlerRejectsBadTop(t *testing.T) {
	mux := statsMux(NewAggregator(), nil)
	for _, top := range []string{"0", "101", "ten"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats?top="+top, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("top=%s: status = %d, want 400", top, rec.Code)
		}
	}
}

func TestStatsReset(t *testing.T) {
	agg := NewAggregator()
	agg.Track(MergeEvent{Type: EventZeroResult, Query: "peer", LatencyMs: 40, FailedSources: []string{"p1"}})
	mux := statsMux(agg, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/admin/stats/reset", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	stats := agg.Stats()
	if stats.TotalSessions != 0 || stats.ZeroResultCount != 0 || stats.P50LatencyMs != 0 ||
		len(stats.TopQueries) != 0 || len(stats.FailingSources) != 0 {
		t.Errorf("stats after reset = %+v", stats)
	}
	if stats.Consumer != nil {
		t.Error("consumer stats without a consumer")
	}
}
