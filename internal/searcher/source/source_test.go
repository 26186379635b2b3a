package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ranking/profile"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func seededIndex(t *testing.T, n int) *index.MemoryIndex {
	t.Helper()
	idx := index.NewMemoryIndex()
	for i := 0; i < n; i++ {
		_, err := idx.AddDocument(index.Document{
			URL:      fmt.Sprintf("https://site%d.example/doc", i),
			Title:    fmt.Sprintf("peer document %d", i),
			Body:     "results merged across the peer network",
			Quality:  i,
			Modified: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if _, err := idx.AddDocument(index.Document{URL: "https://other.example/", Title: "gardening"}); err != nil {
		t.Fatal(err)
	}
	return idx
}

func startPeer(t *testing.T, idx *index.MemoryIndex) string {
	t.Helper()
	rs := rpc.NewServer()
	NewServer("remote", idx, profile.Default(nil), 100).Register(rs)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go rs.ServeListener(ln)
	t.Cleanup(rs.Stop)
	return ln.Addr().String()
}

func peerConfig() config.PeersConfig {
	return config.PeersConfig{
		RetryAttempts:    2,
		RetryDelay:       time.Millisecond,
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
	}
}

func TestLocalFetch(t *testing.T) {
	l := NewLocal("local", seededIndex(t, 5))
	b, err := l.Fetch(context.Background(), Query{Plan: parser.Parse("peer network")})
	if err != nil {
		t.Fatal(err)
	}
	if !b.Local || b.Presorted {
		t.Errorf("local=%v presorted=%v", b.Local, b.Presorted)
	}
	if len(b.Postings) != 5 || b.TotalMatches != 5 {
		t.Fatalf("postings = %d, matches = %d", len(b.Postings), b.TotalMatches)
	}
	if len(b.Documents) != 5 {
		t.Errorf("documents = %d", len(b.Documents))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Fetch(ctx, Query{Plan: parser.Parse("peer")}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}

func TestPeerFetchRanked(t *testing.T) {
	addr := startPeer(t, seededIndex(t, 10))
	p := NewPeer(addr, peerConfig(), nil, nil)
	defer p.Close()

	b, err := p.Fetch(context.Background(), Query{Plan: parser.Parse("peer"), Limit: 3, Rank: true})
	if err != nil {
		t.Fatal(err)
	}
	if !b.Presorted || b.Local {
		t.Errorf("presorted=%v local=%v", b.Presorted, b.Local)
	}
	if b.TotalMatches != 10 || len(b.Postings) != 3 {
		t.Fatalf("matches = %d, postings = %d", b.TotalMatches, len(b.Postings))
	}
	for i, want := range []int{9, 8, 7} {
		if b.Postings[i].Quality != want {
			t.Errorf("posting %d quality = %d, want %d", i, b.Postings[i].Quality, want)
		}
		if b.Postings[i].Local {
			t.Error("remote postings must not be local")
		}
	}
	if len(b.Documents) != 3 {
		t.Errorf("documents = %d", len(b.Documents))
	}
}

func TestPeerFetchUnranked(t *testing.T) {
	addr := startPeer(t, seededIndex(t, 4))
	p := NewPeer(addr, peerConfig(), nil, nil)
	defer p.Close()

	b, err := p.Fetch(context.Background(), Query{Plan: parser.Parse("peer NOT gardening"), Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if b.Presorted {
		t.Error("unranked batch marked presorted")
	}
	if len(b.Postings) != 4 {
		t.Errorf("postings = %d", len(b.Postings))
	}
}

func TestPeerUnavailableTripsBreaker(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	m := metrics.New(prometheus.NewRegistry())
	p := NewPeer(addr, peerConfig(), nil, m)
	q := Query{Plan: parser.Parse("peer"), Limit: 5}
	for i := 0; i < 2; i++ {
		if _, err := p.Fetch(context.Background(), q); !errors.Is(err, apperrors.ErrPeerUnavailable) {
			t.Fatalf("err = %v, want ErrPeerUnavailable", err)
		}
	}
	if p.Breaker().GetState() != resilience.StateOpen {
		t.Fatalf("breaker = %s, want open", p.Breaker().GetState())
	}
	_, err = p.Fetch(context.Background(), q)
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	got := testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("peer:" + addr))
	if got != float64(resilience.StateOpen) {
		t.Errorf("breaker gauge = %v", got)
	}
}

func TestRemoteErrorNotRetried(t *testing.T) {
	addr := startPeer(t, seededIndex(t, 1))
	p := NewPeer(addr, peerConfig(), nil, nil)
	defer p.Close()

	_, err := p.Fetch(context.Background(), Query{Plan: &parser.QueryPlan{}})
	var remote *rpc.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("err = %v, want RemoteError", err)
	}
	if retryable(err) {
		t.Error("remote errors must not be retried")
	}
}

func TestPeerStatsAndPing(t *testing.T) {
	addr := startPeer(t, seededIndex(t, 3))
	p := NewPeer(addr, peerConfig(), nil, nil)
	defer p.Close()
	ctx := context.Background()

	if err := p.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	stats, err := p.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Documents != 4 || stats.Peer != "remote" {
		t.Errorf("stats = %+v", stats)
	}
}

func TestWireRoundTripKeepsFields(t *testing.T) {
	w := proto.WirePosting{URLHash: "abcdefghijkl", Quality: 7, VirtualAge: 19000, HitCount: 3, DocLength: 11}
	p := FromWire(w)
	if p.Local || p.Quality != 7 || p.VirtualAge != 19000 {
		t.Errorf("posting = %+v", p)
	}
	if ToWire(p) != w {
		t.Errorf("wire = %+v", ToWire(p))
	}
}
