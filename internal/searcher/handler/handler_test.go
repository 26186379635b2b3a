package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ranking/domainrank"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ranking/posting"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ranking/profile"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/searcher/source"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/rpc"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Ranking.Profile = "quality,freshness,domain"
	cfg.Merge.CallTimeout = time.Second
	cfg.Merge.SessionTimeout = 2 * time.Second
	cfg.Peers = config.PeersConfig{
		RetryAttempts:    1,
		RetryDelay:       time.Millisecond,
		FailureThreshold: 5,
		ResetTimeout:     time.Minute,
	}
	return cfg
}

func buildIndex(t *testing.T, host string, n, baseQuality int) *index.MemoryIndex {
	t.Helper()
	idx := index.NewMemoryIndex()
	for i := 0; i < n; i++ {
		_, err := idx.AddDocument(index.Document{
			URL:      fmt.Sprintf("https://%s/engine/%d", host, i),
			Title:    fmt.Sprintf("peer engine notes %d", i),
			Body:     "merging ranked peer results",
			Quality:  baseQuality + i,
			Modified: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	return idx
}

func startPeer(t *testing.T, idx *index.MemoryIndex) string {
	t.Helper()
	rs := rpc.NewServer()
	source.NewServer("remote", idx, profile.Default(nil), 100).Register(rs)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go rs.ServeListener(ln)
	t.Cleanup(rs.Stop)
	return ln.Addr().String()
}

func newMux(t *testing.T, cfg *config.Config, domains *domainrank.Table, sources ...source.Source) *http.ServeMux {
	t.Helper()
	h, err := New(cfg, domains, sources, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	h.Routes(mux)
	return mux
}

func get(t *testing.T, mux http.Handler, target string) (*httptest.ResponseRecorder, SearchResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	var resp SearchResponse
	if rec.Code == http.StatusOK {
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return rec, resp
}

func TestSearchMergesLocalAndPeer(t *testing.T) {
	cfg := testConfig(t)
	local := source.NewLocal("local", buildIndex(t, "local.example", 4, 0))
	peer := source.NewPeer(startPeer(t, buildIndex(t, "remote.example", 4, 10)), cfg.Peers, nil, nil)
	defer peer.Close()
	mux := newMux(t, cfg, domainrank.Disabled(16), local, peer)

	rec, resp := get(t, mux, "/api/v1/search?q=peer+engine&limit=6")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if len(resp.Results) != 6 {
		t.Fatalf("results = %d, want 6", len(resp.Results))
	}
	if resp.Counts.Local != 4 || resp.Counts.Global != 4 || resp.Counts.RemotePeerCount != 1 {
		t.Errorf("counts = %+v", resp.Counts)
	}
	if resp.Counts.Size != resp.Counts.Local+resp.Counts.Global {
		t.Errorf("counts.size = %d, want local+global = %d", resp.Counts.Size, resp.Counts.Local+resp.Counts.Global)
	}
	for i, r := range resp.Results {
		if r.Percent < 0 || r.Percent > 100 {
			t.Errorf("result %d percent = %d", i, r.Percent)
		}
		if r.URL == "" {
			t.Errorf("result %d has no url", i)
		}
	}
	// keys depend on arrival order, but the presorted peer batch keeps its
	// own order and its best document always makes the cut
	lastRemote := 1 << 30
	sawBest := false
	for _, r := range resp.Results {
		if r.Local {
			continue
		}
		if r.Quality > lastRemote {
			t.Errorf("remote results out of order: %d after %d", r.Quality, lastRemote)
		}
		lastRemote = r.Quality
		sawBest = sawBest || r.Quality == 13
	}
	if !sawBest {
		t.Errorf("best remote document missing from %+v", resp.Results)
	}
	if len(resp.FailedSources) != 0 {
		t.Errorf("failed = %v", resp.FailedSources)
	}
	found := false
	for _, tc := range resp.RelatedTerms {
		if tc.Term == "notes" {
			found = true
		}
		if tc.Term == "peer" || tc.Term == "engine" {
			t.Errorf("query term %q returned as related", tc.Term)
		}
	}
	if !found {
		t.Errorf("related terms = %+v, want notes", resp.RelatedTerms)
	}
}

func TestSearchValidation(t *testing.T) {
	mux := newMux(t, testConfig(t), domainrank.Disabled(16))
	tests := []struct {
		name   string
		target string
	}{
		{"missing query", "/api/v1/search"},
		{"bad limit", "/api/v1/search?q=peer&limit=abc"},
		{"zero limit", "/api/v1/search?q=peer&limit=0"},
		{"bad profile", "/api/v1/search?q=peer&profile=quality,quality,domain"},
		{"bad timeout", "/api/v1/search?q=peer&timeout=soon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := get(t, mux, tt.target)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestSearchStopWordsOnly(t *testing.T) {
	mux := newMux(t, testConfig(t), domainrank.Disabled(16))
	rec, resp := get(t, mux, "/api/v1/search?q=the+and")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(resp.Results) != 0 {
		t.Errorf("results = %d", len(resp.Results))
	}
}

func TestSearchProfileParam(t *testing.T) {
	local := source.NewLocal("local", buildIndex(t, "local.example", 2, 0))
	mux := newMux(t, testConfig(t), domainrank.Disabled(16), local)
	_, resp := get(t, mux, "/api/v1/search?q=peer&profile=freshness,quality,domain")
	want, _ := profile.Parse("freshness,quality,domain", nil)
	if resp.Profile != want.String() {
		t.Errorf("profile = %q, want %q", resp.Profile, want.String())
	}
}

func TestSearchDeadPeer(t *testing.T) {
	cfg := testConfig(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	dead := ln.Addr().String()
	ln.Close()

	local := source.NewLocal("local", buildIndex(t, "local.example", 3, 0))
	peer := source.NewPeer(dead, cfg.Peers, nil, nil)
	mux := newMux(t, cfg, domainrank.Disabled(16), local, peer)

	rec, resp := get(t, mux, "/api/v1/search?q=peer&timeout=500ms")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(resp.Results) != 3 {
		t.Errorf("results = %d, want the 3 local ones", len(resp.Results))
	}
	if len(resp.FailedSources) != 1 || resp.FailedSources[0] != dead {
		t.Errorf("failed = %v", resp.FailedSources)
	}
}

func TestDomainRankSwitch(t *testing.T) {
	cfg := testConfig(t)
	shards := make([][]string, 16)
	shards[0] = []string{posting.URLHash("https://popular.example/")[6:12]}
	table := domainrank.New(config.DomainRankConfig{Enabled: true, Shards: 16}, shards)
	mux := newMux(t, cfg, table)

	post := func(target string) int {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, target, nil))
		return rec.Code
	}
	if code := post("/api/v1/admin/domainrank?enabled=false"); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if table.Enabled() {
		t.Error("table still enabled")
	}
	if code := post("/api/v1/admin/domainrank?enabled=maybe"); code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/domainrank", nil))
	var state struct {
		Loaded  bool  `json:"loaded"`
		Enabled bool  `json:"enabled"`
		Shards  []int `json:"shards"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&state); err != nil {
		t.Fatal(err)
	}
	if !state.Loaded || state.Enabled || state.Shards[0] != 1 || state.Shards[1] != -1 {
		t.Errorf("state = %+v", state)
	}

	unloaded := newMux(t, cfg, domainrank.Disabled(16))
	rec = httptest.NewRecorder()
	unloaded.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/admin/domainrank?enabled=true", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

type flushStore struct {
	keys int64
	seen string
}

func (s *flushStore) GetBytes(context.Context, string) ([]byte, error) {
	return nil, fmt.Errorf("unexpected get")
}

func (s *flushStore) Set(context.Context, string, interface{}, time.Duration) error {
	return nil
}

func (s *flushStore) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	s.seen = pattern
	return s.keys, nil
}

func TestPeerCacheEndpoints(t *testing.T) {
	cfg := testConfig(t)

	disabled := newMux(t, cfg, domainrank.Disabled(16))
	rec := httptest.NewRecorder()
	disabled.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/admin/peer-cache/flush", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}

	store := &flushStore{keys: 3}
	h, err := New(cfg, domainrank.Disabled(16), nil, cache.New(store, cfg.Redis, nil), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	h.Routes(mux)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/admin/peer-cache/flush", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]int64
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["deleted"] != 3 {
		t.Errorf("deleted = %d, want 3", body["deleted"])
	}
	if !strings.HasPrefix(store.seen, "peerbatch:") {
		t.Errorf("pattern = %q", store.seen)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/peer-cache", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("stats status = %d", rec.Code)
	}
}
