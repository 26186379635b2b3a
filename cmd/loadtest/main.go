package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
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

type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	Timeout     string
	Queries     []string
	Profiles    []string
}

// searchReply is the part of the search response the load test reads.
type searchReply struct {
	Results []struct {
		Local bool `json:"local"`
	} `json:"results"`
	Counts struct {
		Size            int `json:"size"`
		RemotePeerCount int `json:"remote_peer_count"`
	} `json:"counts"`
	Partial       bool     `json:"partial"`
	FailedSources []string `json:"failed_sources"`
}

type Stats struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64
	partialCount  atomic.Int64
	remoteResults atomic.Int64
	localResults  atomic.Int64
	mergedTotal   atomic.Int64

	mu            sync.Mutex
	latencies     map[string][]time.Duration
	statusCodes   map[int]int64
	failedSources map[string]int64
}

func NewStats() *Stats {
	return &Stats{
		latencies:     make(map[string][]time.Duration),
		statusCodes:   make(map[int]int64),
		failedSources: make(map[string]int64),
	}
}

func (s *Stats) Record(profile string, d time.Duration, status int, reply *searchReply, err error) {
	s.totalRequests.Add(1)
	if err != nil {
		s.errorCount.Add(1)
		return
	}
	if status >= 200 && status < 300 {
		s.successCount.Add(1)
	} else {
		s.errorCount.Add(1)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusCodes[status]++
	s.latencies[profile] = append(s.latencies[profile], d)
	if reply == nil {
		return
	}
	if reply.Partial {
		s.partialCount.Add(1)
	}
	s.mergedTotal.Add(int64(reply.Counts.Size))
	for _, r := range reply.Results {
		if r.Local {
			s.localResults.Add(1)
		} else {
			s.remoteResults.Add(1)
		}
	}
	for _, src := range reply.FailedSources {
		s.failedSources[src]++
	}
}

func main() {
	baseURL := flag.String("url", "http://localhost:8090", "base URL of the search node")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	timeout := flag.String("timeout", "", "per-search merge budget, e.g. 800ms")
	profiles := flag.String("profiles", "quality,freshness,domain;freshness,quality,domain;domain,quality,freshness",
		"semicolon-separated ranking profiles to rotate through")
	flag.Parse()

	cfg := Config{
		BaseURL:     *baseURL,
		Concurrency: *concurrency,
		Duration:    *duration,
		Timeout:     *timeout,
		Queries: []string{
			"peer to peer search",
			"distributed index",
			"web crawler",
			"ranking profile",
			"domain popularity",
			"result merge",
			"search engine",
			"open source",
			"free software",
			"linux kernel",
			"network protocol",
			"-spam search",
			"crawler OR spider",
		},
		Profiles: strings.Split(*profiles, ";"),
	}

	fmt.Println("=== Peer Search Merge Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Queries:     %d unique, %d profiles\n", len(cfg.Queries), len(cfg.Profiles))
	fmt.Println()

	stats := runLoadTest(cfg)
	printReport(stats, cfg.Duration)
}

func runLoadTest(cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 15 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Concurrency; w++ {
		g.Go(func() error {
			for i := w; ctx.Err() == nil; i++ {
				query := cfg.Queries[i%len(cfg.Queries)]
				profile := cfg.Profiles[i%len(cfg.Profiles)]
				runOne(ctx, client, cfg, query, profile, stats)
			}
			return nil
		})
	}

	fmt.Print("Running")
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	g.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

func runOne(ctx context.Context, client *http.Client, cfg Config, query, profile string, stats *Stats) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", "10")
	params.Set("profile", profile)
	if cfg.Timeout != "" {
		params.Set("timeout", cfg.Timeout)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL+"/api/v1/search?"+params.Encode(), nil)
	if err != nil {
		stats.Record(profile, 0, 0, nil, err)
		return
	}

	start := time.Now()
	resp, err := client.Do(req)
	d := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			stats.Record(profile, d, 0, nil, err)
		}
		return
	}
	defer resp.Body.Close()

	var reply *searchReply
	if resp.StatusCode == http.StatusOK {
		reply = &searchReply{}
		if err := json.NewDecoder(resp.Body).Decode(reply); err != nil {
			stats.Record(profile, d, resp.StatusCode, nil, err)
			return
		}
	}
	stats.Record(profile, d, resp.StatusCode, reply, nil)
}

func printReport(stats *Stats, duration time.Duration) {
	total := stats.totalRequests.Load()
	success := stats.successCount.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Successful:      %d\n", success)
	fmt.Printf("Errors:          %d\n", stats.errorCount.Load())
	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the search node running?")
		os.Exit(1)
	}
	fmt.Printf("Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	if success > 0 {
		fmt.Printf("Partial merges:  %.2f%%\n", float64(stats.partialCount.Load())/float64(success)*100)
		fmt.Printf("Avg merged size: %.1f\n", float64(stats.mergedTotal.Load())/float64(success))
		fmt.Printf("Returned local:  %d  remote: %d\n", stats.localResults.Load(), stats.remoteResults.Load())
	}

	stats.mu.Lock()
	defer stats.mu.Unlock()

	fmt.Println()
	fmt.Println("=== Latency by profile ===")
	profiles := make([]string, 0, len(stats.latencies))
	for p := range stats.latencies {
		profiles = append(profiles, p)
	}
	slices.Sort(profiles)
	for _, p := range profiles {
		lat := slices.Clone(stats.latencies[p])
		slices.Sort(lat)
		fmt.Printf("  %-28s n=%-6d p50=%-10s p95=%-10s p99=%-10s max=%s\n",
			p, len(lat), percentile(lat, 50), percentile(lat, 95), percentile(lat, 99), lat[len(lat)-1])
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	codes := make([]int, 0, len(stats.statusCodes))
	for code := range stats.statusCodes {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	for _, code := range codes {
		fmt.Printf("  %d: %d\n", code, stats.statusCodes[code])
	}

	if len(stats.failedSources) > 0 {
		fmt.Println()
		fmt.Println("=== Failed sources ===")
		for src, n := range stats.failedSources {
			fmt.Printf("  %s: %d\n", src, n)
		}
	}
}

func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := (p*len(sorted)+99)/100 - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
