package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ranking/posting"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/rpc"
)

// Peer fetches batches from one remote node. Calls go through a circuit
// breaker owned by the peer and are retried on transport errors; the merge
// core above never retries.
type Peer struct {
	addr    string
	cfg     config.PeersConfig
	breaker *resilience.CircuitBreaker
	cache   *cache.PeerCache
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu     sync.Mutex
	client *rpc.Client
}

// NewPeer creates a peer source. pc and m may be nil.
func NewPeer(addr string, cfg config.PeersConfig, pc *cache.PeerCache, m *metrics.Metrics) *Peer {
	p := &Peer{
		addr:    addr,
		cfg:     cfg,
		cache:   pc,
		metrics: m,
		logger:  slog.Default().With("component", "peer-source", "peer", addr),
	}
	p.breaker = resilience.NewCircuitBreaker("peer:"+addr, resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.FailureThreshold,
		ResetTimeout:     cfg.ResetTimeout,
		OnStateChange: func(name string, to resilience.State) {
			if m != nil {
				m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
	return p
}

func (p *Peer) Name() string {
	return p.addr
}

// Breaker exposes the peer's circuit breaker for health reporting.
func (p *Peer) Breaker() *resilience.CircuitBreaker {
	return p.breaker
}

// Fetch asks the peer for the postings of q. Any failure is reported as
// ErrPeerUnavailable.
func (p *Peer) Fetch(ctx context.Context, q Query) (Batch, error) {
	req := &proto.PostingsRequest{
		Query:   q.Plan.RawQuery,
		Terms:   q.Plan.Terms,
		Exclude: q.Plan.ExcludeTerms,
		Mode:    q.Plan.WireMode(),
		Limit:   int32(q.Limit),
		Rank:    q.Rank,
	}
	if deadline, ok := ctx.Deadline(); ok {
		req.TimeoutMs = time.Until(deadline).Milliseconds()
	}

	fetch := func() (*proto.PostingsResponse, error) {
		return p.call(ctx, req)
	}

	var (
		resp *proto.PostingsResponse
		err  error
	)
	if p.cache != nil {
		resp, _, err = p.cache.GetOrFetch(ctx, cache.Key(p.addr, q.Plan.Key(), q.Limit, q.Rank), fetch)
	} else {
		resp, err = fetch()
	}
	if err != nil {
		return Batch{}, fmt.Errorf("%w: %s: %w", apperrors.ErrPeerUnavailable, p.addr, err)
	}

	postings := make([]posting.Posting, 0, len(resp.Postings))
	for _, w := range resp.Postings {
		postings = append(postings, FromWire(w))
	}
	p.logger.Debug("peer batch received",
		"postings", len(postings),
		"presorted", resp.Presorted,
		"remote_latency_ms", resp.LatencyMs,
	)
	return Batch{
		Source:       p.addr,
		Postings:     postings,
		Presorted:    resp.Presorted,
		Documents:    resp.Documents,
		TotalMatches: int(resp.TotalMatches),
	}, nil
}

func (p *Peer) call(ctx context.Context, req *proto.PostingsRequest) (*proto.PostingsResponse, error) {
	var resp proto.PostingsResponse
	err := p.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, "peer "+p.addr, p.retryConfig(), func() error {
			client, err := p.conn(ctx)
			if err != nil {
				return err
			}
			resp = proto.PostingsResponse{}
			return client.Call(ctx, proto.MethodPostings, req, &resp)
		})
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *Peer) retryConfig() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:  p.cfg.RetryAttempts,
		InitialDelay: p.cfg.RetryDelay,
		MaxDelay:     time.Second,
		RetryIf:      retryable,
	}
}

// retryable keeps retries to transport trouble. A caller that gave up, or a
// peer that answered with an error, is not retried.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var remote *rpc.RemoteError
	return !errors.As(err, &remote)
}

// conn returns a usable client, redialing when the previous one broke.
func (p *Peer) conn(ctx context.Context) (*rpc.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil && !p.client.Broken() {
		return p.client, nil
	}
	if p.client != nil {
		p.client.Close()
		p.client = nil
	}
	client, err := rpc.Dial(ctx, p.addr)
	if err != nil {
		return nil, err
	}
	p.client = client
	return client, nil
}

// Ping asks the peer for its health state.
func (p *Peer) Ping(ctx context.Context) error {
	client, err := p.conn(ctx)
	if err != nil {
		return err
	}
	var resp proto.HealthCheckResponse
	if err := client.Call(ctx, proto.MethodHealth, proto.StatsRequest{}, &resp); err != nil {
		return err
	}
	if resp.Status != proto.StatusServing {
		return fmt.Errorf("peer %s is %s", p.addr, resp.Status)
	}
	return nil
}

// Stats asks the peer for the size of its index.
func (p *Peer) Stats(ctx context.Context) (*proto.StatsResponse, error) {
	client, err := p.conn(ctx)
	if err != nil {
		return nil, err
	}
	var resp proto.StatsResponse
	if err := client.Call(ctx, proto.MethodStats, proto.StatsRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *Peer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	return err
}
