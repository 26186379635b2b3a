// Package cache keeps peer posting batches in Redis for a short time so a
// burst of identical queries costs one round trip per peer.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/proto"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/redis"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "peerbatch:"

// Store is the subset of the Redis client the cache needs.
type Store interface {
	GetBytes(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type PeerCache struct {
	store   Store
	cfg     config.RedisConfig
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func New(store Store, cfg config.RedisConfig, m *metrics.Metrics) *PeerCache {
	return &PeerCache{
		store:   store,
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "peer-cache"),
	}
}

// Key identifies one batch: the peer and the normalized query it answered.
func Key(peer, queryKey string, limit int, rank bool) string {
	raw := fmt.Sprintf("%s|%s|limit=%d|rank=%t", peer, queryKey, limit, rank)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}

func (c *PeerCache) Get(ctx context.Context, key string) (*proto.PostingsResponse, bool) {
	data, err := c.store.GetBytes(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var resp proto.PostingsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.PeerCacheHits.Inc()
	}
	return &resp, true
}

func (c *PeerCache) Set(ctx context.Context, key string, resp *proto.PostingsResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, data, c.cfg.CacheTTL); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrFetch returns the cached batch under key or calls fetch once for all
// concurrent callers of the same key. Failed fetches are not cached.
func (c *PeerCache) GetOrFetch(
	ctx context.Context,
	key string,
	fetch func() (*proto.PostingsResponse, error),
) (*proto.PostingsResponse, bool, error) {
	if resp, ok := c.Get(ctx, key); ok {
		return resp, true, nil
	}
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		resp, err := fetch()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, key, resp)
		return resp, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*proto.PostingsResponse), false, nil
}

// Invalidate drops every cached batch.
func (c *PeerCache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.store.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return deleted, fmt.Errorf("invalidating peer cache: %w", err)
	}
	c.logger.Info("peer cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

func (c *PeerCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *PeerCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.PeerCacheMisses.Inc()
	}
}
