// Package domainrank classifies documents by the popularity of their domain.
// A Table holds N sorted shards of 6-byte domain hashes; shard i lists the
// domains of popularity class i, 0 being the most popular.
package domainrank

import (
	"log/slog"
	"slices"
	"strconv"
	"sync/atomic"

	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/metrics"
)

const (
	// Width scales a class into a ranking contribution.
	Width = 16

	// DefaultShards is the number of popularity classes.
	DefaultShards = 16

	// The domain part of a url hash follows the 6-character path hash.
	domainOffset = 6
	// HashLength is the width of one table entry.
	HashLength = 6
)

// Table is immutable after construction apart from the enabled switch, and
// safe for concurrent readers.
type Table struct {
	shards   [][]string
	n        int
	maxProbe int
	loaded   bool
	enabled  atomic.Bool
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Disabled returns a table that classifies every hash as unknown.
func Disabled(n int) *Table {
	if n <= 0 {
		n = DefaultShards
	}
	t := &Table{
		n:        n,
		maxProbe: n,
		logger:   slog.Default().With("component", "domain-rank"),
	}
	return t
}

// New builds a table from in-memory shards. shards[i] may be nil for a class
// with no data. Entries need not be sorted.
func New(cfg config.DomainRankConfig, shards [][]string) *Table {
	n := cfg.Shards
	if n <= 0 {
		n = DefaultShards
	}
	t := Disabled(n)
	t.shards = make([][]string, n)
	for i := 0; i < n && i < len(shards); i++ {
		if shards[i] == nil {
			continue
		}
		s := slices.Clone(shards[i])
		slices.Sort(s)
		t.shards[i] = slices.Compact(s)
	}
	t.maxProbe = n
	if cfg.MaxProbe > 0 && cfg.MaxProbe < n {
		t.maxProbe = cfg.MaxProbe
	}
	t.loaded = true
	t.enabled.Store(cfg.Enabled)
	return t
}

// WithMetrics records every lookup's class on m.
func (t *Table) WithMetrics(m *metrics.Metrics) *Table {
	t.metrics = m
	return t
}

// SetEnabled switches lookups on or off at runtime.
func (t *Table) SetEnabled(on bool) {
	t.enabled.Store(on)
}

// Enabled reports whether lookups consult the shards.
func (t *Table) Enabled() bool {
	return t != nil && t.loaded && t.enabled.Load()
}

// Loaded reports whether shard data was loaded. A table that failed to load
// cannot be switched on.
func (t *Table) Loaded() bool {
	return t != nil && t.loaded
}

// Unknown is the class returned for domains without data.
func (t *Table) Unknown() int {
	if t == nil {
		return DefaultShards
	}
	return t.n
}

// Classify returns the popularity class of urlHash in [0, N], N meaning
// unknown. Shards are probed in class order and the first hit wins.
func (t *Table) Classify(urlHash string) int {
	class := t.classify(urlHash)
	if t != nil && t.metrics != nil {
		t.metrics.DomainRankHits.WithLabelValues(strconv.Itoa(class)).Inc()
	}
	return class
}

func (t *Table) classify(urlHash string) int {
	if !t.Enabled() {
		return t.Unknown()
	}
	if len(urlHash) < domainOffset+HashLength {
		return t.n
	}
	dom := urlHash[domainOffset : domainOffset+HashLength]
	for i := 0; i < t.maxProbe; i++ {
		shard := t.shards[i]
		if shard == nil {
			continue
		}
		if _, found := slices.BinarySearch(shard, dom); found {
			return i
		}
	}
	return t.n
}

// Contribution converts the class of urlHash into Width * (N - class).
func (t *Table) Contribution(urlHash string) int {
	return Width * (t.Unknown() - t.Classify(urlHash))
}

// MaxContribution is the contribution of class 0.
func (t *Table) MaxContribution() int {
	return Width * t.Unknown()
}

// Sizes returns the entry count per shard, -1 for a missing shard.
func (t *Table) Sizes() []int {
	out := make([]int, t.Unknown())
	for i := range out {
		if t == nil || i >= len(t.shards) || t.shards[i] == nil {
			out[i] = -1
			continue
		}
		out[i] = len(t.shards[i])
	}
	return out
}

// Shards returns a copy of the loaded shards, nil for a table without data.
func (t *Table) Shards() [][]string {
	if !t.Loaded() {
		return nil
	}
	out := make([][]string, len(t.shards))
	for i, s := range t.shards {
		out[i] = slices.Clone(s)
	}
	return out
}
