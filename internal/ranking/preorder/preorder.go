// Package preorder ranks posting batches against final normalization bounds.
//
// Add is the first pass: it scans postings until the deadline, dropping
// duplicates and widening the bounds. The second pass runs on the first pull
// and scores every scanned posting against the bounds as they stand then, so
// the resulting order is stable within the accumulator.
package preorder

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ranking/container"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ranking/posting"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ranking/profile"
	apperrors "github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/errors"
)

// Ranked is a posting with its final key and the bounds it was scored
// against.
type Ranked struct {
	Posting posting.Posting
	Score   int64
	Percent int
	Local   bool
	Bounds  posting.Bounds
}

// AddResult describes one first-pass scan.
type AddResult struct {
	Scanned    int
	Duplicates int
	Invalid    int
	// Partial is set when the deadline or context stopped the scan early.
	Partial bool
}

type Option func(*Accumulator)

// WithClock replaces time.Now for deadline checks.
func WithClock(now func() time.Time) Option {
	return func(a *Accumulator) { a.now = now }
}

type pending struct {
	p     posting.Posting
	local bool
}

// Accumulator is single-use: once pulling starts no more postings can be
// added, and a drained accumulator stays empty. It is not safe for
// concurrent use.
type Accumulator struct {
	prof    *profile.Profile
	pending []pending
	seen    map[string]struct{}
	bounds  posting.Bounds
	ranked  rankedHeap
	pulling bool
	now     func() time.Time
	logger  *slog.Logger
}

func New(prof *profile.Profile, opts ...Option) *Accumulator {
	a := &Accumulator{
		prof:   prof,
		seen:   make(map[string]struct{}),
		now:    time.Now,
		logger: slog.Default().With("component", "preorder"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Add scans list until it ends, ctx is done, or deadline passes. A zero
// deadline means no time limit. Running out of time is not an error: the
// postings scanned so far take part and the result is marked Partial.
func (a *Accumulator) Add(ctx context.Context, list []posting.Posting, local bool, deadline time.Time) (AddResult, error) {
	if a.pulling {
		return AddResult{}, fmt.Errorf("%w: accumulator already ranked", apperrors.ErrSessionClosed)
	}

	var res AddResult
	for _, p := range list {
		if ctx.Err() != nil || (!deadline.IsZero() && !a.now().Before(deadline)) {
			res.Partial = true
			break
		}
		res.Scanned++
		if err := p.Validate(); err != nil {
			res.Invalid++
			continue
		}
		if _, dup := a.seen[p.URLHash]; dup {
			res.Duplicates++
			continue
		}
		a.seen[p.URLHash] = struct{}{}
		a.bounds.Observe(p)
		a.pending = append(a.pending, pending{p: p, local: local})
	}

	if res.Partial {
		a.logger.Debug("batch scan cut short",
			"scanned", res.Scanned,
			"total", len(list),
		)
	}
	return res, nil
}

// rank runs the second pass once.
func (a *Accumulator) rank() error {
	if a.pulling {
		return nil
	}
	a.pulling = true
	if err := a.bounds.Check(); err != nil {
		return err
	}
	a.ranked = make(rankedHeap, 0, len(a.pending))
	for _, pe := range a.pending {
		score := a.prof.Score(pe.p, a.bounds)
		a.ranked = append(a.ranked, Ranked{
			Posting: pe.p,
			Score:   score,
			Percent: a.prof.Percent(score),
			Local:   pe.local,
			Bounds:  a.bounds,
		})
	}
	a.pending = nil
	heap.Init(&a.ranked)
	return nil
}

// Next removes and returns the best remaining posting.
func (a *Accumulator) Next() (Ranked, bool) {
	if err := a.rank(); err != nil {
		a.logger.Error("ranking failed", "error", err)
		return Ranked{}, false
	}
	if a.ranked.Len() == 0 {
		return Ranked{}, false
	}
	return heap.Pop(&a.ranked).(Ranked), true
}

// Len is the number of postings not yet pulled.
func (a *Accumulator) Len() int {
	if a.pulling {
		return a.ranked.Len()
	}
	return len(a.pending)
}

func (a *Accumulator) Bounds() posting.Bounds {
	return a.bounds
}

// Container drains up to limit postings, best first, into a container
// suitable for InsertContainer with presorted set. limit <= 0 drains all.
func (a *Accumulator) Container(limit int) (*container.Container, error) {
	if err := a.rank(); err != nil {
		return nil, err
	}
	n := a.ranked.Len()
	if limit > 0 && limit < n {
		n = limit
	}
	entries := make([]container.Entry, 0, n)
	for i := 0; i < n; i++ {
		r := heap.Pop(&a.ranked).(Ranked)
		entries = append(entries, container.Entry{Posting: r.Posting, Score: r.Score, Local: r.Local})
	}
	return container.NewSorted(a.prof, entries, a.bounds)
}

// rankedHeap pops the highest key first; equal keys pop in url hash order.
type rankedHeap []Ranked

func (h rankedHeap) Len() int { return len(h) }

func (h rankedHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score > h[j].Score
	}
	return h[i].Posting.URLHash < h[j].Posting.URLHash
}

func (h rankedHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *rankedHeap) Push(x interface{}) {
	*h = append(*h, x.(Ranked))
}

func (h *rankedHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
