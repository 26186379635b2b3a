// Package container keeps one query's postings deduplicated by url hash and
// sorted by descending ranking key.
//
// Keys are computed once, against the normalization bounds current at insert
// time, and never recomputed when later postings widen the bounds. The order
// is therefore an approximation that drifts as data arrives; callers that
// need an order computed against final bounds rank a batch with the preorder
// package and adopt it through InsertContainer.
package container

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ranking/posting"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ranking/profile"
	apperrors "github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/errors"
)

// Below this window size the insertion point is found by scanning.
const linearThreshold = 8

// Entry is a posting together with the key it was inserted under.
type Entry struct {
	Posting posting.Posting
	Score   int64
	Local   bool
}

// BatchResult tallies the outcome of a multi-posting insert.
type BatchResult struct {
	Inserted   int
	Duplicates int
	Invalid    int
}

func (r *BatchResult) add(o BatchResult) {
	r.Inserted += o.Inserted
	r.Duplicates += o.Duplicates
	r.Invalid += o.Invalid
}

// Container is safe for concurrent use; every operation takes one
// container-wide lock so inserts are linearizable.
type Container struct {
	mu      sync.Mutex
	prof    *profile.Profile
	entries []Entry
	seen    map[string]struct{}
	bounds  posting.Bounds
	local   int
	global  int
}

func New(prof *profile.Profile) *Container {
	return &Container{
		prof: prof,
		seen: make(map[string]struct{}),
	}
}

// NewSorted builds a container from entries already in descending key order,
// scored against bounds. Duplicate url hashes or out-of-order keys are
// reported as internal errors.
func NewSorted(prof *profile.Profile, entries []Entry, bounds posting.Bounds) (*Container, error) {
	c := New(prof)
	for i, e := range entries {
		if i > 0 && entries[i-1].Score < e.Score {
			return nil, apperrors.Internalf("presorted entries out of order at %d", i)
		}
		if _, dup := c.seen[e.Posting.URLHash]; dup {
			return nil, apperrors.Internalf("presorted entries repeat url hash %q", e.Posting.URLHash)
		}
		c.seen[e.Posting.URLHash] = struct{}{}
		if e.Local {
			c.local++
		} else {
			c.global++
		}
	}
	c.entries = slices.Clone(entries)
	c.bounds = bounds
	return c, nil
}

func (c *Container) Profile() *profile.Profile {
	return c.prof
}

// Insert adds p unless its url hash is already known. It returns
// ErrInvalidPosting or ErrDuplicate for rejected postings, and ErrInternal
// when the container's bounds are corrupt.
func (c *Container) Insert(p posting.Posting, local bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.insertLocked(p, local)
}

// InsertAll inserts every posting of a batch. Rejected postings are counted,
// not returned; the only error is an internal one, which stops the batch.
func (c *Container) InsertAll(batch []posting.Posting, local bool) (BatchResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var res BatchResult
	for _, p := range batch {
		err := c.insertLocked(p, local)
		if err != nil {
			res.add(classify(err))
			if !apperrors.IsRecoverable(err) {
				return res, err
			}
			continue
		}
		res.Inserted++
	}
	return res, nil
}

func classify(err error) BatchResult {
	switch {
	case errors.Is(err, apperrors.ErrDuplicate):
		return BatchResult{Duplicates: 1}
	case errors.Is(err, apperrors.ErrInvalidPosting):
		return BatchResult{Invalid: 1}
	}
	return BatchResult{}
}

// InsertContainer merges other into c. When c is empty and other is
// presorted, other's entries and bounds are adopted without rescoring.
// Otherwise each posting is inserted and rescored against c's bounds.
func (c *Container) InsertContainer(other *Container, local, presorted bool) (BatchResult, error) {
	if other == nil {
		return BatchResult{}, nil
	}
	if other == c {
		return BatchResult{}, apperrors.Internalf("container merged into itself")
	}
	entries, bounds := other.snapshot()

	c.mu.Lock()
	defer c.mu.Unlock()

	if presorted && len(c.entries) == 0 {
		return c.adoptLocked(entries, bounds, local)
	}

	var res BatchResult
	for _, e := range entries {
		err := c.insertLocked(e.Posting, local)
		if err != nil {
			res.add(classify(err))
			if !apperrors.IsRecoverable(err) {
				return res, err
			}
			continue
		}
		res.Inserted++
	}
	return res, nil
}

func (c *Container) adoptLocked(entries []Entry, bounds posting.Bounds, local bool) (BatchResult, error) {
	if err := bounds.Check(); err != nil {
		return BatchResult{}, err
	}
	var res BatchResult
	adopted := make([]Entry, 0, len(entries))
	for i, e := range entries {
		if i > 0 && entries[i-1].Score < e.Score {
			return BatchResult{}, apperrors.Internalf("presorted batch out of order at %d", i)
		}
		if _, dup := c.seen[e.Posting.URLHash]; dup {
			// drained hashes stay in seen even when the sequence is empty
			res.Duplicates++
			continue
		}
		c.seen[e.Posting.URLHash] = struct{}{}
		e.Local = local
		adopted = append(adopted, e)
	}
	c.entries = adopted
	c.bounds.Merge(bounds)
	c.count(local, len(adopted))
	res.Inserted = len(adopted)
	return res, nil
}

func (c *Container) insertLocked(p posting.Posting, local bool) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if _, dup := c.seen[p.URLHash]; dup {
		return fmt.Errorf("%w: %s", apperrors.ErrDuplicate, p.URLHash)
	}
	if err := c.bounds.Check(); err != nil {
		return err
	}

	c.bounds.Observe(p)
	score := c.prof.Score(p, c.bounds)
	at := c.insertionPoint(score)
	c.entries = slices.Insert(c.entries, at, Entry{Posting: p, Score: score, Local: local})
	c.seen[p.URLHash] = struct{}{}
	c.count(local, 1)
	return nil
}

func (c *Container) count(local bool, n int) {
	if local {
		c.local += n
	} else {
		c.global += n
	}
}

// insertionPoint returns the index after every entry whose key is >= score,
// so equal keys keep insertion order.
func (c *Container) insertionPoint(score int64) int {
	lo, hi := 0, len(c.entries)
	for hi-lo > linearThreshold {
		mid := int(uint(lo+hi) >> 1)
		if c.entries[mid].Score >= score {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	for lo < hi && c.entries[lo].Score >= score {
		lo++
	}
	return lo
}

// Remove deletes the posting with urlHash and forgets the hash, so the
// document may be inserted again.
func (c *Container) Remove(urlHash string) (posting.Posting, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, e := range c.entries {
		if e.Posting.URLHash == urlHash {
			c.entries = slices.Delete(c.entries, i, i+1)
			delete(c.seen, urlHash)
			return e.Posting, true
		}
	}
	return posting.Posting{}, false
}

// RemoveMany deletes every posting whose hash is listed and returns how many
// were present.
func (c *Container) RemoveMany(urlHashes ...string) int {
	if len(urlHashes) == 0 {
		return 0
	}
	drop := make(map[string]struct{}, len(urlHashes))
	for _, h := range urlHashes {
		drop[h] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	before := len(c.entries)
	c.entries = slices.DeleteFunc(c.entries, func(e Entry) bool {
		_, ok := drop[e.Posting.URLHash]
		if ok {
			delete(c.seen, e.Posting.URLHash)
		}
		return ok
	})
	return before - len(c.entries)
}

// Next removes and returns the best entry. The url hash stays known, so a
// later copy of the same document is still rejected as a duplicate.
func (c *Container) Next() (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) == 0 {
		return Entry{}, false
	}
	e := c.entries[0]
	c.entries[0] = Entry{}
	c.entries = c.entries[1:]
	return e, true
}

// Top returns up to n best entries without removing them.
func (c *Container) Top(n int) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n < 0 || n > len(c.entries) {
		n = len(c.entries)
	}
	return slices.Clone(c.entries[:n])
}

// ResultCounts returns how many postings were accepted from the local index
// and from remote peers.
func (c *Container) ResultCounts() (local, global int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local, c.global
}

func (c *Container) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Contains reports whether urlHash has been accepted and not removed.
func (c *Container) Contains(urlHash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.seen[urlHash]
	return ok
}

func (c *Container) Bounds() posting.Bounds {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bounds
}

func (c *Container) snapshot() ([]Entry, posting.Bounds) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.entries), c.bounds
}
