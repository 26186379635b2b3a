package index

import (
	"math"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ranking/posting"
)

// Mode selects how the occurrence lists of several terms are combined.
type Mode int

const (
	ModeAND Mode = iota
	ModeOR
)

// JoinResult is the outcome of a joined lookup.
type JoinResult struct {
	Postings []posting.Posting
	// Matches counts candidates before the limit was applied.
	Matches int
}

// Join looks up every term, combines the lists with mode, drops documents
// containing an excluded term and folds each remaining document into one
// posting: hit counts are summed, the position is the earliest occurrence of
// any term and the word distance is the smallest gap between occurrences of
// two different terms. Postings come back ordered by url hash; limit <= 0
// keeps all of them.
func (m *MemoryIndex) Join(terms, exclude []string, mode Mode, limit int) JoinResult {
	if len(terms) == 0 {
		return JoinResult{}
	}

	perTerm := make(map[string]OccurrenceList, len(terms))
	for _, term := range terms {
		perTerm[term] = m.Search(term)
	}

	var candidates map[string]struct{}
	switch mode {
	case ModeOR:
		candidates = unionOccurrences(perTerm)
	default:
		candidates = intersectOccurrences(perTerm)
	}
	for _, term := range exclude {
		for _, occ := range m.Search(term) {
			delete(candidates, occ.URLHash)
		}
	}

	hashes := make([]string, 0, len(candidates))
	for h := range candidates {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	res := JoinResult{Matches: len(hashes)}
	if limit > 0 && len(hashes) > limit {
		hashes = hashes[:limit]
	}

	byDoc := make(map[string][]Occurrence, len(hashes))
	for _, term := range terms {
		for _, occ := range perTerm[term] {
			if _, ok := candidates[occ.URLHash]; ok {
				byDoc[occ.URLHash] = append(byDoc[occ.URLHash], occ)
			}
		}
	}

	res.Postings = make([]posting.Posting, 0, len(hashes))
	for _, h := range hashes {
		info, ok := m.Document(h)
		if !ok {
			continue
		}
		res.Postings = append(res.Postings, fold(info, byDoc[h]))
	}
	return res
}

func fold(info DocInfo, occs []Occurrence) posting.Posting {
	p := posting.Posting{
		URLHash:    info.URLHash,
		Quality:    info.Quality,
		VirtualAge: posting.VirtualAge(info.Modified),
		Language:   info.Language,
		DocType:    info.DocType,
		DocLength:  len(info.Host),
		Local:      true,
	}
	first := math.MaxInt
	for _, occ := range occs {
		p.HitCount += occ.Frequency
		if len(occ.Positions) > 0 && occ.Positions[0] < first {
			first = occ.Positions[0]
		}
	}
	if first != math.MaxInt {
		p.PositionInText = first
	}
	if info.Words > 0 {
		// per mille of the document's words
		p.TermFrequency = p.HitCount * 1000 / info.Words
	}
	p.WordDistance = minDistance(occs)
	return p
}

// minDistance is the smallest gap between positions of two different terms,
// zero for single-term matches.
func minDistance(occs []Occurrence) int {
	if len(occs) < 2 {
		return 0
	}
	best := math.MaxInt
	for i := 0; i < len(occs); i++ {
		for j := i + 1; j < len(occs); j++ {
			if d := closest(occs[i].Positions, occs[j].Positions); d < best {
				best = d
			}
		}
	}
	if best == math.MaxInt {
		return 0
	}
	return best
}

// closest walks two ascending position lists for their nearest pair.
func closest(a, b []int) int {
	best := math.MaxInt
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		d := a[i] - b[j]
		if d < 0 {
			d = -d
			i++
		} else {
			j++
		}
		if d < best {
			best = d
		}
	}
	return best
}

func intersectOccurrences(perTerm map[string]OccurrenceList) map[string]struct{} {
	if len(perTerm) == 0 {
		return make(map[string]struct{})
	}
	var shortestTerm string
	shortestLen := int(^uint(0) >> 1)
	for term, occs := range perTerm {
		if len(occs) < shortestLen {
			shortestLen = len(occs)
			shortestTerm = term
		}
	}
	candidates := make(map[string]struct{}, shortestLen)
	for _, occ := range perTerm[shortestTerm] {
		candidates[occ.URLHash] = struct{}{}
	}
	for term, occs := range perTerm {
		if term == shortestTerm {
			continue
		}
		present := make(map[string]struct{}, len(occs))
		for _, occ := range occs {
			present[occ.URLHash] = struct{}{}
		}
		for h := range candidates {
			if _, ok := present[h]; !ok {
				delete(candidates, h)
			}
		}
	}
	return candidates
}

func unionOccurrences(perTerm map[string]OccurrenceList) map[string]struct{} {
	candidates := make(map[string]struct{})
	for _, occs := range perTerm {
		for _, occ := range occs {
			candidates[occ.URLHash] = struct{}{}
		}
	}
	return candidates
}
