package posting

import (
	apperrors "github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/errors"
)

// Bounds is the running component-wise minimum and maximum of every posting
// observed for one query. It only ever widens.
type Bounds struct {
	min      [numFields]int
	max      [numFields]int
	observed int
}

// Observe widens the bounds to include p.
func (b *Bounds) Observe(p Posting) {
	for f := Field(0); f < numFields; f++ {
		v := p.Value(f)
		if b.observed == 0 || v < b.min[f] {
			b.min[f] = v
		}
		if b.observed == 0 || v > b.max[f] {
			b.max[f] = v
		}
	}
	b.observed++
}

// Merge widens b to also cover other.
func (b *Bounds) Merge(other Bounds) {
	if other.observed == 0 {
		return
	}
	if b.observed == 0 {
		*b = other
		return
	}
	for f := Field(0); f < numFields; f++ {
		if other.min[f] < b.min[f] {
			b.min[f] = other.min[f]
		}
		if other.max[f] > b.max[f] {
			b.max[f] = other.max[f]
		}
	}
	b.observed += other.observed
}

func (b Bounds) Empty() bool {
	return b.observed == 0
}

// Observed is the number of postings folded into the bounds.
func (b Bounds) Observed() int {
	return b.observed
}

// Range returns the (min, max) pair of field f. ok is false while no
// posting has been observed.
func (b Bounds) Range(f Field) (lo, hi int, ok bool) {
	if b.observed == 0 || f < 0 || f >= numFields {
		return 0, 0, false
	}
	return b.min[f], b.max[f], true
}

// Min returns a posting holding the per-field minimums.
func (b Bounds) Min() Posting {
	return fromFields(b.min)
}

// Max returns a posting holding the per-field maximums.
func (b Bounds) Max() Posting {
	return fromFields(b.max)
}

// Check verifies min <= max on every field.
func (b Bounds) Check() error {
	if b.observed == 0 {
		return nil
	}
	for f := Field(0); f < numFields; f++ {
		if b.min[f] > b.max[f] {
			return apperrors.Internalf("bounds for %s inverted: min %d > max %d", f, b.min[f], b.max[f])
		}
	}
	return nil
}

func fromFields(v [numFields]int) Posting {
	return Posting{
		TermFrequency:  v[FieldTermFrequency],
		PositionInText: v[FieldPosition],
		WordDistance:   v[FieldWordDistance],
		HitCount:       v[FieldHitCount],
		Quality:        v[FieldQuality],
		VirtualAge:     v[FieldVirtualAge],
		DocLength:      v[FieldDocLength],
	}
}
