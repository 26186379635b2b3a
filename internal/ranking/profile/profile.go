// Package profile computes the composite ranking key of a posting. Three
// user-ordered primary factors occupy the high bit bands of the key and four
// fixed tie-break factors the low ones, so comparing two keys as integers
// compares the factors lexicographically in priority order.
package profile

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ranking/posting"
	apperrors "github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/errors"
)

// Factor identifies one component of the ranking key.
type Factor int

const (
	Quality Factor = iota
	Freshness
	DomainPopularity

	Position
	WordDistance
	HitCount
	DomainLength
)

const (
	primaryBits   = 10
	secondaryBits = 8
)

func (f Factor) String() string {
	switch f {
	case Quality:
		return "quality"
	case Freshness:
		return "freshness"
	case DomainPopularity:
		return "domain"
	case Position:
		return "position"
	case WordDistance:
		return "distance"
	case HitCount:
		return "hitcount"
	case DomainLength:
		return "domainlength"
	}
	return fmt.Sprintf("factor(%d)", int(f))
}

// DomainRanker supplies the domain popularity factor.
type DomainRanker interface {
	// Contribution returns the popularity of the url's domain in
	// [0, MaxContribution()], larger for more popular domains.
	Contribution(urlHash string) int
	MaxContribution() int
}

// Band is one (factor, bit width) slot of the key, most significant first.
type Band struct {
	Factor Factor
	Bits   uint
}

// Profile is an immutable factor order. It is safe for concurrent use.
type Profile struct {
	bands   []Band
	domain  DomainRanker
	maxKey  int64
	primary [3]Factor
}

var secondary = []Band{
	{Position, secondaryBits},
	{WordDistance, secondaryBits},
	{HitCount, secondaryBits},
	{DomainLength, secondaryBits},
}

// Default returns the quality, freshness, domain order.
func Default(domain DomainRanker) *Profile {
	p, _ := New([3]Factor{Quality, Freshness, DomainPopularity}, domain)
	return p
}

// New builds a profile from three distinct primary factors. domain may be
// nil, in which case every document is of unknown popularity.
func New(primary [3]Factor, domain DomainRanker) (*Profile, error) {
	seen := make(map[Factor]bool, 3)
	for _, f := range primary {
		if f != Quality && f != Freshness && f != DomainPopularity {
			return nil, fmt.Errorf("%w: %s is not a primary factor", apperrors.ErrInvalidProfile, f)
		}
		if seen[f] {
			return nil, fmt.Errorf("%w: factor %s listed twice", apperrors.ErrInvalidProfile, f)
		}
		seen[f] = true
	}

	bands := make([]Band, 0, len(primary)+len(secondary))
	for _, f := range primary {
		bands = append(bands, Band{f, primaryBits})
	}
	bands = append(bands, secondary...)

	var total uint
	for _, b := range bands {
		total += b.Bits
	}
	if total > 62 {
		return nil, apperrors.Internalf("ranking key needs %d bits", total)
	}

	return &Profile{
		bands:   bands,
		domain:  domain,
		maxKey:  int64(1)<<total - 1,
		primary: primary,
	}, nil
}

// Parse reads a comma-separated primary order such as
// "freshness,quality,domain".
func Parse(s string, domain DomainRanker) (*Profile, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: want 3 factors, got %q", apperrors.ErrInvalidProfile, s)
	}
	var order [3]Factor
	for i, part := range parts {
		f, err := parseFactor(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		order[i] = f
	}
	return New(order, domain)
}

func parseFactor(name string) (Factor, error) {
	switch strings.ToLower(name) {
	case "quality":
		return Quality, nil
	case "freshness", "date", "age":
		return Freshness, nil
	case "domain", "popularity", "ybr":
		return DomainPopularity, nil
	}
	return 0, fmt.Errorf("%w: unknown factor %q", apperrors.ErrInvalidProfile, name)
}

// WithDomain returns a copy of p that reads popularity from domain.
func (p *Profile) WithDomain(domain DomainRanker) *Profile {
	cp := *p
	cp.domain = domain
	return &cp
}

func (p *Profile) Bands() []Band {
	out := make([]Band, len(p.bands))
	copy(out, p.bands)
	return out
}

func (p *Profile) Primary() [3]Factor {
	return p.primary
}

func (p *Profile) String() string {
	return fmt.Sprintf("%s,%s,%s", p.primary[0], p.primary[1], p.primary[2])
}

// MaxScore is the largest key Score can produce.
func (p *Profile) MaxScore() int64 {
	return p.maxKey
}

// Score packs the posting's normalized factors into one comparable key.
// Raw values are scaled against b; empty bounds or a field whose min equals
// its max yield the band midpoint.
func (p *Profile) Score(post posting.Posting, b posting.Bounds) int64 {
	var key int64
	for _, band := range p.bands {
		key = key<<band.Bits | int64(p.factorValue(band, post, b))
	}
	return key
}

// Percent renders a key as a relevance percentage in [0, 100].
func (p *Profile) Percent(score int64) int {
	if score <= 0 {
		return 0
	}
	if score >= p.maxKey {
		return 100
	}
	return int(float64(score) * 100 / float64(p.maxKey))
}

func (p *Profile) factorValue(band Band, post posting.Posting, b posting.Bounds) int {
	switch band.Factor {
	case Quality:
		return scale(post, b, posting.FieldQuality, band.Bits, false)
	case Freshness:
		// Virtual age is a day stamp, so a larger value is more recent.
		return scale(post, b, posting.FieldVirtualAge, band.Bits, false)
	case DomainPopularity:
		return p.domainValue(post.URLHash, band.Bits)
	case Position:
		return scale(post, b, posting.FieldPosition, band.Bits, true)
	case WordDistance:
		return scale(post, b, posting.FieldWordDistance, band.Bits, true)
	case HitCount:
		return scale(post, b, posting.FieldHitCount, band.Bits, false)
	case DomainLength:
		return scale(post, b, posting.FieldDocLength, band.Bits, true)
	}
	return 0
}

func (p *Profile) domainValue(urlHash string, bits uint) int {
	top := 1<<bits - 1
	if p.domain == nil {
		return 0
	}
	maxc := p.domain.MaxContribution()
	if maxc <= 0 {
		return 0
	}
	c := p.domain.Contribution(urlHash)
	if c <= 0 {
		return 0
	}
	if c >= maxc {
		return top
	}
	return int(int64(c) * int64(top) / int64(maxc))
}

// scale maps a raw field linearly onto [0, 2^width-1]. Values outside the
// bounds are clamped; invert flips fields where smaller raw values are better.
func scale(post posting.Posting, b posting.Bounds, f posting.Field, width uint, invert bool) int {
	top := 1<<width - 1
	lo, hi, ok := b.Range(f)
	if !ok || hi == lo {
		return (top + 1) / 2
	}
	v := post.Value(f)
	var s int
	switch {
	case v <= lo:
		s = 0
	case v >= hi:
		s = top
	default:
		// uint64 differences and a 128-bit product hold for any int;
		// d < span keeps the quotient below top.
		d := uint64(v) - uint64(lo)
		span := uint64(hi) - uint64(lo)
		mhi, mlo := bits.Mul64(d, uint64(top))
		q, _ := bits.Div64(mhi, mlo, span)
		s = int(q)
	}
	if invert {
		s = top - s
	}
	return s
}
