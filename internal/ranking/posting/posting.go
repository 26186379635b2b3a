// Package posting defines the per-(word, document) index entry consumed by the
// ranking core and the running normalization bounds computed over them.
package posting

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/errors"
)

const (
	// AgeCycle is the wrap-around length of the virtual age field (64^3
	// days, so it fits three base64 characters).
	AgeCycle = 64 * 64 * 64

	millisPerDay = 86400000
)

// Posting is one observation of a word in a document. Postings are treated
// as immutable values once built; ranking only reads them.
type Posting struct {
	URLHash        string `json:"url_hash"`
	TermFrequency  int    `json:"tf"`
	PositionInText int    `json:"pos"`
	WordDistance   int    `json:"dist"`
	HitCount       int    `json:"hits"`
	Quality        int    `json:"quality"`
	VirtualAge     int    `json:"age"`
	Language       string `json:"lang,omitempty"`
	DocType        string `json:"type,omitempty"`
	DocLength      int    `json:"doclen"`
	Local          bool   `json:"local,omitempty"`
}

// List is a posting list for one word, as delivered by a source.
type List []Posting

// Validate rejects postings the container cannot key.
func (p Posting) Validate() error {
	if strings.TrimSpace(p.URLHash) == "" {
		return fmt.Errorf("%w: empty url hash", apperrors.ErrInvalidPosting)
	}
	return nil
}

// VirtualAge returns the wrapped day stamp of a modification time:
// days since 1970-01-01 modulo AgeCycle. Larger values are more recent
// within one cycle.
func VirtualAge(modified time.Time) int {
	days := modified.UnixMilli() / millisPerDay
	age := days % AgeCycle
	if age < 0 {
		age += AgeCycle
	}
	return int(age)
}

// Field names a numeric posting attribute that takes part in normalization.
type Field int

const (
	FieldTermFrequency Field = iota
	FieldPosition
	FieldWordDistance
	FieldHitCount
	FieldQuality
	FieldVirtualAge
	FieldDocLength

	numFields
)

var fieldNames = [numFields]string{
	"tf", "position", "distance", "hitcount", "quality", "age", "doclength",
}

func (f Field) String() string {
	if f < 0 || f >= numFields {
		return fmt.Sprintf("field(%d)", int(f))
	}
	return fieldNames[f]
}

// Value returns the raw value of field f.
func (p Posting) Value(f Field) int {
	switch f {
	case FieldTermFrequency:
		return p.TermFrequency
	case FieldPosition:
		return p.PositionInText
	case FieldWordDistance:
		return p.WordDistance
	case FieldHitCount:
		return p.HitCount
	case FieldQuality:
		return p.Quality
	case FieldVirtualAge:
		return p.VirtualAge
	case FieldDocLength:
		return p.DocLength
	}
	return 0
}
