// Package source produces posting batches for a merge session: from the
// node's own index, or from remote peers over the RPC transport. It also
// serves the local index to other peers.
package source

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ranking/posting"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/proto"
)

// Query is what a session asks of every source.
type Query struct {
	Plan  *parser.QueryPlan
	Limit int
	// Rank asks remote peers to return their best postings first.
	Rank bool
}

// Batch is one source's answer.
type Batch struct {
	Source    string
	Postings  []posting.Posting
	Local     bool
	Presorted bool
	Documents []proto.Document
	// TotalMatches counts matches at the source before any limit.
	TotalMatches int
}

// Source is anything a session can fan a query out to.
type Source interface {
	Name() string
	Fetch(ctx context.Context, q Query) (Batch, error)
}

// ToWire converts a posting to its transfer form.
func ToWire(p posting.Posting) proto.WirePosting {
	return proto.WirePosting{
		URLHash:        p.URLHash,
		TermFrequency:  int32(p.TermFrequency),
		PositionInText: int32(p.PositionInText),
		WordDistance:   int32(p.WordDistance),
		HitCount:       int32(p.HitCount),
		Quality:        int32(p.Quality),
		VirtualAge:     int32(p.VirtualAge),
		Language:       p.Language,
		DocType:        p.DocType,
		DocLength:      int32(p.DocLength),
	}
}

// FromWire converts a received posting. Postings that crossed the wire are
// never local.
func FromWire(w proto.WirePosting) posting.Posting {
	return posting.Posting{
		URLHash:        w.URLHash,
		TermFrequency:  int(w.TermFrequency),
		PositionInText: int(w.PositionInText),
		WordDistance:   int(w.WordDistance),
		HitCount:       int(w.HitCount),
		Quality:        int(w.Quality),
		VirtualAge:     int(w.VirtualAge),
		Language:       w.Language,
		DocType:        w.DocType,
		DocLength:      int(w.DocLength),
	}
}

func documentsFor(idx *index.MemoryIndex, postings []posting.Posting) []proto.Document {
	docs := make([]proto.Document, 0, len(postings))
	for _, p := range postings {
		info, ok := idx.Document(p.URLHash)
		if !ok {
			continue
		}
		docs = append(docs, proto.Document{
			URLHash:  info.URLHash,
			URL:      info.URL,
			Title:    info.Title,
			Language: info.Language,
		})
	}
	return docs
}
