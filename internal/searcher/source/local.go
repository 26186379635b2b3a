package source

import (
	"context"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/indexer/index"
)

// Local answers from the node's own index. Its batches are never presorted:
// the session ranks them in the container.
type Local struct {
	name   string
	idx    *index.MemoryIndex
	logger *slog.Logger
}

func NewLocal(name string, idx *index.MemoryIndex) *Local {
	return &Local{
		name:   name,
		idx:    idx,
		logger: slog.Default().With("component", "local-source"),
	}
}

func (l *Local) Name() string {
	return l.name
}

// Fetch joins the query terms against the index. Every match is returned so
// the container, not the hash order of the join, decides what is kept.
func (l *Local) Fetch(ctx context.Context, q Query) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	res := l.idx.Join(q.Plan.Terms, q.Plan.ExcludeTerms, q.Plan.Mode, 0)
	l.logger.Debug("local join",
		"terms", q.Plan.Terms,
		"matches", res.Matches,
	)
	return Batch{
		Source:       l.name,
		Postings:     res.Postings,
		Local:        true,
		Documents:    documentsFor(l.idx, res.Postings),
		TotalMatches: res.Matches,
	}, nil
}
