package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ranking/posting"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ranking/preorder"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ranking/profile"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/searcher/parser"
	apperrors "github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/rpc"
)

// Server answers other peers from the local index.
type Server struct {
	name       string
	idx        *index.MemoryIndex
	prof       *profile.Profile
	maxResults int
	logger     *slog.Logger
}

func NewServer(name string, idx *index.MemoryIndex, prof *profile.Profile, maxResults int) *Server {
	return &Server{
		name:       name,
		idx:        idx,
		prof:       prof,
		maxResults: maxResults,
		logger:     slog.Default().With("component", "peer-server"),
	}
}

// Register installs the peer methods on rs.
func (s *Server) Register(rs *rpc.Server) {
	rs.Register(proto.MethodPostings, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var req proto.PostingsRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
		}
		return s.Postings(ctx, &req)
	})
	rs.Register(proto.MethodStats, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return &proto.StatsResponse{
			Peer:      s.name,
			Documents: int64(s.idx.DocCount()),
			Terms:     int64(s.idx.TermCount()),
		}, nil
	})
	rs.Register(proto.MethodHealth, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return &proto.HealthCheckResponse{Status: proto.StatusServing}, nil
	})
}

// Postings joins the request terms against the local index. With Rank set
// the matches go through a preorder pass bounded by the caller's deadline and
// come back best first; otherwise the first Limit matches in hash order are
// returned unranked.
func (s *Server) Postings(ctx context.Context, req *proto.PostingsRequest) (*proto.PostingsResponse, error) {
	start := time.Now()
	if len(req.Terms) == 0 {
		return nil, fmt.Errorf("%w: no query terms", apperrors.ErrInvalidInput)
	}
	limit := int(req.Limit)
	if limit <= 0 || limit > s.maxResults {
		limit = s.maxResults
	}
	mode := parser.ModeFromWire(req.Mode)

	resp := &proto.PostingsResponse{Peer: s.name}
	var postings []posting.Posting
	if req.Rank {
		res := s.idx.Join(req.Terms, req.Exclude, mode, 0)
		resp.TotalMatches = int64(res.Matches)
		ranked, err := s.rank(ctx, res.Postings, limit)
		if err != nil {
			return nil, err
		}
		postings = ranked
		resp.Presorted = true
	} else {
		res := s.idx.Join(req.Terms, req.Exclude, mode, limit)
		resp.TotalMatches = int64(res.Matches)
		postings = res.Postings
	}

	resp.Postings = make([]proto.WirePosting, 0, len(postings))
	for _, p := range postings {
		resp.Postings = append(resp.Postings, ToWire(p))
	}
	resp.Documents = documentsFor(s.idx, postings)
	resp.LatencyMs = time.Since(start).Milliseconds()

	s.logger.Debug("postings served",
		"terms", req.Terms,
		"matches", resp.TotalMatches,
		"returned", len(resp.Postings),
		"presorted", resp.Presorted,
	)
	return resp, nil
}

func (s *Server) rank(ctx context.Context, list []posting.Posting, limit int) ([]posting.Posting, error) {
	acc := preorder.New(s.prof)
	deadline, _ := ctx.Deadline()
	res, err := acc.Add(ctx, list, true, deadline)
	if err != nil {
		return nil, err
	}
	if res.Partial {
		s.logger.Warn("ranking cut short by deadline", "scanned", res.Scanned, "total", len(list))
	}
	out := make([]posting.Posting, 0, min(limit, acc.Len()))
	for len(out) < limit {
		r, ok := acc.Next()
		if !ok {
			break
		}
		out = append(out, r.Posting)
	}
	return out, nil
}
