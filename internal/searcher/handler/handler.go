// Package handler serves the HTTP search API: ranked and merged search over
// the local index and every configured peer, plus the administrative
// switches of the merge engine.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ranking/domainrank"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ranking/profile"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ranking/references"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/searcher/session"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/searcher/source"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/middleware"
)

// SearchResponse is the body of a search.
type SearchResponse struct {
	Query         string                 `json:"query"`
	SessionID     string                 `json:"session_id,omitempty"`
	Profile       string                 `json:"profile"`
	Results       []session.Result       `json:"results"`
	Counts        session.Counts         `json:"counts"`
	RelatedTerms  []references.TermCount `json:"related_terms"`
	Partial       bool                   `json:"partial"`
	FailedSources []string               `json:"failed_sources,omitempty"`
	LatencyMs     int64                  `json:"latency_ms"`
}

type Handler struct {
	ranking   config.RankingConfig
	merge     config.MergeConfig
	refs      config.ReferencesConfig
	domains   *domainrank.Table
	profile   *profile.Profile
	sources   []source.Source
	peerCache *cache.PeerCache
	tracker   session.Tracker
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New builds the handler. peerCache, tracker and m may be nil.
func New(
	cfg *config.Config,
	domains *domainrank.Table,
	sources []source.Source,
	peerCache *cache.PeerCache,
	tracker session.Tracker,
	m *metrics.Metrics,
) (*Handler, error) {
	prof, err := profile.Parse(cfg.Ranking.Profile, domains)
	if err != nil {
		return nil, err
	}
	return &Handler{
		ranking:   cfg.Ranking,
		merge:     cfg.Merge,
		refs:      cfg.References,
		domains:   domains,
		profile:   prof,
		sources:   sources,
		peerCache: peerCache,
		tracker:   tracker,
		metrics:   m,
		logger:    slog.Default().With("component", "search-handler"),
	}, nil
}

// Routes registers every endpoint on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/admin/domainrank", h.DomainRank)
	mux.HandleFunc("POST /api/v1/admin/domainrank", h.SetDomainRank)
	mux.HandleFunc("GET /api/v1/admin/peer-cache", h.PeerCacheStats)
	mux.HandleFunc("POST /api/v1/admin/peer-cache/flush", h.FlushPeerCache)
}

// Search handles GET /api/v1/search?q=&limit=&profile=&timeout=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)
	params := r.URL.Query()

	query := params.Get("q")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}

	limit := h.ranking.DefaultLimit
	if limitStr := params.Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, h.ranking.MaxResults)
	}

	prof := h.profile
	if p := params.Get("profile"); p != "" {
		parsed, err := profile.Parse(p, h.domains)
		if err != nil {
			h.writeError(w, apperrors.HTTPStatusCode(err), err.Error())
			return
		}
		prof = parsed
	}

	mergeCfg := h.merge
	if t := params.Get("timeout"); t != "" {
		d, err := time.ParseDuration(t)
		if err != nil || d <= 0 {
			h.writeError(w, http.StatusBadRequest, "timeout must be a positive duration such as 500ms")
			return
		}
		if mergeCfg.SessionTimeout <= 0 || d < mergeCfg.SessionTimeout {
			mergeCfg.SessionTimeout = d
		}
		if d < mergeCfg.CallTimeout {
			mergeCfg.CallTimeout = d
		}
	}

	plan := parser.Parse(query)
	resp := &SearchResponse{
		Query:        query,
		Profile:      prof.String(),
		Results:      []session.Result{},
		RelatedTerms: []references.TermCount{},
	}
	if plan.Empty() {
		h.writeJSON(w, http.StatusOK, resp)
		return
	}

	opts := []session.Option{
		session.WithReferences(h.refs),
		session.WithID(middleware.GetRequestID(ctx)),
		session.WithMetrics(h.metrics),
	}
	if h.tracker != nil {
		opts = append(opts, session.WithTracker(h.tracker))
	}
	sess := session.New(mergeCfg, prof, opts...)

	q := source.Query{Plan: plan, Limit: limit, Rank: true}
	if err := sess.Run(ctx, q, h.sources...); err != nil {
		log.Error("merge failed", "query", query, "error", err)
		status := apperrors.HTTPStatusCode(err)
		msg := "search failed"
		if errors.Is(err, apperrors.ErrSessionClosed) {
			msg = "search cancelled"
		}
		h.writeError(w, status, msg)
		return
	}

	resp.SessionID = sess.ID()
	resp.RelatedTerms = sess.RelatedTerms(h.refs.TopK)
	// Next shrinks the container, so the counts are taken first.
	resp.Counts = sess.Counts()
	for len(resp.Results) < limit {
		res, ok := sess.Next()
		if !ok {
			break
		}
		resp.Results = append(resp.Results, res)
	}
	resp.Partial = sess.Partial()
	for _, e := range sess.SourceErrors() {
		resp.FailedSources = append(resp.FailedSources, e.Source)
	}
	resp.LatencyMs = time.Since(start).Milliseconds()

	log.Info("search completed",
		"query", query,
		"profile", resp.Profile,
		"returned", len(resp.Results),
		"merged", resp.Counts.Size,
		"failed_sources", len(resp.FailedSources),
		"latency_ms", resp.LatencyMs,
	)
	h.writeJSON(w, http.StatusOK, resp)
}

// DomainRank reports the state of the domain popularity tables.
func (h *Handler) DomainRank(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"loaded":  h.domains.Loaded(),
		"enabled": h.domains.Enabled(),
		"shards":  h.domains.Sizes(),
	})
}

// SetDomainRank handles POST /api/v1/admin/domainrank?enabled=true|false.
func (h *Handler) SetDomainRank(w http.ResponseWriter, r *http.Request) {
	on, err := strconv.ParseBool(r.URL.Query().Get("enabled"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "enabled must be true or false")
		return
	}
	if on && !h.domains.Loaded() {
		h.writeError(w, http.StatusConflict, "domain rank tables are not loaded")
		return
	}
	h.domains.SetEnabled(on)
	h.logger.Info("domain rank switched", "enabled", on)
	h.writeJSON(w, http.StatusOK, map[string]bool{"enabled": h.domains.Enabled()})
}

func (h *Handler) PeerCacheStats(w http.ResponseWriter, r *http.Request) {
	if h.peerCache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := h.peerCache.Stats()
	h.writeJSON(w, http.StatusOK, map[string]int64{
		"hits":   hits,
		"misses": misses,
	})
}

func (h *Handler) FlushPeerCache(w http.ResponseWriter, r *http.Request) {
	if h.peerCache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "peer cache is disabled")
		return
	}
	deleted, err := h.peerCache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("peer cache flush failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "peer cache flush failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
