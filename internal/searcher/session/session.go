// Package session runs one query's merge: it fans the query out to every
// posting source and funnels the batches into a single writer goroutine, the
// only caller that mutates the session's result container.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ranking/container"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ranking/preorder"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ranking/profile"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ranking/references"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/searcher/source"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/tracing"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Tracker receives a summary of every finished session.
type Tracker interface {
	Track(event analytics.MergeEvent)
}

type Option func(*Session)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

func WithTracker(t Tracker) Option {
	return func(s *Session) { s.tracker = t }
}

// WithReferences configures related-term extraction.
func WithReferences(cfg config.ReferencesConfig) Option {
	return func(s *Session) { s.refs = cfg }
}

// WithID replaces the generated session id, e.g. with a request id.
func WithID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// SourceError records a source that failed or timed out. The session goes on
// without it.
type SourceError struct {
	Source string
	Err    error
}

func (e SourceError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e SourceError) Unwrap() error {
	return e.Err
}

// Counts describes where a session's results came from.
type Counts struct {
	// Local and Global are the container's accepted postings by provenance.
	Local  int `json:"local"`
	Global int `json:"global"`
	// LocalResource and RemoteResource add up the matches each source
	// reported before its own limit.
	LocalResource  int `json:"local_resource"`
	RemoteResource int `json:"remote_resource"`
	// RemotePeerCount is the number of peers that contributed a posting.
	RemotePeerCount int `json:"remote_peer_count"`
	Size            int `json:"size"`
}

// Result is one ranked entry with its display metadata.
type Result struct {
	URLHash string `json:"url_hash"`
	URL     string `json:"url,omitempty"`
	Title   string `json:"title,omitempty"`
	Score   int64  `json:"score"`
	Percent int    `json:"percent"`
	Local   bool   `json:"local"`
	Quality int    `json:"quality"`
}

// Session is single use: Run may be called once.
type Session struct {
	id      string
	cfg     config.MergeConfig
	refs    config.ReferencesConfig
	prof    *profile.Profile
	results *container.Container
	metrics *metrics.Metrics
	tracker Tracker
	logger  *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
	started   atomic.Bool

	mu           sync.Mutex
	query        source.Query
	docs         map[string]proto.Document
	errs         []SourceError
	counts       Counts
	partial      bool
	contribPeers map[string]struct{}
}

func New(cfg config.MergeConfig, prof *profile.Profile, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:           uuid.NewString(),
		cfg:          cfg,
		prof:         prof,
		results:      container.New(prof),
		ctx:          ctx,
		cancel:       cancel,
		docs:         make(map[string]proto.Document),
		contribPeers: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = slog.Default().With("component", "merge-session", "session_id", s.id)
	return s
}

func (s *Session) ID() string {
	return s.id
}

// Run sends q to every source and merges what comes back until all sources
// have answered, failed, or timed out, the session timeout passes, or the
// session is cancelled. Failed sources are recorded, not returned: the only
// errors are ErrSessionClosed for a reused or cancelled session and
// ErrInternal for a broken container invariant.
func (s *Session) Run(ctx context.Context, q source.Query, sources ...source.Source) error {
	if q.Plan == nil {
		return fmt.Errorf("%w: query has no plan", apperrors.ErrInvalidInput)
	}
	if s.cancelled.Load() || !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: session %s already used", apperrors.ErrSessionClosed, s.id)
	}
	start := time.Now()
	s.mu.Lock()
	s.query = q
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(logger.WithSession(ctx, s.id))
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()
	if s.cfg.SessionTimeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, s.cfg.SessionTimeout)
		defer cancel()
	}

	runCtx, span := tracing.StartSpan(runCtx, "merge-session", s.id)
	span.SetAttr("query", q.Plan.RawQuery)
	span.SetAttr("sources", len(sources))
	defer func() {
		span.End()
		span.Log(s.logger)
	}()

	if s.metrics != nil {
		s.metrics.ActiveSessions.Inc()
		defer s.metrics.ActiveSessions.Dec()
	}

	batches := make(chan source.Batch, s.cfg.BatchBuffer)
	writerErr := make(chan error, 1)
	go func() {
		writerErr <- s.mergeLoop(runCtx, batches)
	}()

	var g errgroup.Group
	for _, src := range sources {
		g.Go(func() error {
			s.fetch(runCtx, src, q, batches)
			return nil
		})
	}
	_ = g.Wait()
	close(batches)
	err := <-writerErr

	if err != nil {
		span.SetError(err)
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		s.mu.Lock()
		s.partial = true
		s.mu.Unlock()
	}
	counts := s.Counts()
	span.SetAttr("size", counts.Size)
	span.SetAttr("remote_peers", counts.RemotePeerCount)
	s.logger.Info("merge session finished",
		"query", q.Plan.RawQuery,
		"size", counts.Size,
		"local", counts.Local,
		"global", counts.Global,
		"failed_sources", len(s.SourceErrors()),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	s.track(ctx, time.Since(start))
	return err
}

// fetch runs one source under the per-call timeout and hands its batch to
// the writer. A batch that arrives after the session ended is dropped.
func (s *Session) fetch(ctx context.Context, src source.Source, q source.Query, out chan<- source.Batch) {
	_, span := tracing.StartChildSpan(ctx, "fetch:"+src.Name())
	defer span.End()

	res := make(chan source.Batch, 1)
	err := resilience.WithTimeout(ctx, s.cfg.CallTimeout, src.Name(), func(ctx context.Context) error {
		b, err := src.Fetch(ctx, q)
		if err != nil {
			return err
		}
		res <- b
		return nil
	})
	if err != nil {
		span.SetError(err)
		s.recordFailure(src.Name(), err)
		return
	}
	b := <-res
	if b.Source == "" {
		b.Source = src.Name()
	}
	span.SetAttr("postings", len(b.Postings))
	span.SetAttr("presorted", b.Presorted)

	select {
	case out <- b:
	case <-ctx.Done():
		s.recordFailure(src.Name(), fmt.Errorf("%w: batch arrived after session end", apperrors.ErrTimeout))
	}
}

func (s *Session) recordFailure(name string, err error) {
	s.mu.Lock()
	s.errs = append(s.errs, SourceError{Source: name, Err: err})
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.SourceFailures.WithLabelValues(name).Inc()
	}
	s.logger.Warn("source failed", "source", name, "error", err)
}

// mergeLoop is the single writer. It keeps draining after an internal error
// so no fetcher blocks, and reports the first such error.
func (s *Session) mergeLoop(ctx context.Context, batches <-chan source.Batch) error {
	var firstErr error
	for b := range batches {
		if firstErr != nil || s.cancelled.Load() {
			continue
		}
		if err := s.merge(ctx, b); err != nil {
			if !apperrors.IsRecoverable(err) {
				firstErr = err
				s.logger.Error("merge aborted", "source", b.Source, "error", err)
				continue
			}
			s.recordFailure(b.Source, err)
		}
	}
	return firstErr
}

func (s *Session) merge(ctx context.Context, b source.Batch) error {
	start := time.Now()
	mode := "online"
	var (
		res container.BatchResult
		err error
	)
	if b.Presorted {
		mode = "presorted"
		res, err = s.mergePresorted(ctx, b)
	} else {
		res, err = s.results.InsertAll(b.Postings, b.Local)
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	for _, d := range b.Documents {
		s.docs[d.URLHash] = d
	}
	if b.Local {
		s.counts.LocalResource += b.TotalMatches
	} else {
		s.counts.RemoteResource += b.TotalMatches
		if res.Inserted > 0 {
			s.contribPeers[b.Source] = struct{}{}
		}
	}
	s.mu.Unlock()

	if s.metrics != nil {
		provenance := "remote"
		if b.Local {
			provenance = "local"
		}
		s.metrics.PostingsInserted.WithLabelValues(provenance).Add(float64(res.Inserted))
		s.metrics.PostingsDuplicate.Add(float64(res.Duplicates))
		s.metrics.PostingsInvalid.Add(float64(res.Invalid))
		s.metrics.BatchMergeLatency.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	}
	s.logger.Debug("batch merged",
		"source", b.Source,
		"mode", mode,
		"inserted", res.Inserted,
		"duplicates", res.Duplicates,
		"invalid", res.Invalid,
	)
	return nil
}

// mergePresorted ranks the batch against its own final bounds within the
// per-call time box, then hands the ordered result to the container.
func (s *Session) mergePresorted(ctx context.Context, b source.Batch) (container.BatchResult, error) {
	acc := preorder.New(s.prof)
	var deadline time.Time
	if s.cfg.CallTimeout > 0 {
		deadline = time.Now().Add(s.cfg.CallTimeout)
	}
	scan, err := acc.Add(ctx, b.Postings, b.Local, deadline)
	if err != nil {
		return container.BatchResult{}, err
	}
	if scan.Partial {
		s.mu.Lock()
		s.partial = true
		s.mu.Unlock()
	}
	ranked, err := acc.Container(0)
	if err != nil {
		return container.BatchResult{}, err
	}
	res, err := s.results.InsertContainer(ranked, b.Local, true)
	res.Duplicates += scan.Duplicates
	res.Invalid += scan.Invalid
	return res, err
}

// Cancel aborts every in-flight fetch. Postings already merged stay, but
// Next reports nothing from now on.
func (s *Session) Cancel() {
	if s.cancelled.CompareAndSwap(false, true) {
		s.cancel()
		s.logger.Info("merge session cancelled")
	}
}

func (s *Session) Cancelled() bool {
	return s.cancelled.Load()
}

// Next removes and returns the best remaining result.
func (s *Session) Next() (Result, bool) {
	if s.cancelled.Load() {
		return Result{}, false
	}
	e, ok := s.results.Next()
	if !ok {
		return Result{}, false
	}
	return s.result(e), true
}

// Top returns up to n best results without removing them. n < 0 returns
// all of them.
func (s *Session) Top(n int) []Result {
	entries := s.results.Top(n)
	out := make([]Result, 0, len(entries))
	for _, e := range entries {
		out = append(out, s.result(e))
	}
	return out
}

// Remove drops a result, e.g. one filtered out after ranking.
func (s *Session) Remove(urlHash string) bool {
	_, ok := s.results.Remove(urlHash)
	return ok
}

func (s *Session) result(e container.Entry) Result {
	s.mu.Lock()
	doc := s.docs[e.Posting.URLHash]
	s.mu.Unlock()
	return Result{
		URLHash: e.Posting.URLHash,
		URL:     doc.URL,
		Title:   doc.Title,
		Score:   e.Score,
		Percent: s.prof.Percent(e.Score),
		Local:   e.Local,
		Quality: e.Posting.Quality,
	}
}

func (s *Session) Counts() Counts {
	local, global := s.results.ResultCounts()
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counts
	c.Local = local
	c.Global = global
	c.RemotePeerCount = len(s.contribPeers)
	c.Size = s.results.Size()
	return c
}

// Partial reports whether a deadline cut the session or one of its batches
// short.
func (s *Session) Partial() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partial
}

func (s *Session) SourceErrors() []SourceError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SourceError(nil), s.errs...)
}

// RelatedTerms derives up to k related search terms from the url and title
// words of the best results.
func (s *Session) RelatedTerms(k int) []references.TermCount {
	s.mu.Lock()
	plan := s.query.Plan
	s.mu.Unlock()

	var exclude []string
	if plan != nil {
		exclude = append(tokenizer.Words(plan.RawQuery), plan.Terms...)
	}
	scorer := references.New(s.refs, exclude)
	sample := s.refs.SampleSize
	if sample <= 0 {
		sample = -1
	}
	for _, r := range s.Top(sample) {
		if r.URL != "" {
			scorer.AddTerms(references.URLWords(r.URL))
		}
		if r.Title != "" {
			scorer.AddTerms(references.TitleWords(r.Title))
		}
	}
	terms := scorer.TopTerms(k)
	if s.metrics != nil {
		s.metrics.RelatedTerms.Add(float64(len(terms)))
	}
	return terms
}

func (s *Session) track(ctx context.Context, elapsed time.Duration) {
	if s.tracker == nil {
		return
	}
	counts := s.Counts()
	event := analytics.MergeEvent{
		Type:            analytics.EventMerge,
		SessionID:       s.id,
		Query:           s.query.Plan.RawQuery,
		Terms:           s.query.Plan.Terms,
		Profile:         s.prof.String(),
		Returned:        counts.Size,
		LocalCount:      counts.Local,
		GlobalCount:     counts.Global,
		LocalResource:   counts.LocalResource,
		RemoteResource:  counts.RemoteResource,
		RemotePeerCount: counts.RemotePeerCount,
		LatencyMs:       elapsed.Milliseconds(),
		Timestamp:       time.Now().UTC(),
		RequestID:       logger.SessionID(ctx),
	}
	switch {
	case counts.Size == 0:
		event.Type = analytics.EventZeroResult
	case s.Partial() || len(s.SourceErrors()) > 0:
		event.Type = analytics.EventPartialMerge
	}
	for _, e := range s.SourceErrors() {
		event.FailedSources = append(event.FailedSources, e.Source)
	}
	for _, t := range s.RelatedTerms(5) {
		event.RelatedTerms = append(event.RelatedTerms, t.Term)
	}
	s.tracker.Track(event)
}
