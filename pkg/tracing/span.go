// Package tracing records merge sessions as trees of timed spans carried in
// Go contexts. A finished tree is written to slog, one record per span.
package tracing

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type contextKey string

const spanKey contextKey = "trace_span"

// Span represents a timed operation within a trace. It is safe for
// concurrent use, so fan-out goroutines may add children to one parent.
type Span struct {
	Name      string
	TraceID   string
	StartTime time.Time

	mu       sync.Mutex
	endTime  time.Time
	children []*Span
	attrs    map[string]any
	err      error
}

// StartSpan creates a new root span and stores it in the returned context.
func StartSpan(ctx context.Context, name string, traceID string) (context.Context, *Span) {
	span := &Span{
		Name:      name,
		TraceID:   traceID,
		StartTime: time.Now(),
		attrs:     make(map[string]any),
	}
	return context.WithValue(ctx, spanKey, span), span
}

// StartChildSpan creates a child span linked to the parent in ctx. Without a
// parent it behaves like StartSpan with an empty trace id.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent := SpanFromContext(ctx)
	child := &Span{
		Name:      name,
		StartTime: time.Now(),
		attrs:     make(map[string]any),
	}

	if parent != nil {
		child.TraceID = parent.TraceID
		parent.mu.Lock()
		parent.children = append(parent.children, child)
		parent.mu.Unlock()
	}

	return context.WithValue(ctx, spanKey, child), child
}

// End records the span's end time. Only the first call counts.
func (s *Span) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endTime.IsZero() {
		s.endTime = time.Now()
	}
}

// Duration is the elapsed time of an ended span, or the time so far.
func (s *Span) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.endTime.Sub(s.StartTime)
}

// SetAttr attaches a key-value attribute to the span.
func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs[key] = value
	s.mu.Unlock()
}

// Attr returns a previously set attribute.
func (s *Span) Attr(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.attrs[key]
	return v, ok
}

// SetError marks the span as failed.
func (s *Span) SetError(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Children returns a copy of the child spans in start order.
func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Span, len(s.children))
	copy(out, s.children)
	return out
}

// SpanFromContext extracts the current Span from ctx, or nil if none.
func SpanFromContext(ctx context.Context) *Span {
	if span, ok := ctx.Value(spanKey).(*Span); ok {
		return span
	}
	return nil
}

// Log writes the span tree to logger, or to the default logger if nil.
func (s *Span) Log(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	s.logRecursive(logger, 0)
}

func (s *Span) logRecursive(logger *slog.Logger, depth int) {
	s.mu.Lock()
	attrs := []any{
		"trace_id", s.TraceID,
		"span", s.Name,
		"depth", depth,
	}
	keys := make([]string, 0, len(s.attrs))
	for k := range s.attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, k, s.attrs[k])
	}
	level := slog.LevelInfo
	if s.err != nil {
		attrs = append(attrs, "error", s.err.Error())
		level = slog.LevelWarn
	}
	children := make([]*Span, len(s.children))
	copy(children, s.children)
	s.mu.Unlock()

	attrs = append(attrs, "duration_ms", s.Duration().Milliseconds())
	logger.Log(context.Background(), level, "span", attrs...)

	for _, child := range children {
		child.logRecursive(logger, depth+1)
	}
}
