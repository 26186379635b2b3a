package analytics

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/kafka"
)

// maxTop bounds the ranked lists a client may ask for.
const maxTop = 100

// Handler serves the merge statistics of one Aggregator.
type Handler struct {
	aggregator *Aggregator
	consumer   func() kafka.ConsumerStats
	logger     *slog.Logger
}

func NewHandler(aggregator *Aggregator) *Handler {
	return &Handler{
		aggregator: aggregator,
		logger:     slog.Default().With("component", "merge-stats-handler"),
	}
}

// WithConsumer adds the merge-event consumer's counters to every response.
func (h *Handler) WithConsumer(stats func() kafka.ConsumerStats) *Handler {
	h.consumer = stats
	return h
}

// Routes registers the statistics endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/admin/stats", h.Stats)
	mux.HandleFunc("POST /api/v1/admin/stats/reset", h.Reset)
}

// Stats writes the aggregated statistics. ?top=N (1..100) sets the length of
// the top query, zero-result and failing-source lists.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	top := DefaultTop
	if raw := r.URL.Query().Get("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxTop {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "top must be an integer in 1..100"})
			return
		}
		top = n
	}
	stats := h.aggregator.Snapshot(top)
	if h.consumer != nil {
		cs := h.consumer()
		stats.Consumer = &cs
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// Reset clears the aggregator, typically between load test runs.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	h.aggregator.Reset()
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write stats response", "error", err)
	}
}
