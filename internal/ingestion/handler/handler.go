package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/logger"
)

type Handler struct {
	publisher *publisher.Publisher
	logger    *slog.Logger
}

func New(pub *publisher.Publisher) *Handler {
	return &Handler{
		publisher: pub,
		logger:    slog.Default().With("component", "feed-handler"),
	}
}

func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/documents", h.Ingest)
	mux.HandleFunc("DELETE /api/v1/documents", h.Delete)
	mux.HandleFunc("GET /health", h.Health)
}

func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	var req ingestion.FeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validator.ValidateFeedRequest(&req); err != nil {
		var validationErr *validator.ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": validationErr.Fields,
			})
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.publisher.Publish(ctx, &req)
	if err != nil {
		statusCode := apperrors.HTTPStatusCode(err)
		log.Error("feed failed", "url", req.URL, "error", err, "status_code", statusCode)
		h.writeError(w, statusCode, "feed failed")
		return
	}
	log.Info("document queued", "url", req.URL, "url_hash", resp.URLHash)
	h.writeJSON(w, http.StatusAccepted, resp)
}

// Delete handles DELETE /api/v1/documents?url=.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rawURL := r.URL.Query().Get("url")
	if msg := validator.ValidateURL(rawURL); msg != "" {
		h.writeError(w, http.StatusBadRequest, msg)
		return
	}
	resp, err := h.publisher.Delete(ctx, rawURL)
	if err != nil {
		logger.FromContext(ctx).Error("delete failed", "url", rawURL, "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), "delete failed")
		return
	}
	h.writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
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
