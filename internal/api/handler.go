package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/yegors/livecaptions/internal/session"
	"github.com/yegors/livecaptions/internal/storage/sqlite"
	"github.com/yegors/livecaptions/pkg/logger"
)

const (
	defaultCaptionLimit = 100
	maxCaptionLimit     = 1000
)

// CaptionStore is the caption history the API reads from
type CaptionStore interface {
	GetRecentCaptions(ctx context.Context, limit int) ([]*sqlite.CaptionRecord, error)
	GetCaptionsByTimeRange(ctx context.Context, start, end time.Time) ([]*sqlite.CaptionRecord, error)
}

// StatusSource reports the running session
type StatusSource interface {
	Status() session.Status
}

// Handler serves the API endpoints
type Handler struct {
	captions CaptionStore
	status   StatusSource
	started  time.Time
	logger   *logger.Logger
}

// NewHandler creates a handler. captions may be nil when storage is disabled.
func NewHandler(captions CaptionStore, status StatusSource, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{
		captions: captions,
		status:   status,
		started:  time.Now(),
		logger:   log.Named("api-handler"),
	}
}

// CaptionsResponse wraps a list of captions
type CaptionsResponse struct {
	Count    int                     `json:"count"`
	Captions []*sqlite.CaptionRecord `json:"captions"`
}

// GetRecentCaptions returns the newest captions, ?limit= bounded
func (h *Handler) GetRecentCaptions(w http.ResponseWriter, r *http.Request) {
	if h.captions == nil {
		writeError(w, http.StatusServiceUnavailable, "caption storage is disabled")
		return
	}

	limit := defaultCaptionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxCaptionLimit)
	}

	records, err := h.captions.GetRecentCaptions(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to get recent captions", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get captions")
		return
	}
	writeJSON(w, http.StatusOK, newCaptionsResponse(records))
}

// GetCaptionsByTimeRange returns captions between ?start= and ?end= (RFC3339)
func (h *Handler) GetCaptionsByTimeRange(w http.ResponseWriter, r *http.Request) {
	if h.captions == nil {
		writeError(w, http.StatusServiceUnavailable, "caption storage is disabled")
		return
	}

	start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "start must be an RFC3339 time")
		return
	}
	end, err := time.Parse(time.RFC3339, r.URL.Query().Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "end must be an RFC3339 time")
		return
	}
	if end.Before(start) {
		writeError(w, http.StatusBadRequest, "end must not be before start")
		return
	}

	records, err := h.captions.GetCaptionsByTimeRange(r.Context(), start, end)
	if err != nil {
		h.logger.Error("Failed to get captions by time range", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get captions")
		return
	}
	writeJSON(w, http.StatusOK, newCaptionsResponse(records))
}

// GetStatus returns the session snapshot
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		writeError(w, http.StatusServiceUnavailable, "no session")
		return
	}
	writeJSON(w, http.StatusOK, h.status.Status())
}

// GetHealth reports liveness
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	}
	if h.status != nil {
		resp["session"] = h.status.Status().State
	}
	writeJSON(w, http.StatusOK, resp)
}

func newCaptionsResponse(records []*sqlite.CaptionRecord) CaptionsResponse {
	if records == nil {
		records = []*sqlite.CaptionRecord{}
	}
	return CaptionsResponse{Count: len(records), Captions: records}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
