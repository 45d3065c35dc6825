package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/maltedev/shop-price-scraper/internal/database"
	"github.com/maltedev/shop-price-scraper/internal/models"
	"github.com/maltedev/shop-price-scraper/internal/scraper"
	"github.com/maltedev/shop-price-scraper/internal/storage"
)

// ResultSource exposes the results of the current run.
type ResultSource interface {
	Results() []models.ExtractionResult
}

// SessionSource reports the browser session state of the current run.
type SessionSource interface {
	State() scraper.SessionState
}

// OutboxStats is implemented by the relay when a database is configured.
type OutboxStats interface {
	PendingCount(ctx context.Context) (int64, error)
}

// PriceHistory is implemented by the database when one is configured.
type PriceHistory interface {
	LatestPrices(ctx context.Context, limit int) ([]database.ResultRow, error)
}

type Handlers struct {
	results ResultSource
	session SessionSource
	outbox  OutboxStats
	prices  PriceHistory
	logger  *slog.Logger
}

// WithPriceHistory enables GET /api/v1/prices.
func (h *Handlers) WithPriceHistory(p PriceHistory) *Handlers {
	h.prices = p
	return h
}

func NewHandlers(results ResultSource, session SessionSource, outbox OutboxStats, logger *slog.Logger) *Handlers {
	return &Handlers{
		results: results,
		session: session,
		outbox:  outbox,
		logger:  logger,
	}
}

type HealthResponse struct {
	Status        string `json:"status"`
	Session       string `json:"session"`
	Results       int    `json:"results"`
	OutboxPending *int64 `json:"outbox_pending,omitempty"`
	Message       string `json:"message,omitempty"`
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Session: h.session.State().String(),
		Results: len(h.results.Results()),
	}

	if h.outbox != nil {
		pending, err := h.outbox.PendingCount(r.Context())
		if err != nil {
			h.logger.Warn("failed to read outbox", "error", err)
			resp.Status = "warning"
			resp.Message = "outbox unavailable"
		} else {
			resp.OutboxPending = &pending
		}
	}

	h.respondJSON(w, http.StatusOK, resp)
}

type ResultsResponse struct {
	Results []models.ExtractionResult `json:"results"`
	Total   int                       `json:"total"`
}

// ListResults returns the results recorded so far. ?status= filters by
// status, ?limit= caps the number returned.
func (h *Handlers) ListResults(w http.ResponseWriter, r *http.Request) {
	all := h.results.Results()

	status := r.URL.Query().Get("status")
	switch models.Status(status) {
	case "", models.StatusSuccess, models.StatusPartialFailure, models.StatusFailure:
	default:
		h.respondError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(status))
		return
	}

	limit := len(all)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	filtered := make([]models.ExtractionResult, 0, len(all))
	for _, res := range all {
		if status != "" && string(res.Status) != status {
			continue
		}
		if len(filtered) == limit {
			break
		}
		filtered = append(filtered, res)
	}

	h.respondJSON(w, http.StatusOK, ResultsResponse{Results: filtered, Total: len(all)})
}

const defaultPriceLimit = 100

type PricesResponse struct {
	Prices []database.ResultRow `json:"prices"`
	Count  int                  `json:"count"`
}

// LatestPrices returns the newest successful price per url across all runs.
func (h *Handlers) LatestPrices(w http.ResponseWriter, r *http.Request) {
	limit := defaultPriceLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	rows, err := h.prices.LatestPrices(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to load latest prices", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load prices")
		return
	}
	if rows == nil {
		rows = []database.ResultRow{}
	}

	h.respondJSON(w, http.StatusOK, PricesResponse{Prices: rows, Count: len(rows)})
}

func (h *Handlers) Summary(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, storage.Summarize(h.results.Results()))
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
