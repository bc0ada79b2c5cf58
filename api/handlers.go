package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"fleet-report/analysis"
	"fleet-report/config"
	"fleet-report/database"
	"fleet-report/etl"
	"fleet-report/mart"
)

// Handler holds dependencies for HTTP handlers
type Handler struct {
	db            *database.DB
	repo          *database.Repository
	cfg           *config.Config
	martBuilder   *mart.MartBuilder
	service       *analysis.Service
	analyzer      *analysis.Analyzer
	ingestor      *etl.DataIngestor
	streamWorkers int
}

// NewHandler creates a new handler instance
func NewHandler(db *database.DB, repo *database.Repository, cfg *config.Config, martBuilder *mart.MartBuilder, service *analysis.Service, analyzer *analysis.Analyzer, ingestor *etl.DataIngestor) *Handler {
	workers := cfg.WorkerPoolSize
	if workers < 1 {
		workers = 1
	}
	return &Handler{
		db:            db,
		repo:          repo,
		cfg:           cfg,
		martBuilder:   martBuilder,
		service:       service,
		analyzer:      analyzer,
		ingestor:      ingestor,
		streamWorkers: workers,
	}
}

// HealthCheck returns API health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.db.App.PingContext(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "app database health check failed")
		return
	}
	if err := h.db.Mart.PingContext(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "mart database health check failed")
		return
	}

	stats := make(map[string]int64)
	counts := []struct {
		name  string
		query string
		mart  bool
	}{
		{"reports", "SELECT COUNT(*) FROM reports", false},
		{"report_jobs", "SELECT COUNT(*) FROM report_jobs", false},
		{"outbox_pending", "SELECT COUNT(*) FROM report_outbox WHERE delivered_at IS NULL", false},
		{"logger_energy", "SELECT COUNT(*) FROM logger_energy", true},
	}
	for _, c := range counts {
		conn := h.db.App
		if c.mart {
			conn = h.db.Mart
		}
		var n int64
		if err := conn.QueryRowContext(ctx, c.query).Scan(&n); err != nil {
			n = 0
		}
		stats[c.name] = n
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"stats":  stats,
	})
}

// RefreshMart rebuilds the fleet energy summary
func (h *Handler) RefreshMart(w http.ResponseWriter, r *http.Request) {
	stats, err := h.martBuilder.Refresh(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("mart refresh failed: %v", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"stats":  stats,
	})
}

// CleanupData applies the retention settings now and rebuilds the mart summary
func (h *Handler) CleanupData(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.repo.CleanupOldData(r.Context(), h.cfg.Retention.ReportDays, h.cfg.Retention.JobDays)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("cleanup failed: %v", err))
		return
	}
	stats, err := h.martBuilder.Refresh(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("mart refresh failed: %v", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"deleted": deleted,
		"mart":    stats,
	})
}

// GetRankings returns loggers ordered by delivered energy
func (h *Handler) GetRankings(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	rankings, err := h.martBuilder.Rankings(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("query failed: %v", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"rankings": rankings,
		"count":    len(rankings),
	})
}

// ListDevices lists the logger identifiers with telemetry in a window.
// Defaults to the last 24 hours.
func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)
	var err error
	if v := r.URL.Query().Get("start"); v != "" {
		if start, err = time.Parse(time.RFC3339, v); err != nil {
			respondError(w, http.StatusBadRequest, "invalid start format (RFC3339)")
			return
		}
	}
	if v := r.URL.Query().Get("end"); v != "" {
		if end, err = time.Parse(time.RFC3339, v); err != nil {
			respondError(w, http.StatusBadRequest, "invalid end format (RFC3339)")
			return
		}
	}
	if !end.After(start) {
		respondError(w, http.StatusBadRequest, "end must be after start")
		return
	}

	listing, err := h.analyzer.KnownDevices(r.Context(), start, end)
	if err != nil {
		respondError(w, http.StatusBadGateway, fmt.Sprintf("time-series query failed: %v", err))
		return
	}
	respondJSON(w, http.StatusOK, listing)
}

// GetTrimConfig returns the current trim settings
func (h *Handler) GetTrimConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.cfg.Trim())
}

// UpdateTrimConfig replaces the trim settings used by the next report
func (h *Handler) UpdateTrimConfig(w http.ResponseWriter, r *http.Request) {
	var req config.TrimSettings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.cfg.UpdateTrimSettings(req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.cfg.Trim())
}

// GetAliases returns the identifier alias table
func (h *Handler) GetAliases(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.cfg.Aliases.Aliases())
}

// UpdateAliases replaces the identifier alias table
func (h *Handler) UpdateAliases(w http.ResponseWriter, r *http.Request) {
	var aliases map[string]string
	if err := json.NewDecoder(r.Body).Decode(&aliases); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.cfg.Aliases.Save(aliases); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to save aliases")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, analysis.ErrEventNotFound), errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case analysis.IsNoData(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, etl.ErrInvalidEvent):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondServiceError logs unexpected failures and sends the mapped status
func respondServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Printf("[API] Request failed: %v", err)
	}
	respondError(w, status, err.Error())
}

func queryInt(r *http.Request, key string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v > 0 {
		return v
	}
	return def
}
