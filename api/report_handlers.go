package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"fleet-report/analysis"
)

// ReportRequest names the event to report on
type ReportRequest struct {
	EventID string `json:"event_id"`
}

// GenerateResponse summarizes a freshly stored report
type GenerateResponse struct {
	ReportID        string    `json:"report_id"`
	EventID         string    `json:"event_id"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationSeconds float64   `json:"duration_seconds"`
	WasTrimmed      bool      `json:"was_trimmed"`
	Loggers         []string  `json:"loggers"`
	Dir             string    `json:"dir,omitempty"`
}

func newGenerateResponse(g *analysis.Generated) *GenerateResponse {
	rep := g.Report
	return &GenerateResponse{
		ReportID:        g.ReportID,
		EventID:         rep.EventID,
		StartTime:       rep.StartTime,
		EndTime:         rep.EndTime,
		DurationSeconds: rep.DurationSeconds,
		WasTrimmed:      rep.Window.WasTrimmed,
		Loggers:         rep.SystemIDs(),
		Dir:             g.Dir,
	}
}

func decodeReportRequest(r *http.Request) (string, error) {
	var req ReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", fmt.Errorf("invalid request body")
	}
	req.EventID = strings.TrimSpace(req.EventID)
	if req.EventID == "" {
		return "", fmt.Errorf("event_id is required")
	}
	return req.EventID, nil
}

// GenerateReport builds and stores an event report synchronously
func (h *Handler) GenerateReport(w http.ResponseWriter, r *http.Request) {
	eventID, err := decodeReportRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	g, err := h.service.GenerateEvent(r.Context(), eventID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, newGenerateResponse(g))
}

// RequestReportJob queues an async report generation
func (h *Handler) RequestReportJob(w http.ResponseWriter, r *http.Request) {
	eventID, err := decodeReportRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID, err := h.service.RequestReport(r.Context(), eventID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{
		"job_id":   jobID,
		"event_id": eventID,
		"status":   "pending",
	})
}

// GetReportJob returns the status of an async report generation
func (h *Handler) GetReportJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.repo.GetReportJob(r.Context(), mux.Vars(r)["jobId"])
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// ListReports returns the most recent stored reports
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	reports, err := h.repo.ListReports(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"reports": reports,
		"count":   len(reports),
	})
}

// GetReport returns the latest stored report document of an event
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	rec, err := h.repo.GetLatestReport(r.Context(), mux.Vars(r)["eventId"])
	if err != nil {
		respondServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Report-ID", rec.ReportID)
	w.WriteHeader(http.StatusOK)
	w.Write(rec.Document)
}

// GetReportHTML returns the latest stored report of an event as HTML
func (h *Handler) GetReportHTML(w http.ResponseWriter, r *http.Request) {
	rec, err := h.repo.GetLatestReport(r.Context(), mux.Vars(r)["eventId"])
	if err != nil {
		respondServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(rec.HTML)
}
