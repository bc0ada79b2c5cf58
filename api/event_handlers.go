package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"fleet-report/etl"
)

// StartEventRequest registers loggers to an event
type StartEventRequest struct {
	EventID   string                   `json:"event_id"`
	Loggers   []etl.LoggerRegistration `json:"loggers"`
	Timestamp time.Time                `json:"timestamp"`
	Add       bool                     `json:"add"`
}

// EndEventRequest ends one logger, or the whole event when SystemID is empty
type EndEventRequest struct {
	EventID   string    `json:"event_id"`
	SystemID  string    `json:"system_id"`
	Timestamp time.Time `json:"timestamp"`
}

// NoteRequest records an operator note
type NoteRequest struct {
	EventID   string    `json:"event_id"`
	SystemID  string    `json:"system_id"`
	Note      string    `json:"note"`
	Timestamp time.Time `json:"timestamp"`
}

// StartEvent logs event_start (or logger_add) rows
func (h *Handler) StartEvent(w http.ResponseWriter, r *http.Request) {
	var req StartEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	n, err := h.ingestor.StartEvent(r.Context(), req.EventID, req.Loggers, req.Timestamp, req.Add)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"status":   "success",
		"event_id": req.EventID,
		"loggers":  n,
	})
}

// EndEvent logs an end row for one logger or the whole event
func (h *Handler) EndEvent(w http.ResponseWriter, r *http.Request) {
	var req EndEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.ingestor.EndEvent(r.Context(), req.EventID, req.SystemID, req.Timestamp); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "success", "event_id": req.EventID})
}

// AddNote logs an operator note
func (h *Handler) AddNote(w http.ResponseWriter, r *http.Request) {
	var req NoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.ingestor.AddNote(r.Context(), req.EventID, req.SystemID, req.Note, req.Timestamp); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"status": "success", "event_id": req.EventID})
}

// ActiveEvents lists events that have started but not ended
func (h *Handler) ActiveEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.repo.ActiveEvents(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if events == nil {
		events = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// GetEventSpan returns the loggers and bounds of an event's latest block
func (h *Handler) GetEventSpan(w http.ResponseWriter, r *http.Request) {
	span, err := h.repo.EventSpan(r.Context(), mux.Vars(r)["eventId"])
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, span)
}
