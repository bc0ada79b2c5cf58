package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
)

// StreamRequest lists the events to report on
type StreamRequest struct {
	EventIDs []string `json:"event_ids"`
}

// StreamResult represents a single line in NDJSON stream
type StreamResult struct {
	EventID string            `json:"event_id"`
	Result  *GenerateResponse `json:"result,omitempty"`
	Error   string            `json:"error,omitempty"`
	Status  int               `json:"status"`
}

// StreamReports generates reports for several events, streaming one NDJSON
// line per event as it finishes
func (h *Handler) StreamReports(w http.ResponseWriter, r *http.Request) {
	var req StreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	seen := make(map[string]bool)
	var eventIDs []string
	for _, id := range req.EventIDs {
		id = strings.TrimSpace(id)
		if id != "" && !seen[id] {
			seen[id] = true
			eventIDs = append(eventIDs, id)
		}
	}
	if len(eventIDs) == 0 {
		respondError(w, http.StatusBadRequest, "event_ids is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	numWorkers := h.streamWorkers
	if len(eventIDs) < numWorkers {
		numWorkers = len(eventIDs)
	}

	jobs := make(chan string, len(eventIDs))
	results := make(chan StreamResult, len(eventIDs))
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for eventID := range jobs {
				if ctx.Err() != nil {
					results <- StreamResult{EventID: eventID, Error: ctx.Err().Error(), Status: statusFor(ctx.Err())}
					continue
				}
				g, err := h.service.GenerateEvent(ctx, eventID)
				if err != nil {
					results <- StreamResult{EventID: eventID, Error: err.Error(), Status: statusFor(err)}
					continue
				}
				results <- StreamResult{EventID: eventID, Status: http.StatusOK, Result: newGenerateResponse(g)}
			}
		}()
	}

	go func() {
		for _, id := range eventIDs {
			jobs <- id
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	encoder := json.NewEncoder(w)
	for res := range results {
		if err := encoder.Encode(res); err != nil {
			log.Printf("[API] Stream encode error: %v", err)
			// drain so workers can finish
			for range results {
			}
			return
		}
		flusher.Flush()
	}
}
