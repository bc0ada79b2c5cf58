package etl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fleet-report/config"
	"fleet-report/database"
)

// ErrInvalidEvent is returned for audit requests missing required fields.
var ErrInvalidEvent = errors.New("invalid event request")

// AuditLog is the append-only store the ingestor writes to
type AuditLog interface {
	LogAction(ctx context.Context, e database.AuditEntry) error
}

// LoggerRegistration is a logger joining an event
type LoggerRegistration struct {
	SystemID string `json:"system_id"`
	Location string `json:"location,omitempty"`
}

// DataIngestor turns operator actions into audit log rows
type DataIngestor struct {
	log AuditLog
	now func() time.Time
}

// NewDataIngestor creates a new data ingestor
func NewDataIngestor(log AuditLog) *DataIngestor {
	return &DataIngestor{log: log, now: time.Now}
}

func (d *DataIngestor) at(t time.Time) time.Time {
	if t.IsZero() {
		return d.now().UTC()
	}
	return t.UTC()
}

// StartEvent registers the loggers of a new event block. add marks loggers
// joining an event that is already running.
func (d *DataIngestor) StartEvent(ctx context.Context, eventID string, loggers []LoggerRegistration, at time.Time, add bool) (int, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" || len(loggers) == 0 {
		return 0, fmt.Errorf("%w: event_id and at least one logger are required", ErrInvalidEvent)
	}
	action := database.ActionEventStart
	if add {
		action = database.ActionLoggerAdd
	}

	ts := d.at(at)
	count := 0
	for _, l := range loggers {
		id := strings.TrimSpace(l.SystemID)
		if id == "" {
			return count, fmt.Errorf("%w: empty system_id", ErrInvalidEvent)
		}
		err := d.log.LogAction(ctx, database.AuditEntry{
			Timestamp: ts,
			EventID:   eventID,
			SystemID:  id,
			Action:    action,
			Location:  strings.TrimSpace(l.Location),
		})
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// EndEvent closes the current block. An empty systemID ends every logger.
func (d *DataIngestor) EndEvent(ctx context.Context, eventID, systemID string, at time.Time) error {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return fmt.Errorf("%w: event_id is required", ErrInvalidEvent)
	}
	action := database.ActionEventEndAll
	if systemID = strings.TrimSpace(systemID); systemID != "" {
		action = database.ActionEventEnd
	}
	return d.log.LogAction(ctx, database.AuditEntry{
		Timestamp: d.at(at),
		EventID:   eventID,
		SystemID:  systemID,
		Action:    action,
	})
}

// AddNote records an operator note against an event.
func (d *DataIngestor) AddNote(ctx context.Context, eventID, systemID, note string, at time.Time) error {
	eventID = strings.TrimSpace(eventID)
	note = strings.TrimSpace(note)
	if eventID == "" || note == "" {
		return fmt.Errorf("%w: event_id and note are required", ErrInvalidEvent)
	}
	return d.log.LogAction(ctx, database.AuditEntry{
		Timestamp: d.at(at),
		EventID:   eventID,
		SystemID:  strings.TrimSpace(systemID),
		Action:    database.ActionNote,
		Note:      note,
	})
}

// IngestDemoEvent seeds a complete event covering [start, end] for the
// configured demo loggers.
func (d *DataIngestor) IngestDemoEvent(ctx context.Context, cfg config.MockDataConfig, start, end time.Time) (map[string]int, error) {
	var loggers []LoggerRegistration
	for _, id := range cfg.Inverters {
		loggers = append(loggers, LoggerRegistration{SystemID: id, Location: "Generator yard"})
	}
	for _, id := range cfg.Meters {
		loggers = append(loggers, LoggerRegistration{SystemID: id, Location: "Distro"})
	}

	counts := make(map[string]int)
	n, err := d.StartEvent(ctx, cfg.EventID, loggers, start, false)
	if err != nil {
		return counts, err
	}
	counts["loggers"] = n

	mid := start.Add(end.Sub(start) / 2)
	if err := d.AddNote(ctx, cfg.EventID, loggers[0].SystemID, "Demo load peak", mid); err != nil {
		return counts, err
	}
	counts["notes"] = 1

	if err := d.EndEvent(ctx, cfg.EventID, "", end); err != nil {
		return counts, err
	}
	counts["ends"] = 1
	return counts, nil
}
