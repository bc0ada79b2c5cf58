package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fleet-report/report"
)

// Repository provides data access for the app store
type Repository struct {
	db  *DB
	now func() time.Time
}

// NewRepository creates a new repository instance
func NewRepository(db *DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

func nanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

// LogAction appends an audit log row. A zero timestamp means now.
func (r *Repository) LogAction(ctx context.Context, e AuditEntry) error {
	if e.EventID == "" || e.Action == "" {
		return fmt.Errorf("event_id and action are required")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now()
	}
	_, err := r.db.App.ExecContext(ctx,
		"INSERT INTO audit_log (timestamp, event_id, system_id, action, location, note) VALUES (?, ?, ?, ?, ?, ?)",
		nanos(e.Timestamp), e.EventID, nullString(e.SystemID), e.Action, nullString(e.Location), nullString(e.Note))
	if err != nil {
		return fmt.Errorf("failed to log %s for %s: %w", e.Action, e.EventID, err)
	}
	return nil
}

// EventSpan resolves the latest contiguous block of an event. The block
// starts after the end that preceded the latest start and finishes at the
// first end after it, or now while the event is still running.
func (r *Repository) EventSpan(ctx context.Context, eventID string) (*EventSpan, error) {
	var latestStart int64
	err := r.db.App.QueryRowContext(ctx, `
		SELECT timestamp FROM audit_log
		WHERE event_id = ? AND action IN (?, ?)
		ORDER BY timestamp DESC LIMIT 1`,
		eventID, ActionEventStart, ActionLoggerAdd).Scan(&latestStart)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find latest start for %s: %w", eventID, err)
	}

	ends, err := r.endTimes(ctx, eventID)
	if err != nil {
		return nil, err
	}

	span := &EventSpan{EventID: eventID, Loggers: []LoggerStart{}}
	var previousEnd *int64
	endIdx := -1
	// ends is newest first; the match is the oldest end at or after the start.
	for i, ts := range ends {
		if ts >= latestStart {
			endIdx = i
		}
	}
	if endIdx >= 0 {
		span.End = fromNanos(ends[endIdx])
		if endIdx+1 < len(ends) {
			previousEnd = &ends[endIdx+1]
		}
	} else {
		span.End = r.now().UTC()
		span.Running = true
		if len(ends) > 0 {
			previousEnd = &ends[0]
		}
	}

	query := `SELECT timestamp, system_id, location FROM audit_log
		WHERE event_id = ? AND action IN (?, ?) AND timestamp <= ?`
	args := []interface{}{eventID, ActionEventStart, ActionLoggerAdd, nanos(span.End)}
	if previousEnd != nil {
		query += " AND timestamp > ?"
		args = append(args, *previousEnd)
	}
	query += " ORDER BY timestamp, id"

	rows, err := r.db.App.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load loggers for %s: %w", eventID, err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	for rows.Next() {
		var ts int64
		var systemID, location sql.NullString
		if err := rows.Scan(&ts, &systemID, &location); err != nil {
			return nil, err
		}
		if !systemID.Valid || systemID.String == "" || seen[systemID.String] {
			continue
		}
		seen[systemID.String] = true
		span.Loggers = append(span.Loggers, LoggerStart{
			SystemID: systemID.String,
			Start:    fromNanos(ts),
			Location: location.String,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(span.Loggers) == 0 {
		return nil, ErrNotFound
	}
	return span, nil
}

func (r *Repository) endTimes(ctx context.Context, eventID string) ([]int64, error) {
	rows, err := r.db.App.QueryContext(ctx, `
		SELECT timestamp FROM audit_log
		WHERE event_id = ? AND action IN (?, ?)
		ORDER BY timestamp DESC`,
		eventID, ActionEventEnd, ActionEventEndAll)
	if err != nil {
		return nil, fmt.Errorf("failed to load end times for %s: %w", eventID, err)
	}
	defer rows.Close()

	var ends []int64
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		ends = append(ends, ts)
	}
	return ends, rows.Err()
}

// ActiveEvents returns the ids of events whose latest start has no end after it.
func (r *Repository) ActiveEvents(ctx context.Context) ([]string, error) {
	rows, err := r.db.App.QueryContext(ctx, `
		SELECT s.event_id FROM (
			SELECT event_id, MAX(timestamp) AS started FROM audit_log
			WHERE action IN (?, ?) GROUP BY event_id
		) s
		LEFT JOIN (
			SELECT event_id, MAX(timestamp) AS ended FROM audit_log
			WHERE action IN (?, ?) GROUP BY event_id
		) e ON e.event_id = s.event_id
		WHERE e.ended IS NULL OR e.ended < s.started
		ORDER BY s.started DESC`,
		ActionEventStart, ActionLoggerAdd, ActionEventEnd, ActionEventEndAll)
	if err != nil {
		return nil, fmt.Errorf("failed to list active events: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Notes returns the operator notes of an event within [start, end].
func (r *Repository) Notes(ctx context.Context, eventID string, start, end time.Time) ([]report.Note, error) {
	rows, err := r.db.App.QueryContext(ctx, `
		SELECT timestamp, system_id, note FROM audit_log
		WHERE event_id = ? AND note IS NOT NULL AND note != ''
		AND timestamp BETWEEN ? AND ?
		ORDER BY timestamp`,
		eventID, nanos(start), nanos(end))
	if err != nil {
		return nil, fmt.Errorf("failed to query notes for %s: %w", eventID, err)
	}
	defer rows.Close()

	notes := []report.Note{}
	for rows.Next() {
		var ts int64
		var systemID sql.NullString
		var text string
		if err := rows.Scan(&ts, &systemID, &text); err != nil {
			return nil, err
		}
		notes = append(notes, report.Note{Timestamp: fromNanos(ts), SystemID: systemID.String, Note: text})
	}
	return notes, rows.Err()
}

// Images returns the image references of an event within [start, end].
func (r *Repository) Images(ctx context.Context, eventID string, start, end time.Time) ([]report.Image, error) {
	rows, err := r.db.App.QueryContext(ctx, `
		SELECT filename, system_id, timestamp FROM images
		WHERE event_id = ? AND timestamp BETWEEN ? AND ?
		ORDER BY timestamp`,
		eventID, nanos(start), nanos(end))
	if err != nil {
		return nil, fmt.Errorf("failed to query images for %s: %w", eventID, err)
	}
	defer rows.Close()

	images := []report.Image{}
	for rows.Next() {
		var filename string
		var systemID sql.NullString
		var ts int64
		if err := rows.Scan(&filename, &systemID, &ts); err != nil {
			return nil, err
		}
		images = append(images, report.Image{Filename: filename, SystemID: systemID.String, Timestamp: fromNanos(ts)})
	}
	return images, rows.Err()
}

// AddImage records an uploaded image against an event.
func (r *Repository) AddImage(ctx context.Context, eventID, systemID, filename string, at time.Time) error {
	if at.IsZero() {
		at = r.now()
	}
	_, err := r.db.App.ExecContext(ctx,
		"INSERT INTO images (event_id, system_id, filename, timestamp) VALUES (?, ?, ?, ?)",
		eventID, nullString(systemID), filename, nanos(at))
	if err != nil {
		return fmt.Errorf("failed to add image %s: %w", filename, err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
