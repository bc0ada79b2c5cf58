package database

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Audit log actions
const (
	ActionEventStart  = "event_start"
	ActionLoggerAdd   = "logger_add"
	ActionEventEnd    = "event_end"
	ActionEventEndAll = "event_end_all"
	ActionNote        = "note"
)

// Job statuses
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// AuditEntry is one row of the event audit log
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	EventID   string    `json:"event_id"`
	SystemID  string    `json:"system_id,omitempty"`
	Action    string    `json:"action"`
	Location  string    `json:"location,omitempty"`
	Note      string    `json:"note,omitempty"`
}

// LoggerStart is a logger registered to an event
type LoggerStart struct {
	SystemID string    `json:"system_id"`
	Start    time.Time `json:"start_time"`
	Location string    `json:"location,omitempty"`
}

// EventSpan is the latest contiguous block of an event: its loggers in
// registration order and its end (now when still running).
type EventSpan struct {
	EventID string        `json:"event_id"`
	Loggers []LoggerStart `json:"loggers"`
	End     time.Time     `json:"end_time"`
	Running bool          `json:"running"`
}

// JobStatus tracks an async report generation
type JobStatus struct {
	JobID        string    `json:"job_id"`
	EventID      string    `json:"event_id"`
	Status       string    `json:"status"`
	Progress     int       `json:"progress"`
	ReportID     string    `json:"report_id,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ReportSummary is a stored report without its bodies
type ReportSummary struct {
	ReportID    string    `json:"report_id"`
	EventID     string    `json:"event_id"`
	GeneratedAt time.Time `json:"generated_at"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	LoggerCount int       `json:"logger_count"`
	WasTrimmed  bool      `json:"was_trimmed"`
}

// ReportRecord is a stored report with its JSON document and HTML view
type ReportRecord struct {
	ReportSummary
	Document []byte `json:"-"`
	HTML     []byte `json:"-"`
}

// OutboxEntry is a pending hand-off of a stored report
type OutboxEntry struct {
	ID          int64     `json:"id"`
	ReportID    string    `json:"report_id"`
	EventID     string    `json:"event_id"`
	Payload     []byte    `json:"payload"`
	Attempts    int       `json:"attempts"`
	NextAttempt time.Time `json:"next_attempt"`
	LastError   string    `json:"last_error,omitempty"`
}

// Backoff spaces outbox retries: Base * 2^(attempts-1), capped at Max.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// Delay returns the wait before the next attempt after attempts failures.
func (b Backoff) Delay(attempts int) time.Duration {
	if attempts < 1 {
		return 0
	}
	d := b.Base
	for i := 1; i < attempts; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}
