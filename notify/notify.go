package notify

import (
	"context"
	"errors"
	"time"

	"fleet-report/report"
)

// ReportReady announces a stored report to downstream consumers.
type ReportReady struct {
	EventID         string    `json:"event_id"`
	ReportID        string    `json:"report_id"`
	GeneratedAt     time.Time `json:"generated_at"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationSeconds float64   `json:"duration_seconds"`
	WasTrimmed      bool      `json:"was_trimmed"`
	Loggers         []string  `json:"loggers"`
}

// NewReportReady builds the announcement for a stored report.
func NewReportReady(reportID string, r *report.Report) ReportReady {
	return ReportReady{
		EventID:         r.EventID,
		ReportID:        reportID,
		GeneratedAt:     r.GeneratedAt,
		StartTime:       r.StartTime,
		EndTime:         r.EndTime,
		DurationSeconds: r.DurationSeconds,
		WasTrimmed:      r.Window.WasTrimmed,
		Loggers:         r.SystemIDs(),
	}
}

// Publisher delivers ReportReady messages.
type Publisher interface {
	Publish(ctx context.Context, msg ReportReady) error
	Close() error
}

// Multi fans a message out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, msg ReportReady) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop accepts and drops every message.
type Nop struct{}

func (Nop) Publish(context.Context, ReportReady) error { return nil }
func (Nop) Close() error                               { return nil }
