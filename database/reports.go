package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateReportJob inserts a pending job.
func (r *Repository) CreateReportJob(ctx context.Context, jobID, eventID string) error {
	now := nanos(r.now())
	_, err := r.db.App.ExecContext(ctx,
		"INSERT INTO report_jobs (job_id, event_id, status, progress, created_at, updated_at) VALUES (?, ?, ?, 0, ?, ?)",
		jobID, eventID, JobPending, now, now)
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", jobID, err)
	}
	return nil
}

// UpdateReportJob sets a job's status, progress and outcome.
func (r *Repository) UpdateReportJob(ctx context.Context, jobID, status, reportID, errorMsg string, progress int) error {
	_, err := r.db.App.ExecContext(ctx,
		"UPDATE report_jobs SET status = ?, report_id = ?, error_message = ?, progress = ?, updated_at = ? WHERE job_id = ?",
		status, nullString(reportID), nullString(errorMsg), progress, nanos(r.now()), jobID)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", jobID, err)
	}
	return nil
}

// GetReportJob returns a job's status, or ErrNotFound.
func (r *Repository) GetReportJob(ctx context.Context, jobID string) (*JobStatus, error) {
	var s JobStatus
	var reportID, errorMsg sql.NullString
	var created, updated int64
	err := r.db.App.QueryRowContext(ctx,
		"SELECT job_id, event_id, status, progress, report_id, error_message, created_at, updated_at FROM report_jobs WHERE job_id = ?",
		jobID).Scan(&s.JobID, &s.EventID, &s.Status, &s.Progress, &reportID, &errorMsg, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	s.ReportID = reportID.String
	s.ErrorMessage = errorMsg.String
	s.CreatedAt = fromNanos(created)
	s.UpdatedAt = fromNanos(updated)
	return &s, nil
}

// SaveReport stores a report and queues its outbox entry in one transaction.
func (r *Repository) SaveReport(ctx context.Context, rec ReportRecord, payload []byte) (err error) {
	tx, err := r.db.App.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO reports (report_id, event_id, generated_at, start_time, end_time, logger_count, was_trimmed, document, html)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ReportID, rec.EventID, nanos(rec.GeneratedAt), nanos(rec.StartTime), nanos(rec.EndTime),
		rec.LoggerCount, rec.WasTrimmed, string(rec.Document), string(rec.HTML))
	if err != nil {
		return fmt.Errorf("failed to save report %s: %w", rec.ReportID, err)
	}

	if payload != nil {
		now := nanos(r.now())
		_, err = tx.ExecContext(ctx,
			"INSERT INTO report_outbox (report_id, event_id, payload, attempts, next_attempt, created_at) VALUES (?, ?, ?, 0, ?, ?)",
			rec.ReportID, rec.EventID, string(payload), now, now)
		if err != nil {
			return fmt.Errorf("failed to queue outbox for %s: %w", rec.ReportID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit report %s: %w", rec.ReportID, err)
	}
	return nil
}

const reportSummaryColumns = "report_id, event_id, generated_at, start_time, end_time, logger_count, was_trimmed"

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSummary(row rowScanner, extra ...interface{}) (ReportSummary, error) {
	var s ReportSummary
	var generated, start, end int64
	dest := append([]interface{}{&s.ReportID, &s.EventID, &generated, &start, &end, &s.LoggerCount, &s.WasTrimmed}, extra...)
	if err := row.Scan(dest...); err != nil {
		return ReportSummary{}, err
	}
	s.GeneratedAt = fromNanos(generated)
	s.StartTime = fromNanos(start)
	s.EndTime = fromNanos(end)
	return s, nil
}

// GetLatestReport returns the newest stored report of an event, or ErrNotFound.
func (r *Repository) GetLatestReport(ctx context.Context, eventID string) (*ReportRecord, error) {
	row := r.db.App.QueryRowContext(ctx,
		"SELECT "+reportSummaryColumns+", document, html FROM reports WHERE event_id = ? ORDER BY generated_at DESC LIMIT 1",
		eventID)
	var document string
	var html sql.NullString
	s, err := scanSummary(row, &document, &html)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report for %s: %w", eventID, err)
	}
	return &ReportRecord{ReportSummary: s, Document: []byte(document), HTML: []byte(html.String)}, nil
}

// ListReports returns stored reports, newest first.
func (r *Repository) ListReports(ctx context.Context, limit int) ([]ReportSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.App.QueryContext(ctx,
		"SELECT "+reportSummaryColumns+" FROM reports ORDER BY generated_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	reports := []ReportSummary{}
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, s)
	}
	return reports, rows.Err()
}

// DueOutbox returns undelivered entries whose next attempt has come and
// that have fewer than maxAttempts failures.
func (r *Repository) DueOutbox(ctx context.Context, limit, maxAttempts int) ([]OutboxEntry, error) {
	rows, err := r.db.App.QueryContext(ctx, `
		SELECT id, report_id, event_id, payload, attempts, next_attempt, last_error FROM report_outbox
		WHERE delivered_at IS NULL AND next_attempt <= ? AND attempts < ?
		ORDER BY next_attempt, id LIMIT ?`,
		nanos(r.now()), maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		var payload string
		var next int64
		var lastError sql.NullString
		if err := rows.Scan(&e.ID, &e.ReportID, &e.EventID, &payload, &e.Attempts, &next, &lastError); err != nil {
			return nil, err
		}
		e.Payload = []byte(payload)
		e.NextAttempt = fromNanos(next)
		e.LastError = lastError.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkOutboxDelivered records a successful hand-off.
func (r *Repository) MarkOutboxDelivered(ctx context.Context, id int64) error {
	_, err := r.db.App.ExecContext(ctx,
		"UPDATE report_outbox SET delivered_at = ?, last_error = NULL WHERE id = ?", nanos(r.now()), id)
	if err != nil {
		return fmt.Errorf("failed to mark outbox %d delivered: %w", id, err)
	}
	return nil
}

// MarkOutboxFailed counts a failed attempt and schedules the next one.
func (r *Repository) MarkOutboxFailed(ctx context.Context, e OutboxEntry, cause error, backoff Backoff) error {
	attempts := e.Attempts + 1
	next := r.now().Add(backoff.Delay(attempts))
	_, err := r.db.App.ExecContext(ctx,
		"UPDATE report_outbox SET attempts = ?, next_attempt = ?, last_error = ? WHERE id = ?",
		attempts, nanos(next), cause.Error(), e.ID)
	if err != nil {
		return fmt.Errorf("failed to mark outbox %d failed: %w", e.ID, err)
	}
	return nil
}

// CleanupOldData deletes reports, delivered outbox rows and finished jobs
// older than their retention, and the mart facts of the purged reports.
func (r *Repository) CleanupOldData(ctx context.Context, reportDays, jobDays int) (map[string]int64, error) {
	now := r.now()
	deleted := make(map[string]int64)

	steps := []struct {
		name  string
		query string
		days  int
	}{
		{"reports", "DELETE FROM reports WHERE generated_at < ?", reportDays},
		{"report_outbox", "DELETE FROM report_outbox WHERE delivered_at IS NOT NULL AND delivered_at < ?", reportDays},
		{"report_jobs", "DELETE FROM report_jobs WHERE status IN ('completed', 'failed') AND updated_at < ?", jobDays},
	}
	for _, s := range steps {
		if s.days <= 0 {
			continue
		}
		cutoff := nanos(now.Add(-time.Duration(s.days) * 24 * time.Hour))
		res, err := r.db.App.ExecContext(ctx, s.query, cutoff)
		if err != nil {
			return deleted, fmt.Errorf("failed to clean %s: %w", s.name, err)
		}
		n, _ := res.RowsAffected()
		deleted[s.name] = n
	}

	if reportDays > 0 {
		cutoff := now.Add(-time.Duration(reportDays) * 24 * time.Hour).UTC()
		res, err := r.db.Mart.ExecContext(ctx, "DELETE FROM logger_energy WHERE generated_at < ?", cutoff)
		if err != nil {
			return deleted, fmt.Errorf("failed to clean logger_energy: %w", err)
		}
		n, _ := res.RowsAffected()
		deleted["logger_energy"] = n
	}
	return deleted, nil
}
