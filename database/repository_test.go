package database

import (
	"context"
	"errors"
	"testing"
	"time"
)

var base = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := Initialize(":memory:", "")
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	t.Cleanup(db.Close)
	repo := NewRepository(db)
	repo.now = func() time.Time { return base.Add(10 * time.Hour) }
	return repo
}

func logAll(t *testing.T, repo *Repository, entries ...AuditEntry) {
	t.Helper()
	for _, e := range entries {
		if err := repo.LogAction(context.Background(), e); err != nil {
			t.Fatalf("LogAction error: %v", err)
		}
	}
}

func at(h int) time.Time { return base.Add(time.Duration(h) * time.Hour) }

func TestEventSpanClosedBlock(t *testing.T) {
	repo := newTestRepo(t)
	logAll(t, repo,
		AuditEntry{Timestamp: at(0), EventID: "ev", SystemID: "Pro6005-2", Action: ActionEventStart, Location: "Stage A"},
		AuditEntry{Timestamp: at(1), EventID: "ev", SystemID: "Logger 0", Action: ActionLoggerAdd, Location: "Main"},
		AuditEntry{Timestamp: at(1), EventID: "ev", SystemID: "Pro6005-2", Action: ActionLoggerAdd, Location: "Moved"},
		AuditEntry{Timestamp: at(3), EventID: "ev", Action: ActionEventEndAll},
	)

	span, err := repo.EventSpan(context.Background(), "ev")
	if err != nil {
		t.Fatalf("EventSpan error: %v", err)
	}
	if span.Running {
		t.Errorf("Expected closed span")
	}
	if !span.End.Equal(at(3)) {
		t.Errorf("End = %v, want %v", span.End, at(3))
	}
	if len(span.Loggers) != 2 {
		t.Fatalf("Expected 2 loggers, got %d: %+v", len(span.Loggers), span.Loggers)
	}
	if span.Loggers[0].SystemID != "Pro6005-2" || span.Loggers[0].Location != "Stage A" || !span.Loggers[0].Start.Equal(at(0)) {
		t.Errorf("First logger should keep its first start: %+v", span.Loggers[0])
	}
	if span.Loggers[1].SystemID != "Logger 0" {
		t.Errorf("Second logger = %s", span.Loggers[1].SystemID)
	}
}

func TestEventSpanLatestBlockOnly(t *testing.T) {
	repo := newTestRepo(t)
	logAll(t, repo,
		AuditEntry{Timestamp: at(0), EventID: "ev", SystemID: "old", Action: ActionEventStart},
		AuditEntry{Timestamp: at(1), EventID: "ev", Action: ActionEventEnd},
		AuditEntry{Timestamp: at(4), EventID: "ev", SystemID: "new", Action: ActionEventStart},
	)

	span, err := repo.EventSpan(context.Background(), "ev")
	if err != nil {
		t.Fatalf("EventSpan error: %v", err)
	}
	if !span.Running {
		t.Errorf("Expected running span")
	}
	if !span.End.Equal(repo.now()) {
		t.Errorf("End = %v, want now", span.End)
	}
	if len(span.Loggers) != 1 || span.Loggers[0].SystemID != "new" {
		t.Errorf("Expected only the latest block, got %+v", span.Loggers)
	}
}

func TestEventSpanNotFound(t *testing.T) {
	repo := newTestRepo(t)
	logAll(t, repo, AuditEntry{Timestamp: at(0), EventID: "other", SystemID: "x", Action: ActionEventStart})

	if _, err := repo.EventSpan(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestActiveEvents(t *testing.T) {
	repo := newTestRepo(t)
	logAll(t, repo,
		AuditEntry{Timestamp: at(0), EventID: "done", SystemID: "a", Action: ActionEventStart},
		AuditEntry{Timestamp: at(1), EventID: "done", Action: ActionEventEnd},
		AuditEntry{Timestamp: at(2), EventID: "live", SystemID: "b", Action: ActionEventStart},
	)

	ids, err := repo.ActiveEvents(context.Background())
	if err != nil {
		t.Fatalf("ActiveEvents error: %v", err)
	}
	if len(ids) != 1 || ids[0] != "live" {
		t.Errorf("ActiveEvents = %v", ids)
	}
}

func TestNotesAndImagesWindow(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	logAll(t, repo,
		AuditEntry{Timestamp: at(0), EventID: "ev", SystemID: "a", Action: ActionNote, Note: "before"},
		AuditEntry{Timestamp: at(2), EventID: "ev", SystemID: "a", Action: ActionNote, Note: "inside"},
		AuditEntry{Timestamp: at(2), EventID: "ev", SystemID: "a", Action: ActionEventStart},
	)
	if err := repo.AddImage(ctx, "ev", "a", "rack.jpg", at(2)); err != nil {
		t.Fatalf("AddImage error: %v", err)
	}
	if err := repo.AddImage(ctx, "ev", "a", "late.jpg", at(6)); err != nil {
		t.Fatalf("AddImage error: %v", err)
	}

	notes, err := repo.Notes(ctx, "ev", at(1), at(3))
	if err != nil {
		t.Fatalf("Notes error: %v", err)
	}
	if len(notes) != 1 || notes[0].Note != "inside" {
		t.Errorf("Notes = %+v", notes)
	}

	images, err := repo.Images(ctx, "ev", at(1), at(3))
	if err != nil {
		t.Fatalf("Images error: %v", err)
	}
	if len(images) != 1 || images[0].Filename != "rack.jpg" {
		t.Errorf("Images = %+v", images)
	}
}

func TestReportJobLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.CreateReportJob(ctx, "job-1", "ev"); err != nil {
		t.Fatalf("CreateReportJob error: %v", err)
	}
	if err := repo.UpdateReportJob(ctx, "job-1", JobCompleted, "rep-1", "", 100); err != nil {
		t.Fatalf("UpdateReportJob error: %v", err)
	}
	job, err := repo.GetReportJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetReportJob error: %v", err)
	}
	if job.Status != JobCompleted || job.ReportID != "rep-1" || job.Progress != 100 {
		t.Errorf("Job = %+v", job)
	}
	if _, err := repo.GetReportJob(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSaveReportQueuesOutbox(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i, id := range []string{"rep-1", "rep-2"} {
		rec := ReportRecord{
			ReportSummary: ReportSummary{
				ReportID:    id,
				EventID:     "ev",
				GeneratedAt: at(i + 4),
				StartTime:   at(0),
				EndTime:     at(2),
				LoggerCount: 2,
				WasTrimmed:  true,
			},
			Document: []byte(`{"event_id":"ev"}`),
			HTML:     []byte("<html></html>"),
		}
		if err := repo.SaveReport(ctx, rec, []byte(`{"report_id":"`+id+`"}`)); err != nil {
			t.Fatalf("SaveReport error: %v", err)
		}
	}

	latest, err := repo.GetLatestReport(ctx, "ev")
	if err != nil {
		t.Fatalf("GetLatestReport error: %v", err)
	}
	if latest.ReportID != "rep-2" || !latest.WasTrimmed || string(latest.HTML) != "<html></html>" {
		t.Errorf("Latest = %+v", latest.ReportSummary)
	}

	list, err := repo.ListReports(ctx, 10)
	if err != nil {
		t.Fatalf("ListReports error: %v", err)
	}
	if len(list) != 2 || list[0].ReportID != "rep-2" {
		t.Errorf("ListReports = %+v", list)
	}

	due, err := repo.DueOutbox(ctx, 10, 5)
	if err != nil {
		t.Fatalf("DueOutbox error: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("Expected 2 due entries, got %d", len(due))
	}

	if err := repo.MarkOutboxDelivered(ctx, due[0].ID); err != nil {
		t.Fatalf("MarkOutboxDelivered error: %v", err)
	}
	backoff := Backoff{Base: time.Minute, Max: time.Hour, MaxAttempts: 5}
	if err := repo.MarkOutboxFailed(ctx, due[1], errors.New("broker down"), backoff); err != nil {
		t.Fatalf("MarkOutboxFailed error: %v", err)
	}

	due, err = repo.DueOutbox(ctx, 10, 5)
	if err != nil {
		t.Fatalf("DueOutbox error: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("Expected nothing due right after a failure, got %+v", due)
	}

	repo.now = func() time.Time { return base.Add(10*time.Hour + 2*time.Minute) }
	due, err = repo.DueOutbox(ctx, 10, 5)
	if err != nil {
		t.Fatalf("DueOutbox error: %v", err)
	}
	if len(due) != 1 || due[0].Attempts != 1 || due[0].LastError != "broker down" {
		t.Errorf("Expected retried entry, got %+v", due)
	}
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: 30 * time.Second, Max: 30 * time.Minute}
	cases := map[int]time.Duration{
		0:  0,
		1:  30 * time.Second,
		2:  time.Minute,
		3:  2 * time.Minute,
		7:  30 * time.Minute,
		20: 30 * time.Minute,
	}
	for attempts, want := range cases {
		if got := b.Delay(attempts); got != want {
			t.Errorf("Delay(%d) = %v, want %v", attempts, got, want)
		}
	}
}

func TestCleanupOldData(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	old := ReportRecord{ReportSummary: ReportSummary{ReportID: "old", EventID: "ev", GeneratedAt: base.AddDate(0, 0, -400)}, Document: []byte("{}")}
	fresh := ReportRecord{ReportSummary: ReportSummary{ReportID: "fresh", EventID: "ev", GeneratedAt: base}, Document: []byte("{}")}
	for _, rec := range []ReportRecord{old, fresh} {
		if err := repo.SaveReport(ctx, rec, nil); err != nil {
			t.Fatalf("SaveReport error: %v", err)
		}
	}

	deleted, err := repo.CleanupOldData(ctx, 365, 30)
	if err != nil {
		t.Fatalf("CleanupOldData error: %v", err)
	}
	if deleted["reports"] != 1 {
		t.Errorf("Expected 1 report deleted, got %v", deleted)
	}
	list, _ := repo.ListReports(ctx, 10)
	if len(list) != 1 || list[0].ReportID != "fresh" {
		t.Errorf("Remaining reports = %+v", list)
	}
}

func TestCleanupOldDataPurgesMartFacts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	insert := "INSERT INTO logger_energy (report_id, event_id, system_id, real_energy_wh, generated_at) VALUES (?, ?, ?, ?, ?)"
	if _, err := repo.db.Mart.ExecContext(ctx, insert, "old", "spring", "Pro6005-2", 5000.0, base.AddDate(0, 0, -400)); err != nil {
		t.Fatalf("insert old fact: %v", err)
	}
	if _, err := repo.db.Mart.ExecContext(ctx, insert, "fresh", "summer", "Pro6005-2", 1000.0, base); err != nil {
		t.Fatalf("insert fresh fact: %v", err)
	}

	deleted, err := repo.CleanupOldData(ctx, 365, 30)
	if err != nil {
		t.Fatalf("CleanupOldData error: %v", err)
	}
	if deleted["logger_energy"] != 1 {
		t.Errorf("Expected 1 mart fact deleted, got %v", deleted)
	}

	var events []string
	rows, err := repo.db.Mart.QueryContext(ctx, "SELECT event_id FROM logger_energy")
	if err != nil {
		t.Fatalf("query facts: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			t.Fatalf("scan: %v", err)
		}
		events = append(events, id)
	}
	if len(events) != 1 || events[0] != "summer" {
		t.Errorf("Remaining facts = %v, want [summer]", events)
	}
}

func TestEventSpanEndsAtFirstEndAfterStart(t *testing.T) {
	repo := newTestRepo(t)
	logAll(t, repo,
		AuditEntry{Timestamp: at(0), EventID: "ev", SystemID: "Pro6005-2", Action: ActionEventStart},
		AuditEntry{Timestamp: at(0), EventID: "ev", SystemID: "Logger 0", Action: ActionLoggerAdd},
		AuditEntry{Timestamp: at(2), EventID: "ev", SystemID: "Logger 0", Action: ActionEventEnd},
		AuditEntry{Timestamp: at(4), EventID: "ev", Action: ActionEventEndAll},
	)

	span, err := repo.EventSpan(context.Background(), "ev")
	if err != nil {
		t.Fatalf("EventSpan error: %v", err)
	}
	if !span.End.Equal(at(2)) {
		t.Errorf("End = %v, want the first end %v", span.End, at(2))
	}
	if len(span.Loggers) != 2 {
		t.Errorf("Expected both loggers, got %+v", span.Loggers)
	}
}
