package etl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-report/analysis"
	"fleet-report/config"
	"fleet-report/database"
	"fleet-report/identity"
	"fleet-report/mart"
	"fleet-report/report"
	"fleet-report/timeseries"
)

func loadMockConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mock_data:\n  duration_hours: 1\n  idle_minutes: 10\n"), 0644))
	t.Setenv("ALIAS_FILE", filepath.Join(dir, "aliases.json"))
	t.Setenv("TSDB_URL", "")
	t.Setenv("MOCK_DATA", "true")

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	return cfg
}

type memoryAudit struct {
	entries []database.AuditEntry
	err     error
}

func (m *memoryAudit) LogAction(_ context.Context, e database.AuditEntry) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func TestStartEventActions(t *testing.T) {
	audit := &memoryAudit{}
	ing := NewDataIngestor(audit)
	at := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	n, err := ing.StartEvent(context.Background(), " gala ", []LoggerRegistration{
		{SystemID: "Pro6005-2", Location: " Stage "},
		{SystemID: "Logger 0"},
	}, at, false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, audit.entries, 2)
	assert.Equal(t, "gala", audit.entries[0].EventID)
	assert.Equal(t, database.ActionEventStart, audit.entries[0].Action)
	assert.Equal(t, "Stage", audit.entries[0].Location)

	_, err = ing.StartEvent(context.Background(), "gala", []LoggerRegistration{{SystemID: "late"}}, at.Add(time.Hour), true)
	require.NoError(t, err)
	assert.Equal(t, database.ActionLoggerAdd, audit.entries[2].Action)
}

func TestIngestorValidation(t *testing.T) {
	ing := NewDataIngestor(&memoryAudit{})
	ctx := context.Background()

	_, err := ing.StartEvent(ctx, "", []LoggerRegistration{{SystemID: "a"}}, time.Time{}, false)
	assert.ErrorIs(t, err, ErrInvalidEvent)
	_, err = ing.StartEvent(ctx, "ev", nil, time.Time{}, false)
	assert.ErrorIs(t, err, ErrInvalidEvent)
	_, err = ing.StartEvent(ctx, "ev", []LoggerRegistration{{SystemID: " "}}, time.Time{}, false)
	assert.ErrorIs(t, err, ErrInvalidEvent)
	assert.ErrorIs(t, ing.EndEvent(ctx, " ", "", time.Time{}), ErrInvalidEvent)
	assert.ErrorIs(t, ing.AddNote(ctx, "ev", "", "  ", time.Time{}), ErrInvalidEvent)
}

func TestEndEventAndNote(t *testing.T) {
	audit := &memoryAudit{}
	ing := NewDataIngestor(audit)
	fixed := time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)
	ing.now = func() time.Time { return fixed }
	ctx := context.Background()

	require.NoError(t, ing.EndEvent(ctx, "gala", "", time.Time{}))
	require.NoError(t, ing.EndEvent(ctx, "gala", "Pro6005-2", time.Time{}))
	require.NoError(t, ing.AddNote(ctx, "gala", "Pro6005-2", "refuelled", time.Time{}))

	require.Len(t, audit.entries, 3)
	assert.Equal(t, database.ActionEventEndAll, audit.entries[0].Action)
	assert.Equal(t, fixed, audit.entries[0].Timestamp)
	assert.Equal(t, database.ActionEventEnd, audit.entries[1].Action)
	assert.Equal(t, database.ActionNote, audit.entries[2].Action)
	assert.Equal(t, "refuelled", audit.entries[2].Note)
}

func TestIngestDemoEventStopsOnError(t *testing.T) {
	ing := NewDataIngestor(&memoryAudit{err: errors.New("disk full")})
	cfg := config.MockDataConfig{EventID: "demo", Inverters: []string{"a"}}

	_, err := ing.IngestDemoEvent(context.Background(), cfg, time.Now(), time.Now().Add(time.Hour))
	assert.EqualError(t, err, "disk full")
}

func TestMockDataProducesReportableEvent(t *testing.T) {
	cfg := loadMockConfig(t)
	db, err := database.Initialize(":memory:", "")
	require.NoError(t, err)
	t.Cleanup(db.Close)
	repo := database.NewRepository(db)

	gw := timeseries.NewMemoryGateway()
	resolver := identity.NewResolver(cfg.Aliases, cfg.Engine.MeterPrefix)
	w, err := RunMockGeneration(context.Background(), gw, NewDataIngestor(repo), cfg, resolver)
	require.NoError(t, err)
	assert.Equal(t, w.LoadStart.Add(-10*time.Minute), w.Start)
	assert.Equal(t, time.Hour, w.LoadEnd.Sub(w.LoadStart))

	span, err := repo.EventSpan(context.Background(), cfg.MockData.EventID)
	require.NoError(t, err)
	assert.False(t, span.Running)
	assert.Len(t, span.Loggers, len(cfg.MockData.Inverters)+len(cfg.MockData.Meters))

	a := analysis.NewAnalyzer(gw, resolver, cfg.Engine, cfg.Metrics)
	req := analysis.EventRequest{EventID: span.EventID, End: span.End}
	for _, l := range span.Loggers {
		req.Loggers = append(req.Loggers, analysis.LoggerRef{SystemID: l.SystemID, Start: l.Start, Location: l.Location})
	}
	rep, err := a.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, rep.Window.WasTrimmed)
	assert.True(t, w.LoadStart.Equal(rep.StartTime), "start %v, want %v", rep.StartTime, w.LoadStart)
	assert.True(t, w.LoadEnd.Equal(rep.EndTime), "end %v, want %v", rep.EndTime, w.LoadEnd)

	meter, ok := rep.Loggers["Logger 0"]
	require.True(t, ok)
	assert.Equal(t, report.SourcePowerMeter, meter.Config.Source)
	assert.Equal(t, report.SplitPhase, meter.Config.PhaseConfig)
	assert.Equal(t, 120, meter.Config.VoltageNominal)

	inv, ok := rep.Loggers["Pro6005-2"]
	require.True(t, ok)
	assert.Equal(t, report.ThreePhase, inv.Config.PhaseConfig)
	assert.Greater(t, inv.PhaseImbalancePct, 5.0)
	require.NotNil(t, inv.AvgPowerFactor)
	assert.InDelta(t, 0.91, *inv.AvgPowerFactor, 0.04)
}

type fakeMart struct{ refreshed int }

func (f *fakeMart) Refresh(context.Context) (mart.MartStats, error) {
	f.refreshed++
	return mart.MartStats{Loggers: 2}, nil
}

type fakeRetention struct {
	calls      int
	reportDays int
}

func (f *fakeRetention) CleanupOldData(_ context.Context, reportDays, _ int) (map[string]int64, error) {
	f.calls++
	f.reportDays = reportDays
	return map[string]int64{"reports": 1}, nil
}

type fakeOutbox struct{ calls int }

func (f *fakeOutbox) DispatchDue(context.Context) (int, int, error) {
	f.calls++
	return 1, 0, nil
}

func TestSchedulerCleanupOncePerDay(t *testing.T) {
	cfg := &config.Config{Retention: config.RetentionConfig{ReportDays: 90, JobDays: 7, CleanupTime: "03:00"}}
	m, r := &fakeMart{}, &fakeRetention{}
	s := NewScheduler(cfg, m, r, nil)

	day := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return day.Add(2 * time.Hour) }
	s.RunJob(context.Background())
	assert.Equal(t, 1, m.refreshed)
	assert.Zero(t, r.calls)

	s.now = func() time.Time { return day.Add(4 * time.Hour) }
	s.RunJob(context.Background())
	s.RunJob(context.Background())
	assert.Equal(t, 1, r.calls)
	assert.Equal(t, 90, r.reportDays)

	s.now = func() time.Time { return day.Add(28 * time.Hour) }
	s.RunJob(context.Background())
	assert.Equal(t, 2, r.calls)
	assert.Equal(t, 4, m.refreshed)
}

func TestSchedulerInvalidCleanupTime(t *testing.T) {
	cfg := &config.Config{Retention: config.RetentionConfig{CleanupTime: "late"}}
	s := NewScheduler(cfg, &fakeMart{}, &fakeRetention{}, nil)
	assert.False(t, s.cleanupDue(time.Now()))
}

func TestSchedulerOutbox(t *testing.T) {
	ob := &fakeOutbox{}
	s := NewScheduler(&config.Config{}, &fakeMart{}, &fakeRetention{}, ob)
	s.RunOutbox(context.Background())
	assert.Equal(t, 1, ob.calls)

	NewScheduler(&config.Config{}, &fakeMart{}, &fakeRetention{}, nil).RunOutbox(context.Background())
}

func TestSchedulerDisabledStartStop(t *testing.T) {
	s := NewScheduler(&config.Config{}, &fakeMart{}, &fakeRetention{}, nil)
	s.Start()
	s.Stop()

	cfg := &config.Config{Scheduler: config.SchedulerConfig{Enabled: true, IntervalMinutes: 60, OutboxIntervalSeconds: 60}}
	s = NewScheduler(cfg, &fakeMart{}, &fakeRetention{}, nil)
	s.Start()
	s.Stop()
}

type orderedMart struct{ calls *[]string }

func (o orderedMart) Refresh(context.Context) (mart.MartStats, error) {
	*o.calls = append(*o.calls, "refresh")
	return mart.MartStats{}, nil
}

type orderedRetention struct{ calls *[]string }

func (o orderedRetention) CleanupOldData(context.Context, int, int) (map[string]int64, error) {
	*o.calls = append(*o.calls, "cleanup")
	return map[string]int64{"logger_energy": 3}, nil
}

func TestSchedulerRefreshesMartAfterCleanup(t *testing.T) {
	var calls []string
	cfg := &config.Config{Retention: config.RetentionConfig{ReportDays: 90, CleanupTime: "03:00"}}
	s := NewScheduler(cfg, orderedMart{&calls}, orderedRetention{&calls}, nil)
	s.now = func() time.Time { return time.Date(2026, 6, 1, 4, 0, 0, 0, time.UTC) }

	s.RunJob(context.Background())
	assert.Equal(t, []string{"cleanup", "refresh"}, calls)
}
