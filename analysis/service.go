package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"fleet-report/charting"
	"fleet-report/database"
	"fleet-report/jobs"
	"fleet-report/notify"
	"fleet-report/report"
	"fleet-report/timeseries"
)

// ReportStore is the persistence the service needs.
type ReportStore interface {
	EventSpan(ctx context.Context, eventID string) (*database.EventSpan, error)
	SaveReport(ctx context.Context, rec database.ReportRecord, payload []byte) error
	GetLatestReport(ctx context.Context, eventID string) (*database.ReportRecord, error)
	CreateReportJob(ctx context.Context, jobID, eventID string) error
	UpdateReportJob(ctx context.Context, jobID, status, reportID, errorMsg string, progress int) error
}

// FactRecorder receives every stored report, e.g. the fleet energy mart.
type FactRecorder interface {
	Record(ctx context.Context, reportID string, r *report.Report) error
}

// JobRecorder counts finished jobs by status.
type JobRecorder interface {
	Job(status string)
}

// ServiceConfig holds the service's settings and optional collaborators.
type ServiceConfig struct {
	ReportsPath  string
	ImageBaseURL string
	Mart         FactRecorder
	Charts       *charting.Generator
	Jobs         JobRecorder
	Logger       *slog.Logger
}

// Service resolves events, generates their reports and stores the results.
type Service struct {
	analyzer *Analyzer
	store    ReportStore
	pool     *jobs.WorkerPool
	cfg      ServiceConfig
	log      *slog.Logger
	newID    func() string
}

// Generated is the outcome of one report generation.
type Generated struct {
	ReportID string
	Report   *report.Report
	Document []byte
	HTML     []byte
	Dir      string
	Images   []charting.Image
}

func NewService(analyzer *Analyzer, store ReportStore, pool *jobs.WorkerPool, cfg ServiceConfig) *Service {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		analyzer: analyzer,
		store:    store,
		pool:     pool,
		cfg:      cfg,
		log:      log.With("component", "report-service"),
		newID:    func() string { return uuid.New().String() },
	}
}

// ResolveEvent turns the event's audit trail into a generation request.
func (s *Service) ResolveEvent(ctx context.Context, eventID string) (EventRequest, error) {
	span, err := s.store.EventSpan(ctx, eventID)
	if errors.Is(err, database.ErrNotFound) {
		return EventRequest{}, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}
	if err != nil {
		return EventRequest{}, fmt.Errorf("failed to resolve event %s: %w", eventID, err)
	}

	req := EventRequest{EventID: eventID, End: span.End, Loggers: make([]LoggerRef, len(span.Loggers))}
	for i, l := range span.Loggers {
		req.Loggers[i] = LoggerRef{SystemID: l.SystemID, Start: l.Start, Location: l.Location}
	}
	return req, nil
}

// GenerateEvent builds, renders and stores the report for an event.
func (s *Service) GenerateEvent(ctx context.Context, eventID string) (*Generated, error) {
	req, err := s.ResolveEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return s.Generate(ctx, req)
}

// Generate runs the engine for a resolved request and stores the result.
func (s *Service) Generate(ctx context.Context, req EventRequest) (*Generated, error) {
	rep, err := s.analyzer.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	g := &Generated{ReportID: s.newID(), Report: rep}
	if g.Document, err = report.Marshal(rep); err != nil {
		return nil, err
	}

	g.Images = s.charts(ctx, rep)
	g.HTML, err = report.RenderHTML(rep, report.RenderOptions{
		ImageBaseURL: s.cfg.ImageBaseURL,
		Charts:       charting.DataURIs(g.Images),
	})
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(notify.NewReportReady(g.ReportID, rep))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report ready: %w", err)
	}
	rec := database.ReportRecord{
		ReportSummary: database.ReportSummary{
			ReportID:    g.ReportID,
			EventID:     rep.EventID,
			GeneratedAt: rep.GeneratedAt,
			StartTime:   rep.StartTime,
			EndTime:     rep.EndTime,
			LoggerCount: len(rep.Loggers),
			WasTrimmed:  rep.Window.WasTrimmed,
		},
		Document: g.Document,
		HTML:     g.HTML,
	}
	if err := s.store.SaveReport(ctx, rec, payload); err != nil {
		return nil, err
	}

	// Files mirror the stored record; the database copy stays authoritative.
	if s.cfg.ReportsPath != "" {
		dir, err := report.WriteFiles(s.cfg.ReportsPath, rep, g.Document, g.HTML)
		if err != nil {
			s.log.Warn("failed to write report files", "event_id", rep.EventID, "error", err)
		} else {
			g.Dir = dir
			if _, err := charting.SaveImages(dir, g.Images); err != nil {
				s.log.Warn("failed to save chart images", "event_id", rep.EventID, "error", err)
			}
		}
	}

	if s.cfg.Mart != nil {
		if err := s.cfg.Mart.Record(ctx, g.ReportID, rep); err != nil {
			s.log.Warn("failed to record report in mart", "event_id", rep.EventID, "error", err)
		}
	}

	s.log.Info("report stored", "event_id", rep.EventID, "report_id", g.ReportID, "loggers", len(rep.Loggers))
	return g, nil
}

// charts renders chart images; failures only cost the charts.
func (s *Service) charts(ctx context.Context, rep *report.Report) []charting.Image {
	if s.cfg.Charts == nil {
		return nil
	}
	series := make(map[string][]timeseries.Sample, len(rep.Loggers))
	for id, lr := range rep.Loggers {
		series[id] = s.analyzer.PowerSeries(ctx, lr.Config, rep.StartTime, rep.EndTime)
	}
	images, err := s.cfg.Charts.ReportCharts(rep, series)
	if err != nil {
		s.log.Warn("failed to render charts", "event_id", rep.EventID, "error", err)
		return nil
	}
	return images
}

// StoredCharts re-renders the charts of an event's latest stored report.
func (s *Service) StoredCharts(ctx context.Context, eventID string) (*database.ReportRecord, []charting.Image, error) {
	rec, err := s.store.GetLatestReport(ctx, eventID)
	if err != nil {
		return nil, nil, err
	}
	rep, err := report.Parse(rec.Document)
	if err != nil {
		return nil, nil, err
	}
	return rec, s.charts(ctx, rep), nil
}

// RequestReport queues an async generation and returns its job id.
func (s *Service) RequestReport(ctx context.Context, eventID string) (string, error) {
	if s.pool == nil {
		return "", errors.New("no worker pool configured")
	}
	jobID := s.newID()
	if err := s.store.CreateReportJob(ctx, jobID, eventID); err != nil {
		return "", err
	}

	err := s.pool.Submit(jobs.Job{
		ID: jobID,
		Execute: func(ctx context.Context) error {
			return s.executeReport(ctx, jobID, eventID)
		},
	})
	if err != nil {
		s.finishJob(context.Background(), jobID, database.JobFailed, "", err.Error(), 0)
		return "", err
	}
	return jobID, nil
}

func (s *Service) executeReport(ctx context.Context, jobID, eventID string) error {
	started := time.Now()
	if err := s.store.UpdateReportJob(ctx, jobID, database.JobRunning, "", "", 10); err != nil {
		return err
	}

	g, err := s.GenerateEvent(ctx, eventID)
	if err != nil {
		s.finishJob(context.WithoutCancel(ctx), jobID, database.JobFailed, "", err.Error(), 100)
		return err
	}

	s.finishJob(ctx, jobID, database.JobCompleted, g.ReportID, "", 100)
	s.log.Info("report job completed", "job_id", jobID, "event_id", eventID, "duration", time.Since(started))
	return nil
}

func (s *Service) finishJob(ctx context.Context, jobID, status, reportID, errorMsg string, progress int) {
	if err := s.store.UpdateReportJob(ctx, jobID, status, reportID, errorMsg, progress); err != nil {
		s.log.Warn("failed to update job", "job_id", jobID, "status", status, "error", err)
	}
	if s.cfg.Jobs != nil {
		s.cfg.Jobs.Job(status)
	}
}
