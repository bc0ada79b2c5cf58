package analysis

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"fleet-report/config"
	"fleet-report/identity"
	"fleet-report/report"
	"fleet-report/timeseries"
)

// LoggerRef is one logger registered to an event.
type LoggerRef struct {
	SystemID string    `json:"system_id"`
	Start    time.Time `json:"start_time"`
	Location string    `json:"location,omitempty"`
}

// EventRequest describes the event to report on. Loggers are in
// registration order.
type EventRequest struct {
	EventID string      `json:"event_id"`
	Loggers []LoggerRef `json:"loggers"`
	End     time.Time   `json:"end_time"`
}

// Start is the earliest logger start.
func (r EventRequest) Start() time.Time {
	var start time.Time
	for _, l := range r.Loggers {
		if start.IsZero() || l.Start.Before(start) {
			start = l.Start
		}
	}
	return start
}

// SystemIDs returns the logger ids in order.
func (r EventRequest) SystemIDs() []string {
	ids := make([]string, len(r.Loggers))
	for i, l := range r.Loggers {
		ids[i] = l.SystemID
	}
	return ids
}

// Attachments supplies the operator notes and images for an event.
type Attachments interface {
	Notes(ctx context.Context, eventID string, start, end time.Time) ([]report.Note, error)
	Images(ctx context.Context, eventID string, start, end time.Time) ([]report.Image, error)
}

// Analyzer is the report engine. It is safe for concurrent use; each call
// computes into its own Report.
type Analyzer struct {
	gateway     timeseries.Gateway
	resolver    *identity.Resolver
	inverter    deviceProfile
	meter       deviceProfile
	settings    func() config.EngineConfig
	concurrency int
	attachments Attachments
	recorder    Recorder
	log         *slog.Logger
	now         func() time.Time
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithAttachments sets the notes/images source.
func WithAttachments(att Attachments) Option { return func(a *Analyzer) { a.attachments = att } }

// WithRecorder sets the telemetry sink.
func WithRecorder(r Recorder) Option { return func(a *Analyzer) { a.recorder = r } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(a *Analyzer) { a.log = l } }

// WithClock overrides time.Now for generated_at.
func WithClock(now func() time.Time) Option { return func(a *Analyzer) { a.now = now } }

// WithConcurrency bounds how many loggers are processed at once.
func WithConcurrency(n int) Option { return func(a *Analyzer) { a.concurrency = n } }

// WithSettings reads engine settings per run, so runtime updates apply to
// the next report.
func WithSettings(fn func() config.EngineConfig) Option { return func(a *Analyzer) { a.settings = fn } }

// NewAnalyzer creates the engine.
func NewAnalyzer(gateway timeseries.Gateway, resolver *identity.Resolver, engine config.EngineConfig, metrics config.MetricsConfig, opts ...Option) *Analyzer {
	inverter, meter := newProfiles(metrics)
	a := &Analyzer{
		gateway:     gateway,
		resolver:    resolver,
		inverter:    inverter,
		meter:       meter,
		settings:    func() config.EngineConfig { return engine },
		concurrency: 4,
		recorder:    nopRecorder{},
		log:         slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.resolver == nil {
		a.resolver = identity.NewResolver(nil, engine.MeterPrefix)
	}
	if a.concurrency < 1 {
		a.concurrency = 1
	}
	a.log = a.log.With("component", "report-engine")
	return a
}

// run is one report computation with a fixed settings snapshot.
type run struct {
	*Analyzer
	cfg config.EngineConfig
}

func (a *Analyzer) newRun() *run {
	return &run{Analyzer: a, cfg: a.settings()}
}

func (a *Analyzer) profileFor(source report.Source) (deviceProfile, bool) {
	switch source {
	case report.SourceInverter:
		return a.inverter, true
	case report.SourcePowerMeter:
		return a.meter, true
	default:
		return deviceProfile{}, false
	}
}

// Generate assembles the report for an event. When no logger has telemetry
// it returns a *NoDataError and a nil report.
func (a *Analyzer) Generate(ctx context.Context, req EventRequest) (*report.Report, error) {
	started := time.Now()
	defer func() { a.recorder.ReportDuration(time.Since(started)) }()

	r := a.newRun()
	start, end := req.Start(), req.End
	log := a.log.With("event_id", req.EventID)
	log.Info("generating report", "loggers", len(req.Loggers), "start", start, "end", end)

	window := r.trim(ctx, req.SystemIDs(), start, end)

	results := make([]*report.LoggerReport, len(req.Loggers))
	g := new(errgroup.Group)
	g.SetLimit(a.concurrency)
	for i, ref := range req.Loggers {
		i, ref := i, ref
		g.Go(func() error {
			results[i] = r.processLogger(ctx, ref, window)
			return nil
		})
	}
	_ = g.Wait()

	rep := &report.Report{
		EventID:         req.EventID,
		StartTime:       window.TrimmedStart,
		EndTime:         window.TrimmedEnd,
		DurationSeconds: window.TrimmedEnd.Sub(window.TrimmedStart).Seconds(),
		GeneratedAt:     a.now().UTC(),
		Window:          window,
		Loggers:         make(map[string]report.LoggerReport, len(results)),
		Notes:           []report.Note{},
		Images:          []report.Image{},
	}
	for i, lr := range results {
		if lr == nil {
			continue
		}
		rep.Loggers[req.Loggers[i].SystemID] = *lr
	}

	if len(rep.Loggers) == 0 {
		log.Warn("no logger had telemetry in the event window")
		return nil, &NoDataError{EventID: req.EventID, SystemIDs: req.SystemIDs(), Start: start, End: end}
	}

	a.attach(ctx, rep)
	log.Info("report generated", "loggers", len(rep.Loggers), "skipped", len(req.Loggers)-len(rep.Loggers))
	return rep, nil
}

// processLogger returns nil when the logger has no recognised telemetry.
func (r *run) processLogger(ctx context.Context, ref LoggerRef, window report.EventWindow) *report.LoggerReport {
	start := window.TrimmedStart
	if ref.Start.After(start) {
		start = ref.Start
	}
	end := window.TrimmedEnd
	if !end.After(start) {
		r.log.Warn("logger window is empty", "system_id", ref.SystemID, "start", start, "end", end)
		r.recorder.Logger("skipped")
		return nil
	}

	cfg := r.detect(ctx, ref.SystemID, start, end)
	if cfg.DetectionConfidence == report.ConfidenceNone {
		r.recorder.Logger("skipped")
		return nil
	}

	p, _ := r.profileFor(cfg.Source)
	total := r.rangeSamples(ctx, p.total(cfg.QueryID), start, end, r.cfg.EnergyStep)

	lr := &report.LoggerReport{Config: cfg, Location: ref.Location}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lr.EnergyMethods, lr.AvgPowerFactor = r.energy(gctx, cfg, start, end, total)
		return nil
	})
	g.Go(func() error {
		lr.PowerStats = r.powerStats(gctx, cfg, start, end, total)
		return nil
	})
	g.Go(func() error {
		lr.PhaseImbalancePct = r.imbalance(gctx, cfg, start, end)
		return nil
	})
	_ = g.Wait()

	lr.LoadDistribution = LoadDistribution(total, lr.PowerStats.PeakPowerW)
	r.recorder.Logger("processed")
	return lr
}

func (a *Analyzer) attach(ctx context.Context, rep *report.Report) {
	if a.attachments == nil {
		return
	}
	notes, err := a.attachments.Notes(ctx, rep.EventID, rep.StartTime, rep.EndTime)
	if err != nil {
		a.log.Warn("failed to load notes", "event_id", rep.EventID, "error", err)
	} else if notes != nil {
		rep.Notes = notes
	}
	images, err := a.attachments.Images(ctx, rep.EventID, rep.StartTime, rep.EndTime)
	if err != nil {
		a.log.Warn("failed to load images", "event_id", rep.EventID, "error", err)
	} else if images != nil {
		rep.Images = images
	}
}

// DeviceListing is the set of identifiers each device class reported in a window.
type DeviceListing struct {
	Inverters []string `json:"inverters"`
	Meters    []string `json:"meters"`
}

// KnownDevices lists the logger identifiers with telemetry in [start, end].
func (a *Analyzer) KnownDevices(ctx context.Context, start, end time.Time) (DeviceListing, error) {
	var listing DeviceListing
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ids, err := a.gateway.LabelValues(gctx, a.inverter.metrics.IDLabel, a.inverter.metrics.TotalPower, start, end)
		listing.Inverters = ids
		return err
	})
	g.Go(func() error {
		ids, err := a.gateway.LabelValues(gctx, a.meter.metrics.IDLabel, a.meter.metrics.TotalPower, start, end)
		listing.Meters = ids
		return err
	})
	if err := g.Wait(); err != nil {
		return DeviceListing{}, err
	}
	sort.Strings(listing.Inverters)
	sort.Strings(listing.Meters)
	return listing, nil
}

// PowerSeries returns a detected logger's total power samples over [start, end].
func (a *Analyzer) PowerSeries(ctx context.Context, cfg report.DeviceConfig, start, end time.Time) []timeseries.Sample {
	r := a.newRun()
	p, ok := r.profileFor(cfg.Source)
	if !ok {
		return nil
	}
	return r.rangeSamples(ctx, p.total(cfg.QueryID), start, end, r.cfg.EnergyStep)
}
