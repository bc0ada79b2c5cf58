package etl

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"fleet-report/config"
	"fleet-report/identity"
	"fleet-report/timeseries"
)

// MockDataGenerator generates realistic logger telemetry for demo mode
type MockDataGenerator struct {
	config   *config.MockDataConfig
	metrics  config.MetricsConfig
	resolver *identity.Resolver
	rand     *rand.Rand
}

// MockWindow is the span covered by generated telemetry. Load runs from
// LoadStart to LoadEnd with idle margins on both sides.
type MockWindow struct {
	Start     time.Time
	LoadStart time.Time
	LoadEnd   time.Time
	End       time.Time
}

// NewMockDataGenerator creates a new mock data generator
func NewMockDataGenerator(cfg *config.MockDataConfig, metrics config.MetricsConfig, resolver *identity.Resolver) *MockDataGenerator {
	return &MockDataGenerator{
		config:   cfg,
		metrics:  metrics,
		resolver: resolver,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *MockDataGenerator) spans() (idle, load time.Duration) {
	idle = time.Duration(m.config.IdleMinutes) * time.Minute
	load = time.Duration(m.config.DurationHours) * time.Hour
	if load <= 0 {
		load = time.Hour
	}
	return idle, load
}

// Window returns the span generated when the load starts at loadStart.
func (m *MockDataGenerator) Window(loadStart time.Time) MockWindow {
	idle, load := m.spans()
	return MockWindow{
		Start:     loadStart.Add(-idle),
		LoadStart: loadStart,
		LoadEnd:   loadStart.Add(load),
		End:       loadStart.Add(load + idle),
	}
}

// WindowEndingAt returns the span whose trailing idle margin ends at end.
func (m *MockDataGenerator) WindowEndingAt(end time.Time) MockWindow {
	idle, load := m.spans()
	return m.Window(end.Add(-load - idle))
}

func (m *MockDataGenerator) step() time.Duration {
	if m.config.SampleSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(m.config.SampleSeconds) * time.Second
}

// loadAt is the fraction of peak drawn at t: idle outside the load span,
// otherwise a slow wave between roughly 35% and 90% with some noise.
func (m *MockDataGenerator) loadAt(w MockWindow, t time.Time, phase float64) float64 {
	if t.Before(w.LoadStart) || t.After(w.LoadEnd) {
		return 0.0005
	}
	progress := t.Sub(w.LoadStart).Hours()
	wave := 0.625 + 0.25*math.Sin(progress*2*math.Pi/1.5+phase)
	noise := (m.rand.Float64() - 0.5) * 0.06
	return math.Max(0.05, wave+noise)
}

// Populate writes inverter and meter series for every configured logger and
// returns the number of samples written.
func (m *MockDataGenerator) Populate(gw *timeseries.MemoryGateway, w MockWindow) int {
	count := 0
	for i, id := range m.config.Inverters {
		count += m.populateInverter(gw, w, id, float64(i))
	}
	for i, name := range m.config.Meters {
		count += m.populateMeter(gw, w, m.meterDevice(name), float64(i)+0.5)
	}
	return count
}

// meterDevice is the device label a registered meter name publishes under.
func (m *MockDataGenerator) meterDevice(name string) string {
	variants := m.resolver.Variants(name)
	return variants[len(variants)-1]
}

func (m *MockDataGenerator) populateInverter(gw *timeseries.MemoryGateway, w MockWindow, id string, offset float64) int {
	dm := m.metrics.Inverter
	labels := map[string]string{dm.IDLabel: id}
	phases := []string{"L1", "L2", "L3"}
	skew := []float64{1.05, 1.0, 0.95}
	series := map[string][]timeseries.Sample{}
	add := func(metric string, t time.Time, v float64) {
		if metric != "" {
			series[metric] = append(series[metric], timeseries.Sample{Time: t, Value: v})
		}
	}

	for t := w.Start; !t.After(w.End); t = t.Add(m.step()) {
		total := m.config.PeakPowerWatts * m.loadAt(w, t, offset)
		pf := 0.88 + m.rand.Float64()*0.06
		add(dm.TotalPower, t, total)
		add(dm.ApparentPower, t, total/pf)
		for i, ph := range phases {
			p := total / 3 * skew[i]
			v := 230 + (m.rand.Float64()-0.5)*4
			add(phaseMetric(dm.PhasePower, ph), t, p)
			add(phaseMetric(dm.PhaseVoltage, ph), t, v)
			add(phaseMetric(dm.PhaseCurrent, ph), t, p/pf/v)
		}
	}
	return flush(gw, series, labels)
}

func (m *MockDataGenerator) populateMeter(gw *timeseries.MemoryGateway, w MockWindow, device string, offset float64) int {
	dm := m.metrics.Meter
	labels := map[string]string{dm.IDLabel: device}
	series := map[string][]timeseries.Sample{}
	add := func(metric string, t time.Time, v float64) {
		if metric != "" {
			series[metric] = append(series[metric], timeseries.Sample{Time: t, Value: v})
		}
	}

	// Split-phase service: A and B loaded, C present but dead.
	for t := w.Start; !t.After(w.End); t = t.Add(m.step()) {
		p := m.config.PeakPowerWatts / 2 * m.loadAt(w, t, offset)
		va := 120 + (m.rand.Float64()-0.5)*2
		vb := 120 + (m.rand.Float64()-0.5)*2
		add(dm.TotalPower, t, p)
		add(dm.ReactivePower, t, p*0.4)
		add(phaseMetric(dm.PhaseVoltage, "A"), t, va)
		add(phaseMetric(dm.PhaseVoltage, "B"), t, vb)
		add(phaseMetric(dm.PhaseVoltage, "C"), t, 0)
		add(phaseMetric(dm.PhaseCurrent, "A"), t, p*0.55/va)
		add(phaseMetric(dm.PhaseCurrent, "B"), t, p*0.45/vb)
		add(phaseMetric(dm.PhaseCurrent, "C"), t, 0)
		add(dm.NeutralVoltage, t, (va+vb)/2)
		add(dm.LineVoltage, t, va+vb)
	}
	return flush(gw, series, labels)
}

func phaseMetric(template, phase string) string {
	if template == "" {
		return ""
	}
	return strings.ReplaceAll(template, "{phase}", strings.ToLower(phase))
}

func flush(gw *timeseries.MemoryGateway, series map[string][]timeseries.Sample, labels map[string]string) int {
	count := 0
	for metric, samples := range series {
		gw.Add(metric, labels, samples...)
		count += len(samples)
	}
	return count
}

// RunMockGeneration fills gw with demo telemetry ending about now and seeds
// the matching demo event through the ingestor.
func RunMockGeneration(ctx context.Context, gw *timeseries.MemoryGateway, ingestor *DataIngestor, cfg *config.Config, resolver *identity.Resolver) (MockWindow, error) {
	fmt.Println("Generating mock telemetry...")

	generator := NewMockDataGenerator(&cfg.MockData, cfg.Metrics, resolver)
	w := generator.WindowEndingAt(time.Now().UTC().Truncate(time.Minute))

	samples := generator.Populate(gw, w)
	fmt.Printf("Generated %d samples across %d series\n", samples, gw.Len())

	counts, err := ingestor.IngestDemoEvent(ctx, cfg.MockData, w.Start, w.End)
	if err != nil {
		return w, fmt.Errorf("failed to seed demo event: %w", err)
	}
	fmt.Printf("Seeded demo event %s: %v\n", cfg.MockData.EventID, counts)
	return w, nil
}
