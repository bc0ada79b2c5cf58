package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-report/config"
	"fleet-report/report"
	"fleet-report/timeseries"
)

var errStoreDown = errors.New("store unavailable")

// flakyGateway fails the queries its predicates select and passes the rest
// through to the wrapped gateway.
type flakyGateway struct {
	timeseries.Gateway
	failRange   func(expr string) bool
	failInstant func(expr string) bool
}

func (g flakyGateway) RangeQuery(ctx context.Context, expr string, start, end time.Time, step time.Duration) ([]timeseries.Series, error) {
	if g.failRange != nil && g.failRange(expr) {
		return nil, errStoreDown
	}
	return g.Gateway.RangeQuery(ctx, expr, start, end, step)
}

func (g flakyGateway) InstantQuery(ctx context.Context, expr string, at time.Time) ([]timeseries.Point, error) {
	if g.failInstant != nil && g.failInstant(expr) {
		return nil, errStoreDown
	}
	return g.Gateway.InstantQuery(ctx, expr, at)
}

func always(string) bool { return true }

// addMeterPhases publishes a meter with the given phase voltages, 5 A on
// every phase with voltage, and the line-to-line / line-to-neutral averages.
func addMeterPhases(gw *timeseries.MemoryGateway, device string, start, end time.Time, va, vb, vc, vll, vln float64) {
	labels := map[string]string{"device": device}
	series := map[string]float64{
		"acuvim_P":   1500,
		"acuvim_Q":   400,
		"acuvim_Va":  va,
		"acuvim_Vb":  vb,
		"acuvim_Vc":  vc,
		"acuvim_Ia":  5,
		"acuvim_Ib":  5,
		"acuvim_Ic":  5,
		"acuvim_Vll": vll,
		"acuvim_Vln": vln,
	}
	for metric, v := range series {
		gw.Add(metric, labels, constant(start, end, 30*time.Second, v)...)
	}
}

func TestGenerateDropsMethodWhoseQueriesFail(t *testing.T) {
	mem := timeseries.NewMemoryGateway()
	end := t0.Add(2 * time.Hour)
	addInverter(mem, "Pro6005-2", t0, end, 1000, 1100)

	gw := flakyGateway{Gateway: mem, failRange: func(expr string) bool { return strings.Contains(expr, "_v{") }}
	rep, err := newTestAnalyzer(gw).Generate(context.Background(), EventRequest{
		EventID: "evt-flaky",
		Loggers: []LoggerRef{{SystemID: "Pro6005-2", Start: t0}},
		End:     end,
	})
	require.NoError(t, err)

	lr := rep.Loggers["Pro6005-2"]
	_, ok := lr.Method(report.MethodIntegratedIV)
	assert.False(t, ok)
	for _, name := range []string{report.MethodTotalPower, report.MethodApparentPower, report.MethodSumOfPhasePower} {
		_, ok := lr.Method(name)
		assert.True(t, ok, name)
	}
	assert.Len(t, lr.EnergyMethods, 3)
	assert.Equal(t, report.ThreePhase, lr.Config.PhaseConfig)
}

func TestGenerateAllQueriesFailingIsNoData(t *testing.T) {
	mem := timeseries.NewMemoryGateway()
	end := t0.Add(time.Hour)
	addInverter(mem, "Pro6005-2", t0, end, 1000, 1100)
	addMeter(mem, "acuvim_10", t0, end)

	gw := flakyGateway{Gateway: mem, failRange: always, failInstant: always}
	_, err := newTestAnalyzer(gw).Generate(context.Background(), EventRequest{
		EventID: "evt-down",
		Loggers: []LoggerRef{{SystemID: "Pro6005-2", Start: t0}, {SystemID: "Logger 0", Start: t0}},
		End:     end,
	})
	require.Error(t, err)
	assert.True(t, IsNoData(err))
}

func TestDetectThreePhaseMeterUsesLineVoltage(t *testing.T) {
	gw := timeseries.NewMemoryGateway()
	end := t0.Add(time.Hour)
	addMeterPhases(gw, "acuvim_12", t0, end, 277, 277, 277, 480, 277)

	rep, err := newTestAnalyzer(gw).Generate(context.Background(), EventRequest{
		EventID: "evt-3p",
		Loggers: []LoggerRef{{SystemID: "Logger 2", Start: t0}},
		End:     end,
	})
	require.NoError(t, err)

	cfg := rep.Loggers["Logger 2"].Config
	assert.Equal(t, report.SourcePowerMeter, cfg.Source)
	assert.Equal(t, report.ThreePhase, cfg.PhaseConfig)
	assert.Equal(t, []string{"A", "B", "C"}, cfg.Phases)
	assert.Equal(t, 480, cfg.VoltageNominal)
}

func TestDetectMeterDemotesWeakThirdPhase(t *testing.T) {
	gw := timeseries.NewMemoryGateway()
	end := t0.Add(time.Hour)
	addMeterPhases(gw, "acuvim_12", t0, end, 120, 120, 60, 208, 120)

	settings := func() config.EngineConfig {
		e := testEngine()
		e.MeterThirdPhaseMinV = 100
		return e
	}
	rep, err := newTestAnalyzer(gw, WithSettings(settings)).Generate(context.Background(), EventRequest{
		EventID: "evt-demote",
		Loggers: []LoggerRef{{SystemID: "Logger 2", Start: t0}},
		End:     end,
	})
	require.NoError(t, err)

	cfg := rep.Loggers["Logger 2"].Config
	assert.Equal(t, report.SplitPhase, cfg.PhaseConfig)
	assert.Equal(t, []string{"A", "B"}, cfg.Phases)
	assert.Equal(t, 120, cfg.VoltageNominal)
}

func TestGeneratedReportDocumentRoundTrip(t *testing.T) {
	gw := timeseries.NewMemoryGateway()
	end := t0.Add(2 * time.Hour)
	addInverter(gw, "Pro6005-2", t0, end, 1000, 1100)
	addMeter(gw, "acuvim_10", t0, end)

	att := fakeAttachments{
		notes:  []report.Note{{Timestamp: t0.Add(time.Minute), SystemID: "Pro6005-2", Note: "gates open"}},
		images: []report.Image{{Filename: "stage.jpg", SystemID: "Logger 0", Timestamp: t0.Add(time.Hour)}},
	}
	rep, err := newTestAnalyzer(gw, WithAttachments(att)).Generate(context.Background(), EventRequest{
		EventID: "evt-doc",
		Loggers: []LoggerRef{{SystemID: "Pro6005-2", Start: t0, Location: "Stage"}, {SystemID: "Logger 0", Start: t0}},
		End:     end,
	})
	require.NoError(t, err)
	require.Len(t, rep.Loggers, 2)

	data, err := report.Marshal(rep)
	require.NoError(t, err)
	parsed, err := report.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, rep, parsed)
}
