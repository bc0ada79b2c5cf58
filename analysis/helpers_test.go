package analysis

import (
	"io"
	"log/slog"
	"time"

	"fleet-report/config"
	"fleet-report/identity"
	"fleet-report/timeseries"
)

var t0 = time.Date(2026, 8, 14, 18, 0, 0, 0, time.UTC)

func testEngine() config.EngineConfig {
	return config.EngineConfig{
		EnergyStep:             30 * time.Second,
		TrimStep:               10 * time.Second,
		ExistenceStep:          5 * time.Minute,
		TrimMinSamples:         10,
		TrimWindow:             6,
		TrimPeakFraction:       0.02,
		TrimFloorW:             50,
		InverterPhaseThreshold: 10,
		MeterPhaseThreshold:    20,
		MeterThirdPhaseMinV:    20,
		MeterPrefix:            identity.DefaultMeterPrefix,
	}
}

func testMetrics() config.MetricsConfig {
	return config.MetricsConfig{
		Inverter: config.DeviceMetrics{
			IDLabel:       "system_id",
			Model:         "inverter",
			TotalPower:    "victron_ac_out_power",
			ApparentPower: "victron_ac_out_apparent",
			PhasePower:    "victron_ac_out_{phase}_p",
			PhaseVoltage:  "victron_ac_out_{phase}_v",
			PhaseCurrent:  "victron_ac_out_{phase}_i",
		},
		Meter: config.DeviceMetrics{
			IDLabel:        "device",
			MatchContains:  true,
			Model:          "power_meter",
			TotalPower:     "acuvim_P",
			ReactivePower:  "acuvim_Q",
			PhaseVoltage:   "acuvim_V{phase}",
			PhaseCurrent:   "acuvim_I{phase}",
			LineVoltage:    "acuvim_Vll",
			NeutralVoltage: "acuvim_Vln",
		},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAnalyzer(gw timeseries.Gateway, opts ...Option) *Analyzer {
	opts = append([]Option{
		WithLogger(quietLogger()),
		WithClock(func() time.Time { return t0.Add(24 * time.Hour) }),
	}, opts...)
	return NewAnalyzer(gw, identity.NewResolver(nil, identity.DefaultMeterPrefix), testEngine(), testMetrics(), opts...)
}

// constant returns samples of v every step over [start, end].
func constant(start, end time.Time, step time.Duration, v float64) []timeseries.Sample {
	var out []timeseries.Sample
	for t := start; !t.After(end); t = t.Add(step) {
		out = append(out, timeseries.Sample{Time: t, Value: v})
	}
	return out
}

// addInverter publishes a three-phase inverter running at totalW with the
// given apparent power for [start, end].
func addInverter(gw *timeseries.MemoryGateway, id string, start, end time.Time, totalW, apparentVA float64) {
	labels := map[string]string{"system_id": id}
	gw.Add("victron_ac_out_power", labels, constant(start, end, 30*time.Second, totalW)...)
	gw.Add("victron_ac_out_apparent", labels, constant(start, end, 30*time.Second, apparentVA)...)
	for _, ph := range []string{"l1", "l2", "l3"} {
		gw.Add("victron_ac_out_"+ph+"_p", labels, constant(start, end, 30*time.Second, totalW/3)...)
		gw.Add("victron_ac_out_"+ph+"_v", labels, constant(start, end, 30*time.Second, 230)...)
		gw.Add("victron_ac_out_"+ph+"_i", labels, constant(start, end, 30*time.Second, apparentVA/3/230)...)
	}
}
