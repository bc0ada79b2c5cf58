package analysis

import (
	"strings"

	"fleet-report/config"
	"fleet-report/report"
	"fleet-report/timeseries"
)

// deviceProfile binds a device class to the metric names it publishes.
type deviceProfile struct {
	source  report.Source
	metrics config.DeviceMetrics
}

func newProfiles(m config.MetricsConfig) (inverter, meter deviceProfile) {
	return deviceProfile{source: report.SourceInverter, metrics: m.Inverter},
		deviceProfile{source: report.SourcePowerMeter, metrics: m.Meter}
}

func (p deviceProfile) phases() []string {
	return p.source.PhaseLabels()
}

// selector returns the series selector for metric and logger id, or "" when
// the class does not publish that metric.
func (p deviceProfile) selector(metric, id string) string {
	if metric == "" {
		return ""
	}
	if p.metrics.MatchContains {
		return timeseries.ContainsSelector(metric, p.metrics.IDLabel, id)
	}
	return timeseries.Selector(metric, p.metrics.IDLabel, id)
}

func (p deviceProfile) phaseMetric(template, phase string) string {
	if template == "" {
		return ""
	}
	return strings.ReplaceAll(template, "{phase}", strings.ToLower(phase))
}

func (p deviceProfile) total(id string) string    { return p.selector(p.metrics.TotalPower, id) }
func (p deviceProfile) apparent(id string) string { return p.selector(p.metrics.ApparentPower, id) }
func (p deviceProfile) reactive(id string) string { return p.selector(p.metrics.ReactivePower, id) }

func (p deviceProfile) phasePower(id, phase string) string {
	return p.selector(p.phaseMetric(p.metrics.PhasePower, phase), id)
}

func (p deviceProfile) phaseVoltage(id, phase string) string {
	return p.selector(p.phaseMetric(p.metrics.PhaseVoltage, phase), id)
}

func (p deviceProfile) phaseCurrent(id, phase string) string {
	return p.selector(p.phaseMetric(p.metrics.PhaseCurrent, phase), id)
}
