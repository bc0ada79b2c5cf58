package analysis

import (
	"context"
	"math"
	"time"

	"fleet-report/report"
)

// NominalVoltage snaps a measured average voltage onto a standard level:
// 120, 240, 277 or 480 V, otherwise the nearest 10 V.
func NominalVoltage(avg float64) int {
	switch {
	case avg < 140:
		return 120
	case avg < 260:
		return 240
	case avg < 300:
		return 277
	case avg < 520:
		return 480
	default:
		return int(math.RoundToEven(avg/10) * 10)
	}
}

// DetectConfig probes the store to classify one logger for the window.
func (a *Analyzer) DetectConfig(ctx context.Context, systemID string, start, end time.Time) report.DeviceConfig {
	return a.newRun().detect(ctx, systemID, start, end)
}

func (r *run) detect(ctx context.Context, systemID string, start, end time.Time) report.DeviceConfig {
	variants := r.resolver.Variants(systemID)

	for _, p := range []deviceProfile{r.inverter, r.meter} {
		for _, id := range variants {
			if !r.exists(ctx, p.total(id), start, end, r.cfg.ExistenceStep) {
				continue
			}
			r.log.Debug("telemetry matched", "system_id", systemID, "variant", id, "source", p.source)
			if p.source == report.SourceInverter {
				return r.classifyInverter(ctx, p, systemID, id, start, end)
			}
			return r.classifyMeter(ctx, p, systemID, id, start, end)
		}
	}

	r.log.Warn("no known telemetry for logger", "system_id", systemID, "variants", variants)
	return report.DeviceConfig{
		SystemID:            systemID,
		Source:              report.SourceUnknown,
		PhaseConfig:         report.PhaseConfigUnknown,
		Phases:              []string{},
		DetectionConfidence: report.ConfidenceNone,
	}
}

// activePhases returns the phase labels whose series average, in absolute
// value, exceeds threshold.
func (r *run) activePhases(ctx context.Context, selectors func(phase string) string, phases []string, start, end time.Time, threshold float64) ([]string, map[string]float64) {
	active := []string{}
	avgs := map[string]float64{}
	for _, phase := range phases {
		avg, ok := r.avgOver(ctx, selectors(phase), start, end)
		if !ok {
			continue
		}
		avgs[phase] = avg
		if math.Abs(avg) > threshold {
			active = append(active, phase)
		}
	}
	return active, avgs
}

func (r *run) classifyInverter(ctx context.Context, p deviceProfile, systemID, id string, start, end time.Time) report.DeviceConfig {
	cfg := report.DeviceConfig{
		SystemID:            systemID,
		QueryID:             id,
		Source:              p.source,
		DetectionConfidence: report.ConfidenceHigh,
	}

	cfg.Phases, _ = r.activePhases(ctx, func(ph string) string { return p.phasePower(id, ph) },
		p.phases(), start, end, r.cfg.InverterPhaseThreshold)
	cfg.PhaseConfig = report.PhaseConfigFor(len(cfg.Phases))
	cfg.DeviceModel = inverterModel(p.metrics.Model, len(cfg.Phases))

	if len(cfg.Phases) == 0 {
		cfg.DetectionConfidence = report.ConfidenceLow
		r.log.Warn("inverter telemetry found but no phase data", "system_id", systemID)
	} else if v, ok := r.avgOver(ctx, p.phaseVoltage(id, cfg.Phases[0]), start, end); ok && v != 0 {
		cfg.VoltageNominal = NominalVoltage(v)
	}

	cfg.HasApparentPower = r.exists(ctx, p.apparent(id), start, end, r.cfg.ExistenceStep)
	cfg.HasReactivePower = false
	return cfg
}

func (r *run) classifyMeter(ctx context.Context, p deviceProfile, systemID, id string, start, end time.Time) report.DeviceConfig {
	cfg := report.DeviceConfig{
		SystemID:            systemID,
		QueryID:             id,
		Source:              p.source,
		DeviceModel:         p.metrics.Model,
		DetectionConfidence: report.ConfidenceHigh,
		HasReactivePower:    p.metrics.ReactivePower != "",
	}
	cfg.HasApparentPower = cfg.HasReactivePower

	labels := p.phases()
	active, avgs := r.activePhases(ctx, func(ph string) string { return p.phaseVoltage(id, ph) },
		labels, start, end, r.cfg.MeterPhaseThreshold)

	// A meter reports all three voltages; the third only counts as a real
	// phase above the minimum, otherwise the service is split-phase.
	if len(active) == 3 && avgs[labels[2]] <= r.cfg.MeterThirdPhaseMinV {
		active = active[:2]
	}
	cfg.Phases = active
	cfg.PhaseConfig = report.PhaseConfigFor(len(active))

	if len(active) == 0 {
		cfg.DetectionConfidence = report.ConfidenceLow
		r.log.Warn("meter telemetry found but no phase data", "system_id", systemID)
	}

	voltage := p.metrics.NeutralVoltage
	if cfg.PhaseConfig == report.ThreePhase {
		voltage = p.metrics.LineVoltage
	}
	if v, ok := r.avgOver(ctx, p.selector(voltage, id), start, end); ok && v != 0 {
		cfg.VoltageNominal = NominalVoltage(v)
	} else if len(active) > 0 {
		cfg.VoltageNominal = NominalVoltage(avgs[active[0]])
	}
	return cfg
}

func inverterModel(base string, phases int) string {
	if base == "" {
		base = "inverter"
	}
	switch phases {
	case 3:
		return base + "_3p"
	case 2:
		return base + "_2p"
	case 1:
		return base + "_1p"
	default:
		return base
	}
}
