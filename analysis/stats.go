package analysis

import (
	"context"
	"math"
	"time"

	"fleet-report/report"
	"fleet-report/timeseries"
)

// PowerStats returns peak and average power overall and per phase.
func (a *Analyzer) PowerStats(ctx context.Context, cfg report.DeviceConfig, start, end time.Time) report.PowerStats {
	return a.newRun().powerStats(ctx, cfg, start, end, nil)
}

// PhaseImbalance returns (max-min)/mean*100 over per-phase average loading,
// rounded to two decimals. Zero with fewer than two phases.
func (a *Analyzer) PhaseImbalance(ctx context.Context, cfg report.DeviceConfig, start, end time.Time) float64 {
	return a.newRun().imbalance(ctx, cfg, start, end)
}

// powerStats prefers the store's max/avg over the window and falls back to
// the fetched total series when those queries return nothing.
func (r *run) powerStats(ctx context.Context, cfg report.DeviceConfig, start, end time.Time, total []timeseries.Sample) report.PowerStats {
	var stats report.PowerStats
	p, ok := r.profileFor(cfg.Source)
	if !ok {
		return stats
	}

	sel := p.total(cfg.QueryID)
	if peak, ok := r.maxOver(ctx, sel, start, end); ok {
		stats.PeakPowerW = peak
	} else if peak, ok := maxValue(total); ok {
		stats.PeakPowerW = peak
	}
	if avg, ok := r.avgOver(ctx, sel, start, end); ok {
		stats.AvgPowerW = avg
	} else if avg, ok := timeWeightedMean(total); ok {
		stats.AvgPowerW = avg
	}

	for _, phase := range cfg.Phases {
		phaseSel := p.phasePower(cfg.QueryID, phase)
		if phaseSel == "" {
			continue
		}
		peak, okPeak := r.maxOver(ctx, phaseSel, start, end)
		avg, okAvg := r.avgOver(ctx, phaseSel, start, end)
		if !okPeak && !okAvg {
			continue
		}
		if stats.PerPhase == nil {
			stats.PerPhase = map[string]report.PhaseStats{}
		}
		stats.PerPhase[phase] = report.PhaseStats{PeakW: peak, AvgW: avg}
	}
	return stats
}

// imbalance uses phase power averages when the class publishes per-phase
// power, otherwise avg(V)*avg(I) per phase as the loading proxy.
func (r *run) imbalance(ctx context.Context, cfg report.DeviceConfig, start, end time.Time) float64 {
	p, ok := r.profileFor(cfg.Source)
	if !ok || len(cfg.Phases) < 2 {
		return 0
	}

	var loads []float64
	for _, phase := range cfg.Phases {
		if p.metrics.PhasePower != "" {
			if avg, ok := r.avgOver(ctx, p.phasePower(cfg.QueryID, phase), start, end); ok {
				loads = append(loads, avg)
			}
			continue
		}
		v, okV := r.avgOver(ctx, p.phaseVoltage(cfg.QueryID, phase), start, end)
		i, okI := r.avgOver(ctx, p.phaseCurrent(cfg.QueryID, phase), start, end)
		if okV && okI {
			loads = append(loads, v*i)
		}
	}
	return imbalancePct(loads)
}

func imbalancePct(loads []float64) float64 {
	if len(loads) < 2 {
		return 0
	}
	lo, hi, sum := math.Inf(1), math.Inf(-1), 0.0
	for _, l := range loads {
		lo = math.Min(lo, l)
		hi = math.Max(hi, l)
		sum += l
	}
	mean := sum / float64(len(loads))
	if mean == 0 {
		return 0
	}
	return round((hi-lo)/mean*100, 2)
}
