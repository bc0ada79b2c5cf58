package analysis

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"fleet-report/report"
	"fleet-report/timeseries"
)

type methodFunc func(ctx context.Context) (report.EnergyMethod, bool)

// CalculateEnergy computes every energy method the detected configuration
// supports, plus the average power factor when it is defined.
func (a *Analyzer) CalculateEnergy(ctx context.Context, cfg report.DeviceConfig, start, end time.Time) ([]report.EnergyMethod, *float64) {
	r := a.newRun()
	return r.energy(ctx, cfg, start, end, nil)
}

// energy runs the methods concurrently. total may carry the already fetched
// total-power series; nil means fetch it.
func (r *run) energy(ctx context.Context, cfg report.DeviceConfig, start, end time.Time, total []timeseries.Sample) ([]report.EnergyMethod, *float64) {
	p, ok := r.profileFor(cfg.Source)
	if !ok {
		return nil, nil
	}
	if total == nil {
		total = r.rangeSamples(ctx, p.total(cfg.QueryID), start, end, r.cfg.EnergyStep)
	}

	var funcs []methodFunc
	if p.source == report.SourceInverter {
		funcs = r.inverterMethods(p, cfg, start, end, total)
	} else {
		funcs = r.meterMethods(p, cfg, start, end, total)
	}

	results := make([]*report.EnergyMethod, len(funcs))
	g, gctx := errgroup.WithContext(ctx)
	for i, fn := range funcs {
		i, fn := i, fn
		g.Go(func() error {
			if m, ok := fn(gctx); ok {
				results[i] = &m
			}
			return nil
		})
	}
	_ = g.Wait()

	methods := make([]report.EnergyMethod, 0, len(results))
	for _, m := range results {
		if m != nil {
			methods = append(methods, *m)
		}
	}
	return methods, powerFactor(methods)
}

// powerFactor divides real energy by apparent energy, preferring the
// apparent-power method over V*I integration. Nil when undefined.
func powerFactor(methods []report.EnergyMethod) *float64 {
	byName := make(map[string]report.EnergyMethod, len(methods))
	for _, m := range methods {
		byName[m.Name] = m
	}

	realEnergy, ok := byName[report.MethodTotalPower]
	if !ok {
		realEnergy, ok = byName[report.MethodRealPower]
	}
	if !ok {
		return nil
	}

	for _, name := range []string{report.MethodApparentPower, report.MethodIntegratedIV} {
		if m, ok := byName[name]; ok && m.Value > 0 {
			pf := realEnergy.Value / m.Value
			return &pf
		}
	}
	return nil
}

func (r *run) inverterMethods(p deviceProfile, cfg report.DeviceConfig, start, end time.Time, total []timeseries.Sample) []methodFunc {
	id := cfg.QueryID
	funcs := []methodFunc{
		func(context.Context) (report.EnergyMethod, bool) {
			if total == nil {
				return report.EnergyMethod{}, false
			}
			return report.EnergyMethod{
				Name:        report.MethodTotalPower,
				Value:       integrateWh(total),
				Unit:        report.UnitWh,
				Description: "Real energy from integrating total real power (W) over the event",
				Metric:      p.metrics.TotalPower,
			}, true
		},
	}

	if cfg.HasApparentPower {
		funcs = append(funcs, func(ctx context.Context) (report.EnergyMethod, bool) {
			s := r.rangeSamples(ctx, p.apparent(id), start, end, r.cfg.EnergyStep)
			if s == nil {
				return report.EnergyMethod{}, false
			}
			return report.EnergyMethod{
				Name:             report.MethodApparentPower,
				Value:            integrateWh(s),
				Unit:             report.UnitVAh,
				IncludesReactive: true,
				Description:      "Apparent energy from integrating apparent power (VA)",
				Metric:           p.metrics.ApparentPower,
			}, true
		})
	}

	if len(cfg.Phases) > 1 {
		funcs = append(funcs, func(ctx context.Context) (report.EnergyMethod, bool) {
			perPhase := map[string]float64{}
			var sum float64
			for _, phase := range cfg.Phases {
				s := r.rangeSamples(ctx, p.phasePower(id, phase), start, end, r.cfg.EnergyStep)
				if s == nil {
					continue
				}
				perPhase[phase] = integrateWh(s)
				sum += perPhase[phase]
			}
			if len(perPhase) == 0 {
				return report.EnergyMethod{}, false
			}
			return report.EnergyMethod{
				Name:        report.MethodSumOfPhasePower,
				Value:       sum,
				Unit:        report.UnitWh,
				Description: fmt.Sprintf("Real energy as the sum of per-phase power integrations (%d phases)", len(cfg.Phases)),
				Metric:      p.metrics.PhasePower,
				PerPhase:    perPhase,
			}, true
		})
	}

	if len(cfg.Phases) > 0 {
		funcs = append(funcs, r.integratedIV(p, cfg, start, end))
	}
	return funcs
}

func (r *run) meterMethods(p deviceProfile, cfg report.DeviceConfig, start, end time.Time, total []timeseries.Sample) []methodFunc {
	id := cfg.QueryID
	funcs := []methodFunc{
		func(context.Context) (report.EnergyMethod, bool) {
			if total == nil {
				return report.EnergyMethod{}, false
			}
			return report.EnergyMethod{
				Name:        report.MethodRealPower,
				Value:       integrateWh(total),
				Unit:        report.UnitWh,
				Description: "Real energy from integrating real power (W) over the event",
				Metric:      p.metrics.TotalPower,
			}, true
		},
	}

	if cfg.HasReactivePower {
		funcs = append(funcs, func(ctx context.Context) (report.EnergyMethod, bool) {
			if total == nil {
				return report.EnergyMethod{}, false
			}
			q := r.rangeSamples(ctx, p.reactive(id), start, end, r.cfg.EnergyStep)
			value, ok := integrateApparent(total, q)
			if !ok {
				return report.EnergyMethod{}, false
			}
			return report.EnergyMethod{
				Name:             report.MethodApparentPower,
				Value:            value,
				Unit:             report.UnitVAh,
				IncludesReactive: true,
				Description:      "Apparent energy from sqrt(P^2 + Q^2) including the reactive component",
				Metric:           fmt.Sprintf("sqrt(%s^2 + %s^2)", p.metrics.TotalPower, p.metrics.ReactivePower),
			}, true
		})
	}

	if len(cfg.Phases) > 0 {
		funcs = append(funcs, r.integratedIV(p, cfg, start, end))
	}
	return funcs
}

// integratedIV integrates V*I per phase. Phases whose series are missing or
// misaligned are left out of per_phase.
func (r *run) integratedIV(p deviceProfile, cfg report.DeviceConfig, start, end time.Time) methodFunc {
	return func(ctx context.Context) (report.EnergyMethod, bool) {
		perPhase := map[string]float64{}
		var sum float64
		for _, phase := range cfg.Phases {
			v := r.rangeSamples(ctx, p.phaseVoltage(cfg.QueryID, phase), start, end, r.cfg.EnergyStep)
			i := r.rangeSamples(ctx, p.phaseCurrent(cfg.QueryID, phase), start, end, r.cfg.EnergyStep)
			e, ok := integrateProduct(v, i)
			if !ok {
				continue
			}
			perPhase[phase] = e
			sum += e
		}
		if len(perPhase) == 0 {
			return report.EnergyMethod{}, false
		}
		return report.EnergyMethod{
			Name:             report.MethodIntegratedIV,
			Value:            sum,
			Unit:             report.UnitVAh,
			IncludesReactive: true,
			Description:      fmt.Sprintf("Apparent energy from V*I integration per phase (%d phases)", len(cfg.Phases)),
			Metric:           "V*I per phase",
			PerPhase:         perPhase,
		}, true
	}
}
