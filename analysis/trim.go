package analysis

import (
	"context"
	"math"
	"sort"
	"time"

	"fleet-report/report"
	"fleet-report/timeseries"
)

// TrimWindow narrows [start, end] to the span where the pooled total power of
// all loggers is under sustained load.
func (a *Analyzer) TrimWindow(ctx context.Context, systemIDs []string, start, end time.Time) report.EventWindow {
	return a.newRun().trim(ctx, systemIDs, start, end)
}

func (r *run) trim(ctx context.Context, systemIDs []string, start, end time.Time) report.EventWindow {
	var pool []timeseries.Sample
	for _, id := range systemIDs {
		pool = append(pool, r.trimSamples(ctx, id, start, end)...)
	}
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].Time.Before(pool[j].Time) })

	window := trimPooled(pool, start, end, trimParams{
		minSamples:   r.cfg.TrimMinSamples,
		window:       r.cfg.TrimWindow,
		peakFraction: r.cfg.TrimPeakFraction,
		floor:        r.cfg.TrimFloorW,
	})
	if window.WasTrimmed {
		r.log.Info("event window trimmed",
			"original_start", start, "original_end", end,
			"trimmed_start", window.TrimmedStart, "trimmed_end", window.TrimmedEnd)
	}
	return window
}

// trimSamples returns the first non-empty total-power series across the
// logger's identifier variants, trying the inverter class before the meter class.
func (r *run) trimSamples(ctx context.Context, systemID string, start, end time.Time) []timeseries.Sample {
	for _, id := range r.resolver.Variants(systemID) {
		for _, p := range []deviceProfile{r.inverter, r.meter} {
			if s := r.rangeSamples(ctx, p.total(id), start, end, r.cfg.TrimStep); len(s) > 0 {
				return s
			}
		}
	}
	return nil
}

type trimParams struct {
	minSamples   int
	window       int
	peakFraction float64
	floor        float64
}

// trimPooled applies the sustained-load rule to a time-sorted pool.
func trimPooled(pool []timeseries.Sample, start, end time.Time, p trimParams) report.EventWindow {
	w := report.EventWindow{
		OriginalStart: start,
		OriginalEnd:   end,
		TrimmedStart:  start,
		TrimmedEnd:    end,
	}
	if len(pool) < p.minSamples || len(pool) < p.window {
		return w
	}

	var peak float64
	for _, s := range pool {
		peak = math.Max(peak, math.Abs(s.Value))
	}
	threshold := math.Max(peak*p.peakFraction, p.floor)
	loaded := func(i int) bool { return math.Abs(pool[i].Value) > threshold }

	sustained := func(from, to int) bool {
		for j := from; j < to; j++ {
			if !loaded(j) {
				return false
			}
		}
		return true
	}

	for i := 0; i+p.window <= len(pool); i++ {
		if sustained(i, i+p.window) {
			w.TrimmedStart = pool[i].Time
			break
		}
	}
	for i := len(pool) - 1; i-p.window+1 >= 0; i-- {
		if sustained(i-p.window+1, i+1) {
			w.TrimmedEnd = pool[i].Time
			break
		}
	}

	w.WasTrimmed = !w.TrimmedStart.Equal(start) || !w.TrimmedEnd.Equal(end)
	return w
}
