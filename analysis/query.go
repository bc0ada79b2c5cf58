package analysis

import (
	"context"
	"time"

	"fleet-report/timeseries"
)

// Query helpers degrade every failure to "no data": a timed-out or rejected
// query is logged and counted, never propagated.

func (a *Analyzer) rangeSamples(ctx context.Context, expr string, start, end time.Time, step time.Duration) []timeseries.Sample {
	if expr == "" {
		return nil
	}
	series, err := a.gateway.RangeQuery(ctx, expr, start, end, step)
	if err != nil {
		a.recorder.Query(QueryRange, "error")
		a.log.Warn("range query failed", "expr", expr, "error", err)
		return nil
	}
	samples := timeseries.FirstSeries(series)
	if len(samples) == 0 {
		a.recorder.Query(QueryRange, "empty")
		return nil
	}
	a.recorder.Query(QueryRange, "ok")
	return samples
}

func (a *Analyzer) instant(ctx context.Context, expr string, at time.Time) (float64, bool) {
	if expr == "" {
		return 0, false
	}
	points, err := a.gateway.InstantQuery(ctx, expr, at)
	if err != nil {
		a.recorder.Query(QueryInstant, "error")
		a.log.Warn("instant query failed", "expr", expr, "error", err)
		return 0, false
	}
	v, ok := timeseries.FirstValue(points)
	if !ok {
		a.recorder.Query(QueryInstant, "empty")
		return 0, false
	}
	a.recorder.Query(QueryInstant, "ok")
	return v, true
}

// exists checks for any sample with a coarse step.
func (a *Analyzer) exists(ctx context.Context, selector string, start, end time.Time, step time.Duration) bool {
	if selector == "" {
		return false
	}
	series, err := a.gateway.RangeQuery(ctx, selector, start, end, step)
	if err != nil {
		a.recorder.Query(QueryRange, "error")
		a.log.Warn("existence check failed", "expr", selector, "error", err)
		return false
	}
	a.recorder.Query(QueryRange, "ok")
	return len(series) > 0
}

// avgOver is avg_over_time across the whole window, evaluated at its end.
func (a *Analyzer) avgOver(ctx context.Context, selector string, start, end time.Time) (float64, bool) {
	if selector == "" {
		return 0, false
	}
	return a.instant(ctx, timeseries.AvgOverTime(selector, end.Sub(start)), end)
}

// maxOver is max_over_time across the whole window, evaluated at its end.
func (a *Analyzer) maxOver(ctx context.Context, selector string, start, end time.Time) (float64, bool) {
	if selector == "" {
		return 0, false
	}
	return a.instant(ctx, timeseries.MaxOverTime(selector, end.Sub(start)), end)
}
