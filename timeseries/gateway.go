// Package timeseries is the read-side gateway to the PromQL-compatible
// metrics store holding logger telemetry.
package timeseries

import (
	"context"
	"errors"
	"time"
)

// ErrUnsupportedQuery is returned by gateways that cannot evaluate an expression.
var ErrUnsupportedQuery = errors.New("unsupported query expression")

// Sample is one timestamped value.
type Sample struct {
	Time  time.Time
	Value float64
}

// Series is a labelled run of samples ordered by time.
type Series struct {
	Labels  map[string]string
	Samples []Sample
}

// Point is a single labelled value returned by an instant query.
type Point struct {
	Labels map[string]string
	Time   time.Time
	Value  float64
}

// Gateway evaluates PromQL expressions. Every call is bounded by ctx.
type Gateway interface {
	// InstantQuery evaluates expr at the given time.
	InstantQuery(ctx context.Context, expr string, at time.Time) ([]Point, error)
	// RangeQuery evaluates expr over [start, end] at a fixed step.
	RangeQuery(ctx context.Context, expr string, start, end time.Time, step time.Duration) ([]Series, error)
	// LabelValues lists the values of a label across series matching the selector.
	LabelValues(ctx context.Context, label, match string, start, end time.Time) ([]string, error)
}

// FirstSeries returns the samples of the first returned series, or nil.
func FirstSeries(series []Series) []Sample {
	if len(series) == 0 {
		return nil
	}
	return series[0].Samples
}

// FirstValue returns the value of the first returned point.
func FirstValue(points []Point) (float64, bool) {
	if len(points) == 0 {
		return 0, false
	}
	return points[0].Value, true
}
