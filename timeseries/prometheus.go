package timeseries

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// PromConfig configures a PromGateway.
type PromConfig struct {
	URL               string
	QueryTimeout      time.Duration
	RangeQueryTimeout time.Duration
	RoundTripper      http.RoundTripper
}

// PromGateway talks to a Prometheus-compatible HTTP API (Prometheus,
// VictoriaMetrics, Thanos).
type PromGateway struct {
	api               v1.API
	queryTimeout      time.Duration
	rangeQueryTimeout time.Duration
	log               *slog.Logger
}

// NewPromGateway creates a gateway for the store at cfg.URL.
func NewPromGateway(cfg PromConfig, logger *slog.Logger) (*PromGateway, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("time-series store url is required")
	}
	client, err := api.NewClient(api.Config{
		Address:      cfg.URL,
		RoundTripper: cfg.RoundTripper,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create time-series client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 10 * time.Second
	}
	if cfg.RangeQueryTimeout <= 0 {
		cfg.RangeQueryTimeout = 30 * time.Second
	}
	return &PromGateway{
		api:               v1.NewAPI(client),
		queryTimeout:      cfg.QueryTimeout,
		rangeQueryTimeout: cfg.RangeQueryTimeout,
		log:               logger.With("component", "tsdb"),
	}, nil
}

// InstantQuery implements Gateway.
func (g *PromGateway) InstantQuery(ctx context.Context, expr string, at time.Time) ([]Point, error) {
	ctx, cancel := context.WithTimeout(ctx, g.queryTimeout)
	defer cancel()

	value, warnings, err := g.api.Query(ctx, expr, at)
	if err != nil {
		return nil, fmt.Errorf("instant query %q: %w", expr, err)
	}
	g.warn(expr, warnings)

	switch v := value.(type) {
	case model.Vector:
		points := make([]Point, 0, len(v))
		for _, s := range v {
			f := float64(s.Value)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				continue
			}
			points = append(points, Point{Labels: labelsOf(s.Metric), Time: s.Timestamp.Time(), Value: f})
		}
		return points, nil
	case *model.Scalar:
		return []Point{{Time: v.Timestamp.Time(), Value: float64(v.Value)}}, nil
	default:
		return nil, fmt.Errorf("instant query %q: unexpected result type %s", expr, value.Type())
	}
}

// RangeQuery implements Gateway.
func (g *PromGateway) RangeQuery(ctx context.Context, expr string, start, end time.Time, step time.Duration) ([]Series, error) {
	ctx, cancel := context.WithTimeout(ctx, g.rangeQueryTimeout)
	defer cancel()

	value, warnings, err := g.api.QueryRange(ctx, expr, v1.Range{Start: start, End: end, Step: step})
	if err != nil {
		return nil, fmt.Errorf("range query %q: %w", expr, err)
	}
	g.warn(expr, warnings)

	matrix, ok := value.(model.Matrix)
	if !ok {
		return nil, fmt.Errorf("range query %q: unexpected result type %s", expr, value.Type())
	}

	series := make([]Series, 0, len(matrix))
	for _, stream := range matrix {
		samples := make([]Sample, 0, len(stream.Values))
		for _, pair := range stream.Values {
			f := float64(pair.Value)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				continue
			}
			samples = append(samples, Sample{Time: pair.Timestamp.Time(), Value: f})
		}
		series = append(series, Series{Labels: labelsOf(stream.Metric), Samples: samples})
	}
	return series, nil
}

// LabelValues implements Gateway.
func (g *PromGateway) LabelValues(ctx context.Context, label, match string, start, end time.Time) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.queryTimeout)
	defer cancel()

	var matches []string
	if match != "" {
		matches = []string{match}
	}
	values, warnings, err := g.api.LabelValues(ctx, label, matches, start, end)
	if err != nil {
		return nil, fmt.Errorf("label values %q: %w", label, err)
	}
	g.warn(label, warnings)

	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, string(v))
	}
	return out, nil
}

func (g *PromGateway) warn(expr string, warnings v1.Warnings) {
	for _, w := range warnings {
		g.log.Warn("query warning", "expr", expr, "warning", w)
	}
}

func labelsOf(metric model.Metric) map[string]string {
	labels := make(map[string]string, len(metric))
	for k, v := range metric {
		labels[string(k)] = string(v)
	}
	return labels
}
