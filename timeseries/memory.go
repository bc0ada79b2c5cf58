package timeseries

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/prometheus/model/labels"
	"github.com/prometheus/prometheus/promql/parser"
)

// DefaultLookback is how far back a plain selector looks for the latest sample.
const DefaultLookback = 5 * time.Minute

// MemoryGateway evaluates a small PromQL subset against series held in
// memory: plain selectors with any label matcher, and avg_over_time,
// max_over_time or min_over_time over a range selector. It backs demo mode and tests.
type MemoryGateway struct {
	mu       sync.RWMutex
	series   []memorySeries
	lookback time.Duration
}

type memorySeries struct {
	metric  string
	labels  map[string]string
	samples []Sample
}

// NewMemoryGateway creates an empty in-memory store.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{lookback: DefaultLookback}
}

// Add appends samples to the series identified by metric and labels.
func (m *MemoryGateway) Add(metric string, labels map[string]string, samples ...Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.series {
		if m.series[i].metric == metric && sameLabels(m.series[i].labels, labels) {
			m.series[i].samples = append(m.series[i].samples, samples...)
			sortSamples(m.series[i].samples)
			return
		}
	}

	copied := make(map[string]string, len(labels))
	for k, v := range labels {
		copied[k] = v
	}
	s := memorySeries{metric: metric, labels: copied, samples: append([]Sample(nil), samples...)}
	sortSamples(s.samples)
	m.series = append(m.series, s)
}

// Len returns the number of stored series.
func (m *MemoryGateway) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.series)
}

// InstantQuery implements Gateway.
func (m *MemoryGateway) InstantQuery(ctx context.Context, expr string, at time.Time) ([]Point, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q, err := parseExpr(expr)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var points []Point
	for _, s := range m.series {
		if !matchesAll(q.matchers, s) {
			continue
		}
		var (
			v  float64
			ok bool
		)
		if q.fn == "" {
			v, ok = m.latest(s.samples, at)
		} else {
			v, ok = aggregate(q.fn, s.samples, at.Add(-q.window), at)
		}
		if ok {
			points = append(points, Point{Labels: s.outputLabels(q.fn != ""), Time: at, Value: v})
		}
	}
	return points, nil
}

// RangeQuery implements Gateway.
func (m *MemoryGateway) RangeQuery(ctx context.Context, expr string, start, end time.Time, step time.Duration) ([]Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if step <= 0 {
		return nil, fmt.Errorf("range query %q: step must be positive", expr)
	}
	q, err := parseExpr(expr)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Series
	for _, s := range m.series {
		if !matchesAll(q.matchers, s) {
			continue
		}
		var samples []Sample
		for t := start; !t.After(end); t = t.Add(step) {
			var (
				v  float64
				ok bool
			)
			if q.fn == "" {
				v, ok = m.latest(s.samples, t)
			} else {
				v, ok = aggregate(q.fn, s.samples, t.Add(-q.window), t)
			}
			if ok {
				samples = append(samples, Sample{Time: t, Value: v})
			}
		}
		if len(samples) > 0 {
			out = append(out, Series{Labels: s.outputLabels(q.fn != ""), Samples: samples})
		}
	}
	return out, nil
}

// LabelValues implements Gateway.
func (m *MemoryGateway) LabelValues(ctx context.Context, label, match string, start, end time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var matchers []*labels.Matcher
	if match != "" {
		var err error
		if matchers, err = parser.ParseMetricSelector(match); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedQuery, err)
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := map[string]bool{}
	var values []string
	for _, s := range m.series {
		if !matchesAll(matchers, s) {
			continue
		}
		if !hasSampleWithin(s.samples, start, end) {
			continue
		}
		v := s.value(label)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		values = append(values, v)
	}
	sort.Strings(values)
	return values, nil
}

func (m *MemoryGateway) latest(samples []Sample, at time.Time) (float64, bool) {
	idx := sort.Search(len(samples), func(i int) bool { return samples[i].Time.After(at) }) - 1
	if idx < 0 {
		return 0, false
	}
	if at.Sub(samples[idx].Time) > m.lookback {
		return 0, false
	}
	return samples[idx].Value, true
}

// aggregate folds samples in [from, to].
func aggregate(fn string, samples []Sample, from, to time.Time) (float64, bool) {
	var (
		sum, result float64
		n           int
	)
	for _, s := range samples {
		if s.Time.Before(from) || s.Time.After(to) {
			continue
		}
		switch {
		case n == 0:
			result = s.Value
		case fn == "max_over_time" && s.Value > result:
			result = s.Value
		case fn == "min_over_time" && s.Value < result:
			result = s.Value
		}
		sum += s.Value
		n++
	}
	if n == 0 {
		return 0, false
	}
	if fn == "avg_over_time" {
		return sum / float64(n), true
	}
	return result, true
}

func hasSampleWithin(samples []Sample, start, end time.Time) bool {
	for _, s := range samples {
		if !s.Time.Before(start) && !s.Time.After(end) {
			return true
		}
	}
	return false
}

func (s memorySeries) outputLabels(dropName bool) map[string]string {
	out := make(map[string]string, len(s.labels)+1)
	for k, v := range s.labels {
		out[k] = v
	}
	if !dropName {
		out[labels.MetricName] = s.metric
	}
	return out
}

func sameLabels(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

func sortSamples(samples []Sample) {
	sort.SliceStable(samples, func(i, j int) bool { return samples[i].Time.Before(samples[j].Time) })
}

type query struct {
	fn       string
	matchers []*labels.Matcher
	window   time.Duration
}

var supportedFuncs = map[string]bool{
	"avg_over_time": true,
	"max_over_time": true,
	"min_over_time": true,
}

func parseExpr(expr string) (query, error) {
	parsed, err := parser.ParseExpr(expr)
	if err != nil {
		return query{}, fmt.Errorf("%w: %v", ErrUnsupportedQuery, err)
	}

	var q query
	if call, ok := parsed.(*parser.Call); ok {
		if !supportedFuncs[call.Func.Name] || len(call.Args) != 1 {
			return q, fmt.Errorf("%w: %s", ErrUnsupportedQuery, expr)
		}
		ms, ok := call.Args[0].(*parser.MatrixSelector)
		if !ok {
			return q, fmt.Errorf("%w: %s", ErrUnsupportedQuery, expr)
		}
		q.fn = call.Func.Name
		q.window = ms.Range
		parsed = ms.VectorSelector
	}

	vs, ok := parsed.(*parser.VectorSelector)
	if !ok || vs.OriginalOffset != 0 || vs.Timestamp != nil {
		return q, fmt.Errorf("%w: %s", ErrUnsupportedQuery, expr)
	}
	q.matchers = vs.LabelMatchers
	return q, nil
}

func (s memorySeries) value(name string) string {
	if name == labels.MetricName {
		return s.metric
	}
	return s.labels[name]
}

func matchesAll(matchers []*labels.Matcher, s memorySeries) bool {
	for _, m := range matchers {
		if !m.Matches(s.value(m.Name)) {
			return false
		}
	}
	return true
}
