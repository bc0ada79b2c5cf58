package timeseries

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func seq(start time.Time, step time.Duration, values ...float64) []Sample {
	out := make([]Sample, len(values))
	for i, v := range values {
		out[i] = Sample{Time: start.Add(time.Duration(i) * step), Value: v}
	}
	return out
}

func TestMemoryGateway_RangeQueryExactMatch(t *testing.T) {
	g := NewMemoryGateway()
	g.Add("victron_ac_out_power", map[string]string{"system_id": "Pro6005-2"}, seq(t0, 30*time.Second, 100, 200, 300)...)
	g.Add("victron_ac_out_power", map[string]string{"system_id": "other"}, seq(t0, 30*time.Second, 1, 1, 1)...)

	series, err := g.RangeQuery(context.Background(), Selector("victron_ac_out_power", "system_id", "Pro6005-2"), t0, t0.Add(time.Minute), 30*time.Second)
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, []float64{100, 200, 300}, values(series[0].Samples))
	assert.Equal(t, "Pro6005-2", series[0].Labels["system_id"])
}

func TestMemoryGateway_ContainsSelectorMatchesLiterally(t *testing.T) {
	g := NewMemoryGateway()
	g.Add("acuvim_P", map[string]string{"device": "site-acuvim_12-main"}, seq(t0, 30*time.Second, 5, 5)...)
	g.Add("acuvim_P", map[string]string{"device": "acuvim_1X2"}, seq(t0, 30*time.Second, 9, 9)...)

	series, err := g.RangeQuery(context.Background(), ContainsSelector("acuvim_P", "device", "acuvim_12"), t0, t0.Add(30*time.Second), 30*time.Second)
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, "site-acuvim_12-main", series[0].Labels["device"])

	series, err = g.RangeQuery(context.Background(), ContainsSelector("acuvim_P", "device", "1.2"), t0, t0.Add(30*time.Second), 30*time.Second)
	require.NoError(t, err)
	assert.Empty(t, series, "dot must not act as a wildcard")
}

func TestMemoryGateway_OverTimeFunctions(t *testing.T) {
	g := NewMemoryGateway()
	g.Add("p", map[string]string{"id": "a"}, seq(t0, 10*time.Second, 10, 40, 20, 30)...)
	end := t0.Add(30 * time.Second)

	points, err := g.InstantQuery(context.Background(), AvgOverTime(`p{id="a"}`, 30*time.Second), end)
	require.NoError(t, err)
	v, ok := FirstValue(points)
	require.True(t, ok)
	assert.InDelta(t, 25.0, v, 1e-9)

	points, err = g.InstantQuery(context.Background(), MaxOverTime(`p{id="a"}`, 30*time.Second), end)
	require.NoError(t, err)
	v, ok = FirstValue(points)
	require.True(t, ok)
	assert.Equal(t, 40.0, v)

	points, err = g.InstantQuery(context.Background(), MaxOverTime(`p{id="missing"}`, 30*time.Second), end)
	require.NoError(t, err)
	_, ok = FirstValue(points)
	assert.False(t, ok)
}

func TestMemoryGateway_LookbackFillsSteps(t *testing.T) {
	g := NewMemoryGateway()
	g.Add("p", map[string]string{"id": "a"}, seq(t0, time.Minute, 1, 2)...)

	series, err := g.RangeQuery(context.Background(), `p{id="a"}`, t0, t0.Add(90*time.Second), 30*time.Second)
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, []float64{1, 1, 2, 2}, values(series[0].Samples))
}

func TestMemoryGateway_LabelValues(t *testing.T) {
	g := NewMemoryGateway()
	g.Add("victron_ac_out_power", map[string]string{"system_id": "b"}, seq(t0, time.Minute, 1)...)
	g.Add("victron_ac_out_power", map[string]string{"system_id": "a"}, seq(t0, time.Minute, 1)...)
	g.Add("victron_ac_out_power", map[string]string{"system_id": "old"}, seq(t0.Add(-24*time.Hour), time.Minute, 1)...)

	ids, err := g.LabelValues(context.Background(), "system_id", "victron_ac_out_power", t0, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestMemoryGateway_RejectsUnsupportedExpressions(t *testing.T) {
	g := NewMemoryGateway()
	_, err := g.InstantQuery(context.Background(), `sum(rate(p[5m]))`, t0)
	assert.ErrorIs(t, err, ErrUnsupportedQuery)
}

func TestMemoryGateway_AllMatcherTypes(t *testing.T) {
	g := NewMemoryGateway()
	g.Add("acuvim_Va", map[string]string{"device": "acuvim_10", "site": "north"}, seq(t0, 30*time.Second, 120, 120)...)
	g.Add("acuvim_Vb", map[string]string{"device": "acuvim_10", "site": "south"}, seq(t0, 30*time.Second, 118, 118)...)
	g.Add("acuvim_Va", map[string]string{"device": "acuvim_11", "site": "north"}, seq(t0, 30*time.Second, 240, 240)...)
	ctx := context.Background()

	cases := []struct {
		expr string
		want int
	}{
		{`acuvim_Va{device!="acuvim_10"}`, 1},
		{`acuvim_Va{device!~"acuvim_1[01]"}`, 0},
		{`{__name__=~"acuvim_V.", site="north"}`, 2},
		{`{__name__=~"acuvim_V.", device="acuvim_10"}`, 2},
		{`acuvim_Va{device="acuvim_10", site="south"}`, 0},
	}
	for _, c := range cases {
		series, err := g.RangeQuery(ctx, c.expr, t0, t0.Add(30*time.Second), 30*time.Second)
		require.NoError(t, err, c.expr)
		assert.Len(t, series, c.want, c.expr)
	}

	ids, err := g.LabelValues(ctx, "device", `{__name__="acuvim_Va", site="north"}`, t0, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"acuvim_10", "acuvim_11"}, ids)
}

func TestMemoryGateway_RejectsOffsetsAndBadSyntax(t *testing.T) {
	g := NewMemoryGateway()
	ctx := context.Background()

	_, err := g.InstantQuery(ctx, `p{id="a"} offset 5m`, t0)
	assert.ErrorIs(t, err, ErrUnsupportedQuery)
	_, err = g.InstantQuery(ctx, `p{id="a"`, t0)
	assert.ErrorIs(t, err, ErrUnsupportedQuery)
	_, err = g.InstantQuery(ctx, `rate(p[5m])`, t0)
	assert.ErrorIs(t, err, ErrUnsupportedQuery)
	_, err = g.LabelValues(ctx, "id", `avg_over_time(p[5m])`, t0, t0.Add(time.Minute))
	assert.ErrorIs(t, err, ErrUnsupportedQuery)
}

func TestMemoryGateway_HonoursCancelledContext(t *testing.T) {
	g := NewMemoryGateway()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.RangeQuery(ctx, `p{id="a"}`, t0, t0.Add(time.Minute), time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func values(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Value
	}
	return out
}
