package timeseries

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func promServer(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPromGateway_RangeQuery(t *testing.T) {
	srv := promServer(t, map[string]string{
		"/api/v1/query_range": `{"status":"success","data":{"resultType":"matrix","result":[
			{"metric":{"system_id":"Pro6005-2"},"values":[[1714564800,"100"],[1714564830,"NaN"],[1714564860,"300"]]}
		]}}`,
	})

	g, err := NewPromGateway(PromConfig{URL: srv.URL, QueryTimeout: time.Second, RangeQueryTimeout: time.Second}, nil)
	require.NoError(t, err)

	series, err := g.RangeQuery(context.Background(), `victron_ac_out_power{system_id="Pro6005-2"}`, t0, t0.Add(time.Minute), 30*time.Second)
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, "Pro6005-2", series[0].Labels["system_id"])
	assert.Equal(t, []float64{100, 300}, values(series[0].Samples))
	assert.True(t, series[0].Samples[0].Time.Equal(time.Unix(1714564800, 0)))
}

func TestPromGateway_InstantQuery(t *testing.T) {
	srv := promServer(t, map[string]string{
		"/api/v1/query": `{"status":"success","data":{"resultType":"vector","result":[
			{"metric":{},"value":[1714564800,"1234.5"]}
		]}}`,
	})

	g, err := NewPromGateway(PromConfig{URL: srv.URL}, nil)
	require.NoError(t, err)

	points, err := g.InstantQuery(context.Background(), `max_over_time(p[60s])`, t0)
	require.NoError(t, err)
	v, ok := FirstValue(points)
	require.True(t, ok)
	assert.Equal(t, 1234.5, v)
}

func TestPromGateway_ServerErrorIsReturned(t *testing.T) {
	srv := promServer(t, map[string]string{
		"/api/v1/query": `{"status":"error","errorType":"bad_data","error":"parse error"}`,
	})

	g, err := NewPromGateway(PromConfig{URL: srv.URL}, nil)
	require.NoError(t, err)

	_, err = g.InstantQuery(context.Background(), `p{`, t0)
	assert.Error(t, err)
}

func TestNewPromGateway_RequiresURL(t *testing.T) {
	_, err := NewPromGateway(PromConfig{}, nil)
	assert.Error(t, err)
}

func TestSelectors(t *testing.T) {
	assert.Equal(t, `victron_ac_out_power{system_id="a\"b"}`, Selector("victron_ac_out_power", "system_id", `a"b`))
	assert.Equal(t, `acuvim_P{device=~".*Pro6005\\.2.*"}`, ContainsSelector("acuvim_P", "device", "Pro6005.2"))
	assert.Equal(t, `avg_over_time(p[3600s])`, AvgOverTime("p", time.Hour))
	assert.Equal(t, `max_over_time(p[1s])`, MaxOverTime("p", 0))
}
