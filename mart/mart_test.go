package mart

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-report/database"
	"fleet-report/report"
)

func testReport(eventID string, start time.Time, loggers map[string]float64) *report.Report {
	r := &report.Report{
		EventID:         eventID,
		StartTime:       start,
		EndTime:         start.Add(2 * time.Hour),
		DurationSeconds: 7200,
		GeneratedAt:     start.Add(3 * time.Hour),
		Loggers:         map[string]report.LoggerReport{},
	}
	pf := 0.9
	for id, wh := range loggers {
		r.Loggers[id] = report.LoggerReport{
			Config: report.DeviceConfig{SystemID: id, Source: report.SourceInverter, DeviceModel: "base_3p", PhaseConfig: report.PhaseConfigFor(3)},
			EnergyMethods: []report.EnergyMethod{
				{Name: report.MethodTotalPower, Value: wh, Unit: report.UnitWh},
			},
			AvgPowerFactor: &pf,
			PowerStats:     report.PowerStats{PeakPowerW: wh / 2, AvgPowerW: wh / 4},
		}
	}
	return r
}

func TestRecordRefreshRankings(t *testing.T) {
	db, err := database.Initialize(":memory:", "")
	require.NoError(t, err)
	t.Cleanup(db.Close)

	ctx := context.Background()
	m := NewMartBuilder(db)
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, m.Record(ctx, "rep-1", testReport("ev-1", start, map[string]float64{"a": 1000, "b": 3000})))
	require.NoError(t, m.Record(ctx, "rep-2", testReport("ev-2", start.AddDate(0, 0, 1), map[string]float64{"a": 2500})))
	// Re-recording an event replaces its rows.
	require.NoError(t, m.Record(ctx, "rep-3", testReport("ev-2", start.AddDate(0, 0, 1), map[string]float64{"a": 2500})))

	stats, err := m.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalRows)
	assert.Equal(t, int64(2), stats.Loggers)
	assert.InDelta(t, 6500, stats.TotalEnergyWh, 1e-9)
	assert.Equal(t, "2026-05-01", stats.MinDate)

	rankings, err := m.Rankings(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rankings, 2)
	assert.Equal(t, "a", rankings[0].SystemID)
	assert.Equal(t, 1, rankings[0].Rank)
	assert.Equal(t, int64(2), rankings[0].Events)
	assert.InDelta(t, 3500, rankings[0].TotalEnergyWh, 1e-9)
	assert.InDelta(t, 4, rankings[0].HoursLogged, 1e-9)
	assert.Equal(t, "b", rankings[1].SystemID)
	assert.InDelta(t, 1500, rankings[1].PeakPowerW, 1e-9)
}
