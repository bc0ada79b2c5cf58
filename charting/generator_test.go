package charting

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-report/report"
	"fleet-report/timeseries"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

func sampleReport() *report.Report {
	return &report.Report{
		EventID: "ev",
		Loggers: map[string]report.LoggerReport{
			"Pro6005-2": {
				EnergyMethods: []report.EnergyMethod{
					{Name: report.MethodTotalPower, Value: 2000, Unit: report.UnitWh},
					{Name: report.MethodApparentPower, Value: 2200, Unit: report.UnitVAh},
				},
				LoadDistribution: report.LoadDistribution{
					report.Bin0to20:   {Seconds: 1800, Percent: 50},
					report.Bin20to40:  {},
					report.Bin40to60:  {},
					report.Bin60to80:  {},
					report.Bin80to100: {Seconds: 1800, Percent: 50},
					report.BinOver100: {},
				},
			},
			"Logger 0": {},
		},
	}
}

func TestReportCharts(t *testing.T) {
	start := time.Date(2026, 7, 4, 18, 0, 0, 0, time.UTC)
	series := map[string][]timeseries.Sample{
		"Pro6005-2": {
			{Time: start, Value: 900},
			{Time: start.Add(time.Minute), Value: 1100},
			{Time: start.Add(2 * time.Minute), Value: 1000},
		},
	}

	images, err := NewGenerator().ReportCharts(sampleReport(), series)
	require.NoError(t, err)
	require.Len(t, images, 3)
	for _, img := range images {
		assert.Equal(t, "Pro6005-2", img.SystemID)
		assert.True(t, bytes.HasPrefix(img.PNG, pngMagic), "%s is not a PNG", img.Name)
	}

	charts := DataURIs(images)
	require.Len(t, charts["Pro6005-2"], 3)
	assert.True(t, strings.HasPrefix(string(charts["Pro6005-2"][0].DataURI), "data:image/png;base64,"))
}

func TestEnergyMethodsSkipsEmpty(t *testing.T) {
	_, ok, err := NewGenerator().EnergyMethods([]report.EnergyMethod{{Name: report.MethodTotalPower, Value: 0}})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWriteZip(t *testing.T) {
	images := []Image{{SystemID: "Logger 0", Name: "load", PNG: append([]byte{}, pngMagic...)}}
	var buf bytes.Buffer
	require.NoError(t, WriteZip(&buf, []byte(`{"event_id":"ev"}`), images))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{report.DataFile, "charts/Logger 0_load.png"}, names)
}
