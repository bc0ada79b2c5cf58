package charting

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"fleet-report/report"
	"fleet-report/timeseries"
)

// Image is one rendered chart for a logger
type Image struct {
	SystemID string
	Name     string
	Title    string
	PNG      []byte
}

// Filename is the image's name inside exports.
func (i Image) Filename() string {
	return fmt.Sprintf("%s_%s.png", report.DirName(i.SystemID), i.Name)
}

// Generator handles chart image creation
type Generator struct {
	Width  int
	Height int
}

func NewGenerator() *Generator {
	return &Generator{Width: 800, Height: 320}
}

var methodColors = []drawing.Color{
	chart.ColorBlue,
	chart.ColorOrange,
	chart.ColorGreen,
	chart.ColorRed,
}

var binColors = map[string]drawing.Color{
	report.Bin0to20:   drawing.ColorFromHex("95a5a6"),
	report.Bin20to40:  drawing.ColorFromHex("3498db"),
	report.Bin40to60:  drawing.ColorFromHex("2ecc71"),
	report.Bin60to80:  drawing.ColorFromHex("f1c40f"),
	report.Bin80to100: drawing.ColorFromHex("e67e22"),
	report.BinOver100: drawing.ColorFromHex("e74c3c"),
}

// ReportCharts renders every chart the report's data supports. series maps
// system ids to their total power samples; loggers without one get no trend.
func (g *Generator) ReportCharts(r *report.Report, series map[string][]timeseries.Sample) ([]Image, error) {
	var images []Image
	for _, id := range r.SystemIDs() {
		lr := r.Loggers[id]

		if samples := series[id]; len(samples) >= 2 {
			png, err := g.PowerTrend(id, samples)
			if err != nil {
				return nil, fmt.Errorf("failed to render power trend for %s: %w", id, err)
			}
			images = append(images, Image{SystemID: id, Name: "power", Title: "Total power", PNG: png})
		}

		if png, ok, err := g.LoadDistribution(lr.LoadDistribution); err != nil {
			return nil, fmt.Errorf("failed to render load distribution for %s: %w", id, err)
		} else if ok {
			images = append(images, Image{SystemID: id, Name: "load", Title: "Load distribution", PNG: png})
		}

		if png, ok, err := g.EnergyMethods(lr.EnergyMethods); err != nil {
			return nil, fmt.Errorf("failed to render energy methods for %s: %w", id, err)
		} else if ok {
			images = append(images, Image{SystemID: id, Name: "energy", Title: "Energy by method", PNG: png})
		}
	}
	return images, nil
}

// PowerTrend creates a PNG line chart of total power over the event
func (g *Generator) PowerTrend(systemID string, samples []timeseries.Sample) ([]byte, error) {
	s := chart.TimeSeries{
		Name: systemID,
		Style: chart.Style{
			StrokeColor: chart.ColorBlue,
			StrokeWidth: 2,
			FillColor:   chart.ColorBlue.WithAlpha(48),
		},
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range samples {
		s.XValues = append(s.XValues, p.Time)
		s.YValues = append(s.YValues, p.Value)
		lo = math.Min(lo, p.Value)
		hi = math.Max(hi, p.Value)
	}

	graph := chart.Chart{
		Width:  g.Width,
		Height: g.Height,
		Background: chart.Style{
			Padding: chart.Box{Top: 20, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: chart.XAxis{
			Name:           "Time",
			ValueFormatter: chart.TimeValueFormatterWithFormat("15:04"),
		},
		YAxis: chart.YAxis{
			Name:  "W",
			Range: &chart.ContinuousRange{Min: math.Min(0, lo), Max: math.Max(hi, math.Min(0, lo)+1)},
		},
		Series: []chart.Series{s},
	}

	buffer := bytes.NewBuffer([]byte{})
	err := graph.Render(chart.PNG, buffer)
	return buffer.Bytes(), err
}

// LoadDistribution creates a PNG bar chart of time share per load bin.
// ok is false when the distribution is empty.
func (g *Generator) LoadDistribution(dist report.LoadDistribution) ([]byte, bool, error) {
	if len(dist) == 0 {
		return nil, false, nil
	}
	bars := make([]chart.Value, 0, len(report.LoadBins))
	for _, bin := range report.LoadBins {
		bars = append(bars, chart.Value{
			Label: bin,
			Value: dist[bin].Percent,
			Style: chart.Style{FillColor: binColors[bin], StrokeColor: binColors[bin]},
		})
	}
	png, err := g.bars("Share of event time (%)", bars, 100)
	return png, err == nil, err
}

// EnergyMethods creates a PNG bar chart comparing the energy methods.
// ok is false when there is nothing positive to plot.
func (g *Generator) EnergyMethods(methods []report.EnergyMethod) ([]byte, bool, error) {
	var maxValue float64
	bars := make([]chart.Value, 0, len(methods))
	for i, m := range methods {
		color := methodColors[i%len(methodColors)]
		bars = append(bars, chart.Value{
			Label: fmt.Sprintf("%s (%s)", m.Name, m.Unit),
			Value: m.Value,
			Style: chart.Style{FillColor: color, StrokeColor: color},
		})
		maxValue = math.Max(maxValue, m.Value)
	}
	if maxValue <= 0 {
		return nil, false, nil
	}
	png, err := g.bars("Energy", bars, maxValue*1.1)
	return png, err == nil, err
}

func (g *Generator) bars(axis string, bars []chart.Value, top float64) ([]byte, error) {
	graph := chart.BarChart{
		Width:    g.Width,
		Height:   g.Height,
		BarWidth: 60,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 20, Right: 20, Bottom: 20},
		},
		YAxis: chart.YAxis{
			Name:  axis,
			Range: &chart.ContinuousRange{Min: 0, Max: top},
		},
		Bars: bars,
	}

	buffer := bytes.NewBuffer([]byte{})
	err := graph.Render(chart.PNG, buffer)
	return buffer.Bytes(), err
}

// DataURIs groups images per logger as inline charts for the HTML view.
func DataURIs(images []Image) map[string][]report.Chart {
	charts := make(map[string][]report.Chart)
	for _, img := range images {
		uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(img.PNG)
		charts[img.SystemID] = append(charts[img.SystemID], report.Chart{
			Title:   img.Title,
			DataURI: template.URL(uri),
		})
	}
	return charts
}

// WriteZip streams the images and the report document as a zip archive.
func WriteZip(w io.Writer, doc []byte, images []Image) error {
	zw := zip.NewWriter(w)
	now := time.Now()

	if doc != nil {
		if err := addZipFile(zw, report.DataFile, doc, now); err != nil {
			return err
		}
	}
	for _, img := range images {
		if err := addZipFile(zw, "charts/"+img.Filename(), img.PNG, now); err != nil {
			return err
		}
	}
	return zw.Close()
}

func addZipFile(zw *zip.Writer, name string, data []byte, modified time.Time) error {
	f, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: modified})
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// SaveImages writes the PNGs into dir/charts and returns their paths.
func SaveImages(dir string, images []Image) ([]string, error) {
	if len(images) == 0 {
		return nil, nil
	}
	outputDir := filepath.Join(dir, "charts")
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create dir: %w", err)
	}
	paths := make([]string, 0, len(images))
	for _, img := range images {
		fullPath := filepath.Join(outputDir, img.Filename())
		if err := os.WriteFile(fullPath, img.PNG, 0644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", fullPath, err)
		}
		paths = append(paths, fullPath)
	}
	return paths, nil
}
