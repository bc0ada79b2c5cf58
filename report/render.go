package report

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"
)

// Chart is a pre-rendered image embedded into the HTML view.
type Chart struct {
	Title   string
	DataURI template.URL
}

// RenderOptions controls the HTML view.
type RenderOptions struct {
	// ImageBaseURL is prefixed to image filenames.
	ImageBaseURL string
	// Charts maps a system id to the charts shown in its card.
	Charts map[string][]Chart
	// Location renders timestamps; UTC when nil.
	Location *time.Location
}

type loadRow struct {
	Label    string
	Seconds  float64
	Percent  float64
	BarStyle template.CSS
}

type statRow struct {
	Phase string
	PhaseStats
}

type loggerView struct {
	ID         string
	Logger     LoggerReport
	Methods    []EnergyMethod
	Phases     []string
	PhaseStats []statRow
	Load       []loadRow
	Charts     []Chart
	PF         string
}

type imageView struct {
	Image
	URL string
}

type pageView struct {
	Report        *Report
	DurationHours float64
	Start         string
	End           string
	Generated     string
	Loggers       []loggerView
	Notes         []Note
	Images        []imageView
	Trimmed       bool
	OriginalStart string
	OriginalEnd   string
	loc           *time.Location
}

var pageTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"f1":   func(v float64) string { return fmt.Sprintf("%.1f", v) },
	"f2":   func(v float64) string { return fmt.Sprintf("%.2f", v) },
	"join": strings.Join,
	"phaseValue": func(m map[string]float64, phase string) string {
		v, ok := m[phase]
		if !ok {
			return "-"
		}
		return fmt.Sprintf("%.1f", v)
	},
}).Parse(pageHTML))

// RenderHTML renders the human-readable view of a report.
func RenderHTML(r *Report, opts RenderOptions) ([]byte, error) {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	const layout = "2006-01-02 15:04:05 MST"

	view := pageView{
		Report:        r,
		DurationHours: r.DurationSeconds / 3600.0,
		Start:         r.StartTime.In(loc).Format(layout),
		End:           r.EndTime.In(loc).Format(layout),
		Generated:     r.GeneratedAt.In(loc).Format(layout),
		Notes:         r.Notes,
		Trimmed:       r.Window.WasTrimmed,
		OriginalStart: r.Window.OriginalStart.In(loc).Format(layout),
		OriginalEnd:   r.Window.OriginalEnd.In(loc).Format(layout),
		loc:           loc,
	}

	for _, id := range r.SystemIDs() {
		lr := r.Loggers[id]
		lv := loggerView{
			ID:      id,
			Logger:  lr,
			Methods: lr.EnergyMethods,
			Phases:  lr.Config.Phases,
			Charts:  opts.Charts[id],
			PF:      "-",
		}
		for _, phase := range lr.Config.Phases {
			if ps, ok := lr.PowerStats.PerPhase[phase]; ok {
				lv.PhaseStats = append(lv.PhaseStats, statRow{Phase: phase, PhaseStats: ps})
			}
		}
		if lr.AvgPowerFactor != nil {
			lv.PF = fmt.Sprintf("%.3f", *lr.AvgPowerFactor)
		}
		for _, bin := range LoadBins {
			b, ok := lr.LoadDistribution[bin]
			if !ok {
				continue
			}
			lv.Load = append(lv.Load, loadRow{
				Label:    bin,
				Seconds:  b.Seconds,
				Percent:  b.Percent,
				BarStyle: template.CSS(fmt.Sprintf("width: %.1f%%", clampPercent(b.Percent))),
			})
		}
		view.Loggers = append(view.Loggers, lv)
	}

	base := strings.TrimRight(opts.ImageBaseURL, "/")
	for _, img := range r.Images {
		view.Images = append(view.Images, imageView{Image: img, URL: base + "/" + img.Filename})
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, view); err != nil {
		return nil, fmt.Errorf("failed to render report %s: %w", r.EventID, err)
	}
	return buf.Bytes(), nil
}

// FormatTime renders a timestamp in the view's location.
func (p pageView) FormatTime(t time.Time) string {
	return t.In(p.loc).Format("15:04:05")
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

const pageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Event Report: {{.Report.EventID}}</title>
<style>
body { font-family: -apple-system, 'Segoe UI', Roboto, Helvetica, Arial, sans-serif; background: #f0f2f5; color: #333; margin: 0; padding: 20px; }
.container { max-width: 1200px; margin: 0 auto; background: #fff; border-radius: 10px; overflow: hidden; }
.header { background: #3f51b5; color: #fff; padding: 24px 30px; }
.header .meta { opacity: 0.9; font-size: 0.95em; }
.content { padding: 24px 30px; }
.logger-card { background: #f8f9fa; border-left: 4px solid #3f51b5; padding: 18px; margin-bottom: 24px; border-radius: 6px; }
.config-grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(180px, 1fr)); gap: 12px; }
.config-item { background: #fff; border: 1px solid #e0e0e0; border-radius: 6px; padding: 10px; }
.config-item label { display: block; font-size: 0.8em; color: #666; text-transform: uppercase; }
table { width: 100%; border-collapse: collapse; margin: 16px 0; background: #fff; }
th { background: #3f51b5; color: #fff; text-align: left; padding: 10px; }
td { padding: 8px 10px; border-bottom: 1px solid #e0e0e0; }
.load-bar { background: #e0e0e0; height: 24px; border-radius: 4px; overflow: hidden; margin: 4px 0; }
.load-bar-fill { background: #3f51b5; height: 100%; color: #fff; font-size: 0.85em; padding-left: 8px; line-height: 24px; }
.notes-list { list-style: none; padding: 0; }
.notes-list li { background: #fffef0; border-left: 3px solid #ffc107; padding: 10px; margin: 8px 0; }
.note-meta { font-size: 0.85em; color: #666; }
.image-grid { display: grid; grid-template-columns: repeat(auto-fill, minmax(240px, 1fr)); gap: 12px; }
.image-grid img, .charts img { max-width: 100%; border-radius: 6px; }
</style>
</head>
<body>
<div class="container">
<div class="header">
<h1>Event Report: {{.Report.EventID}}</h1>
<div class="meta">
<div>Duration: {{f2 .DurationHours}} hours</div>
<div>Period: {{.Start}} to {{.End}}</div>
{{- if .Trimmed}}
<div>Trimmed from: {{.OriginalStart}} to {{.OriginalEnd}}</div>
{{- end}}
<div>Generated: {{.Generated}}</div>
</div>
</div>
<div class="content">
<h2>Energy Analysis by Logger</h2>
{{- range .Loggers}}
{{- $lv := .}}
<div class="logger-card">
<h3>{{.ID}}{{if .Logger.Location}} ({{.Logger.Location}}){{end}}</h3>
<div class="config-grid">
<div class="config-item"><label>Source</label>{{.Logger.Config.Source}}</div>
<div class="config-item"><label>Model</label>{{.Logger.Config.DeviceModel}}</div>
<div class="config-item"><label>Phase Config</label>{{.Logger.Config.PhaseConfig}}</div>
<div class="config-item"><label>Phases</label>{{join .Phases ", "}}</div>
<div class="config-item"><label>Nominal Voltage</label>{{if .Logger.Config.VoltageNominal}}{{.Logger.Config.VoltageNominal}} V{{else}}-{{end}}</div>
<div class="config-item"><label>Confidence</label>{{.Logger.Config.DetectionConfidence}}</div>
</div>
<h4>Energy Calculations</h4>
<table>
<tr><th>Method</th><th>Value</th><th>Unit</th><th>Includes Reactive</th>{{range $lv.Phases}}<th>{{.}}</th>{{end}}<th>Description</th></tr>
{{- range .Methods}}
{{- $m := .}}
<tr><td>{{.Name}}</td><td>{{f2 .Value}}</td><td>{{.Unit}}</td><td>{{if .IncludesReactive}}yes{{else}}no{{end}}</td>{{range $lv.Phases}}<td>{{phaseValue $m.PerPhase .}}</td>{{end}}<td>{{.Description}}</td></tr>
{{- end}}
</table>
<p>Average power factor: {{.PF}}</p>
<h4>Power Statistics</h4>
<table>
<tr><th>Scope</th><th>Peak (W)</th><th>Average (W)</th></tr>
<tr><td>Total</td><td>{{f1 .Logger.PowerStats.PeakPowerW}}</td><td>{{f1 .Logger.PowerStats.AvgPowerW}}</td></tr>
{{- range .PhaseStats}}
<tr><td>{{.Phase}}</td><td>{{f1 .PeakW}}</td><td>{{f1 .AvgW}}</td></tr>
{{- end}}
</table>
<p>Phase imbalance: {{f2 .Logger.PhaseImbalancePct}}%</p>
{{- if .Load}}
<h4>Load Distribution</h4>
{{- range .Load}}
<div>{{.Label}} ({{f1 .Seconds}} s)</div>
<div class="load-bar"><div class="load-bar-fill" style="{{.BarStyle}}">{{f1 .Percent}}%</div></div>
{{- end}}
{{- end}}
{{- if .Charts}}
<div class="charts">
{{- range .Charts}}
<figure><img src="{{.DataURI}}" alt="{{.Title}}"><figcaption>{{.Title}}</figcaption></figure>
{{- end}}
</div>
{{- end}}
</div>
{{- else}}
<p>No logger data available for this event.</p>
{{- end}}
{{- if .Notes}}
<h2>Notes</h2>
<ul class="notes-list">
{{- range .Notes}}
<li>{{.Note}}<div class="note-meta">{{$.FormatTime .Timestamp}} - {{.SystemID}}</div></li>
{{- end}}
</ul>
{{- end}}
{{- if .Images}}
<h2>Images</h2>
<div class="image-grid">
{{- range .Images}}
<figure><img src="{{.URL}}" alt="{{.Filename}}"><figcaption>{{.SystemID}} {{$.FormatTime .Timestamp}}{{if .Caption}} - {{.Caption}}{{end}}</figcaption></figure>
{{- end}}
</div>
{{- end}}
</div>
</div>
</body>
</html>
`
