package analysis

import (
	"fleet-report/report"
	"fleet-report/timeseries"
)

// LoadDistribution bins the time between consecutive samples by the leading
// sample's load relative to peak. Nil when peak <= 0, fewer than two
// samples, or no time accrued.
func LoadDistribution(samples []timeseries.Sample, peak float64) report.LoadDistribution {
	if peak <= 0 || len(samples) < 2 {
		return nil
	}

	seconds := make(map[string]float64, len(report.LoadBins))
	var total float64
	for i := 1; i < len(samples); i++ {
		dt := samples[i].Time.Sub(samples[i-1].Time).Seconds()
		if dt <= 0 {
			continue
		}
		seconds[loadBin(samples[i-1].Value/peak*100)] += dt
		total += dt
	}
	if total <= 0 {
		return nil
	}

	dist := make(report.LoadDistribution, len(report.LoadBins))
	for _, bin := range report.LoadBins {
		dist[bin] = report.LoadBin{
			Seconds: round(seconds[bin], 1),
			Percent: round(seconds[bin]/total*100, 1),
		}
	}
	return dist
}

func loadBin(pct float64) string {
	switch {
	case pct < 20:
		return report.Bin0to20
	case pct < 40:
		return report.Bin20to40
	case pct < 60:
		return report.Bin40to60
	case pct < 80:
		return report.Bin60to80
	case pct <= 100:
		return report.Bin80to100
	default:
		return report.BinOver100
	}
}
