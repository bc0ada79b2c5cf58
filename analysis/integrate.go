package analysis

import (
	"math"

	"fleet-report/timeseries"
)

// integrateWh applies the trapezoidal rule to a watt (or VA) series and
// returns watt-hours. Fewer than two samples integrate to zero.
func integrateWh(samples []timeseries.Sample) float64 {
	if len(samples) < 2 {
		return 0
	}
	var total float64
	for i := 1; i < len(samples); i++ {
		dt := samples[i].Time.Sub(samples[i-1].Time).Seconds()
		total += (samples[i].Value + samples[i-1].Value) / 2 * dt / 3600
	}
	return total
}

// integrateProduct integrates the point-wise product a*b. The series must be
// aligned in length; ok is false otherwise.
func integrateProduct(a, b []timeseries.Sample) (float64, bool) {
	return integrateCombined(a, b, func(x, y float64) float64 { return x * y })
}

// integrateApparent integrates sqrt(p^2 + q^2) over aligned P and Q series.
func integrateApparent(p, q []timeseries.Sample) (float64, bool) {
	return integrateCombined(p, q, math.Hypot)
}

func integrateCombined(a, b []timeseries.Sample, combine func(x, y float64) float64) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	combined := make([]timeseries.Sample, len(a))
	for i := range a {
		combined[i] = timeseries.Sample{Time: a[i].Time, Value: combine(a[i].Value, b[i].Value)}
	}
	return integrateWh(combined), true
}

// timeWeightedMean is the trapezoidal average of a series over its own span.
func timeWeightedMean(samples []timeseries.Sample) (float64, bool) {
	switch len(samples) {
	case 0:
		return 0, false
	case 1:
		return samples[0].Value, true
	}
	span := samples[len(samples)-1].Time.Sub(samples[0].Time).Hours()
	if span <= 0 {
		return samples[0].Value, true
	}
	return integrateWh(samples) / span, true
}

func maxValue(samples []timeseries.Sample) (float64, bool) {
	if len(samples) == 0 {
		return 0, false
	}
	m := samples[0].Value
	for _, s := range samples[1:] {
		if s.Value > m {
			m = s.Value
		}
	}
	return m, true
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
