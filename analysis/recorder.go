package analysis

import "time"

// Query kinds reported to a Recorder.
const (
	QueryInstant = "instant"
	QueryRange   = "range"
)

// Recorder receives engine telemetry. observability.Metrics implements it.
type Recorder interface {
	Query(kind, outcome string)
	Logger(outcome string)
	ReportDuration(d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) Query(string, string)         {}
func (nopRecorder) Logger(string)                {}
func (nopRecorder) ReportDuration(time.Duration) {}
