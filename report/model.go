package report

import (
	"sort"
	"time"
)

// Source identifies which class of device a logger's telemetry comes from.
type Source string

const (
	SourceInverter   Source = "inverter"
	SourcePowerMeter Source = "power_meter"
	SourceUnknown    Source = "unknown"
)

// PhaseLabels returns the ordered phase labels a device class exposes.
func (s Source) PhaseLabels() []string {
	switch s {
	case SourceInverter:
		return []string{"L1", "L2", "L3"}
	case SourcePowerMeter:
		return []string{"A", "B", "C"}
	default:
		return nil
	}
}

// PhaseConfig is the detected electrical topology.
type PhaseConfig string

const (
	SinglePhase        PhaseConfig = "single_phase"
	SplitPhase         PhaseConfig = "split_phase"
	ThreePhase         PhaseConfig = "three_phase"
	PhaseConfigUnknown PhaseConfig = "unknown"
)

// PhaseConfigFor maps a count of active phases to a topology.
func PhaseConfigFor(active int) PhaseConfig {
	switch active {
	case 1:
		return SinglePhase
	case 2:
		return SplitPhase
	case 3:
		return ThreePhase
	default:
		return PhaseConfigUnknown
	}
}

// Confidence describes how sure the detector is about a DeviceConfig.
type Confidence string

const (
	ConfidenceHigh Confidence = "high"
	ConfidenceLow  Confidence = "low"
	ConfidenceNone Confidence = "none"
)

// DeviceConfig is the per-logger detection result for one report run.
// SystemID is the identifier the event was registered with; QueryID is the
// naming variant that actually matched in the time-series store.
type DeviceConfig struct {
	SystemID            string      `json:"system_id"`
	QueryID             string      `json:"query_id,omitempty"`
	Source              Source      `json:"source"`
	DeviceModel         string      `json:"device_model,omitempty"`
	PhaseConfig         PhaseConfig `json:"phase_config"`
	Phases              []string    `json:"phases"`
	VoltageNominal      int         `json:"voltage_nominal,omitempty"`
	HasReactivePower    bool        `json:"has_reactive_power"`
	HasApparentPower    bool        `json:"has_apparent_power"`
	DetectionConfidence Confidence  `json:"detection_confidence"`
}

// Detected reports whether any telemetry source matched.
func (c DeviceConfig) Detected() bool {
	return c.DetectionConfidence != ConfidenceNone && c.Source != SourceUnknown
}

// Unit of an energy figure.
type Unit string

const (
	UnitWh  Unit = "Wh"
	UnitVAh Unit = "VAh"
)

// Energy method names.
const (
	MethodTotalPower      = "total_power_wh"
	MethodRealPower       = "real_power_wh"
	MethodApparentPower   = "apparent_power_vah"
	MethodSumOfPhasePower = "sum_of_phase_power_wh"
	MethodIntegratedIV    = "integrated_iv_vah"
)

// EnergyMethod is one independently computed energy figure. A method that
// could not be computed is absent from the report, never zero-filled.
type EnergyMethod struct {
	Name             string             `json:"name"`
	Value            float64            `json:"value"`
	Unit             Unit               `json:"unit"`
	IncludesReactive bool               `json:"includes_reactive"`
	Description      string             `json:"description"`
	Metric           string             `json:"metric,omitempty"`
	PerPhase         map[string]float64 `json:"per_phase,omitempty"`
}

// PhaseStats holds peak/average power for one phase.
type PhaseStats struct {
	PeakW float64 `json:"peak_w"`
	AvgW  float64 `json:"avg_w"`
}

// PowerStats holds overall and per-phase power statistics.
type PowerStats struct {
	PeakPowerW float64               `json:"peak_power_w"`
	AvgPowerW  float64               `json:"avg_power_w"`
	PerPhase   map[string]PhaseStats `json:"per_phase,omitempty"`
}

// Load distribution bins, in display order.
const (
	Bin0to20   = "0-20%"
	Bin20to40  = "20-40%"
	Bin40to60  = "40-60%"
	Bin60to80  = "60-80%"
	Bin80to100 = "80-100%"
	BinOver100 = ">100%"
)

// LoadBins lists the load distribution bins in display order.
var LoadBins = []string{Bin0to20, Bin20to40, Bin40to60, Bin60to80, Bin80to100, BinOver100}

// LoadBin is the time spent in one power band.
type LoadBin struct {
	Seconds float64 `json:"seconds"`
	Percent float64 `json:"percent"`
}

// LoadDistribution maps a bin label to its accrued time. Empty when there
// was no usable peak or no accrued time.
type LoadDistribution map[string]LoadBin

// EventWindow records the raw and trimmed event bounds.
type EventWindow struct {
	OriginalStart time.Time `json:"original_start"`
	OriginalEnd   time.Time `json:"original_end"`
	TrimmedStart  time.Time `json:"trimmed_start"`
	TrimmedEnd    time.Time `json:"trimmed_end"`
	WasTrimmed    bool      `json:"was_trimmed"`
}

// LoggerReport is the analysis result for one logger.
type LoggerReport struct {
	Config            DeviceConfig     `json:"config"`
	Location          string           `json:"location,omitempty"`
	EnergyMethods     []EnergyMethod   `json:"energy_methods"`
	AvgPowerFactor    *float64         `json:"avg_power_factor,omitempty"`
	PowerStats        PowerStats       `json:"power_stats"`
	PhaseImbalancePct float64          `json:"phase_imbalance_pct"`
	LoadDistribution  LoadDistribution `json:"load_distribution,omitempty"`
}

// Method looks up an energy method by name.
func (l LoggerReport) Method(name string) (EnergyMethod, bool) {
	for _, m := range l.EnergyMethods {
		if m.Name == name {
			return m, true
		}
	}
	return EnergyMethod{}, false
}

// RealEnergyWh returns the primary real-energy figure regardless of device class.
func (l LoggerReport) RealEnergyWh() (float64, bool) {
	if m, ok := l.Method(MethodTotalPower); ok {
		return m.Value, true
	}
	if m, ok := l.Method(MethodRealPower); ok {
		return m.Value, true
	}
	return 0, false
}

// ApparentEnergyVAh returns the apparent energy, preferring the apparent
// power method over V*I integration.
func (l LoggerReport) ApparentEnergyVAh() (float64, bool) {
	if m, ok := l.Method(MethodApparentPower); ok {
		return m.Value, true
	}
	if m, ok := l.Method(MethodIntegratedIV); ok {
		return m.Value, true
	}
	return 0, false
}

// Note is an operator note recorded during the event.
type Note struct {
	Timestamp time.Time `json:"timestamp"`
	SystemID  string    `json:"system_id"`
	Note      string    `json:"note"`
}

// Image is a photo attached to the event.
type Image struct {
	Filename  string    `json:"filename"`
	SystemID  string    `json:"system_id"`
	Timestamp time.Time `json:"timestamp"`
	Caption   string    `json:"caption,omitempty"`
}

// Report is the assembled analytical report for one event.
type Report struct {
	EventID         string                  `json:"event_id"`
	StartTime       time.Time               `json:"start_time"`
	EndTime         time.Time               `json:"end_time"`
	DurationSeconds float64                 `json:"duration_seconds"`
	GeneratedAt     time.Time               `json:"generated_at"`
	Window          EventWindow             `json:"window"`
	Loggers         map[string]LoggerReport `json:"loggers"`
	Notes           []Note                  `json:"notes"`
	Images          []Image                 `json:"images"`
}

// SystemIDs returns the report's logger keys in sorted order.
func (r *Report) SystemIDs() []string {
	ids := make([]string, 0, len(r.Loggers))
	for id := range r.Loggers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
