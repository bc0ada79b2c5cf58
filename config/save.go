package config

import (
	"fmt"
	"sync"

	"github.com/spf13/viper"
)

var configMutex sync.Mutex

// TrimSettings is the runtime-tunable subset of the engine configuration
type TrimSettings struct {
	MinSamples   int     `json:"min_samples"`
	Window       int     `json:"window"`
	PeakFraction float64 `json:"peak_fraction"`
	FloorW       float64 `json:"floor_w"`
}

// Trim returns the current trim settings
func (c *Config) Trim() TrimSettings {
	configMutex.Lock()
	defer configMutex.Unlock()

	return TrimSettings{
		MinSamples:   c.Engine.TrimMinSamples,
		Window:       c.Engine.TrimWindow,
		PeakFraction: c.Engine.TrimPeakFraction,
		FloorW:       c.Engine.TrimFloorW,
	}
}

// EngineSnapshot returns a copy of the engine settings safe to hand to a report run
func (c *Config) EngineSnapshot() EngineConfig {
	configMutex.Lock()
	defer configMutex.Unlock()
	return c.Engine
}

// UpdateTrimSettings updates trim settings and saves to file
func (c *Config) UpdateTrimSettings(s TrimSettings) error {
	if s.MinSamples < 2 || s.Window < 1 || s.PeakFraction < 0 || s.PeakFraction > 1 || s.FloorW < 0 {
		return fmt.Errorf("invalid trim settings: %+v", s)
	}

	configMutex.Lock()
	defer configMutex.Unlock()

	c.Engine.TrimMinSamples = s.MinSamples
	c.Engine.TrimWindow = s.Window
	c.Engine.TrimPeakFraction = s.PeakFraction
	c.Engine.TrimFloorW = s.FloorW

	v := c.v
	if v == nil {
		v = viper.GetViper()
	}
	v.Set("engine.trim_min_samples", s.MinSamples)
	v.Set("engine.trim_window", s.Window)
	v.Set("engine.trim_peak_fraction", s.PeakFraction)
	v.Set("engine.trim_floor_w", s.FloorW)

	if v.ConfigFileUsed() == "" {
		return v.WriteConfigAs("config.yaml")
	}
	return v.WriteConfig()
}
