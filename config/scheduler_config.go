package config

import "time"

// SchedulerConfig holds scheduler settings
type SchedulerConfig struct {
	Enabled               bool `mapstructure:"enabled" json:"enabled"`
	IntervalMinutes       int  `mapstructure:"interval_minutes" json:"interval_minutes"`
	OutboxIntervalSeconds int  `mapstructure:"outbox_interval_seconds" json:"outbox_interval_seconds"`
}

// Interval returns the mart refresh interval
func (s SchedulerConfig) Interval() time.Duration {
	if s.IntervalMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(s.IntervalMinutes) * time.Minute
}

// OutboxInterval returns how often pending notifications are retried
func (s SchedulerConfig) OutboxInterval() time.Duration {
	if s.OutboxIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.OutboxIntervalSeconds) * time.Second
}
