package mart

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"fleet-report/database"
	"fleet-report/report"
)

// MartBuilder maintains the fleet energy mart in DuckDB
type MartBuilder struct {
	db *database.DB
}

// MartStats holds statistics about the refreshed mart
type MartStats struct {
	TotalRows      int64   `json:"total_rows"`
	Loggers        int64   `json:"loggers"`
	Events         int64   `json:"events"`
	TotalEnergyWh  float64 `json:"total_energy_wh"`
	AvgPowerFactor float64 `json:"avg_power_factor"`
	MinDate        string  `json:"min_date"`
	MaxDate        string  `json:"max_date"`
}

// Ranking is one logger's standing across all reported events
type Ranking struct {
	Rank            int     `json:"rank"`
	SystemID        string  `json:"system_id"`
	Source          string  `json:"source"`
	DeviceModel     string  `json:"device_model"`
	Events          int64   `json:"events"`
	TotalEnergyWh   float64 `json:"total_energy_wh"`
	PeakPowerW      float64 `json:"peak_power_w"`
	AvgPowerFactor  float64 `json:"avg_power_factor"`
	AvgImbalancePct float64 `json:"avg_imbalance_pct"`
	HoursLogged     float64 `json:"hours_logged"`
}

// NewMartBuilder creates a new mart builder
func NewMartBuilder(db *database.DB) *MartBuilder {
	return &MartBuilder{db: db}
}

// Record replaces the fact rows of an event with the loggers of its latest report.
func (m *MartBuilder) Record(ctx context.Context, reportID string, r *report.Report) (err error) {
	tx, err := m.db.Mart.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM logger_energy WHERE event_id = ?", r.EventID); err != nil {
		return fmt.Errorf("failed to clear logger_energy for %s: %w", r.EventID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO logger_energy (
			report_id, event_id, system_id, source, device_model, phase_config, location,
			event_start, event_end, duration_seconds,
			real_energy_wh, apparent_energy_vah, avg_power_factor,
			peak_power_w, avg_power_w, phase_imbalance_pct, generated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, id := range r.SystemIDs() {
		lr := r.Loggers[id]
		realWh, apparentVAh, pf := sql.NullFloat64{}, sql.NullFloat64{}, sql.NullFloat64{}
		if v, ok := lr.RealEnergyWh(); ok {
			realWh = sql.NullFloat64{Float64: v, Valid: true}
		}
		if v, ok := lr.ApparentEnergyVAh(); ok {
			apparentVAh = sql.NullFloat64{Float64: v, Valid: true}
		}
		if lr.AvgPowerFactor != nil {
			pf = sql.NullFloat64{Float64: *lr.AvgPowerFactor, Valid: true}
		}
		_, err = stmt.ExecContext(ctx,
			reportID, r.EventID, id, string(lr.Config.Source), lr.Config.DeviceModel, string(lr.Config.PhaseConfig), lr.Location,
			r.StartTime, r.EndTime, r.DurationSeconds,
			realWh, apparentVAh, pf,
			lr.PowerStats.PeakPowerW, lr.PowerStats.AvgPowerW, lr.PhaseImbalancePct, r.GeneratedAt)
		if err != nil {
			return fmt.Errorf("failed to insert logger_energy for %s: %w", id, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit logger_energy: %w", err)
	}
	return nil
}

// Refresh rebuilds the logger_energy_summary table
func (m *MartBuilder) Refresh(ctx context.Context) (MartStats, error) {
	start := time.Now()
	stats := MartStats{}

	query := `
		CREATE OR REPLACE TABLE logger_energy_summary AS
		SELECT
			system_id,
			arg_max(source, generated_at) AS source,
			arg_max(device_model, generated_at) AS device_model,
			COUNT(DISTINCT event_id) AS events,
			COALESCE(SUM(real_energy_wh), 0) AS total_energy_wh,
			COALESCE(SUM(apparent_energy_vah), 0) AS total_apparent_vah,
			COALESCE(MAX(peak_power_w), 0) AS peak_power_w,
			COALESCE(AVG(avg_power_factor), 0) AS avg_power_factor,
			COALESCE(AVG(phase_imbalance_pct), 0) AS avg_imbalance_pct,
			COALESCE(SUM(duration_seconds), 0) / 3600.0 AS hours_logged,
			MIN(CAST(event_start AS DATE)) AS first_event,
			MAX(CAST(event_end AS DATE)) AS last_event,
			CURRENT_TIMESTAMP AS created_at
		FROM logger_energy
		GROUP BY system_id
	`
	if _, err := m.db.Mart.ExecContext(ctx, query); err != nil {
		return MartStats{}, fmt.Errorf("failed to refresh logger_energy_summary: %w", err)
	}

	if err := m.db.Mart.QueryRowContext(ctx, "SELECT COUNT(*) FROM logger_energy").Scan(&stats.TotalRows); err != nil {
		log.Printf("Warning: Failed to get row count: %v", err)
	}

	err := m.db.Mart.QueryRowContext(ctx, `
		SELECT COUNT(*), CAST(COALESCE(SUM(events), 0) AS BIGINT), COALESCE(SUM(total_energy_wh), 0), COALESCE(AVG(avg_power_factor), 0)
		FROM logger_energy_summary`).Scan(&stats.Loggers, &stats.Events, &stats.TotalEnergyWh, &stats.AvgPowerFactor)
	if err != nil {
		log.Printf("Warning: Failed to get summary totals: %v", err)
	}

	var minDate, maxDate sql.NullString
	err = m.db.Mart.QueryRowContext(ctx,
		"SELECT CAST(MIN(first_event) AS VARCHAR), CAST(MAX(last_event) AS VARCHAR) FROM logger_energy_summary").Scan(&minDate, &maxDate)
	if err == nil {
		stats.MinDate = minDate.String
		stats.MaxDate = maxDate.String
	}

	log.Printf("[Mart] logger_energy_summary refreshed in %v. Rows: %d, loggers: %d", time.Since(start), stats.TotalRows, stats.Loggers)
	return stats, nil
}

// Rankings returns loggers ordered by delivered energy. Refresh must have
// run at least once.
func (m *MartBuilder) Rankings(ctx context.Context, limit int) ([]Ranking, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := m.db.Mart.QueryContext(ctx, `
		SELECT
			system_id, COALESCE(source, ''), COALESCE(device_model, ''), events,
			total_energy_wh, peak_power_w, avg_power_factor, avg_imbalance_pct, hours_logged
		FROM logger_energy_summary
		ORDER BY total_energy_wh DESC, system_id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query rankings: %w", err)
	}
	defer rows.Close()

	rankings := []Ranking{}
	for rows.Next() {
		var r Ranking
		if err := rows.Scan(&r.SystemID, &r.Source, &r.DeviceModel, &r.Events,
			&r.TotalEnergyWh, &r.PeakPowerW, &r.AvgPowerFactor, &r.AvgImbalancePct, &r.HoursLogged); err != nil {
			return nil, err
		}
		r.Rank = len(rankings) + 1
		rankings = append(rankings, r)
	}
	return rankings, rows.Err()
}
