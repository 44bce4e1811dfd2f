package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/perpquant/mind-persona/internal/logger"
	"github.com/perpquant/mind-persona/internal/models"
)

// ArchiveCall stores a terminal call record. Archiving the same id twice
// replaces the earlier row.
func (db *DB) ArchiveCall(rec models.CallRecord) error {
	query := `
		INSERT OR REPLACE INTO api_calls (
			id, started_at, ended_at, agent_name, model, status, prompt_tokens,
			candidate_tokens, total_tokens, estimated_cost, duration_ms, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	startedAt := rec.StartTime
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	_, err := db.ExecContext(context.Background(), query,
		rec.ID,
		formatTime(startedAt),
		nullTime(rec.EndTime),
		rec.AgentName,
		rec.Model,
		string(rec.Status),
		nullInt(rec.PromptTokens),
		nullInt(rec.CandidateTokens),
		nullInt(rec.TotalTokens),
		nullFloat(rec.EstimatedCost),
		rec.DurationMs(),
		nullString(rec.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to archive call %s: %w", rec.ID, err)
	}
	return nil
}

// GetRecentCalls returns the most recently started archived calls.
func (db *DB) GetRecentCalls(limit int) ([]models.CallRecord, error) {
	query := `
		SELECT id, started_at, ended_at, agent_name, model, status, prompt_tokens,
			   candidate_tokens, total_tokens, estimated_cost, duration_ms, error
		FROM api_calls
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := db.QueryContext(context.Background(), query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent calls: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logger.Error("failed to close rows", "error", err)
		}
	}()

	var calls []models.CallRecord
	for rows.Next() {
		var (
			rec                      models.CallRecord
			status, startedAt        string
			endedAt, errStr          sql.NullString
			prompt, candidate, total sql.NullInt64
			cost                     sql.NullFloat64
			durationMs               int64
		)

		err := rows.Scan(
			&rec.ID,
			&startedAt,
			&endedAt,
			&rec.AgentName,
			&rec.Model,
			&status,
			&prompt,
			&candidate,
			&total,
			&cost,
			&durationMs,
			&errStr,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}

		rec.Status = models.CallStatus(status)
		rec.StartTime = parseTime(startedAt)
		if endedAt.Valid {
			rec.EndTime = parseTime(endedAt.String)
		}
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		rec.PromptTokens = intFromNull(prompt)
		rec.CandidateTokens = intFromNull(candidate)
		rec.TotalTokens = intFromNull(total)
		if cost.Valid {
			c := cost.Float64
			rec.EstimatedCost = &c
		}
		rec.Error = errStr.String
		calls = append(calls, rec)
	}

	return calls, rows.Err()
}

// GetTotalStats returns aggregates over every archived call.
func (db *DB) GetTotalStats() (*models.ArchiveStats, error) {
	query := `
		SELECT
			COUNT(*) as total_calls,
			COALESCE(SUM(CASE WHEN status = 'Failed' THEN 1 ELSE 0 END), 0) as failures,
			COALESCE(SUM(prompt_tokens), 0) as prompt_tokens,
			COALESCE(SUM(candidate_tokens), 0) as candidate_tokens,
			COALESCE(SUM(estimated_cost), 0) as estimated_cost,
			COALESCE(AVG(duration_ms), 0) as avg_duration,
			COUNT(DISTINCT model) as unique_models,
			COUNT(DISTINCT agent_name) as unique_agents
		FROM api_calls
	`

	var stats models.ArchiveStats
	err := db.QueryRowContext(context.Background(), query).Scan(
		&stats.Calls,
		&stats.Failures,
		&stats.PromptTokens,
		&stats.CandidateTokens,
		&stats.EstimatedCost,
		&stats.AvgDurationMs,
		&stats.UniqueModels,
		&stats.UniqueAgents,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query total stats: %w", err)
	}

	return &stats, nil
}

// GetModelStats returns per-model aggregates, most expensive first.
func (db *DB) GetModelStats() ([]models.ModelStats, error) {
	query := `
		SELECT
			model,
			COUNT(*) as total_calls,
			COALESCE(SUM(CASE WHEN status = 'Failed' THEN 1 ELSE 0 END), 0) as failures,
			COALESCE(SUM(prompt_tokens), 0) as prompt_tokens,
			COALESCE(SUM(candidate_tokens), 0) as candidate_tokens,
			COALESCE(SUM(estimated_cost), 0) as estimated_cost,
			COALESCE(AVG(duration_ms), 0) as avg_duration
		FROM api_calls
		GROUP BY model
		ORDER BY estimated_cost DESC, model ASC
	`

	rows, err := db.QueryContext(context.Background(), query)
	if err != nil {
		return nil, fmt.Errorf("failed to query model stats: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logger.Error("failed to close rows", "error", err)
		}
	}()

	var stats []models.ModelStats
	for rows.Next() {
		var s models.ModelStats
		err := rows.Scan(
			&s.Model,
			&s.Calls,
			&s.Failures,
			&s.PromptTokens,
			&s.CandidateTokens,
			&s.EstimatedCost,
			&s.AvgDurationMs,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan model stats: %w", err)
		}
		stats = append(stats, s)
	}

	return stats, rows.Err()
}

// PruneCalls deletes archived calls started before cutoff and returns how
// many were removed.
func (db *DB) PruneCalls(cutoff time.Time) (int64, error) {
	result, err := db.ExecContext(context.Background(),
		"DELETE FROM api_calls WHERE started_at < ?", formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to prune calls: %w", err)
	}
	return result.RowsAffected()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		logger.Warn("failed to parse stored timestamp", "value", s, "error", err)
	}
	return t
}

// nullString returns a sql.NullString from a string.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func intFromNull(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
