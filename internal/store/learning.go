package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sentinelops/remedy-core/internal/models"
)

// GetPatternForUpdate locks and returns the learning row for a pattern id.
// Must run inside a transaction.
func (s *Store) GetPatternForUpdate(ctx context.Context, tx *sql.Tx, patternID string) (*models.IncidentPattern, error) {
	var (
		p          models.IncidentPattern
		indicators []byte
	)
	err := tx.QueryRowContext(ctx, `
		SELECT pattern_id, name, category, signal_indicators,
			confidence_adjustment, occurrence_count, success_rate, updated_at
		FROM incident_patterns WHERE pattern_id = ? FOR UPDATE`, patternID).Scan(
		&p.PatternID, &p.Name, &p.Category, &indicators,
		&p.ConfidenceAdjustment, &p.OccurrenceCount, &p.SuccessRate, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get pattern: %w", err)
	}
	if len(indicators) > 0 {
		_ = json.Unmarshal(indicators, &p.SignalIndicators)
	}
	return &p, nil
}

// GetPattern reads a learning row without locking.
func (s *Store) GetPattern(ctx context.Context, q Querier, patternID string) (*models.IncidentPattern, error) {
	var (
		p          models.IncidentPattern
		indicators []byte
	)
	err := q.QueryRowContext(ctx, `
		SELECT pattern_id, name, category, signal_indicators,
			confidence_adjustment, occurrence_count, success_rate, updated_at
		FROM incident_patterns WHERE pattern_id = ?`, patternID).Scan(
		&p.PatternID, &p.Name, &p.Category, &indicators,
		&p.ConfidenceAdjustment, &p.OccurrenceCount, &p.SuccessRate, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get pattern: %w", err)
	}
	if len(indicators) > 0 {
		_ = json.Unmarshal(indicators, &p.SignalIndicators)
	}
	return &p, nil
}

// UpsertPattern writes the full learning row.
func (s *Store) UpsertPattern(ctx context.Context, q Querier, p *models.IncidentPattern) error {
	indicators, _ := json.Marshal(p.SignalIndicators)
	_, err := q.ExecContext(ctx, `
		INSERT INTO incident_patterns (pattern_id, name, category,
			signal_indicators, confidence_adjustment, occurrence_count, success_rate)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			signal_indicators = VALUES(signal_indicators),
			confidence_adjustment = VALUES(confidence_adjustment),
			occurrence_count = VALUES(occurrence_count),
			success_rate = VALUES(success_rate)`,
		p.PatternID, p.Name, p.Category, indicators,
		p.ConfidenceAdjustment, p.OccurrenceCount, p.SuccessRate)
	if err != nil {
		return fmt.Errorf("upsert pattern: %w", err)
	}
	return nil
}

// ListPatterns returns all learning rows, used to warm the in-process cache.
func (s *Store) ListPatterns(ctx context.Context, q Querier) ([]*models.IncidentPattern, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT pattern_id, name, category, signal_indicators,
			confidence_adjustment, occurrence_count, success_rate, updated_at
		FROM incident_patterns`)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	defer rows.Close()

	var out []*models.IncidentPattern
	for rows.Next() {
		var (
			p          models.IncidentPattern
			indicators []byte
		)
		if err := rows.Scan(&p.PatternID, &p.Name, &p.Category, &indicators,
			&p.ConfidenceAdjustment, &p.OccurrenceCount, &p.SuccessRate, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		if len(indicators) > 0 {
			_ = json.Unmarshal(indicators, &p.SignalIndicators)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// AppendOutcome appends one confidence calibration record.
func (s *Store) AppendOutcome(ctx context.Context, q Querier, rec *models.ConfidenceOutcomeRecord) error {
	metrics, _ := json.Marshal(rec.VerificationMetrics)
	_, err := q.ExecContext(ctx, `
		INSERT INTO confidence_outcomes (incident_id, service_name,
			hypothesis_category, confidence_score, action_type, action_executed,
			outcome_success, outcome_status, verification_metrics,
			time_to_resolution_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.IncidentID, rec.ServiceName, rec.HypothesisCategory,
		rec.ConfidenceScore, rec.ActionType, rec.ActionExecuted,
		rec.OutcomeSuccess, rec.OutcomeStatus, metrics, rec.TimeToResolutionSeconds)
	if err != nil {
		return fmt.Errorf("append outcome: %w", err)
	}
	return nil
}
