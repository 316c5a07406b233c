package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sentinelops/remedy-core/internal/models"
)

// SaveHypotheses inserts the ranked hypotheses for an incident.
func (s *Store) SaveHypotheses(ctx context.Context, q Querier, hs []models.Hypothesis) error {
	for _, h := range hs {
		evidence, _ := json.Marshal(h.Evidence)
		signals, _ := json.Marshal(h.SupportingSignals)
		_, err := q.ExecContext(ctx, `
			INSERT INTO hypotheses (id, incident_id, description, category,
				confidence_score, rank_position, evidence, reasoning, model_id,
				prompt_tokens, completion_tokens, supporting_signals)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			h.ID, h.IncidentID, h.Description, h.Category, h.ConfidenceScore,
			h.Rank, evidence, h.Reasoning, h.ModelID, h.PromptTokens,
			h.CompletionTokens, signals)
		if err != nil {
			return fmt.Errorf("insert hypothesis: %w", err)
		}
	}
	return nil
}

// ListHypotheses returns an incident's hypotheses ordered by rank.
func (s *Store) ListHypotheses(ctx context.Context, q Querier, incidentID string) ([]models.Hypothesis, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, incident_id, description, category, confidence_score,
			rank_position, evidence, reasoning, model_id, prompt_tokens,
			completion_tokens, supporting_signals
		FROM hypotheses WHERE incident_id = ? ORDER BY rank_position ASC`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list hypotheses: %w", err)
	}
	defer rows.Close()

	var out []models.Hypothesis
	for rows.Next() {
		var (
			h        models.Hypothesis
			evidence []byte
			signals  []byte
		)
		if err := rows.Scan(&h.ID, &h.IncidentID, &h.Description, &h.Category,
			&h.ConfidenceScore, &h.Rank, &evidence, &h.Reasoning, &h.ModelID,
			&h.PromptTokens, &h.CompletionTokens, &signals); err != nil {
			return nil, fmt.Errorf("scan hypothesis: %w", err)
		}
		if len(evidence) > 0 {
			_ = json.Unmarshal(evidence, &h.Evidence)
		}
		if len(signals) > 0 {
			_ = json.Unmarshal(signals, &h.SupportingSignals)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// SaveAction inserts a remediation action.
func (s *Store) SaveAction(ctx context.Context, q Querier, a *models.Action) error {
	params, _ := json.Marshal(a.Parameters)
	_, err := q.ExecContext(ctx, `
		INSERT INTO actions (id, incident_id, type, name, description,
			target_service, target_resource, risk_level, risk_score,
			blast_radius, requires_approval, parameters, execution_mode, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.IncidentID, a.Type, a.Name, a.Description, a.TargetService,
		a.TargetResource, a.RiskLevel, a.RiskScore, a.BlastRadius,
		a.RequiresApproval, params, a.ExecutionMode, a.Status)
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

// GetAction fetches one action by id.
func (s *Store) GetAction(ctx context.Context, q Querier, id string) (*models.Action, error) {
	var (
		a      models.Action
		params []byte
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, incident_id, type, name, description, target_service,
			target_resource, risk_level, risk_score, blast_radius,
			requires_approval, parameters, execution_mode, status, created_at
		FROM actions WHERE id = ?`, id).Scan(
		&a.ID, &a.IncidentID, &a.Type, &a.Name, &a.Description,
		&a.TargetService, &a.TargetResource, &a.RiskLevel, &a.RiskScore,
		&a.BlastRadius, &a.RequiresApproval, &params, &a.ExecutionMode,
		&a.Status, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get action: %w", err)
	}
	if len(params) > 0 {
		_ = json.Unmarshal(params, &a.Parameters)
	}
	return &a, nil
}

// UpdateActionStatus transitions an action, enforcing its state machine.
func (s *Store) UpdateActionStatus(ctx context.Context, q Querier, id string, next models.ActionStatus) error {
	var current models.ActionStatus
	if err := q.QueryRowContext(ctx, `SELECT status FROM actions WHERE id = ?`, id).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("read action status: %w", err)
	}
	if !current.CanTransition(next) {
		return fmt.Errorf("%w: action %s -> %s", ErrInvalidTransition, current, next)
	}
	_, err := q.ExecContext(ctx, `UPDATE actions SET status = ? WHERE id = ?`, next, id)
	if err != nil {
		return fmt.Errorf("update action status: %w", err)
	}
	return nil
}
