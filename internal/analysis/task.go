// Package analysis is the worker-side task that takes an incident from
// analyzing to pending_approval: detect, hypothesise, select an action.
package analysis

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelops/remedy-core/internal/action"
	"github.com/sentinelops/remedy-core/internal/detect"
	"github.com/sentinelops/remedy-core/internal/hypothesis"
	"github.com/sentinelops/remedy-core/internal/learning"
	"github.com/sentinelops/remedy-core/internal/metrics"
	"github.com/sentinelops/remedy-core/internal/models"
	"github.com/sentinelops/remedy-core/internal/store"
	"github.com/sentinelops/remedy-core/pkg/logger"
)

// TaskName is the queue routing key for incident analysis.
const TaskName = "analyze_incident"

const (
	maxAttempts   = 3
	retryDelay    = 10 * time.Second
	metricsWindow = 5 * time.Minute
)

// ErrNotRetryable wraps structural failures that retrying cannot fix.
var ErrNotRetryable = errors.New("analysis: not retryable")

// Args is the task payload.
type Args struct {
	IncidentID string `json:"incident_id"`
}

// Task analyses one incident inside a single transaction.
type Task struct {
	store     *store.Store
	metrics   metrics.Client
	detector  *detect.Detector
	generator *hypothesis.Generator
	selector  *action.Selector
	learning  *learning.Engine
	mode      models.ExecutionMode
	namespace string
	logger    logger.Logger
}

// New wires the analysis task.
func New(st *store.Store, mc metrics.Client, det *detect.Detector,
	gen *hypothesis.Generator, sel *action.Selector, le *learning.Engine,
	mode models.ExecutionMode, namespace string, log logger.Logger) *Task {
	return &Task{
		store: st, metrics: mc, detector: det, generator: gen,
		selector: sel, learning: le, mode: mode, namespace: namespace,
		logger: log,
	}
}

// Handle is the queue entrypoint: decode, then retry the analysis with a
// fixed delay. Structural errors do not retry. On soft time-limit expiry the
// cleanup path still marks the incident FAILED.
func (t *Task) Handle(ctx context.Context, raw json.RawMessage) error {
	var args Args
	if err := json.Unmarshal(raw, &args); err != nil {
		return fmt.Errorf("%w: decode args: %v", ErrNotRetryable, err)
	}
	if _, err := uuid.Parse(args.IncidentID); err != nil {
		return fmt.Errorf("%w: malformed incident id %q", ErrNotRetryable, args.IncidentID)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := t.Analyze(ctx, args.IncidentID)
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrNotRetryable) {
			return err
		}
		if ctx.Err() != nil {
			break
		}
		if attempt < maxAttempts {
			t.logger.Warn("analysis attempt failed, retrying",
				"incident_id", args.IncidentID, "attempt", attempt, "error", err)
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
			}
		}
	}

	if ctx.Err() != nil {
		t.failOutOfBand(args.IncidentID, "analysis timed out")
		return fmt.Errorf("analysis cancelled: %w", ctx.Err())
	}
	return lastErr
}

// Analyze runs the full analysis transaction for one incident. Pipeline
// failures commit the FAILED status instead of rolling back; returning the
// error here would undo the very state we need to persist.
func (t *Task) Analyze(ctx context.Context, incidentID string) error {
	return t.store.WithTx(ctx, func(tx *sql.Tx) error {
		incident, err := t.store.GetIncidentForUpdate(ctx, tx, incidentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: incident %s not found", ErrNotRetryable, incidentID)
			}
			return err
		}

		// Idempotency: another worker, or a prior attempt, already moved it.
		if incident.Status != models.IncidentAnalyzing {
			t.logger.Info("skipping incident not in analyzing",
				"incident_id", incidentID, "status", incident.Status)
			return nil
		}

		if err := t.analyzeLocked(ctx, tx, incident); err != nil {
			t.logger.Error("analysis failed, committing failed state",
				"incident_id", incidentID, "error", err)
			if ferr := t.store.UpdateIncidentStatus(ctx, tx, incidentID,
				models.IncidentFailed, "analysis", err.Error()); ferr != nil {
				return ferr
			}
		}
		return nil
	})
}

func (t *Task) analyzeLocked(ctx context.Context, tx *sql.Tx, incident *models.Incident) error {
	series, err := t.metrics.ServiceSeries(ctx, incident.AffectedService, metricsWindow)
	if err != nil {
		return fmt.Errorf("fetch metrics: %w", err)
	}

	anomalies := t.detector.DetectAll(series)
	if len(anomalies) == 0 {
		// Benign flap: whatever triggered detection has already cleared.
		t.logger.Info("no anomalies on re-check, resolving",
			"incident_id", incident.ID, "service", incident.AffectedService)
		return t.store.UpdateIncidentStatus(ctx, tx, incident.ID,
			models.IncidentResolved, "analysis", "no anomalies on re-check")
	}

	hypotheses, err := t.generator.Generate(ctx, incident, anomalies)
	if err != nil {
		return fmt.Errorf("generate hypotheses: %w", err)
	}

	if t.learning != nil {
		for i := range hypotheses {
			adj := t.learning.Adjustment(ctx, incident.AffectedService, hypotheses[i].Category)
			if adj == 0 {
				continue
			}
			score := hypotheses[i].ConfidenceScore + adj
			if score < 0.01 {
				score = 0.01
			}
			if score > 0.99 {
				score = 0.99
			}
			hypotheses[i].ConfidenceScore = score
		}
		hypothesis.RankAll(hypotheses)
	}

	if err := t.store.SaveHypotheses(ctx, tx, hypotheses); err != nil {
		return err
	}

	top := hypotheses[0]
	if act := t.selector.Select(top, incident, action.Context{Namespace: t.namespace}); act != nil {
		act.ExecutionMode = t.mode
		if err := t.store.SaveAction(ctx, tx, act); err != nil {
			return err
		}
	} else {
		t.logger.Info("no action selected",
			"incident_id", incident.ID, "category", top.Category)
	}

	return t.store.UpdateIncidentStatus(ctx, tx, incident.ID,
		models.IncidentPendingApproval, "analysis",
		fmt.Sprintf("top hypothesis %s (%.2f)", top.Category, top.ConfidenceScore))
}

// failOutOfBand marks the incident FAILED with a fresh context after the task
// context died.
func (t *Task) failOutOfBand(incidentID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := t.store.UpdateIncidentStatus(ctx, t.store.DB(), incidentID,
		models.IncidentFailed, "analysis", reason); err != nil {
		t.logger.Error("failed to mark incident failed after timeout",
			"incident_id", incidentID, "error", err)
	}
}
