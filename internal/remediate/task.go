// Package remediate is the worker-side task that runs an approved action,
// verifies the result, and feeds the outcome back into learning.
package remediate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelops/remedy-core/internal/action"
	"github.com/sentinelops/remedy-core/internal/executor"
	"github.com/sentinelops/remedy-core/internal/learning"
	"github.com/sentinelops/remedy-core/internal/models"
	"github.com/sentinelops/remedy-core/internal/monitoring"
	"github.com/sentinelops/remedy-core/internal/store"
	"github.com/sentinelops/remedy-core/internal/verify"
	"github.com/sentinelops/remedy-core/pkg/logger"
)

// TaskName is the queue routing key for action execution.
const TaskName = "execute_action"

// ErrNotRetryable wraps structural failures that retrying cannot fix.
var ErrNotRetryable = errors.New("remediate: not retryable")

// Args is the task payload.
type Args struct {
	ActionID string `json:"action_id"`
}

// Task drives one approved action through execution and verification.
type Task struct {
	store     *store.Store
	executors map[string]executor.Executor
	verifier  *verify.Verifier
	learning  *learning.Engine
	namespace string
	logger    logger.Logger
}

// New wires the remediation task. The executor map is keyed by action type.
func New(st *store.Store, execs map[string]executor.Executor, v *verify.Verifier,
	le *learning.Engine, namespace string, log logger.Logger) *Task {
	return &Task{
		store: st, executors: execs, verifier: v, learning: le,
		namespace: namespace, logger: log,
	}
}

// Executors builds the standard executor map.
func Executors(restart *executor.PodRestartExecutor, scale *executor.ScaleExecutor, rollback *executor.DeploymentRollbackExecutor) map[string]executor.Executor {
	return map[string]executor.Executor{
		action.TypeRestartPod:         restart,
		action.TypeScaleUp:            scale,
		action.TypeScaleDown:          scale,
		action.TypeRollbackDeployment: rollback,
	}
}

// Handle is the queue entrypoint.
func (t *Task) Handle(ctx context.Context, raw json.RawMessage) error {
	var args Args
	if err := json.Unmarshal(raw, &args); err != nil {
		return fmt.Errorf("%w: decode args: %v", ErrNotRetryable, err)
	}
	if _, err := uuid.Parse(args.ActionID); err != nil {
		return fmt.Errorf("%w: malformed action id %q", ErrNotRetryable, args.ActionID)
	}
	return t.Execute(ctx, args.ActionID)
}

// Execute runs the action lifecycle: approved -> executing -> terminal, with
// the incident moved through remediating and verifying alongside.
func (t *Task) Execute(ctx context.Context, actionID string) error {
	act, err := t.store.GetAction(ctx, t.store.DB(), actionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: action %s not found", ErrNotRetryable, actionID)
		}
		return err
	}
	if act.Status != models.ActionApproved {
		t.logger.Info("skipping action not in approved",
			"action_id", actionID, "status", act.Status)
		return nil
	}

	exec, ok := t.executors[act.Type]
	if !ok {
		return fmt.Errorf("%w: no executor for action type %s", ErrNotRetryable, act.Type)
	}

	if err := t.store.UpdateActionStatus(ctx, t.store.DB(), actionID, models.ActionExecuting); err != nil {
		return err
	}
	if err := t.store.UpdateIncidentStatus(ctx, t.store.DB(), act.IncidentID,
		models.IncidentRemediating, "remediate", act.Name); err != nil {
		t.logger.Warn("incident transition failed",
			"incident_id", act.IncidentID, "error", err)
	}

	target := executor.Target{Namespace: t.namespace, Deployment: act.TargetService}
	if ns, ok := act.Parameters["namespace"].(string); ok && ns != "" {
		target.Namespace = ns
	}

	result := exec.Execute(ctx, target, act.Parameters)
	mode := string(models.ModeLive)
	if result.DryRun {
		mode = string(models.ModeDryRun)
	}
	monitoring.RecordActionExecution(act.Type, mode, result.Status)

	if err := t.store.UpdateIncidentStatus(ctx, t.store.DB(), act.IncidentID,
		models.IncidentVerifying, "remediate", "awaiting verification"); err != nil {
		t.logger.Warn("incident transition failed",
			"incident_id", act.IncidentID, "error", err)
	}

	before := map[string]float64{}
	if inc, err := t.store.GetIncident(ctx, t.store.DB(), act.IncidentID); err == nil {
		before = inc.MetricsSnapshot
	}
	if len(before) == 0 {
		before = nil
	}

	verdict, err := t.verifier.Verify(ctx, act.TargetService, result, before)
	if err != nil {
		return t.finish(ctx, act, result, &verify.Result{
			Status:         verify.StatusNoChange,
			Recommendation: verify.RecommendEscalate,
			Message:        fmt.Sprintf("verification unavailable: %v", err),
		})
	}
	t.logger.Info("verification complete",
		"action_id", act.ID, "status", verdict.Status,
		"recommendation", verdict.Recommendation)

	if verdict.Recommendation == verify.RecommendRollback {
		t.rollback(ctx, exec, target, act, result)
	}
	return t.finish(ctx, act, result, verdict)
}

func (t *Task) rollback(ctx context.Context, exec executor.Executor, target executor.Target, act *models.Action, prior *executor.ExecutionResult) {
	if _, err := exec.Rollback(ctx, target, prior); err != nil {
		if errors.Is(err, executor.ErrRollbackNotApplicable) {
			t.logger.Info("rollback not applicable", "action_id", act.ID, "type", act.Type)
			return
		}
		t.logger.Error("rollback failed", "action_id", act.ID, "error", err)
		return
	}
	t.logger.Info("action rolled back", "action_id", act.ID)
}

// finish writes the terminal action and incident states and captures the
// learning outcome.
func (t *Task) finish(ctx context.Context, act *models.Action, result *executor.ExecutionResult, verdict *verify.Result) error {
	success := result.Status == executor.StatusSucceeded &&
		(verdict.Status == verify.StatusSuccess || verdict.Status == verify.StatusPartialSuccess)

	actionStatus := models.ActionSucceeded
	incidentStatus := models.IncidentResolved
	switch {
	case result.Status != executor.StatusSucceeded:
		actionStatus = models.ActionFailed
		incidentStatus = models.IncidentFailed
	case verdict.Recommendation == verify.RecommendRollback:
		actionStatus = models.ActionRolledBack
		incidentStatus = models.IncidentFailed
	case verdict.Recommendation == verify.RecommendEscalate:
		incidentStatus = models.IncidentEscalated
	case verdict.Recommendation == verify.RecommendMonitor:
		incidentStatus = models.IncidentResolved
	}

	if err := t.store.UpdateActionStatus(ctx, t.store.DB(), act.ID, actionStatus); err != nil {
		t.logger.Error("action status update failed", "action_id", act.ID, "error", err)
	}
	if err := t.store.UpdateIncidentStatus(ctx, t.store.DB(), act.IncidentID,
		incidentStatus, "remediate", verdict.Message); err != nil {
		t.logger.Error("incident status update failed",
			"incident_id", act.IncidentID, "error", err)
	}

	if t.learning != nil {
		rec := t.outcomeRecord(ctx, act, result, verdict, success)
		if err := t.learning.CaptureOutcome(ctx, rec); err != nil {
			t.logger.Error("outcome capture failed",
				"incident_id", act.IncidentID, "error", err)
		}
	}
	return nil
}

func (t *Task) outcomeRecord(ctx context.Context, act *models.Action, result *executor.ExecutionResult, verdict *verify.Result, success bool) *models.ConfidenceOutcomeRecord {
	rec := &models.ConfidenceOutcomeRecord{
		IncidentID:          act.IncidentID,
		ServiceName:         act.TargetService,
		ActionType:          act.Type,
		ActionExecuted:      !result.DryRun,
		OutcomeSuccess:      success,
		OutcomeStatus:       verdict.Status,
		VerificationMetrics: verdict.AfterMetrics,
		CreatedAt:           time.Now().UTC(),
	}

	if inc, err := t.store.GetIncident(ctx, t.store.DB(), act.IncidentID); err == nil {
		secs := time.Since(inc.DetectedAt).Seconds()
		rec.TimeToResolutionSeconds = &secs
	}
	if hs, err := t.store.ListHypotheses(ctx, t.store.DB(), act.IncidentID); err == nil && len(hs) > 0 {
		rec.HypothesisCategory = hs[0].Category
		rec.ConfidenceScore = hs[0].ConfidenceScore
	}
	return rec
}
