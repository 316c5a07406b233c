package executor

import (
	"context"
	"fmt"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"

	"github.com/sentinelops/remedy-core/pkg/logger"
)

// ScaleExecutor patches a deployment's replica count. Rollback restores the
// count recorded at execution time.
type ScaleExecutor struct {
	client kubernetes.Interface
	dryRun bool
	logger logger.Logger
}

// NewScaleExecutor creates the executor. A nil client forces simulation.
func NewScaleExecutor(client kubernetes.Interface, dryRun bool, log logger.Logger) *ScaleExecutor {
	return &ScaleExecutor{client: client, dryRun: dryRun, logger: log}
}

func (e *ScaleExecutor) simulated() bool {
	return e.dryRun || e.client == nil
}

// Validate checks identifiers and the replica bounds: 1 <= min <= target and,
// when a max is given, target <= max.
func (e *ScaleExecutor) Validate(ctx context.Context, target Target, params map[string]interface{}) error {
	if err := validateTarget(target); err != nil {
		return err
	}

	targetReplicas, ok := intParam(params, "target_replicas")
	if !ok {
		return fmt.Errorf("missing target_replicas parameter")
	}
	if targetReplicas < 1 {
		return fmt.Errorf("target_replicas %d must be at least 1", targetReplicas)
	}
	if minReplicas, ok := intParam(params, "min_replicas"); ok && targetReplicas < minReplicas {
		return fmt.Errorf("target_replicas %d below min_replicas %d", targetReplicas, minReplicas)
	}
	if maxReplicas, ok := intParam(params, "max_replicas"); ok && targetReplicas > maxReplicas {
		return fmt.Errorf("target_replicas %d above max_replicas %d", targetReplicas, maxReplicas)
	}
	return nil
}

// Execute patches spec.replicas. The previous count lands in Details so
// Rollback can restore it.
func (e *ScaleExecutor) Execute(ctx context.Context, target Target, params map[string]interface{}) *ExecutionResult {
	started := time.Now()
	if err := e.Validate(ctx, target, params); err != nil {
		return failedResult(started, err, e.simulated())
	}

	targetReplicas, _ := intParam(params, "target_replicas")

	if e.simulated() {
		r := newResult(started, StatusSucceeded,
			fmt.Sprintf("[simulated] would scale %s/%s to %d replicas", target.Namespace, target.Deployment, targetReplicas), true)
		r.Details["simulated"] = true
		r.Details["target_replicas"] = targetReplicas
		return r
	}

	dep, err := e.client.AppsV1().Deployments(target.Namespace).Get(ctx, target.Deployment, metav1.GetOptions{})
	if err != nil {
		return failedResult(started, fmt.Errorf("deployment lookup: %w", err), false)
	}
	previous := int32(1)
	if dep.Spec.Replicas != nil {
		previous = *dep.Spec.Replicas
	}

	patch := []byte(fmt.Sprintf(`{"spec":{"replicas":%d}}`, targetReplicas))
	if _, err := e.client.AppsV1().Deployments(target.Namespace).Patch(
		ctx, target.Deployment, types.StrategicMergePatchType, patch, metav1.PatchOptions{}); err != nil {
		return failedResult(started, fmt.Errorf("replica patch: %w", err), false)
	}

	e.logger.Info("deployment scaled",
		"namespace", target.Namespace, "deployment", target.Deployment,
		"from", previous, "to", targetReplicas)

	r := newResult(started, StatusSucceeded,
		fmt.Sprintf("scaled %s/%s from %d to %d replicas", target.Namespace, target.Deployment, previous, targetReplicas), false)
	r.Details["previous_replicas"] = int(previous)
	r.Details["target_replicas"] = targetReplicas
	return r
}

// Rollback re-executes with the replica count recorded by the prior run.
func (e *ScaleExecutor) Rollback(ctx context.Context, target Target, prior *ExecutionResult) (*ExecutionResult, error) {
	if prior == nil {
		return nil, fmt.Errorf("no prior result to roll back")
	}
	previous, ok := intParam(prior.Details, "previous_replicas")
	if !ok {
		return nil, fmt.Errorf("prior result carries no previous_replicas")
	}
	result := e.Execute(ctx, target, map[string]interface{}{
		"target_replicas": previous,
	})
	if result.Status != StatusSucceeded {
		return result, fmt.Errorf("rollback scale failed: %s", result.Error)
	}
	return result, nil
}
