package executor

import (
	"context"
	"fmt"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/sentinelops/remedy-core/pkg/logger"
)

// PodRestartExecutor deletes one pod of a deployment so the controller
// replaces it. Irreversible: the old pod is gone.
type PodRestartExecutor struct {
	client kubernetes.Interface
	dryRun bool
	logger logger.Logger
}

// NewPodRestartExecutor creates the executor. A nil client forces simulation.
func NewPodRestartExecutor(client kubernetes.Interface, dryRun bool, log logger.Logger) *PodRestartExecutor {
	return &PodRestartExecutor{client: client, dryRun: dryRun, logger: log}
}

func (e *PodRestartExecutor) simulated() bool {
	return e.dryRun || e.client == nil
}

// Validate checks identifiers and, when live, requires at least two replicas
// with full availability so the restart cannot take the service down.
func (e *PodRestartExecutor) Validate(ctx context.Context, target Target, params map[string]interface{}) error {
	if err := validateTarget(target); err != nil {
		return err
	}
	if e.simulated() {
		return nil
	}

	dep, err := e.client.AppsV1().Deployments(target.Namespace).Get(ctx, target.Deployment, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("deployment lookup: %w", err)
	}
	replicas := int32(1)
	if dep.Spec.Replicas != nil {
		replicas = *dep.Spec.Replicas
	}
	if replicas < 2 {
		return fmt.Errorf("deployment %s has %d replica(s), restart requires at least 2", target.Deployment, replicas)
	}
	if dep.Status.AvailableReplicas < replicas {
		return fmt.Errorf("deployment %s has %d/%d replicas available, restart requires full availability",
			target.Deployment, dep.Status.AvailableReplicas, replicas)
	}
	return nil
}

// Execute deletes the first pod matching the deployment's app label and waits
// briefly for the controller to react.
func (e *PodRestartExecutor) Execute(ctx context.Context, target Target, params map[string]interface{}) *ExecutionResult {
	started := time.Now()
	if err := e.Validate(ctx, target, params); err != nil {
		return failedResult(started, err, e.simulated())
	}

	if e.simulated() {
		r := newResult(started, StatusSucceeded,
			fmt.Sprintf("[simulated] would restart one pod of %s/%s", target.Namespace, target.Deployment), true)
		r.Details["simulated"] = true
		return r
	}

	pods, err := e.client.CoreV1().Pods(target.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("app=%s", target.Deployment),
	})
	if err != nil {
		return failedResult(started, fmt.Errorf("pod list: %w", err), false)
	}
	if len(pods.Items) == 0 {
		return failedResult(started, fmt.Errorf("no pods found for %s/%s", target.Namespace, target.Deployment), false)
	}

	victim := pods.Items[0].Name
	grace := int64(30)
	if g, ok := intParam(params, "graceful_shutdown_seconds"); ok && g > 0 {
		grace = int64(g)
	}
	if err := e.client.CoreV1().Pods(target.Namespace).Delete(ctx, victim, metav1.DeleteOptions{
		GracePeriodSeconds: &grace,
	}); err != nil {
		return failedResult(started, fmt.Errorf("pod delete: %w", err), false)
	}

	e.logger.Info("pod deleted for restart",
		"namespace", target.Namespace, "deployment", target.Deployment, "pod", victim)

	// Give the controller a moment before the verifier samples metrics.
	select {
	case <-time.After(5 * time.Second):
	case <-ctx.Done():
	}

	r := newResult(started, StatusSucceeded,
		fmt.Sprintf("restarted pod %s of %s/%s", victim, target.Namespace, target.Deployment), false)
	r.Details["pod"] = victim
	r.Details["grace_period_seconds"] = grace
	return r
}

// Rollback is not applicable: a deleted pod cannot be restored.
func (e *PodRestartExecutor) Rollback(ctx context.Context, target Target, prior *ExecutionResult) (*ExecutionResult, error) {
	return nil, ErrRollbackNotApplicable
}
