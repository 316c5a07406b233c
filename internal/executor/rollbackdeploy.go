package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"

	"github.com/sentinelops/remedy-core/pkg/logger"
)

const revisionAnnotation = "deployment.kubernetes.io/revision"

// DeploymentRollbackExecutor reverts a deployment to its previous revision by
// re-applying the pod template of the prior replica set.
type DeploymentRollbackExecutor struct {
	client kubernetes.Interface
	dryRun bool
	logger logger.Logger
}

// NewDeploymentRollbackExecutor creates the executor. A nil client forces
// simulation.
func NewDeploymentRollbackExecutor(client kubernetes.Interface, dryRun bool, log logger.Logger) *DeploymentRollbackExecutor {
	return &DeploymentRollbackExecutor{client: client, dryRun: dryRun, logger: log}
}

func (e *DeploymentRollbackExecutor) simulated() bool {
	return e.dryRun || e.client == nil
}

// Validate checks identifiers and, when live, that a previous revision exists.
func (e *DeploymentRollbackExecutor) Validate(ctx context.Context, target Target, params map[string]interface{}) error {
	if err := validateTarget(target); err != nil {
		return err
	}
	if e.simulated() {
		return nil
	}
	_, prev, err := e.revisions(ctx, target)
	if err != nil {
		return err
	}
	if prev == nil {
		return fmt.Errorf("deployment %s has no previous revision to roll back to", target.Deployment)
	}
	return nil
}

// Execute re-applies the previous replica set's pod template.
func (e *DeploymentRollbackExecutor) Execute(ctx context.Context, target Target, params map[string]interface{}) *ExecutionResult {
	started := time.Now()
	if err := e.Validate(ctx, target, params); err != nil {
		return failedResult(started, err, e.simulated())
	}

	if e.simulated() {
		r := newResult(started, StatusSucceeded,
			fmt.Sprintf("[simulated] would roll back %s/%s to previous revision", target.Namespace, target.Deployment), true)
		r.Details["simulated"] = true
		return r
	}

	current, prev, err := e.revisions(ctx, target)
	if err != nil {
		return failedResult(started, err, false)
	}

	templateJSON, err := json.Marshal(prev.Spec.Template)
	if err != nil {
		return failedResult(started, fmt.Errorf("marshal template: %w", err), false)
	}
	patch := []byte(fmt.Sprintf(`{"spec":{"template":%s}}`, templateJSON))
	if _, err := e.client.AppsV1().Deployments(target.Namespace).Patch(
		ctx, target.Deployment, types.StrategicMergePatchType, patch, metav1.PatchOptions{}); err != nil {
		return failedResult(started, fmt.Errorf("template patch: %w", err), false)
	}

	e.logger.Info("deployment rolled back",
		"namespace", target.Namespace, "deployment", target.Deployment,
		"from_revision", current.Annotations[revisionAnnotation],
		"to_revision", prev.Annotations[revisionAnnotation])

	r := newResult(started, StatusSucceeded,
		fmt.Sprintf("rolled back %s/%s to revision %s", target.Namespace, target.Deployment,
			prev.Annotations[revisionAnnotation]), false)
	r.Details["rolled_back_to"] = prev.Annotations[revisionAnnotation]
	r.Details["rolled_back_from"] = current.Annotations[revisionAnnotation]
	return r
}

// Rollback of a rollback would reapply the broken revision. Not supported.
func (e *DeploymentRollbackExecutor) Rollback(ctx context.Context, target Target, prior *ExecutionResult) (*ExecutionResult, error) {
	return nil, ErrRollbackNotApplicable
}

// revisions returns the deployment's newest and second-newest replica sets by
// revision annotation.
func (e *DeploymentRollbackExecutor) revisions(ctx context.Context, target Target) (current, previous *appsv1.ReplicaSet, err error) {
	dep, err := e.client.AppsV1().Deployments(target.Namespace).Get(ctx, target.Deployment, metav1.GetOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("deployment lookup: %w", err)
	}

	selector, err := metav1.LabelSelectorAsSelector(dep.Spec.Selector)
	if err != nil {
		return nil, nil, fmt.Errorf("deployment selector: %w", err)
	}
	rsList, err := e.client.AppsV1().ReplicaSets(target.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: selector.String(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("replicaset list: %w", err)
	}
	if len(rsList.Items) == 0 {
		return nil, nil, fmt.Errorf("no replica sets for %s/%s", target.Namespace, target.Deployment)
	}

	sets := make([]*appsv1.ReplicaSet, 0, len(rsList.Items))
	for i := range rsList.Items {
		sets = append(sets, &rsList.Items[i])
	}
	sort.Slice(sets, func(i, j int) bool {
		return revisionOf(sets[i]) > revisionOf(sets[j])
	})

	current = sets[0]
	if len(sets) > 1 {
		previous = sets[1]
	}
	return current, previous, nil
}

func revisionOf(rs *appsv1.ReplicaSet) int64 {
	n, _ := strconv.ParseInt(rs.Annotations[revisionAnnotation], 10, 64)
	return n
}
