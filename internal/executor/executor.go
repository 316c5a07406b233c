// Package executor runs remediation actions against the container
// orchestrator through a four-phase lifecycle: validate, execute, optional
// dry-run short-circuit, rollback.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/sentinelops/remedy-core/internal/config"
)

// ErrRollbackNotApplicable marks executors whose effect cannot be reversed.
var ErrRollbackNotApplicable = errors.New("executor: rollback not applicable")

// Target identifies the orchestration object an action operates on.
type Target struct {
	Namespace  string
	Deployment string
}

// Result statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ExecutionResult records what one phase did.
type ExecutionResult struct {
	Status      string                 `json:"status"`
	Message     string                 `json:"message"`
	StartedAt   time.Time              `json:"startedAt"`
	CompletedAt time.Time              `json:"completedAt"`
	DurationSec float64                `json:"durationSeconds"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Error       string                 `json:"error,omitempty"`
	DryRun      bool                   `json:"dryRun"`
}

// Executor is the remediation contract. Implementations must degrade to
// simulation when no orchestrator client is available.
type Executor interface {
	// Validate checks parameter shape, identifier grammar and, when live,
	// orchestrator-state preconditions.
	Validate(ctx context.Context, target Target, params map[string]interface{}) error
	Execute(ctx context.Context, target Target, params map[string]interface{}) *ExecutionResult
	// Rollback reverses a prior execution where applicable.
	Rollback(ctx context.Context, target Target, prior *ExecutionResult) (*ExecutionResult, error)
}

// ValidIdentifier enforces the orchestration naming grammar: lowercase
// alphanumeric, '-' and '.', starting and ending alphanumeric, at most 253
// characters.
func ValidIdentifier(name string) error {
	if name == "" {
		return errors.New("identifier is empty")
	}
	if len(name) > 253 {
		return fmt.Errorf("identifier %q exceeds 253 characters", name)
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '-' || c == '.':
			if i == 0 || i == len(name)-1 {
				return fmt.Errorf("identifier %q must start and end alphanumeric", name)
			}
		default:
			return fmt.Errorf("identifier %q contains invalid character %q", name, string(c))
		}
	}
	return nil
}

func validateTarget(t Target) error {
	if err := ValidIdentifier(t.Namespace); err != nil {
		return fmt.Errorf("namespace: %w", err)
	}
	if err := ValidIdentifier(t.Deployment); err != nil {
		return fmt.Errorf("deployment: %w", err)
	}
	return nil
}

func newResult(started time.Time, status, message string, dryRun bool) *ExecutionResult {
	completed := time.Now().UTC()
	return &ExecutionResult{
		Status:      status,
		Message:     message,
		StartedAt:   started.UTC(),
		CompletedAt: completed,
		DurationSec: completed.Sub(started.UTC()).Seconds(),
		Details:     map[string]interface{}{},
		DryRun:      dryRun,
	}
}

func failedResult(started time.Time, err error, dryRun bool) *ExecutionResult {
	r := newResult(started, StatusFailed, "execution failed", dryRun)
	r.Error = err.Error()
	return r
}

// intParam reads an integer parameter tolerating JSON float decoding.
func intParam(params map[string]interface{}, key string) (int, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// NewKubernetesClient builds a typed clientset from config. Returns nil
// without error when no kubeconfig is available, leaving executors in
// simulation mode.
func NewKubernetesClient(cfg config.OrchestratorConfig) (kubernetes.Interface, error) {
	var (
		rc  *rest.Config
		err error
	)
	switch {
	case cfg.InCluster:
		rc, err = rest.InClusterConfig()
	case cfg.Kubeconfig != "":
		rc, err = clientcmd.BuildConfigFromFlags("", cfg.Kubeconfig)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("orchestrator config: %w", err)
	}
	client, err := kubernetes.NewForConfig(rc)
	if err != nil {
		return nil, fmt.Errorf("orchestrator client: %w", err)
	}
	return client, nil
}
