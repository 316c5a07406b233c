// Package verify checks whether a remediation actually improved service
// health and recommends the next move.
package verify

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sentinelops/remedy-core/internal/executor"
	"github.com/sentinelops/remedy-core/internal/metrics"
	"github.com/sentinelops/remedy-core/pkg/logger"
)

// Verification statuses.
const (
	StatusSuccess        = "success"
	StatusPartialSuccess = "partial_success"
	StatusNoChange       = "no_change"
	StatusDegraded       = "degraded"
	StatusUnstable       = "unstable"
)

// Recommendations.
const (
	RecommendContinue = "continue"
	RecommendRollback = "rollback"
	RecommendEscalate = "escalate"
	RecommendMonitor  = "monitor"
)

const (
	// DefaultStabilization is how long to let the system settle before
	// sampling after-metrics.
	DefaultStabilization = 120 * time.Second
	// DefaultImprovementThreshold is the average improvement percentage
	// counted as success.
	DefaultImprovementThreshold = 20.0

	degradationLimit = -10.0
	spreadLimit      = 30.0
	beforeLookback   = 5 * time.Minute
)

// Result is the verdict on one remediation.
type Result struct {
	Service              string             `json:"service"`
	Status               string             `json:"status"`
	BeforeMetrics        map[string]float64 `json:"beforeMetrics"`
	AfterMetrics         map[string]float64 `json:"afterMetrics"`
	ImprovementPct       map[string]float64 `json:"improvementPct"`
	Recommendation       string             `json:"recommendation"`
	StabilizationSeconds int                `json:"stabilizationSeconds"`
	Message              string             `json:"message"`
}

// Verifier samples service health around an execution and grades the outcome.
type Verifier struct {
	metrics              metrics.Client
	stabilization        time.Duration
	improvementThreshold float64
	logger               logger.Logger
}

// New creates a verifier. Non-positive settings fall back to defaults.
func New(mc metrics.Client, stabilization time.Duration, improvementThreshold float64, log logger.Logger) *Verifier {
	if stabilization <= 0 {
		stabilization = DefaultStabilization
	}
	if improvementThreshold <= 0 {
		improvementThreshold = DefaultImprovementThreshold
	}
	return &Verifier{
		metrics:              mc,
		stabilization:        stabilization,
		improvementThreshold: improvementThreshold,
		logger:               log,
	}
}

// Verify grades the execution. A failed execution short-circuits to degraded
// with a rollback recommendation; otherwise the verifier waits the
// stabilisation window and compares health metrics around the action.
func (v *Verifier) Verify(ctx context.Context, service string, exec *executor.ExecutionResult, before map[string]float64) (*Result, error) {
	res := &Result{
		Service:              service,
		StabilizationSeconds: int(v.stabilization.Seconds()),
		ImprovementPct:       map[string]float64{},
	}

	if exec.Status != executor.StatusSucceeded {
		res.Status = StatusDegraded
		res.Recommendation = RecommendRollback
		res.Message = fmt.Sprintf("execution failed: %s", exec.Error)
		return res, nil
	}

	select {
	case <-time.After(v.stabilization):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if before == nil {
		var err error
		before, err = v.metrics.HealthMetrics(ctx, service, exec.StartedAt.Add(-beforeLookback))
		if err != nil {
			return nil, fmt.Errorf("before-metrics query: %w", err)
		}
	}
	after, err := v.metrics.HealthMetrics(ctx, service, time.Now())
	if err != nil {
		return nil, fmt.Errorf("after-metrics query: %w", err)
	}

	res.BeforeMetrics = before
	res.AfterMetrics = after

	for name, b := range before {
		a, ok := after[name]
		if !ok || b == 0 {
			continue
		}
		pct := (b - a) / b * 100
		// Availability is higher-is-better; flip the sign so positive
		// always means improvement.
		if name == "availability" {
			pct = -pct
		}
		res.ImprovementPct[name] = pct
	}

	res.Status, res.Recommendation = v.grade(res.ImprovementPct)
	res.Message = renderMessage(service, res)
	return res, nil
}

func (v *Verifier) grade(improvements map[string]float64) (string, string) {
	if len(improvements) == 0 {
		return StatusNoChange, RecommendEscalate
	}

	var sum, minPct, maxPct float64
	minPct = math.Inf(1)
	maxPct = math.Inf(-1)
	for _, pct := range improvements {
		sum += pct
		if pct < minPct {
			minPct = pct
		}
		if pct > maxPct {
			maxPct = pct
		}
	}
	avg := sum / float64(len(improvements))

	switch {
	case minPct < degradationLimit:
		return StatusDegraded, RecommendRollback
	case avg >= v.improvementThreshold:
		return StatusSuccess, RecommendContinue
	case avg >= v.improvementThreshold/2:
		return StatusPartialSuccess, RecommendMonitor
	case maxPct-minPct > spreadLimit:
		return StatusUnstable, RecommendEscalate
	default:
		return StatusNoChange, RecommendEscalate
	}
}

// renderMessage formats per-metric before/after/delta lines for human review.
func renderMessage(service string, r *Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "verification for %s: %s (%s)\n", service, r.Status, r.Recommendation)

	names := make([]string, 0, len(r.ImprovementPct))
	for name := range r.ImprovementPct {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "  %-14s before=%.4f after=%.4f Δ=%+.1f%%\n",
			name, r.BeforeMetrics[name], r.AfterMetrics[name], r.ImprovementPct[name])
	}
	return b.String()
}
