package action

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelops/remedy-core/internal/models"
	"github.com/sentinelops/remedy-core/internal/runbook"
	"github.com/sentinelops/remedy-core/internal/topology"
	"github.com/sentinelops/remedy-core/pkg/logger"
)

// DefaultApprovalThreshold is the confidence below which approval is always
// required.
const DefaultApprovalThreshold = 0.70

const defaultGracefulShutdownSeconds = 30

// categoryActions maps hypothesis categories to the single candidate action
// type. Unknown categories produce no recommendation.
var categoryActions = map[string]string{
	"memory_leak":    TypeRestartPod,
	"cpu_spike":      TypeScaleUp,
	"traffic_spike":  TypeScaleUp,
	"traffic_drop":   TypeScaleDown,
	"latency_spike":  TypeRestartPod,
	"error_spike":    TypeRollbackDeployment,
	"database_issue": TypeRestartPod,
	"network_issue":  TypeRestartPod,
}

// Context carries live-state inputs the selector needs for parameters.
type Context struct {
	CurrentReplicas int
	Namespace       string
}

// Selector turns a top hypothesis into a runbook-approved action record.
type Selector struct {
	runbooks          *runbook.Registry
	graph             *topology.Graph
	approvalThreshold float64
	logger            logger.Logger
}

// NewSelector creates a selector. A non-positive threshold falls back to the
// default.
func NewSelector(rb *runbook.Registry, graph *topology.Graph, approvalThreshold float64, log logger.Logger) *Selector {
	if approvalThreshold <= 0 {
		approvalThreshold = DefaultApprovalThreshold
	}
	return &Selector{runbooks: rb, graph: graph, approvalThreshold: approvalThreshold, logger: log}
}

// Select recommends an action for the hypothesis, or nil when the category is
// unknown or the runbook does not permit the action. Refusal is mandatory:
// there is no free-form action invention.
func (s *Selector) Select(h models.Hypothesis, incident *models.Incident, sctx Context) *models.Action {
	actionType, ok := categoryActions[h.Category]
	if !ok {
		s.logger.Info("no action mapping for category",
			"incident_id", incident.ID, "category", h.Category)
		return nil
	}

	service := incident.AffectedService
	if !s.runbooks.IsAllowed(h.Category, service, actionType) {
		s.logger.Warn("runbook refused action",
			"incident_id", incident.ID, "category", h.Category,
			"service", service, "action_type", actionType)
		return nil
	}

	profile, ok := ProfileFor(actionType)
	if !ok {
		s.logger.Error("missing risk profile", "action_type", actionType)
		return nil
	}

	score, riskLevel := s.riskScore(profile.RiskCategory, h.ConfidenceScore, service)

	return &models.Action{
		ID:             uuid.NewString(),
		IncidentID:     incident.ID,
		Type:           actionType,
		Name:           fmt.Sprintf("%s on %s", actionType, service),
		Description:    fmt.Sprintf("Remediate %s (%s): %s", service, h.Category, h.Description),
		TargetService:  service,
		TargetResource: service,
		RiskLevel:      riskLevel,
		RiskScore:      score,
		BlastRadius:    profile.BlastRadius,
		RequiresApproval: requiresApproval(riskLevel, h.ConfidenceScore,
			s.approvalThreshold),
		Parameters: buildParameters(actionType, sctx),
		Status:     models.ActionPendingApproval,
		CreatedAt:  time.Now().UTC(),
	}
}

// riskScore maps the profile's risk category to a base, penalises low
// confidence and critical service tiers, and re-bins the result.
func (s *Selector) riskScore(category models.RiskLevel, confidence float64, service string) (float64, models.RiskLevel) {
	var base float64
	switch category {
	case models.RiskLow:
		base = 0.20
	case models.RiskMedium:
		base = 0.50
	case models.RiskHigh:
		base = 0.75
	case models.RiskCritical:
		base = 0.95
	}

	score := base + (1-confidence)*0.1
	if s.graph != nil {
		if node, ok := s.graph.Get(service); ok {
			switch node.Tier {
			case 1:
				score += 0.15
			case 2:
				score += 0.05
			}
		}
	}
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}

	switch {
	case score >= 0.9:
		return score, models.RiskCritical
	case score >= 0.7:
		return score, models.RiskHigh
	case score >= 0.4:
		return score, models.RiskMedium
	default:
		return score, models.RiskLow
	}
}

// requiresApproval is deliberately conservative: every action currently needs
// a human, including low-risk high-confidence ones.
func requiresApproval(risk models.RiskLevel, confidence, threshold float64) bool {
	if risk == models.RiskHigh || risk == models.RiskCritical {
		return true
	}
	if confidence < threshold {
		return true
	}
	if risk == models.RiskMedium {
		return true
	}
	return true
}

func buildParameters(actionType string, sctx Context) map[string]interface{} {
	current := sctx.CurrentReplicas
	if current < 1 {
		current = 1
	}

	switch actionType {
	case TypeScaleUp:
		return map[string]interface{}{
			"current_replicas": current,
			"target_replicas":  current + 1,
			"max_replicas":     current + 5,
			"namespace":        sctx.Namespace,
		}
	case TypeScaleDown:
		target := current - 1
		if target < 1 {
			target = 1
		}
		return map[string]interface{}{
			"current_replicas": current,
			"target_replicas":  target,
			"min_replicas":     1,
			"namespace":        sctx.Namespace,
		}
	case TypeRestartPod:
		return map[string]interface{}{
			"graceful_shutdown_seconds": defaultGracefulShutdownSeconds,
			"namespace":                 sctx.Namespace,
		}
	case TypeRollbackDeployment:
		return map[string]interface{}{
			"revision":  "previous",
			"namespace": sctx.Namespace,
		}
	default:
		return map[string]interface{}{"namespace": sctx.Namespace}
	}
}
