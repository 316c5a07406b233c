package models

import "time"

// IncidentStatus is the incident lifecycle state machine. Transitions are
// one-directional: detected -> analyzing -> pending_approval -> remediating ->
// verifying -> {resolved, failed, escalated}.
type IncidentStatus string

const (
	IncidentDetected        IncidentStatus = "detected"
	IncidentAnalyzing       IncidentStatus = "analyzing"
	IncidentPendingApproval IncidentStatus = "pending_approval"
	IncidentRemediating     IncidentStatus = "remediating"
	IncidentVerifying       IncidentStatus = "verifying"
	IncidentResolved        IncidentStatus = "resolved"
	IncidentFailed          IncidentStatus = "failed"
	IncidentEscalated       IncidentStatus = "escalated"
)

// Terminal reports whether the status closes the lifecycle.
func (s IncidentStatus) Terminal() bool {
	switch s {
	case IncidentResolved, IncidentFailed, IncidentEscalated:
		return true
	}
	return false
}

var incidentOrder = map[IncidentStatus]int{
	IncidentDetected:        0,
	IncidentAnalyzing:       1,
	IncidentPendingApproval: 2,
	IncidentRemediating:     3,
	IncidentVerifying:       4,
	IncidentResolved:        5,
	IncidentFailed:          5,
	IncidentEscalated:       5,
}

// CanTransition reports whether moving from s to next respects the
// one-directional state machine. Terminal states admit no exits.
func (s IncidentStatus) CanTransition(next IncidentStatus) bool {
	if s.Terminal() {
		return false
	}
	from, ok1 := incidentOrder[s]
	to, ok2 := incidentOrder[next]
	if !ok1 || !ok2 {
		return false
	}
	return to > from
}

// Incident is the persistent unit of work tracking a detected issue.
type Incident struct {
	ID                 string                 `json:"id"`
	Title              string                 `json:"title"`
	Description        string                 `json:"description"`
	Status             IncidentStatus         `json:"status"`
	Severity           Severity               `json:"severity"`
	AffectedService    string                 `json:"affectedService"`
	AffectedComponents []string               `json:"affectedComponents"`
	DetectedAt         time.Time              `json:"detectedAt"`
	ResolvedAt         *time.Time             `json:"resolvedAt,omitempty"`
	MetricsSnapshot    map[string]float64     `json:"metricsSnapshot"`
	Context            map[string]interface{} `json:"context"`
	Fingerprint        string                 `json:"fingerprint"`
	DuplicateCount     int                    `json:"duplicateCount"`
	LastDuplicateAt    *time.Time             `json:"lastDuplicateAt,omitempty"`
}

// IncidentEvent is an auxiliary trail row recording a status transition.
type IncidentEvent struct {
	IncidentID string         `json:"incidentId"`
	Status     IncidentStatus `json:"status"`
	Actor      string         `json:"actor"`
	Reason     string         `json:"reason"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Evidence is one supporting observation attached to a hypothesis.
type Evidence struct {
	SignalType  string  `json:"signalType"`
	SignalName  string  `json:"signalName"`
	Observation string  `json:"observation"`
	Relevance   float64 `json:"relevance"`
}

// Hypothesis is a candidate root-cause explanation. Ranks within an incident
// are dense 1..N in descending confidence order.
type Hypothesis struct {
	ID                string     `json:"id"`
	IncidentID        string     `json:"incidentId"`
	Description       string     `json:"description"`
	Category          string     `json:"category"`
	ConfidenceScore   float64    `json:"confidenceScore"` // [0.01, 0.99]
	Rank              int        `json:"rank"`
	Evidence          []Evidence `json:"evidence"`
	Reasoning         string     `json:"reasoning"`
	ModelID           string     `json:"modelId"`
	PromptTokens      int        `json:"promptTokens"`
	CompletionTokens  int        `json:"completionTokens"`
	SupportingSignals []string   `json:"supportingSignals"`
}

// RiskLevel bins a numeric risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// ActionStatus is the remediation action state machine: pending_approval ->
// approved -> executing -> {succeeded, failed, rolled_back}; skipped is
// allowed when rollback does not apply.
type ActionStatus string

const (
	ActionPendingApproval ActionStatus = "pending_approval"
	ActionApproved        ActionStatus = "approved"
	ActionExecuting       ActionStatus = "executing"
	ActionSucceeded       ActionStatus = "succeeded"
	ActionFailed          ActionStatus = "failed"
	ActionRolledBack      ActionStatus = "rolled_back"
	ActionSkipped         ActionStatus = "skipped"
)

var actionNext = map[ActionStatus][]ActionStatus{
	ActionPendingApproval: {ActionApproved, ActionSkipped},
	ActionApproved:        {ActionExecuting, ActionSkipped},
	ActionExecuting:       {ActionSucceeded, ActionFailed, ActionRolledBack},
}

// CanTransition reports whether the action state machine allows s -> next.
func (s ActionStatus) CanTransition(next ActionStatus) bool {
	for _, n := range actionNext[s] {
		if n == next {
			return true
		}
	}
	return false
}

// ExecutionMode selects live execution versus dry-run simulation.
type ExecutionMode string

const (
	ModeDryRun ExecutionMode = "dry_run"
	ModeLive   ExecutionMode = "live"
)

// Action is a runbook-approved remediation bound to an incident.
type Action struct {
	ID               string                 `json:"id"`
	IncidentID       string                 `json:"incidentId"`
	Type             string                 `json:"type"`
	Name             string                 `json:"name"`
	Description      string                 `json:"description"`
	TargetService    string                 `json:"targetService"`
	TargetResource   string                 `json:"targetResource,omitempty"`
	RiskLevel        RiskLevel              `json:"riskLevel"`
	RiskScore        float64                `json:"riskScore"`
	BlastRadius      RiskLevel              `json:"blastRadius"`
	RequiresApproval bool                   `json:"requiresApproval"`
	Parameters       map[string]interface{} `json:"parameters"`
	ExecutionMode    ExecutionMode          `json:"executionMode"`
	Status           ActionStatus           `json:"status"`
	CreatedAt        time.Time              `json:"createdAt"`
}

// IncidentPattern is the learning row keyed by "{service}:{category}".
// Invariant: SuccessRate = successes / OccurrenceCount after every update.
type IncidentPattern struct {
	PatternID            string    `json:"patternId"`
	Name                 string    `json:"name"`
	Category             string    `json:"category"`
	SignalIndicators     []string  `json:"signalIndicators"`
	ConfidenceAdjustment float64   `json:"confidenceAdjustment"` // [-0.5, 0.5]
	OccurrenceCount      int       `json:"occurrenceCount"`
	SuccessRate          float64   `json:"successRate"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// ConfidenceOutcomeRecord is appended per incident outcome for calibration.
type ConfidenceOutcomeRecord struct {
	IncidentID              string             `json:"incidentId"`
	ServiceName             string             `json:"serviceName"`
	HypothesisCategory      string             `json:"hypothesisCategory"`
	ConfidenceScore         float64            `json:"confidenceScore"`
	ActionType              string             `json:"actionType"`
	ActionExecuted          bool               `json:"actionExecuted"`
	OutcomeSuccess          bool               `json:"outcomeSuccess"`
	OutcomeStatus           string             `json:"outcomeStatus"`
	VerificationMetrics     map[string]float64 `json:"verificationMetrics"`
	TimeToResolutionSeconds *float64           `json:"timeToResolutionSeconds,omitempty"`
	CreatedAt               time.Time          `json:"createdAt"`
}
