// Package action selects, scores and ranks runbook-approved remediations.
package action

import "github.com/sentinelops/remedy-core/internal/models"

// Action types the engine knows how to execute.
const (
	TypeRestartPod         = "restart_pod"
	TypeScaleUp            = "scale_up"
	TypeScaleDown          = "scale_down"
	TypeRollbackDeployment = "rollback_deployment"
)

// RiskProfile is the static, code-resident risk record per action type.
type RiskProfile struct {
	ActionType           string
	RiskCategory         models.RiskLevel
	RiskScore            float64
	ExpectedDowntimeSec  float64
	WorstCaseDowntimeSec float64
	RecoveryTimeSec      float64
	Reversible           bool
	BlastRadius          models.RiskLevel
	CostPerMinute        float64
	Prerequisites        []string
	SideEffects          []string
}

// riskProfiles is the authoritative per-action risk table.
var riskProfiles = map[string]RiskProfile{
	TypeRestartPod: {
		ActionType:           TypeRestartPod,
		RiskCategory:         models.RiskMedium,
		RiskScore:            0.50,
		ExpectedDowntimeSec:  30,
		WorstCaseDowntimeSec: 180,
		RecoveryTimeSec:      60,
		Reversible:           false,
		BlastRadius:          models.RiskMedium,
		CostPerMinute:        5,
		Prerequisites:        []string{"replicas >= 2", "deployment healthy"},
		SideEffects:          []string{"in-flight requests on the pod are dropped", "cold caches"},
	},
	TypeScaleUp: {
		ActionType:           TypeScaleUp,
		RiskCategory:         models.RiskLow,
		RiskScore:            0.20,
		ExpectedDowntimeSec:  0,
		WorstCaseDowntimeSec: 30,
		RecoveryTimeSec:      30,
		Reversible:           true,
		BlastRadius:          models.RiskLow,
		CostPerMinute:        2,
		Prerequisites:        []string{"cluster capacity available"},
		SideEffects:          []string{"increased resource spend"},
	},
	TypeScaleDown: {
		ActionType:           TypeScaleDown,
		RiskCategory:         models.RiskMedium,
		RiskScore:            0.50,
		ExpectedDowntimeSec:  0,
		WorstCaseDowntimeSec: 60,
		RecoveryTimeSec:      30,
		Reversible:           true,
		BlastRadius:          models.RiskMedium,
		CostPerMinute:        2,
		Prerequisites:        []string{"target replicas >= 1"},
		SideEffects:          []string{"reduced headroom for traffic recovery"},
	},
	TypeRollbackDeployment: {
		ActionType:           TypeRollbackDeployment,
		RiskCategory:         models.RiskHigh,
		RiskScore:            0.75,
		ExpectedDowntimeSec:  120,
		WorstCaseDowntimeSec: 600,
		RecoveryTimeSec:      300,
		Reversible:           true,
		BlastRadius:          models.RiskHigh,
		CostPerMinute:        10,
		Prerequisites:        []string{"previous revision exists", "revision history retained"},
		SideEffects:          []string{"reverts all changes in the rolled-back revision", "possible schema drift"},
	},
}

// ProfileFor returns the risk profile for an action type.
func ProfileFor(actionType string) (RiskProfile, bool) {
	p, ok := riskProfiles[actionType]
	return p, ok
}
