package action

import (
	"sort"

	"github.com/sentinelops/remedy-core/internal/models"
)

// criticality multipliers for adjusted risk.
var criticalityMult = map[models.RiskLevel]float64{
	models.RiskLow:      0.8,
	models.RiskMedium:   1.0,
	models.RiskHigh:     1.2,
	models.RiskCritical: 1.5,
}

// blastMult scales expected cost by blast radius.
var blastMult = map[models.RiskLevel]float64{
	models.RiskLow:      1.0,
	models.RiskMedium:   1.5,
	models.RiskHigh:     2.5,
	models.RiskCritical: 4.0,
}

// RankedAction is an action annotated with its urgency-adjusted risk and cost
// envelope.
type RankedAction struct {
	Action       *models.Action
	AdjustedRisk float64
	ExpectedCost float64
	WorstCost    float64
}

// Rank computes adjusted risk for each candidate and sorts ascending, so the
// safest viable option comes first. Ongoing downtime discounts risk: the
// longer users are already hurting, the more a risky fix is worth taking.
func Rank(candidates []*models.Action, serviceCriticality models.RiskLevel, downtimeMinutes float64) []RankedAction {
	mult, ok := criticalityMult[serviceCriticality]
	if !ok {
		mult = 1.0
	}
	discount := downtimeMinutes / 20
	if discount > 0.3 {
		discount = 0.3
	}

	out := make([]RankedAction, 0, len(candidates))
	for _, a := range candidates {
		adjusted := a.RiskScore*mult - discount
		if adjusted < 0 {
			adjusted = 0
		}
		if adjusted > 1 {
			adjusted = 1
		}

		ra := RankedAction{Action: a, AdjustedRisk: adjusted}
		if profile, ok := ProfileFor(a.Type); ok {
			bm := blastMult[a.BlastRadius]
			if bm == 0 {
				bm = 1.0
			}
			ra.ExpectedCost = profile.ExpectedDowntimeSec / 60 * profile.CostPerMinute * bm
			ra.WorstCost = (profile.WorstCaseDowntimeSec + profile.RecoveryTimeSec) / 60 * profile.CostPerMinute * bm
		}
		out = append(out, ra)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AdjustedRisk < out[j].AdjustedRisk
	})
	return out
}

// PickBest returns the lowest-adjusted-risk action whose hypothesis confidence
// meets the floor. Confidence zero disables the floor.
func PickBest(ranked []RankedAction, confidence, confidenceFloor float64) *RankedAction {
	if len(ranked) == 0 {
		return nil
	}
	if confidenceFloor > 0 && confidence < confidenceFloor {
		return nil
	}
	return &ranked[0]
}
