package action

import (
	"math"
	"testing"

	"github.com/sentinelops/remedy-core/internal/models"
)

func candidate(typ string, risk float64, blast models.RiskLevel) *models.Action {
	return &models.Action{Type: typ, RiskScore: risk, BlastRadius: blast}
}

// TestRank_SafestFirst: ascending adjusted risk ordering.
func TestRank_SafestFirst(t *testing.T) {
	in := []*models.Action{
		candidate(TypeRollbackDeployment, 0.75, models.RiskHigh),
		candidate(TypeScaleUp, 0.20, models.RiskLow),
		candidate(TypeRestartPod, 0.50, models.RiskMedium),
	}

	out := Rank(in, models.RiskMedium, 0)
	if len(out) != 3 {
		t.Fatalf("want 3 ranked actions, got %d", len(out))
	}
	wantOrder := []string{TypeScaleUp, TypeRestartPod, TypeRollbackDeployment}
	for i, w := range wantOrder {
		if out[i].Action.Type != w {
			t.Errorf("position %d: want %s, got %s", i, w, out[i].Action.Type)
		}
	}
}

// TestRank_CriticalityMultiplier: a critical service inflates risk 1.5x.
func TestRank_CriticalityMultiplier(t *testing.T) {
	in := []*models.Action{candidate(TypeRestartPod, 0.50, models.RiskMedium)}

	normal := Rank(in, models.RiskMedium, 0)
	critical := Rank(in, models.RiskCritical, 0)
	if math.Abs(normal[0].AdjustedRisk-0.50) > 1e-9 {
		t.Errorf("medium criticality: want 0.50, got %.4f", normal[0].AdjustedRisk)
	}
	if math.Abs(critical[0].AdjustedRisk-0.75) > 1e-9 {
		t.Errorf("critical criticality: want 0.75, got %.4f", critical[0].AdjustedRisk)
	}
}

// TestRank_DowntimeDiscount: ongoing downtime lowers adjusted risk, capped at
// 0.3.
func TestRank_DowntimeDiscount(t *testing.T) {
	in := []*models.Action{candidate(TypeRestartPod, 0.50, models.RiskMedium)}

	fourMinutes := Rank(in, models.RiskMedium, 4)
	if math.Abs(fourMinutes[0].AdjustedRisk-0.30) > 1e-9 {
		t.Errorf("4 minute discount: want 0.30, got %.4f", fourMinutes[0].AdjustedRisk)
	}

	// Beyond 6 minutes the discount caps at 0.3.
	longOutage := Rank(in, models.RiskMedium, 120)
	if math.Abs(longOutage[0].AdjustedRisk-0.20) > 1e-9 {
		t.Errorf("capped discount: want 0.20, got %.4f", longOutage[0].AdjustedRisk)
	}
}

// TestRank_NeverNegative: the discount cannot drive risk below zero.
func TestRank_NeverNegative(t *testing.T) {
	in := []*models.Action{candidate(TypeScaleUp, 0.10, models.RiskLow)}
	out := Rank(in, models.RiskLow, 120)
	if out[0].AdjustedRisk < 0 {
		t.Errorf("adjusted risk went negative: %.4f", out[0].AdjustedRisk)
	}
}

// TestRank_CostEnvelope: cost derives from the profile downtime and the blast
// multiplier.
func TestRank_CostEnvelope(t *testing.T) {
	in := []*models.Action{candidate(TypeRestartPod, 0.50, models.RiskMedium)}
	out := Rank(in, models.RiskMedium, 0)

	// restart: expected 30s at $5/min with 1.5x medium blast = 3.75
	if math.Abs(out[0].ExpectedCost-3.75) > 1e-9 {
		t.Errorf("expected cost: want 3.75, got %.4f", out[0].ExpectedCost)
	}
	// worst: (180 + 60)s at $5/min with 1.5x = 30
	if math.Abs(out[0].WorstCost-30) > 1e-9 {
		t.Errorf("worst cost: want 30, got %.4f", out[0].WorstCost)
	}
}

func TestPickBest(t *testing.T) {
	ranked := Rank([]*models.Action{
		candidate(TypeScaleUp, 0.20, models.RiskLow),
		candidate(TypeRestartPod, 0.50, models.RiskMedium),
	}, models.RiskMedium, 0)

	if best := PickBest(ranked, 0.85, 0.70); best == nil || best.Action.Type != TypeScaleUp {
		t.Errorf("expected scale_up as best, got %+v", best)
	}
	if best := PickBest(ranked, 0.50, 0.70); best != nil {
		t.Error("confidence below floor must yield nil")
	}
	if best := PickBest(ranked, 0.50, 0); best == nil {
		t.Error("zero floor disables the confidence check")
	}
	if best := PickBest(nil, 0.9, 0.7); best != nil {
		t.Error("empty candidate list must yield nil")
	}
}
