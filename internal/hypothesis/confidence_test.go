package hypothesis

import (
	"math"
	"testing"

	"github.com/sentinelops/remedy-core/internal/models"
	"github.com/sentinelops/remedy-core/internal/topology"
)

func scoringGraph() *topology.Graph {
	return topology.NewGraph([]topology.Service{
		{Name: "checkout", DependsOn: []string{"payment"}, Criticality: topology.CriticalityCritical},
		{Name: "payment", DependsOn: []string{"postgres"}, Criticality: topology.CriticalityCritical},
	})
}

func strongEvidence() []models.Evidence {
	return []models.Evidence{
		{SignalType: "metric", SignalName: "error_rate", Observation: "5xx up 40x", Relevance: 0.9},
		{SignalType: "log", SignalName: "oom", Observation: "OOMKilled events", Relevance: 0.8},
	}
}

func strongAnomalies() []models.Anomaly {
	return []models.Anomaly{
		{MetricName: "error_rate", DeviationSigma: 8.0, Confidence: 0.9, IsAnomaly: true},
	}
}

// TestScore_Deterministic: same inputs, same score, every time.
func TestScore_Deterministic(t *testing.T) {
	g := scoringGraph()
	h := models.Hypothesis{Category: "memory_leak", Evidence: strongEvidence()}

	first := Score(h, strongAnomalies(), g, "checkout", "payment")
	for i := 0; i < 5; i++ {
		if got := Score(h, strongAnomalies(), g, "checkout", "payment"); got != first {
			t.Fatalf("score not reproducible: %.6f then %.6f", first, got)
		}
	}
}

// TestScore_HandComputed verifies the blend against a worked example.
func TestScore_HandComputed(t *testing.T) {
	h := models.Hypothesis{Category: "error_spike", Evidence: strongEvidence()}

	// evidence: avgRel 0.85*0.6 + type bonus 0.10 + count bonus 0.06 = 0.67
	// anomaly: 0.9*0.7 + 1.0*0.3 = 0.93 (sigma 8 saturates the /6 term)
	want := 0.4*0.85 + 0.35*0.67 + 0.25*0.93
	got := Score(h, strongAnomalies(), nil, "checkout", "")
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("score: want %.6f, got %.6f", want, got)
	}
}

func TestScore_Clamped(t *testing.T) {
	// Unknown category, no evidence, no anomalies still floors at 0.01.
	h := models.Hypothesis{Category: "unheard_of"}
	got := Score(h, nil, nil, "checkout", "")
	if got < 0.01 || got > 0.99 {
		t.Errorf("score out of bounds: %.4f", got)
	}

	// Downstream penalty cannot push below the floor.
	g := scoringGraph()
	low := Score(models.Hypothesis{Category: "network_issue"}, nil, g, "payment", "checkout")
	if low < 0.01 {
		t.Errorf("floor violated: %.4f", low)
	}
}

// TestScore_TopologyBoost: an upstream cause scores higher than an unrelated
// one, all else equal.
func TestScore_TopologyBoost(t *testing.T) {
	g := scoringGraph()
	h := models.Hypothesis{Category: "database_issue", Evidence: strongEvidence()}

	upstream := Score(h, strongAnomalies(), g, "checkout", "payment")
	unrelated := Score(h, strongAnomalies(), g, "checkout", "")
	if upstream <= unrelated {
		t.Errorf("upstream cause should score higher: %.4f vs %.4f", upstream, unrelated)
	}
	if math.Abs((upstream-unrelated)-0.15) > 1e-9 {
		t.Errorf("direct upstream boost: want 0.15, got %.4f", upstream-unrelated)
	}
}

func TestScore_BasePriors(t *testing.T) {
	// With no evidence or anomalies the score is 0.4*base, so category priors
	// order the outcomes.
	order := []string{"error_spike", "traffic_spike", "cpu_spike", "memory_leak",
		"latency_spike", "database_issue", "network_issue"}
	prev := 1.0
	for _, cat := range order {
		got := Score(models.Hypothesis{Category: cat}, nil, nil, "svc", "")
		if got > prev {
			t.Errorf("category %s broke prior ordering: %.4f > %.4f", cat, got, prev)
		}
		prev = got
	}
}

func TestEvidenceScore_Empty(t *testing.T) {
	if got := evidenceScore(nil); got != 0 {
		t.Errorf("empty evidence: want 0, got %.4f", got)
	}
}

// TestRankAll_DenseRanks: equal confidences share a rank and the next
// distinct value takes the following integer.
func TestRankAll_DenseRanks(t *testing.T) {
	hs := []models.Hypothesis{
		{Description: "b", ConfidenceScore: 0.70},
		{Description: "a", ConfidenceScore: 0.90},
		{Description: "c", ConfidenceScore: 0.70},
		{Description: "d", ConfidenceScore: 0.40},
	}
	RankAll(hs)

	if hs[0].Description != "a" || hs[0].Rank != 1 {
		t.Errorf("top: want a rank 1, got %s rank %d", hs[0].Description, hs[0].Rank)
	}
	if hs[1].Rank != 2 || hs[2].Rank != 2 {
		t.Errorf("ties: want shared rank 2, got %d and %d", hs[1].Rank, hs[2].Rank)
	}
	if hs[3].Rank != 3 {
		t.Errorf("dense rank after tie: want 3, got %d", hs[3].Rank)
	}
}
