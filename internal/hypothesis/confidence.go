package hypothesis

import (
	"math"
	"sort"

	"github.com/sentinelops/remedy-core/internal/models"
	"github.com/sentinelops/remedy-core/internal/topology"
)

// Confidence bounds. Scores never reach 0 or 1: the engine is always at least
// slightly uncertain.
const (
	minConfidence = 0.01
	maxConfidence = 0.99
)

// baseConfidence anchors each hypothesis category at a prior reflecting how
// often that diagnosis proves correct in practice.
var baseConfidence = map[string]float64{
	"memory_leak":      0.70,
	"cpu_spike":        0.75,
	"traffic_spike":    0.80,
	"latency_spike":    0.65,
	"error_spike":      0.85,
	"database_issue":   0.60,
	"network_issue":    0.55,
	"deployment_issue": 0.80,
}

const defaultBase = 0.50

// Score computes the deterministic confidence for one hypothesis. The model
// proposes explanations; it never assigns its own confidence.
func Score(h models.Hypothesis, anomalies []models.Anomaly, graph *topology.Graph, affectedService, causeService string) float64 {
	base, ok := baseConfidence[h.Category]
	if !ok {
		base = defaultBase
	}

	score := 0.4*base + 0.35*evidenceScore(h.Evidence) + 0.25*anomalyScore(anomalies)

	if graph != nil && causeService != "" {
		score += graph.DependencyBoost(affectedService, causeService)
	}

	return clamp(score, minConfidence, maxConfidence)
}

// evidenceScore rewards relevant, diverse, plentiful evidence. No evidence
// scores zero.
func evidenceScore(evidence []models.Evidence) float64 {
	if len(evidence) == 0 {
		return 0
	}

	var relSum float64
	types := make(map[string]bool)
	for _, e := range evidence {
		relSum += clamp(e.Relevance, 0, 1)
		types[e.SignalType] = true
	}
	avgRel := relSum / float64(len(evidence))

	typeBonus := math.Min(0.15, 0.05*float64(len(types)))
	countBonus := math.Min(0.10, 0.03*float64(len(evidence)))
	return avgRel*0.6 + typeBonus + countBonus
}

// anomalyScore blends the detector's own confidence with deviation magnitude.
func anomalyScore(anomalies []models.Anomaly) float64 {
	if len(anomalies) == 0 {
		return 0
	}

	var confSum, maxSigma float64
	for _, a := range anomalies {
		confSum += a.Confidence
		if a.DeviationSigma > maxSigma {
			maxSigma = a.DeviationSigma
		}
	}
	avgConf := confSum / float64(len(anomalies))
	sigmaTerm := math.Min(1, maxSigma/6)
	return avgConf*0.7 + sigmaTerm*0.3
}

// RankAll sorts hypotheses by confidence descending and assigns dense ranks
// starting at 1. Equal confidences share a rank.
func RankAll(hs []models.Hypothesis) {
	sort.SliceStable(hs, func(i, j int) bool {
		return hs[i].ConfidenceScore > hs[j].ConfidenceScore
	})
	rank := 0
	prev := math.Inf(1)
	for i := range hs {
		if hs[i].ConfidenceScore < prev {
			rank++
			prev = hs[i].ConfidenceScore
		}
		hs[i].Rank = rank
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
