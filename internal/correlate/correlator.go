// Package correlate fuses metric, log, trace and event signals within a time
// window into incident candidates.
package correlate

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sentinelops/remedy-core/internal/models"
	"github.com/sentinelops/remedy-core/pkg/logger"
)

const (
	// DefaultWindow bounds how far apart signals may be and still correlate.
	DefaultWindow = 5 * time.Minute
	// DefaultMinSignals is the smallest group worth emitting.
	DefaultMinSignals = 2
	// minConfidence filters weak candidates from the output.
	minConfidence = 0.6
	// maxDiversityBonus caps the reward for mixed signal types.
	maxDiversityBonus = 0.3
)

// defaultTypeWeights weight each signal type's anomaly score.
var defaultTypeWeights = map[models.SignalType]float64{
	models.SignalMetric: 0.4,
	models.SignalLog:    0.3,
	models.SignalTrace:  0.3,
	models.SignalEvent:  0.2,
}

// Correlator partitions signals per service into time windows and scores each
// window as a candidate incident.
type Correlator struct {
	Window      time.Duration
	MinSignals  int
	TypeWeights map[models.SignalType]float64
	logger      logger.Logger
}

// New creates a correlator with defaults filled in.
func New(window time.Duration, minSignals int, log logger.Logger) *Correlator {
	if window <= 0 {
		window = DefaultWindow
	}
	if minSignals < DefaultMinSignals {
		minSignals = DefaultMinSignals
	}
	return &Correlator{
		Window:      window,
		MinSignals:  minSignals,
		TypeWeights: defaultTypeWeights,
		logger:      log,
	}
}

// Correlate groups the signals by service, partitions each group into
// windows, and emits candidates sorted by confidence descending. A non-empty
// serviceFilter restricts the output to one service.
func (c *Correlator) Correlate(signals []models.Signal, serviceFilter string) []models.IncidentCandidate {
	byService := make(map[string][]models.Signal)
	for _, s := range signals {
		svc := s.Service()
		if serviceFilter != "" && svc != serviceFilter {
			continue
		}
		byService[svc] = append(byService[svc], s)
	}

	services := make([]string, 0, len(byService))
	for svc := range byService {
		services = append(services, svc)
	}
	sort.Strings(services)

	var out []models.IncidentCandidate
	for _, svc := range services {
		group := byService[svc]
		sort.Slice(group, func(i, j int) bool {
			return group[i].Timestamp.Before(group[j].Timestamp)
		})

		for _, window := range c.partition(group) {
			if cand, ok := c.score(svc, window); ok {
				out = append(out, cand)
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

// partition splits a timestamp-sorted signal list into windows: a new window
// opens when the next signal is more than Window after the window's first.
func (c *Correlator) partition(signals []models.Signal) [][]models.Signal {
	var windows [][]models.Signal
	var cur []models.Signal
	for _, s := range signals {
		if len(cur) > 0 && s.Timestamp.Sub(cur[0].Timestamp) > c.Window {
			windows = append(windows, cur)
			cur = nil
		}
		cur = append(cur, s)
	}
	if len(cur) > 0 {
		windows = append(windows, cur)
	}
	return windows
}

// score evaluates one window. Windows below the minimum signal count or with
// fewer than two distinct types are discarded.
func (c *Correlator) score(service string, window []models.Signal) (models.IncidentCandidate, bool) {
	if len(window) < c.MinSignals {
		return models.IncidentCandidate{}, false
	}

	types := make(map[models.SignalType]bool)
	for _, s := range window {
		types[s.Type] = true
	}
	if len(types) < 2 {
		return models.IncidentCandidate{}, false
	}

	var weightedSum, weightTotal, scoreSum, maxScore float64
	for _, s := range window {
		w, ok := c.TypeWeights[s.Type]
		if !ok {
			w = 0.2
		}
		weightedSum += s.AnomalyScore * w
		weightTotal += w
		scoreSum += s.AnomalyScore
		if s.AnomalyScore > maxScore {
			maxScore = s.AnomalyScore
		}
	}

	diversityBonus := math.Min(maxDiversityBonus, 0.1*float64(len(types)))
	confidence := math.Min(1.0, weightedSum/weightTotal+diversityBonus)
	if confidence < minConfidence {
		return models.IncidentCandidate{}, false
	}

	meanScore := scoreSum / float64(len(window))
	severity := (maxScore + meanScore) / 2

	cand := models.IncidentCandidate{
		Service: service,
		Title:   fmt.Sprintf("Correlated anomaly on %s", service),
		Description: fmt.Sprintf("%d signals across %d types within %s",
			len(window), len(types), c.Window),
		SeverityScore: severity,
		Signals:       window,
		Confidence:    confidence,
	}
	return cand, true
}
