// Package detect implements sliding-window z-score anomaly detection over a
// metric series.
package detect

import (
	"math"
	"strings"
	"time"

	"github.com/sentinelops/remedy-core/internal/models"
	"github.com/sentinelops/remedy-core/pkg/logger"
)

// DefaultSigmaThreshold is the z-score beyond which a point is anomalous.
const DefaultSigmaThreshold = 3.0

// minPoints is the smallest series the detector will consider: at least two
// baseline points plus the point under test.
const minPoints = 3

// Detector flags statistically unlikely observations against the recent
// baseline of their own series.
type Detector struct {
	SigmaThreshold float64
	logger         logger.Logger
}

// New creates a detector. A non-positive threshold falls back to the default.
func New(sigmaThreshold float64, log logger.Logger) *Detector {
	if sigmaThreshold <= 0 {
		sigmaThreshold = DefaultSigmaThreshold
	}
	return &Detector{SigmaThreshold: sigmaThreshold, logger: log}
}

// Detect evaluates the most recent point of the series against the baseline
// formed by all preceding points. Insufficient data yields an empty result,
// not an error.
func (d *Detector) Detect(series models.MetricSeries) []models.Anomaly {
	if len(series.Points) < minPoints {
		return nil
	}

	baseline := series.Points[:len(series.Points)-1]
	last := series.Points[len(series.Points)-1]

	if !isFinite(last.Value) {
		d.logger.Warn("rejecting non-finite observation",
			"metric", series.MetricName, "value", last.Value)
		return nil
	}

	mean, stddev, ok := baselineStats(baseline)
	if !ok {
		d.logger.Warn("rejecting series with non-finite baseline", "metric", series.MetricName)
		return nil
	}

	var z float64
	if stddev > 0 {
		z = math.Abs(last.Value-mean) / stddev
	} else {
		// Flat baseline: scale-normalised divergence keeps flat series
		// quiet but still flags order-of-magnitude shifts.
		scale := math.Max(math.Max(math.Abs(mean), math.Abs(last.Value)), 1)
		z = 10 * math.Abs(last.Value-mean) / scale
	}

	isAnomaly := z > d.SigmaThreshold

	var confidence float64
	if isAnomaly {
		confidence = math.Min(0.99, 0.5+(z-d.SigmaThreshold)/10)
	} else {
		confidence = math.Min(0.4, 0.4*z/d.SigmaThreshold)
	}

	anomaly := models.Anomaly{
		MetricName:     series.MetricName,
		IsAnomaly:      isAnomaly,
		CurrentValue:   last.Value,
		ExpectedValue:  mean,
		DeviationSigma: z,
		Confidence:     confidence,
		Category:       Categorize(series.MetricName, last.Value, mean),
		Timestamp:      time.Unix(int64(last.Timestamp), 0).UTC(),
		Labels:         series.Labels,
	}
	if !isAnomaly {
		return nil
	}
	return []models.Anomaly{anomaly}
}

// DetectAll runs Detect across a batch of series and returns the anomalies.
func (d *Detector) DetectAll(series []models.MetricSeries) []models.Anomaly {
	var out []models.Anomaly
	for _, s := range series {
		out = append(out, d.Detect(s)...)
	}
	return out
}

// Categorize labels an anomaly by keywords in the metric name.
func Categorize(metricName string, current, expected float64) string {
	name := strings.ToLower(metricName)
	switch {
	case strings.Contains(name, "error"):
		if current < expected {
			return "error_recovery"
		}
		return "error_spike"
	case strings.Contains(name, "latency"), strings.Contains(name, "duration"):
		return "latency_spike"
	case strings.Contains(name, "memory"), strings.Contains(name, "heap"):
		return "memory_leak"
	case strings.Contains(name, "cpu"):
		return "cpu_spike"
	case strings.Contains(name, "request"), strings.Contains(name, "throughput"):
		if current < expected {
			return "traffic_drop"
		}
		return "traffic_spike"
	default:
		return "metric_anomaly"
	}
}

// baselineStats returns mean and population standard deviation of the
// baseline window. ok is false when any value is non-finite.
func baselineStats(points []models.MetricPoint) (mean, stddev float64, ok bool) {
	var sum float64
	for _, p := range points {
		if !isFinite(p.Value) {
			return 0, 0, false
		}
		sum += p.Value
	}
	mean = sum / float64(len(points))

	var variance float64
	for _, p := range points {
		d := p.Value - mean
		variance += d * d
	}
	variance /= float64(len(points))
	return mean, math.Sqrt(variance), true
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
