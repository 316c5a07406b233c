// Package models holds the shared data model for the incident pipeline.
package models

import "time"

// MetricPoint is a single sample from the metric backend.
type MetricPoint struct {
	Timestamp float64 `json:"timestamp"` // unix seconds
	Value     float64 `json:"value"`
}

// MetricSeries is an ordered sequence of points for one metric. Points are
// ordered by timestamp, strictly monotonic. Lifetime is bound to a single
// query.
type MetricSeries struct {
	MetricName string            `json:"metricName"`
	Labels     map[string]string `json:"labels"`
	Points     []MetricPoint     `json:"points"`
}

// Anomaly is a statistically unlikely observation produced by the detector.
// Immutable after creation.
type Anomaly struct {
	MetricName     string            `json:"metricName"`
	IsAnomaly      bool              `json:"isAnomaly"`
	CurrentValue   float64           `json:"currentValue"`
	ExpectedValue  float64           `json:"expectedValue"`
	DeviationSigma float64           `json:"deviationSigma"`
	Confidence     float64           `json:"confidence"`
	Category       string            `json:"category"`
	Timestamp      time.Time         `json:"timestamp"`
	Labels         map[string]string `json:"labels"`
}

// SignalType enumerates the unified observability event kinds.
type SignalType string

const (
	SignalMetric SignalType = "metric"
	SignalLog    SignalType = "log"
	SignalTrace  SignalType = "trace"
	SignalEvent  SignalType = "event"
)

// Signal is a unified observability event with an anomaly score in [0,1].
type Signal struct {
	Type         SignalType        `json:"type"`
	Source       string            `json:"source"`
	Name         string            `json:"name"`
	Value        float64           `json:"value"`
	Timestamp    time.Time         `json:"timestamp"`
	Labels       map[string]string `json:"labels"`
	AnomalyScore float64           `json:"anomalyScore"`
}

// Service returns the service label, falling back to "app" then "unknown".
func (s Signal) Service() string {
	if v := s.Labels["service"]; v != "" {
		return v
	}
	if v := s.Labels["app"]; v != "" {
		return v
	}
	return "unknown"
}

// IncidentCandidate is a correlated group of signals proposed as one incident.
type IncidentCandidate struct {
	Service       string   `json:"service"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	SeverityScore float64  `json:"severityScore"`
	Signals       []Signal `json:"signals"`
	Confidence    float64  `json:"confidence"`
}
