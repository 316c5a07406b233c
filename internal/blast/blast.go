// Package blast estimates the user-visible impact of an incident from fan-out,
// traffic and criticality, and converts it into remediation urgency.
package blast

import (
	"context"
	"math"
	"time"

	"github.com/sentinelops/remedy-core/internal/config"
	"github.com/sentinelops/remedy-core/internal/metrics"
	"github.com/sentinelops/remedy-core/internal/models"
	"github.com/sentinelops/remedy-core/internal/topology"
	"github.com/sentinelops/remedy-core/pkg/logger"
)

// defaultRPS stands in when the metrics backend cannot answer. Non-zero so a
// blind spot never reads as "no traffic, no impact".
const defaultRPS = 10.0

// elevatedErrorRate is the 5xx rps above which a downstream service counts as
// affected by error propagation.
const elevatedErrorRate = 0.05

// Radius summarises the estimated impact of one incident.
type Radius struct {
	Service               string    `json:"service"`
	Level                 string    `json:"level"` // minimal..critical
	Score                 float64   `json:"score"` // [0,1]
	AffectedServicesCount int       `json:"affectedServicesCount"`
	DownstreamServices    []string  `json:"downstreamServices"`
	RequestVolumePerSec   float64   `json:"requestVolumePerSecond"`
	ErrorPropagationPct   float64   `json:"errorPropagationPct"`
	EstimatedUsers        float64   `json:"estimatedUsersImpacted"`
	RevenueImpactPerHour  float64   `json:"revenueImpactPerHour"`
	UrgencyMultiplier     float64   `json:"urgencyMultiplier"` // [1,5]
	AssessedAt            time.Time `json:"assessedAt"`
}

// Assessor computes blast radius assessments from the dependency graph and
// live traffic.
type Assessor struct {
	graph   *topology.Graph
	metrics metrics.Client
	cfg     config.BlastConfig
	logger  logger.Logger
}

// New creates an assessor. The metrics client may be nil in tests; request
// rate then falls back to the default and error propagation reads as zero.
func New(graph *topology.Graph, mc metrics.Client, cfg config.BlastConfig, log logger.Logger) *Assessor {
	if cfg.UsersPerRPS <= 0 {
		cfg.UsersPerRPS = 10.0
	}
	if cfg.RevenuePerUserHour <= 0 {
		cfg.RevenuePerUserHour = 0.05
	}
	return &Assessor{graph: graph, metrics: mc, cfg: cfg, logger: log}
}

// Assess scores the incident's blast radius. Component weights: downstream
// fan-out 30%, request volume 25%, error propagation 25%, criticality 20%;
// fan-out normalised by /10 and volume by /100.
func (a *Assessor) Assess(ctx context.Context, service string) Radius {
	downstream := a.graph.Downstream(service)

	rps := a.requestRate(ctx, service)
	errProp := a.errorPropagation(ctx, downstream)
	crit := a.graph.CriticalityScore(service)

	score := math.Min(1, float64(len(downstream))/10)*0.30 +
		math.Min(1, rps/100)*0.25 +
		errProp*0.25 +
		crit*0.20

	lvl := level(score)
	users := rps * a.cfg.UsersPerRPS
	return Radius{
		Service:               service,
		Level:                 lvl,
		Score:                 score,
		AffectedServicesCount: len(downstream) + 1,
		DownstreamServices:    downstream,
		RequestVolumePerSec:   rps,
		ErrorPropagationPct:   errProp * 100,
		EstimatedUsers:        users,
		RevenueImpactPerHour:  users * a.cfg.RevenuePerUserHour,
		UrgencyMultiplier:     urgency(lvl, score),
		AssessedAt:            time.Now().UTC(),
	}
}

func (a *Assessor) requestRate(ctx context.Context, service string) float64 {
	if a.metrics == nil {
		return defaultRPS
	}
	rps, err := a.metrics.RequestRate(ctx, service)
	if err != nil {
		a.logger.Warn("request rate unavailable, using default",
			"service", service, "default_rps", defaultRPS, "error", err)
		return defaultRPS
	}
	return rps
}

// errorPropagation is the fraction of downstream services currently showing an
// elevated 5xx rate.
func (a *Assessor) errorPropagation(ctx context.Context, downstream []string) float64 {
	if a.metrics == nil || len(downstream) == 0 {
		return 0
	}
	elevated := 0
	for _, svc := range downstream {
		health, err := a.metrics.HealthMetrics(ctx, svc, time.Now())
		if err != nil {
			a.logger.Warn("downstream health unavailable", "service", svc, "error", err)
			continue
		}
		if health["error_rate"] > elevatedErrorRate {
			elevated++
		}
	}
	return float64(elevated) / float64(len(downstream))
}

func level(score float64) string {
	switch {
	case score >= 0.8:
		return "critical"
	case score >= 0.6:
		return "high"
	case score >= 0.4:
		return "medium"
	case score >= 0.2:
		return "low"
	default:
		return "minimal"
	}
}

// urgency starts from a per-level base and nudges upward by score.
func urgency(lvl string, score float64) float64 {
	var base float64
	switch lvl {
	case "critical":
		base = 5.0
	case "high":
		base = 3.5
	case "medium":
		base = 2.5
	case "low":
		base = 1.5
	default:
		base = 1.0
	}
	u := base + score*0.5
	if u > 5 {
		u = 5
	}
	if u < 1 {
		u = 1
	}
	return u
}

// Decision grades how fast remediation should move.
type Decision string

const (
	ActNow     Decision = "act_immediately"
	ActSoon    Decision = "act_soon"
	ObserveFor Decision = "observe"
)

// ShouldActImmediately converts a radius and hypothesis confidence into a
// scheduling decision.
func ShouldActImmediately(r Radius, confidence float64) Decision {
	switch {
	case r.Level == "critical":
		return ActNow
	case r.Level == "high" && confidence >= 0.7:
		return ActNow
	case r.Level == "medium" && confidence >= 0.8:
		return ActSoon
	default:
		return ObserveFor
	}
}

// BlastLevel converts the level string onto the shared risk scale for action
// records.
func (r Radius) BlastLevel() models.RiskLevel {
	switch r.Level {
	case "critical":
		return models.RiskCritical
	case "high":
		return models.RiskHigh
	case "medium":
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}
