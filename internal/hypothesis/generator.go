// Package hypothesis turns anomaly context into ranked root-cause hypotheses.
// The reasoning model proposes explanations and evidence; confidence scoring
// stays deterministic and local.
package hypothesis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/sentinelops/remedy-core/internal/llm"
	"github.com/sentinelops/remedy-core/internal/models"
	"github.com/sentinelops/remedy-core/internal/topology"
	"github.com/sentinelops/remedy-core/pkg/logger"
)

const systemPrompt = `You are an expert SRE performing root cause analysis on a microservice incident.
Given the anomalies and service context, propose between 2 and 5 distinct root-cause hypotheses.
Respond with ONLY a JSON array. Each element must have:
  "description": one-sentence explanation of the suspected root cause,
  "category": one of memory_leak, cpu_spike, traffic_spike, traffic_drop, latency_spike, error_spike, database_issue, network_issue, deployment_issue, other,
  "cause_service": the service most likely responsible,
  "reasoning": a short paragraph of supporting reasoning,
  "evidence": array of {"signal_type", "signal_name", "observation", "relevance"} with relevance in [0,1].
Do not include confidence values. Do not include any text outside the JSON array.`

// Generator drives hypothesis generation for one incident.
type Generator struct {
	llm    llm.Client
	graph  *topology.Graph
	logger logger.Logger
}

// New creates a generator. The topology graph may be nil; boosts then vanish.
func New(client llm.Client, graph *topology.Graph, log logger.Logger) *Generator {
	return &Generator{llm: client, graph: graph, logger: log}
}

// draft is the wire shape the model returns per hypothesis.
type draft struct {
	Description  string `json:"description"`
	Category     string `json:"category"`
	CauseService string `json:"cause_service"`
	Reasoning    string `json:"reasoning"`
	Evidence     []struct {
		SignalType  string  `json:"signal_type"`
		SignalName  string  `json:"signal_name"`
		Observation string  `json:"observation"`
		Relevance   float64 `json:"relevance"`
	} `json:"evidence"`
}

// Generate produces ranked hypotheses for the incident. Model output that
// cannot be parsed is an error; the caller decides whether to retry the task.
func (g *Generator) Generate(ctx context.Context, incident *models.Incident, anomalies []models.Anomaly) ([]models.Hypothesis, error) {
	resp, err := g.llm.Complete(ctx, llm.Request{
		System: systemPrompt,
		User:   buildPrompt(incident, anomalies, g.graph),
	})
	if err != nil {
		return nil, fmt.Errorf("hypothesis completion: %w", err)
	}

	block, err := llm.ExtractJSONBlock(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("hypothesis parse: %w", err)
	}

	var drafts []draft
	if err := json.Unmarshal([]byte(block), &drafts); err != nil {
		return nil, fmt.Errorf("hypothesis decode: %w", err)
	}
	if len(drafts) == 0 {
		return nil, fmt.Errorf("hypothesis decode: model returned no hypotheses")
	}

	out := make([]models.Hypothesis, 0, len(drafts))
	for _, d := range drafts {
		if strings.TrimSpace(d.Description) == "" {
			g.logger.Warn("dropping hypothesis with empty description", "incident_id", incident.ID)
			continue
		}
		h := models.Hypothesis{
			ID:               uuid.NewString(),
			IncidentID:       incident.ID,
			Description:      d.Description,
			Category:         normalizeCategory(d.Category),
			Reasoning:        d.Reasoning,
			ModelID:          resp.Model,
			PromptTokens:     resp.PromptTokens,
			CompletionTokens: resp.CompletionTokens,
		}
		for _, e := range d.Evidence {
			h.Evidence = append(h.Evidence, models.Evidence{
				SignalType:  e.SignalType,
				SignalName:  e.SignalName,
				Observation: e.Observation,
				Relevance:   e.Relevance,
			})
			h.SupportingSignals = append(h.SupportingSignals, e.SignalName)
		}
		h.ConfidenceScore = Score(h, anomalies, g.graph, incident.AffectedService, d.CauseService)
		out = append(out, h)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("hypothesis decode: no usable hypotheses")
	}

	RankAll(out)
	return out, nil
}

// buildPrompt lays out the incident, its anomalies numbered for reference, and
// the topological neighbourhood of the affected service.
func buildPrompt(incident *models.Incident, anomalies []models.Anomaly, graph *topology.Graph) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Incident: %s\n", incident.Title)
	fmt.Fprintf(&b, "Affected service: %s\n", incident.AffectedService)
	fmt.Fprintf(&b, "Severity: %s\n", incident.Severity)
	if incident.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", incident.Description)
	}

	b.WriteString("\nAnomalies:\n")
	for i, a := range anomalies {
		fmt.Fprintf(&b, "%d. metric=%s current=%.3f expected=%.3f deviation=%.1f sigma category=%s\n",
			i+1, a.MetricName, a.CurrentValue, a.ExpectedValue, a.DeviationSigma, a.Category)
	}

	if graph != nil {
		if up := graph.Upstream(incident.AffectedService); len(up) > 0 {
			fmt.Fprintf(&b, "\nDepends on: %s\n", strings.Join(up, ", "))
		}
		if down := graph.Downstream(incident.AffectedService); len(down) > 0 {
			fmt.Fprintf(&b, "Depended on by: %s\n", strings.Join(down, ", "))
		}
	}

	if len(incident.MetricsSnapshot) > 0 {
		// Stable ordering keeps identical incidents cache-friendly.
		names := make([]string, 0, len(incident.MetricsSnapshot))
		for name := range incident.MetricsSnapshot {
			names = append(names, name)
		}
		sort.Strings(names)
		b.WriteString("\nMetrics snapshot:\n")
		for _, name := range names {
			fmt.Fprintf(&b, "  %s=%.3f\n", name, incident.MetricsSnapshot[name])
		}
	}
	return b.String()
}

var knownCategories = map[string]bool{
	"memory_leak": true, "cpu_spike": true, "traffic_spike": true,
	"traffic_drop": true, "latency_spike": true, "error_spike": true,
	"database_issue": true, "network_issue": true, "deployment_issue": true,
}

func normalizeCategory(raw string) string {
	c := strings.ToLower(strings.TrimSpace(raw))
	c = strings.ReplaceAll(c, " ", "_")
	if knownCategories[c] {
		return c
	}
	return "other"
}
