package models

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Severity is the ordered alert/incident severity scale.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the ordinal position on the scale info < low < medium < high <
// critical. Unknown severities rank as medium.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return severityRank[SeverityMedium]
}

// MaxSeverity returns the higher of two severities.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Alert is a raw event from an alert source.
type Alert struct {
	Source      string            `json:"source"`
	Name        string            `json:"name"`
	Service     string            `json:"service"`
	Severity    Severity          `json:"severity"`
	Message     string            `json:"message"`
	Timestamp   time.Time         `json:"timestamp"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
}

// volatileLabels never participate in alert identity.
var volatileLabels = map[string]bool{
	"instance":   true,
	"pod":        true,
	"timestamp":  true,
	"alertstate": true,
}

// Fingerprint derives the stable identity hash of an alert from its service,
// name and non-volatile labels. Two alerts with equal fingerprints compare
// equal under deduplication.
func (a Alert) Fingerprint() string {
	keys := make([]string, 0, len(a.Labels))
	for k := range a.Labels {
		if !volatileLabels[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(a.Service)
	b.WriteByte('|')
	b.WriteString(a.Name)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(a.Labels[k])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", sum[:16])
}

// DedupedAlert is one collapsed window of identical alerts.
type DedupedAlert struct {
	Representative Alert     `json:"representative"`
	Count          int       `json:"count"`
	FirstSeen      time.Time `json:"firstSeen"`
	LastSeen       time.Time `json:"lastSeen"`
	MaxSeverity    Severity  `json:"maxSeverity"`
}
