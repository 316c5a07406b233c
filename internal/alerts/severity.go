package alerts

import (
	"strings"

	"github.com/sentinelops/remedy-core/internal/models"
	"github.com/sentinelops/remedy-core/pkg/logger"
)

// exact source-string mappings checked before fuzzy matching.
var severityTable = map[string]models.Severity{
	"critical":  models.SeverityCritical,
	"high":      models.SeverityHigh,
	"medium":    models.SeverityMedium,
	"moderate":  models.SeverityMedium,
	"low":       models.SeverityLow,
	"minor":     models.SeverityLow,
	"info":      models.SeverityInfo,
	"warning":   models.SeverityMedium,
	"emergency": models.SeverityCritical,
	"page":      models.SeverityHigh,
}

// NormalizeSeverity maps a raw source severity string onto the canonical
// scale. Unknown values default to medium and are logged.
func NormalizeSeverity(raw string, log logger.Logger) models.Severity {
	s := strings.ToLower(strings.TrimSpace(raw))
	if sev, ok := severityTable[s]; ok {
		return sev
	}

	switch {
	case strings.Contains(s, "crit"), strings.Contains(s, "fatal"):
		return models.SeverityCritical
	case strings.Contains(s, "urgent"), strings.Contains(s, "sev1"), strings.Contains(s, "p1"):
		return models.SeverityHigh
	case strings.Contains(s, "warn"), strings.Contains(s, "sev2"), strings.Contains(s, "p2"):
		return models.SeverityMedium
	case strings.Contains(s, "notice"), strings.Contains(s, "debug"):
		return models.SeverityInfo
	}

	if log != nil {
		log.Warn("unknown severity, defaulting to medium", "raw", raw)
	}
	return models.SeverityMedium
}
