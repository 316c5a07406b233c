// Package alerts collapses duplicate alerts within a time window and
// normalises severities from heterogeneous sources.
package alerts

import (
	"sort"
	"time"

	"github.com/sentinelops/remedy-core/internal/models"
	"github.com/sentinelops/remedy-core/pkg/logger"
)

// DefaultWindow is the deduplication window.
const DefaultWindow = 5 * time.Minute

// Deduplicator groups alerts by fingerprint and collapses each window of
// repeats into a single record.
type Deduplicator struct {
	Window time.Duration
	MaxAge time.Duration // zero disables the age cutoff
	logger logger.Logger
}

// NewDeduplicator creates a deduplicator. A non-positive window falls back to
// the default.
func NewDeduplicator(window, maxAge time.Duration, log logger.Logger) *Deduplicator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Deduplicator{Window: window, MaxAge: maxAge, logger: log}
}

// Deduplicate collapses the alert list. Within each fingerprint group, alerts
// are sorted by timestamp and a new window opens whenever the next alert is
// more than Window after the current window's first alert. Output order is
// deterministic regardless of input permutation.
func (d *Deduplicator) Deduplicate(alerts []models.Alert) []models.DedupedAlert {
	cutoff := time.Time{}
	if d.MaxAge > 0 {
		cutoff = time.Now().Add(-d.MaxAge)
	}

	groups := make(map[string][]models.Alert)
	var order []string
	for _, a := range alerts {
		if !cutoff.IsZero() && a.Timestamp.Before(cutoff) {
			continue
		}
		fp := a.Fingerprint()
		if _, seen := groups[fp]; !seen {
			order = append(order, fp)
		}
		groups[fp] = append(groups[fp], a)
	}
	sort.Strings(order)

	var out []models.DedupedAlert
	for _, fp := range order {
		group := groups[fp]
		sort.Slice(group, func(i, j int) bool {
			return group[i].Timestamp.Before(group[j].Timestamp)
		})

		var cur *models.DedupedAlert
		for _, a := range group {
			if cur == nil || a.Timestamp.Sub(cur.FirstSeen) > d.Window {
				if cur != nil {
					out = append(out, *cur)
				}
				cur = &models.DedupedAlert{
					Representative: a,
					Count:          1,
					FirstSeen:      a.Timestamp,
					LastSeen:       a.Timestamp,
					MaxSeverity:    a.Severity,
				}
				continue
			}
			cur.Count++
			cur.LastSeen = a.Timestamp
			cur.MaxSeverity = models.MaxSeverity(cur.MaxSeverity, a.Severity)
		}
		if cur != nil {
			out = append(out, *cur)
		}
	}
	return out
}
