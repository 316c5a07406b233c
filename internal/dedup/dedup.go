// Package dedup prevents duplicate incident rows with a two-layer match:
// exact fingerprint, then fuzzy text similarity. All comparisons run under
// datastore row locks so concurrent replicas cannot split-brain.
package dedup

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sentinelops/remedy-core/internal/models"
	"github.com/sentinelops/remedy-core/internal/monitoring"
	"github.com/sentinelops/remedy-core/internal/store"
	"github.com/sentinelops/remedy-core/pkg/logger"
)

const (
	// fuzzyLimit bounds how many recent incidents the fuzzy layer inspects.
	fuzzyLimit = 10
	// jaccardThreshold is the token similarity at which two descriptions
	// count as the same incident.
	jaccardThreshold = 0.7
)

// defaultLookback is the severity-aware dedup window in minutes.
var defaultLookback = map[models.Severity]int{
	models.SeverityCritical: 15,
	models.SeverityHigh:     30,
	models.SeverityMedium:   60,
	models.SeverityLow:      120,
}

// abbreviations expand before similarity comparison so "db conn pool" and
// "database connection pool" match.
var abbreviations = map[string]string{
	"db":   "database",
	"svc":  "service",
	"conn": "connection",
	"mem":  "memory",
	"k8s":  "kubernetes",
}

// Deduplicator creates or merges incidents.
type Deduplicator struct {
	store    *store.Store
	lookback map[models.Severity]int
	logger   logger.Logger
}

// New creates a deduplicator. overrides replaces lookback minutes per
// severity name; unknown names are ignored.
func New(st *store.Store, overrides map[string]int, log logger.Logger) *Deduplicator {
	lookback := make(map[models.Severity]int, len(defaultLookback))
	for sev, minutes := range defaultLookback {
		lookback[sev] = minutes
	}
	for name, minutes := range overrides {
		if minutes <= 0 {
			continue
		}
		sev := models.Severity(strings.ToLower(name))
		if _, ok := lookback[sev]; ok {
			lookback[sev] = minutes
		}
	}
	return &Deduplicator{store: st, lookback: lookback, logger: log}
}

// Fingerprint computes the stable exact-match hash for an incident.
func Fingerprint(service, description string, components []string) string {
	parts := make([]string, 0, len(components))
	for _, c := range components {
		parts = append(parts, strings.ToLower(c))
	}
	sort.Strings(parts)

	h := sha256.Sum256([]byte(strings.ToLower(service) + "|" +
		strings.ToLower(description) + "|" + strings.Join(parts, ",")))
	return fmt.Sprintf("%x", h[:16])
}

// CreateOrUpdate persists the candidate incident, merging into an existing
// open incident when either layer matches. Returns the surviving incident and
// whether it was a duplicate. Runs in its own transaction.
func (d *Deduplicator) CreateOrUpdate(ctx context.Context, candidate *models.Incident) (*models.Incident, bool, error) {
	if candidate.Fingerprint == "" {
		candidate.Fingerprint = Fingerprint(candidate.AffectedService,
			candidate.Description, candidate.AffectedComponents)
	}

	var (
		result    *models.Incident
		duplicate bool
	)
	err := d.store.WithTx(ctx, func(tx *sql.Tx) error {
		inc, dup, err := d.createOrUpdateTx(ctx, tx, candidate)
		if err != nil {
			return err
		}
		result, duplicate = inc, dup
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, duplicate, nil
}

// CreateOrUpdateTx is the deferred-commit variant for callers that carry
// their own transaction.
func (d *Deduplicator) CreateOrUpdateTx(ctx context.Context, tx *sql.Tx, candidate *models.Incident) (*models.Incident, bool, error) {
	if candidate.Fingerprint == "" {
		candidate.Fingerprint = Fingerprint(candidate.AffectedService,
			candidate.Description, candidate.AffectedComponents)
	}
	return d.createOrUpdateTx(ctx, tx, candidate)
}

func (d *Deduplicator) createOrUpdateTx(ctx context.Context, tx *sql.Tx, candidate *models.Incident) (*models.Incident, bool, error) {
	since := time.Now().Add(-d.window(candidate.Severity))

	// Layer 1: exact fingerprint under row lock.
	existing, err := d.store.FindByFingerprintForUpdate(ctx, tx, candidate.Fingerprint, since)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}
	if existing != nil {
		if err := d.store.MergeDuplicate(ctx, tx, existing, candidate); err != nil {
			return nil, false, err
		}
		monitoring.RecordIncidentDeduplicated("exact")
		d.logger.Info("incident deduplicated by fingerprint",
			"incident_id", existing.ID, "fingerprint", candidate.Fingerprint)
		return existing, true, nil
	}

	// Layer 2: fuzzy description similarity over the recent window. The
	// query itself locks the rows it returns.
	recent, err := d.store.RecentOpenIncidents(ctx, tx, candidate.AffectedService, since, fuzzyLimit)
	if err != nil {
		return nil, false, err
	}
	candTokens := tokenize(candidate.Description)
	for _, inc := range recent {
		sim := jaccard(candTokens, tokenize(inc.Description))
		if sim < jaccardThreshold {
			continue
		}
		if err := d.store.MergeDuplicate(ctx, tx, inc, candidate); err != nil {
			return nil, false, err
		}
		monitoring.RecordIncidentDeduplicated("fuzzy")
		d.logger.Info("incident deduplicated by similarity",
			"incident_id", inc.ID, "similarity", sim)
		return inc, true, nil
	}

	if err := d.store.CreateIncident(ctx, tx, candidate); err != nil {
		return nil, false, err
	}
	if err := d.store.AppendEvent(ctx, tx, models.IncidentEvent{
		IncidentID: candidate.ID,
		Status:     candidate.Status,
		Actor:      "monitor",
		Reason:     "incident detected",
	}); err != nil {
		return nil, false, err
	}
	monitoring.RecordIncidentCreated(string(candidate.Severity))
	return candidate, false, nil
}

func (d *Deduplicator) window(sev models.Severity) time.Duration {
	minutes, ok := d.lookback[sev]
	if !ok {
		minutes = defaultLookback[models.SeverityMedium]
	}
	return time.Duration(minutes) * time.Minute
}

// tokenize normalises a description into a token set: lowercase, punctuation
// stripped, whitespace collapsed, abbreviations expanded.
func tokenize(text string) map[string]bool {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}

	tokens := make(map[string]bool)
	for _, tok := range strings.Fields(b.String()) {
		if full, ok := abbreviations[tok]; ok {
			tok = full
		}
		tokens[tok] = true
	}
	return tokens
}

// jaccard computes |a ∩ b| / |a ∪ b| over token sets.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for tok := range a {
		if b[tok] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
