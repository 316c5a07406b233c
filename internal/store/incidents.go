package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sentinelops/remedy-core/internal/models"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrInvalidTransition is returned when a status update violates the
// lifecycle state machine.
var ErrInvalidTransition = errors.New("store: invalid status transition")

// Querier abstracts *sql.DB and *sql.Tx so reads and writes compose into the
// caller's transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// DB exposes the pool as a Querier for non-transactional reads.
func (s *Store) DB() Querier {
	return s.db
}

const incidentColumns = `id, title, description, status, severity, affected_service,
	affected_components, detected_at, resolved_at, metrics_snapshot, context,
	fingerprint, duplicate_count, last_duplicate_at`

// CreateIncident inserts a new incident row.
func (s *Store) CreateIncident(ctx context.Context, q Querier, inc *models.Incident) error {
	components, _ := json.Marshal(inc.AffectedComponents)
	snapshot, _ := json.Marshal(inc.MetricsSnapshot)
	contextJSON, _ := json.Marshal(inc.Context)

	_, err := q.ExecContext(ctx, `
		INSERT INTO incidents (`+incidentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inc.ID, inc.Title, inc.Description, inc.Status, inc.Severity,
		inc.AffectedService, components, inc.DetectedAt, inc.ResolvedAt,
		snapshot, contextJSON, inc.Fingerprint, inc.DuplicateCount, inc.LastDuplicateAt)
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

// GetIncident fetches one incident by id.
func (s *Store) GetIncident(ctx context.Context, q Querier, id string) (*models.Incident, error) {
	row := q.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = ?`, id)
	return scanIncident(row)
}

// GetIncidentForUpdate fetches one incident by id with a row lock. Must run
// inside a transaction.
func (s *Store) GetIncidentForUpdate(ctx context.Context, tx *sql.Tx, id string) (*models.Incident, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = ? FOR UPDATE`, id)
	return scanIncident(row)
}

// FindByFingerprintForUpdate locks and returns the newest open incident with
// the exact fingerprint detected since the cutoff.
func (s *Store) FindByFingerprintForUpdate(ctx context.Context, tx *sql.Tx, fingerprint string, since time.Time) (*models.Incident, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+incidentColumns+` FROM incidents
		WHERE fingerprint = ? AND detected_at >= ?
		  AND status NOT IN ('resolved', 'failed', 'escalated')
		ORDER BY detected_at DESC LIMIT 1 FOR UPDATE`,
		fingerprint, since)
	return scanIncident(row)
}

// RecentOpenIncidents locks and returns up to limit open incidents for a
// service, newest first. Used by fuzzy dedup.
func (s *Store) RecentOpenIncidents(ctx context.Context, tx *sql.Tx, service string, since time.Time, limit int) ([]*models.Incident, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT `+incidentColumns+` FROM incidents
		WHERE affected_service = ? AND detected_at >= ?
		  AND status NOT IN ('resolved', 'failed', 'escalated')
		ORDER BY detected_at DESC LIMIT ? FOR UPDATE`,
		service, since, limit)
	if err != nil {
		return nil, fmt.Errorf("recent incidents: %w", err)
	}
	defer rows.Close()

	var out []*models.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

// FindCandidates returns incidents for a service in the given statuses
// detected since the cutoff.
func (s *Store) FindCandidates(ctx context.Context, q Querier, service string, statuses []models.IncidentStatus, since time.Time) ([]*models.Incident, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := []interface{}{service}
	for _, st := range statuses {
		args = append(args, st)
	}
	args = append(args, since)

	rows, err := q.QueryContext(ctx, `
		SELECT `+incidentColumns+` FROM incidents
		WHERE affected_service = ? AND status IN (`+placeholders+`) AND detected_at >= ?
		ORDER BY detected_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("find candidates: %w", err)
	}
	defer rows.Close()

	var out []*models.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

// UpdateIncidentStatus transitions an incident, enforcing the state machine,
// and appends the audit event.
func (s *Store) UpdateIncidentStatus(ctx context.Context, q Querier, id string, next models.IncidentStatus, actor, reason string) error {
	var current models.IncidentStatus
	if err := q.QueryRowContext(ctx, `SELECT status FROM incidents WHERE id = ?`, id).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("read incident status: %w", err)
	}
	if !current.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}

	if next == models.IncidentResolved {
		_, err := q.ExecContext(ctx,
			`UPDATE incidents SET status = ?, resolved_at = ? WHERE id = ?`,
			next, time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("update incident status: %w", err)
		}
	} else {
		_, err := q.ExecContext(ctx,
			`UPDATE incidents SET status = ? WHERE id = ?`, next, id)
		if err != nil {
			return fmt.Errorf("update incident status: %w", err)
		}
	}
	return s.AppendEvent(ctx, q, models.IncidentEvent{
		IncidentID: id, Status: next, Actor: actor, Reason: reason,
	})
}

// MergeDuplicate folds a duplicate observation into an existing incident:
// context and snapshot are merged, the duplicate counter advances, and
// severity may only escalate.
func (s *Store) MergeDuplicate(ctx context.Context, tx *sql.Tx, existing *models.Incident, dup *models.Incident) error {
	merged := existing.Context
	if merged == nil {
		merged = map[string]interface{}{}
	}
	for k, v := range dup.Context {
		merged[k] = v
	}
	snapshot := existing.MetricsSnapshot
	if snapshot == nil {
		snapshot = map[string]float64{}
	}
	for k, v := range dup.MetricsSnapshot {
		snapshot[k] = v
	}

	severity := models.MaxSeverity(existing.Severity, dup.Severity)
	contextJSON, _ := json.Marshal(merged)
	snapshotJSON, _ := json.Marshal(snapshot)
	now := time.Now().UTC()

	_, err := tx.ExecContext(ctx, `
		UPDATE incidents
		SET context = ?, metrics_snapshot = ?, severity = ?,
		    duplicate_count = duplicate_count + 1, last_duplicate_at = ?
		WHERE id = ?`,
		contextJSON, snapshotJSON, severity, now, existing.ID)
	if err != nil {
		return fmt.Errorf("merge duplicate: %w", err)
	}

	existing.Context = merged
	existing.MetricsSnapshot = snapshot
	existing.Severity = severity
	existing.DuplicateCount++
	existing.LastDuplicateAt = &now
	return nil
}

// AppendEvent writes one audit trail row.
func (s *Store) AppendEvent(ctx context.Context, q Querier, ev models.IncidentEvent) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO incident_events (incident_id, status, actor, reason)
		VALUES (?, ?, ?, ?)`,
		ev.IncidentID, ev.Status, ev.Actor, ev.Reason)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListEvents returns the audit trail for an incident, oldest first.
func (s *Store) ListEvents(ctx context.Context, q Querier, incidentID string) ([]models.IncidentEvent, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT incident_id, status, actor, reason, created_at
		FROM incident_events WHERE incident_id = ? ORDER BY created_at ASC`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []models.IncidentEvent
	for rows.Next() {
		var ev models.IncidentEvent
		if err := rows.Scan(&ev.IncidentID, &ev.Status, &ev.Actor, &ev.Reason, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIncident(row rowScanner) (*models.Incident, error) {
	var (
		inc        models.Incident
		components []byte
		snapshot   []byte
		contextRaw []byte
		resolvedAt sql.NullTime
		lastDup    sql.NullTime
	)
	err := row.Scan(&inc.ID, &inc.Title, &inc.Description, &inc.Status,
		&inc.Severity, &inc.AffectedService, &components, &inc.DetectedAt,
		&resolvedAt, &snapshot, &contextRaw, &inc.Fingerprint,
		&inc.DuplicateCount, &lastDup)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan incident: %w", err)
	}

	if resolvedAt.Valid {
		t := resolvedAt.Time
		inc.ResolvedAt = &t
	}
	if lastDup.Valid {
		t := lastDup.Time
		inc.LastDuplicateAt = &t
	}
	if len(components) > 0 {
		_ = json.Unmarshal(components, &inc.AffectedComponents)
	}
	if len(snapshot) > 0 {
		_ = json.Unmarshal(snapshot, &inc.MetricsSnapshot)
	}
	if len(contextRaw) > 0 {
		_ = json.Unmarshal(contextRaw, &inc.Context)
	}
	return &inc, nil
}
