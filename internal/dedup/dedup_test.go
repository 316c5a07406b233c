package dedup

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/sentinelops/remedy-core/internal/models"
	"github.com/sentinelops/remedy-core/internal/store"
	"github.com/sentinelops/remedy-core/pkg/logger"
)

func TestFingerprint_Stable(t *testing.T) {
	a := Fingerprint("checkout", "error rate spike", []string{"error_rate", "latency_p95"})
	b := Fingerprint("checkout", "error rate spike", []string{"error_rate", "latency_p95"})
	if a != b {
		t.Errorf("fingerprint not stable: %s vs %s", a, b)
	}
	if len(a) != 32 {
		t.Errorf("fingerprint length: want 32 hex chars, got %d", len(a))
	}
}

// TestFingerprint_ComponentOrderInvariant: the component list is a set.
func TestFingerprint_ComponentOrderInvariant(t *testing.T) {
	a := Fingerprint("checkout", "spike", []string{"error_rate", "latency_p95"})
	b := Fingerprint("checkout", "spike", []string{"latency_p95", "error_rate"})
	if a != b {
		t.Error("component order changed the fingerprint")
	}
}

func TestFingerprint_CaseInsensitive(t *testing.T) {
	a := Fingerprint("Checkout", "Error Rate Spike", []string{"Error_Rate"})
	b := Fingerprint("checkout", "error rate spike", []string{"error_rate"})
	if a != b {
		t.Error("case changed the fingerprint")
	}
}

func TestFingerprint_Distinct(t *testing.T) {
	a := Fingerprint("checkout", "error rate spike", nil)
	b := Fingerprint("payment", "error rate spike", nil)
	c := Fingerprint("checkout", "latency spike", nil)
	if a == b || a == c {
		t.Error("distinct inputs must not collide")
	}
}

// TestTokenize_Abbreviations: "db conn pool" and "database connection pool"
// tokenize identically.
func TestTokenize_Abbreviations(t *testing.T) {
	a := tokenize("db conn pool exhausted")
	b := tokenize("database connection pool exhausted")
	if jaccard(a, b) != 1.0 {
		t.Errorf("abbreviation expansion failed: %v vs %v", a, b)
	}
}

func TestTokenize_Normalisation(t *testing.T) {
	got := tokenize("High ERROR-rate!! on svc: checkout (mem 95%)")
	want := []string{"high", "error", "rate", "on", "service", "checkout", "memory", "95"}
	if len(got) != len(want) {
		t.Fatalf("token count: want %d, got %d (%v)", len(want), len(got), got)
	}
	for _, tok := range want {
		if !got[tok] {
			t.Errorf("missing token %q in %v", tok, got)
		}
	}
}

func TestJaccard(t *testing.T) {
	a := tokenize("error rate spike on checkout")
	b := tokenize("error rate spike on payment")
	// 4 shared of 6 union
	if got := jaccard(a, b); math.Abs(got-4.0/6.0) > 1e-9 {
		t.Errorf("jaccard: want %.4f, got %.4f", 4.0/6.0, got)
	}
	if got := jaccard(a, a); got != 1.0 {
		t.Errorf("self similarity: want 1, got %.4f", got)
	}
	if got := jaccard(nil, nil); got != 0 {
		t.Errorf("empty sets: want 0, got %.4f", got)
	}
}

func TestWindowOverrides(t *testing.T) {
	d := New(nil, map[string]int{"critical": 5, "bogus": 99, "low": -1}, logger.Nop())

	if got := d.window(models.SeverityCritical); got != 5*time.Minute {
		t.Errorf("critical override: want 5m, got %s", got)
	}
	if got := d.window(models.SeverityLow); got != 120*time.Minute {
		t.Errorf("non-positive override must be ignored: got %s", got)
	}
	if got := d.window(models.SeverityHigh); got != 30*time.Minute {
		t.Errorf("high default: want 30m, got %s", got)
	}
	if got := d.window(models.Severity("unknown")); got != 60*time.Minute {
		t.Errorf("unknown severity falls back to medium: got %s", got)
	}
}

func incidentColumns() []string {
	return []string{"id", "title", "description", "status", "severity",
		"affected_service", "affected_components", "detected_at", "resolved_at",
		"metrics_snapshot", "context", "fingerprint", "duplicate_count",
		"last_duplicate_at"}
}

// TestCreateOrUpdate_ExactMatchMerges: a fingerprint hit inside the window
// merges instead of inserting.
func TestCreateOrUpdate_ExactMatchMerges(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	st := store.NewFromDB(db, logger.Nop())
	d := New(st, nil, logger.Nop())

	candidate := &models.Incident{
		ID:                 "cand-1",
		Title:              "error spike",
		Description:        "error rate spike",
		Status:             models.IncidentDetected,
		Severity:           models.SeverityHigh,
		AffectedService:    "checkout",
		AffectedComponents: []string{"error_rate"},
		DetectedAt:         time.Now(),
	}
	fp := Fingerprint("checkout", "error rate spike", []string{"error_rate"})

	mock.ExpectBegin()
	mock.ExpectQuery(`WHERE fingerprint = \?`).
		WithArgs(fp, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(incidentColumns()).AddRow(
			"existing-1", "error spike", "error rate spike", "detected", "medium",
			"checkout", `["error_rate"]`, time.Now().Add(-5*time.Minute), nil,
			`{}`, `{}`, fp, 0, nil))
	mock.ExpectExec(`UPDATE incidents`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	merged, duplicate, err := d.CreateOrUpdate(context.Background(), candidate)
	if err != nil {
		t.Fatalf("CreateOrUpdate: %v", err)
	}
	if !duplicate {
		t.Error("expected a duplicate verdict")
	}
	if merged.ID != "existing-1" {
		t.Errorf("surviving incident: want existing-1, got %s", merged.ID)
	}
	if merged.DuplicateCount != 1 {
		t.Errorf("duplicate count: want 1, got %d", merged.DuplicateCount)
	}
	// Severity may only escalate: medium existing + high duplicate = high.
	if merged.Severity != models.SeverityHigh {
		t.Errorf("merged severity: want high, got %s", merged.Severity)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

// TestCreateOrUpdate_NewIncidentInserted: no exact or fuzzy match creates a
// fresh row with its audit event.
func TestCreateOrUpdate_NewIncidentInserted(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	st := store.NewFromDB(db, logger.Nop())
	d := New(st, nil, logger.Nop())

	candidate := &models.Incident{
		ID:              "cand-1",
		Title:           "error spike",
		Description:     "error rate spike",
		Status:          models.IncidentDetected,
		Severity:        models.SeverityHigh,
		AffectedService: "checkout",
		DetectedAt:      time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`WHERE fingerprint = \?`).
		WillReturnRows(sqlmock.NewRows(incidentColumns()))
	mock.ExpectQuery(`WHERE affected_service = \?`).
		WillReturnRows(sqlmock.NewRows(incidentColumns()))
	mock.ExpectExec(`INSERT INTO incidents`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO incident_events`).
		WithArgs("cand-1", "detected", "monitor", "incident detected").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	created, duplicate, err := d.CreateOrUpdate(context.Background(), candidate)
	if err != nil {
		t.Fatalf("CreateOrUpdate: %v", err)
	}
	if duplicate {
		t.Error("fresh incident flagged as duplicate")
	}
	if created.Fingerprint == "" {
		t.Error("fingerprint should be computed on create")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

// TestCreateOrUpdate_FuzzyMatchMerges: similar descriptions merge via the
// second layer.
func TestCreateOrUpdate_FuzzyMatchMerges(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	st := store.NewFromDB(db, logger.Nop())
	d := New(st, nil, logger.Nop())

	candidate := &models.Incident{
		ID:              "cand-1",
		Description:     "db conn pool exhausted on checkout",
		Status:          models.IncidentDetected,
		Severity:        models.SeverityHigh,
		AffectedService: "checkout",
		DetectedAt:      time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`WHERE fingerprint = \?`).
		WillReturnRows(sqlmock.NewRows(incidentColumns()))
	mock.ExpectQuery(`WHERE affected_service = \?`).
		WillReturnRows(sqlmock.NewRows(incidentColumns()).AddRow(
			"existing-9", "pool", "database connection pool exhausted on checkout",
			"analyzing", "high", "checkout", `[]`, time.Now().Add(-time.Minute),
			nil, `{}`, `{}`, "otherfp", 2, nil))
	mock.ExpectExec(`UPDATE incidents`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	merged, duplicate, err := d.CreateOrUpdate(context.Background(), candidate)
	if err != nil {
		t.Fatalf("CreateOrUpdate: %v", err)
	}
	if !duplicate || merged.ID != "existing-9" {
		t.Fatalf("expected fuzzy merge into existing-9, got %+v dup=%v", merged, duplicate)
	}
	if merged.DuplicateCount != 3 {
		t.Errorf("duplicate count: want 3, got %d", merged.DuplicateCount)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
