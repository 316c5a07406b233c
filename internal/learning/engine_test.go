package learning

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

func patternColumns() []string {
	return []string{"pattern_id", "name", "category", "signal_indicators",
		"confidence_adjustment", "occurrence_count", "success_rate", "updated_at"}
}

func outcome(service, category string, success bool) *models.ConfidenceOutcomeRecord {
	return &models.ConfidenceOutcomeRecord{
		IncidentID:         "inc-1",
		ServiceName:        service,
		HypothesisCategory: category,
		ConfidenceScore:    0.8,
		ActionType:         "restart_pod",
		ActionExecuted:     true,
		OutcomeSuccess:     success,
		OutcomeStatus:      "success",
	}
}

func TestAdjustmentFor(t *testing.T) {
	cases := []struct {
		rate float64
		want float64
	}{
		{0.95, 0.10},
		{0.81, 0.10},
		{0.80, 0},
		{0.50, 0},
		{0.30, 0},
		{0.29, -0.10},
		{0.0, -0.10},
	}
	for _, c := range cases {
		if got := adjustmentFor(c.rate); got != c.want {
			t.Errorf("adjustmentFor(%.2f) = %.2f, want %.2f", c.rate, got, c.want)
		}
	}
}

func TestPatternID(t *testing.T) {
	if got := PatternID("checkout", "memory_leak"); got != "checkout:memory_leak" {
		t.Errorf("PatternID: got %s", got)
	}
}

// TestCaptureOutcome_RunningAverage: 20 outcomes with 15 correct leave the
// pattern at 20 occurrences, success rate 0.75, adjustment 0.
func TestCaptureOutcome_RunningAverage(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	e := New(store.NewFromDB(db, logger.Nop()), logger.Nop())

	// 15 successes then 5 failures.
	results := make([]bool, 0, 20)
	for i := 0; i < 15; i++ {
		results = append(results, true)
	}
	for i := 0; i < 5; i++ {
		results = append(results, false)
	}

	count := 0
	successes := 0
	for _, success := range results {
		mock.ExpectBegin()
		q := mock.ExpectQuery(`FROM incident_patterns WHERE pattern_id = \?`).
			WithArgs("checkout:memory_leak")
		if count == 0 {
			q.WillReturnRows(sqlmock.NewRows(patternColumns()))
		} else {
			rate := float64(successes) / float64(count)
			q.WillReturnRows(sqlmock.NewRows(patternColumns()).AddRow(
				"checkout:memory_leak", "checkout memory_leak", "memory_leak",
				`[]`, adjustmentFor(rate), count, rate, time.Now()))
		}
		mock.ExpectExec(`INSERT INTO incident_patterns`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO confidence_outcomes`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		if err := e.CaptureOutcome(context.Background(), outcome("checkout", "memory_leak", success)); err != nil {
			t.Fatalf("capture %d: %v", count+1, err)
		}
		count++
		if success {
			successes++
		}
	}

	p, ok := e.Pattern("checkout", "memory_leak")
	if !ok {
		t.Fatal("pattern missing from cache after captures")
	}
	if p.OccurrenceCount != 20 {
		t.Errorf("occurrence count: want 20, got %d", p.OccurrenceCount)
	}
	if math.Abs(p.SuccessRate-0.75) > 1e-9 {
		t.Errorf("success rate: want 0.75, got %.4f", p.SuccessRate)
	}
	if p.ConfidenceAdjustment != 0 {
		t.Errorf("adjustment at 0.75: want 0, got %.2f", p.ConfidenceAdjustment)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

// TestCaptureOutcome_FreshPattern: the first outcome creates the row with
// count 1 and a 0-or-1 rate.
func TestCaptureOutcome_FreshPattern(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	e := New(store.NewFromDB(db, logger.Nop()), logger.Nop())

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM incident_patterns WHERE pattern_id = \?`).
		WillReturnRows(sqlmock.NewRows(patternColumns()))
	mock.ExpectExec(`INSERT INTO incident_patterns`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO confidence_outcomes`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := e.CaptureOutcome(context.Background(), outcome("payment", "cpu_spike", false)); err != nil {
		t.Fatal(err)
	}

	p, ok := e.Pattern("payment", "cpu_spike")
	if !ok {
		t.Fatal("pattern missing from cache")
	}
	if p.OccurrenceCount != 1 || p.SuccessRate != 0 {
		t.Errorf("fresh failed pattern: count %d rate %.2f", p.OccurrenceCount, p.SuccessRate)
	}
	if p.ConfidenceAdjustment != -0.10 {
		t.Errorf("adjustment at rate 0: want -0.10, got %.2f", p.ConfidenceAdjustment)
	}
}

// TestAdjustment_CacheThenStore: unknown patterns read zero; cached patterns
// skip the datastore.
func TestAdjustment_CacheThenStore(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	e := New(store.NewFromDB(db, logger.Nop()), logger.Nop())

	mock.ExpectQuery(`FROM incident_patterns WHERE pattern_id = \?`).
		WithArgs("checkout:error_spike").
		WillReturnRows(sqlmock.NewRows(patternColumns()).AddRow(
			"checkout:error_spike", "checkout error_spike", "error_spike",
			`[]`, 0.10, 12, 0.92, time.Now()))

	if got := e.Adjustment(context.Background(), "checkout", "error_spike"); got != 0.10 {
		t.Errorf("adjustment: want 0.10, got %.2f", got)
	}
	// Second read comes from cache; no further expectations are set, so a
	// datastore hit would fail the mock.
	if got := e.Adjustment(context.Background(), "checkout", "error_spike"); got != 0.10 {
		t.Errorf("cached adjustment: want 0.10, got %.2f", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

// TestWarmup loads every row into the cache.
func TestWarmup(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	e := New(store.NewFromDB(db, logger.Nop()), logger.Nop())

	mock.ExpectQuery(`FROM incident_patterns`).
		WillReturnRows(sqlmock.NewRows(patternColumns()).
			AddRow("a:x", "a x", "x", `[]`, 0.10, 5, 0.9, time.Now()).
			AddRow("b:y", "b y", "y", `[]`, -0.10, 4, 0.1, time.Now()))

	if err := e.Warmup(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, ok := e.Pattern("a", "x"); !ok {
		t.Error("pattern a:x missing after warmup")
	}
	if got := e.Adjustment(context.Background(), "b", "y"); got != -0.10 {
		t.Errorf("warmed adjustment: want -0.10, got %.2f", got)
	}
}
