package monitor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/sentinelops/remedy-core/internal/analysis"
	"github.com/sentinelops/remedy-core/internal/config"
	"github.com/sentinelops/remedy-core/internal/dedup"
	"github.com/sentinelops/remedy-core/internal/detect"
	"github.com/sentinelops/remedy-core/internal/models"
	"github.com/sentinelops/remedy-core/internal/queue"
	"github.com/sentinelops/remedy-core/internal/store"
	"github.com/sentinelops/remedy-core/pkg/cache"
	"github.com/sentinelops/remedy-core/pkg/logger"
)

func TestSeverityForSigma(t *testing.T) {
	cases := []struct {
		sigma float64
		want  models.Severity
	}{
		{7.2, models.SeverityCritical},
		{6.0, models.SeverityCritical},
		{5.9, models.SeverityHigh},
		{4.5, models.SeverityHigh},
		{4.4, models.SeverityMedium},
		{3.5, models.SeverityMedium},
		{3.4, models.SeverityLow},
		{0, models.SeverityLow},
	}
	for _, c := range cases {
		if got := severityForSigma(c.sigma); got != c.want {
			t.Errorf("severityForSigma(%.1f) = %s, want %s", c.sigma, got, c.want)
		}
	}
}

// TestBuildIncident: components, snapshot and severity come from the anomaly
// set, with severity taken from the worst deviation.
func TestBuildIncident(t *testing.T) {
	anomalies := []models.Anomaly{
		{MetricName: "error_rate", CurrentValue: 0.31, DeviationSigma: 6.4},
		{MetricName: "latency_p95", CurrentValue: 900, DeviationSigma: 3.8},
	}

	inc := buildIncident("checkout", anomalies)

	if inc.ID == "" {
		t.Error("incident id not assigned")
	}
	if inc.Status != models.IncidentDetected {
		t.Errorf("status: want detected, got %s", inc.Status)
	}
	if inc.Severity != models.SeverityCritical {
		t.Errorf("severity: want critical, got %s", inc.Severity)
	}
	if inc.AffectedService != "checkout" {
		t.Errorf("service: got %s", inc.AffectedService)
	}
	if len(inc.AffectedComponents) != 2 || inc.AffectedComponents[0] != "error_rate" {
		t.Errorf("components: got %v", inc.AffectedComponents)
	}
	if inc.MetricsSnapshot["latency_p95"] != 900 {
		t.Errorf("snapshot: got %v", inc.MetricsSnapshot)
	}
	if inc.Context["source"] != "anomaly_monitor" {
		t.Errorf("context source: got %v", inc.Context)
	}
}

func redisCache(t *testing.T) (cache.SharedCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return cache.NewRedisFromClient(client, time.Minute, logger.Nop()), mr
}

// TestDedupWindow_SharedCache: a handled service is skipped until its cache
// key expires.
func TestDedupWindow_SharedCache(t *testing.T) {
	sc, mr := redisCache(t)
	m := &Monitor{
		cache:       sc,
		dedupWindow: 10 * time.Minute,
		logger:      logger.Nop(),
		local:       make(map[string]time.Time),
	}

	if m.recentlyHandled(context.Background(), "checkout") {
		t.Fatal("fresh service should not be in the window")
	}
	m.markHandled(context.Background(), "checkout")
	if !m.recentlyHandled(context.Background(), "checkout") {
		t.Fatal("service should be in the window after markHandled")
	}

	mr.FastForward(11 * time.Minute)
	if m.recentlyHandled(context.Background(), "checkout") {
		t.Error("window should expire with the cache key")
	}
}

// TestDedupWindow_DegradedFallback: with the cache down the in-process map
// still suppresses repeats.
func TestDedupWindow_DegradedFallback(t *testing.T) {
	m := &Monitor{
		cache:       cache.NewNoop(),
		dedupWindow: 10 * time.Minute,
		logger:      logger.Nop(),
		local:       make(map[string]time.Time),
	}

	m.markHandled(context.Background(), "checkout")
	if !m.degraded {
		t.Error("cache failure should mark the monitor degraded")
	}
	if !m.recentlyHandled(context.Background(), "checkout") {
		t.Error("local fallback should suppress the repeat")
	}

	m.mu.Lock()
	m.local["checkout"] = time.Now().Add(-time.Minute)
	m.mu.Unlock()
	if m.recentlyHandled(context.Background(), "checkout") {
		t.Error("expired local entry should not suppress")
	}
}

// TestDedupWindow_Recovery: a clean cache miss clears degraded mode and the
// local map.
func TestDedupWindow_Recovery(t *testing.T) {
	sc, _ := redisCache(t)
	m := &Monitor{
		cache:       sc,
		dedupWindow: 10 * time.Minute,
		logger:      logger.Nop(),
		degraded:    true,
		local:       map[string]time.Time{"checkout": time.Now().Add(time.Hour)},
	}

	if m.recentlyHandled(context.Background(), "checkout") {
		t.Error("cache miss should win over stale local state")
	}
	if m.degraded {
		t.Error("degraded flag should clear on cache recovery")
	}
	if len(m.local) != 0 {
		t.Error("local map should be wiped on recovery")
	}
}

type seriesStub struct {
	series []models.MetricSeries
}

func (s *seriesStub) QueryRange(ctx context.Context, query string, start, end time.Time, step time.Duration) ([]models.MetricSeries, error) {
	return nil, nil
}

func (s *seriesStub) QueryInstant(ctx context.Context, query string, ts time.Time) ([]models.MetricSeries, error) {
	return nil, nil
}

func (s *seriesStub) ServiceSeries(ctx context.Context, service string, window time.Duration) ([]models.MetricSeries, error) {
	return s.series, nil
}

func (s *seriesStub) RequestRate(ctx context.Context, service string) (float64, error) {
	return 0, nil
}

func (s *seriesStub) HealthMetrics(ctx context.Context, service string, at time.Time) (map[string]float64, error) {
	return nil, nil
}

func (s *seriesStub) HealthCheck(ctx context.Context) error { return nil }
func (s *seriesStub) Close()                                {}

func spikeSeries(name string) models.MetricSeries {
	s := models.MetricSeries{MetricName: name}
	base := float64(time.Now().Add(-5 * time.Minute).Unix())
	for i := 0; i < 20; i++ {
		v := 50.0
		if i%2 == 0 {
			v = 51.0
		}
		s.Points = append(s.Points, models.MetricPoint{Timestamp: base + float64(i*15), Value: v})
	}
	s.Points = append(s.Points, models.MetricPoint{Timestamp: base + 300, Value: 400})
	return s
}

// TestCheckOnce_OpensIncidentAndEnqueues: a strong anomaly creates an
// incident, moves it to analyzing and queues the analysis task.
func TestCheckOnce_OpensIncidentAndEnqueues(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	sc, mr := redisCache(t)
	st := store.NewFromDB(db, logger.Nop())
	q := queue.New(config.QueueConfig{}, sc, logger.Nop())
	m := New(config.MonitorConfig{Services: []string{"checkout"}, MinConfidence: 0.5},
		&seriesStub{series: []models.MetricSeries{spikeSeries("error_rate")}},
		detect.New(3.0, logger.Nop()),
		dedup.New(st, nil, logger.Nop()),
		st, sc, q, logger.Nop())

	// Dedup finds nothing and inserts a fresh incident.
	mock.ExpectBegin()
	mock.ExpectQuery(`WHERE fingerprint = \?`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`WHERE affected_service = \?`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(`INSERT INTO incidents`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO incident_events`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// The monitor then hands it to analysis.
	mock.ExpectQuery(`SELECT status FROM incidents WHERE id = \?`).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("detected"))
	mock.ExpectExec(`UPDATE incidents SET status = \? WHERE id = \?`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO incident_events`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	m.CheckOnce(context.Background())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}

	items, err := mr.List("queue:remedy")
	if err != nil {
		t.Fatalf("reading queue: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("queued tasks: want 1, got %d", len(items))
	}
	var task queue.Task
	if err := json.Unmarshal([]byte(items[0]), &task); err != nil {
		t.Fatal(err)
	}
	if task.Name != analysis.TaskName {
		t.Errorf("task name: want %s, got %s", analysis.TaskName, task.Name)
	}
	var args analysis.Args
	if err := json.Unmarshal(task.Args, &args); err != nil {
		t.Fatal(err)
	}
	if args.IncidentID == "" {
		t.Error("queued task carries no incident id")
	}

	if !m.recentlyHandled(context.Background(), "checkout") {
		t.Error("service should be inside the dedup window after a tick")
	}
}

// TestCheckOnce_WeakAnomaliesIgnored: anomalies under the confidence floor do
// not open incidents.
func TestCheckOnce_WeakAnomaliesIgnored(t *testing.T) {
	sc, mr := redisCache(t)
	m := New(config.MonitorConfig{Services: []string{"checkout"}, MinConfidence: 0.999},
		&seriesStub{series: []models.MetricSeries{spikeSeries("error_rate")}},
		detect.New(3.0, logger.Nop()),
		nil, nil, sc, nil, logger.Nop())

	m.CheckOnce(context.Background())

	if mr.Exists("dedup:checkout") {
		t.Error("no incident means no dedup marker")
	}
}
