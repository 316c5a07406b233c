// Package monitor is the coordination loop: poll services for anomalies,
// open incidents through dedup, and hand them to the analysis queue.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/sentinelops/remedy-core/internal/analysis"
	"github.com/sentinelops/remedy-core/internal/config"
	"github.com/sentinelops/remedy-core/internal/dedup"
	"github.com/sentinelops/remedy-core/internal/detect"
	"github.com/sentinelops/remedy-core/internal/metrics"
	"github.com/sentinelops/remedy-core/internal/models"
	"github.com/sentinelops/remedy-core/internal/monitoring"
	"github.com/sentinelops/remedy-core/internal/queue"
	"github.com/sentinelops/remedy-core/internal/store"
	"github.com/sentinelops/remedy-core/pkg/cache"
	"github.com/sentinelops/remedy-core/pkg/logger"
)

const (
	defaultPoll          = 60 * time.Second
	defaultDedupWindow   = 10 * time.Minute
	defaultConcurrency   = 5
	defaultMinConfidence = 0.75
	metricsWindow        = 5 * time.Minute
)

// Monitor polls the configured services on a fixed interval.
type Monitor struct {
	services      []string
	poll          time.Duration
	dedupWindow   time.Duration
	minConfidence float64
	concurrency   int64

	metrics  metrics.Client
	detector *detect.Detector
	dedup    *dedup.Deduplicator
	store    *store.Store
	cache    cache.SharedCache
	queue    *queue.Queue
	logger   logger.Logger

	mu       sync.Mutex
	local    map[string]time.Time // in-process dedup fallback
	degraded bool
}

// New builds the monitor from config.
func New(cfg config.MonitorConfig, mc metrics.Client, det *detect.Detector,
	dd *dedup.Deduplicator, st *store.Store, sc cache.SharedCache,
	q *queue.Queue, log logger.Logger) *Monitor {

	poll := time.Duration(cfg.PollSeconds) * time.Second
	if poll <= 0 {
		poll = defaultPoll
	}
	window := time.Duration(cfg.DedupWindowSeconds) * time.Second
	if window <= 0 {
		window = defaultDedupWindow
	}
	minConf := cfg.MinConfidence
	if minConf <= 0 {
		minConf = defaultMinConfidence
	}
	concurrency := int64(cfg.Concurrency)
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	return &Monitor{
		services:      cfg.Services,
		poll:          poll,
		dedupWindow:   window,
		minConfidence: minConf,
		concurrency:   concurrency,
		metrics:       mc,
		detector:      det,
		dedup:         dd,
		store:         st,
		cache:         sc,
		queue:         q,
		logger:        log,
		local:         make(map[string]time.Time),
	}
}

// Run ticks until the context is cancelled. The first tick fires immediately.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("anomaly monitor started",
		"services", len(m.services), "poll", m.poll.String())

	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	m.CheckOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("anomaly monitor stopped")
			return
		case <-ticker.C:
			m.CheckOnce(ctx)
		}
	}
}

// CheckOnce runs a single tick across all services under the concurrency
// bound. Public so an external scheduler can drive ticks directly.
func (m *Monitor) CheckOnce(ctx context.Context) {
	sem := semaphore.NewWeighted(m.concurrency)
	var wg sync.WaitGroup

	for _, service := range m.services {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(service string) {
			defer wg.Done()
			defer sem.Release(1)
			m.checkService(ctx, service)
		}(service)
	}
	wg.Wait()
}

func (m *Monitor) checkService(ctx context.Context, service string) {
	if m.recentlyHandled(ctx, service) {
		m.logger.Debug("service in dedup window, skipping", "service", service)
		return
	}

	series, err := m.metrics.ServiceSeries(ctx, service, metricsWindow)
	if err != nil {
		m.logger.Warn("metric fetch failed", "service", service, "error", err)
		return
	}

	anomalies := m.detector.DetectAll(series)
	strong := anomalies[:0]
	for _, a := range anomalies {
		if a.Confidence >= m.minConfidence {
			strong = append(strong, a)
		}
	}
	if len(strong) == 0 {
		return
	}

	incident := buildIncident(service, strong)
	result, duplicate, err := m.dedup.CreateOrUpdate(ctx, incident)
	if err != nil {
		m.logger.Error("incident create failed", "service", service, "error", err)
		return
	}

	m.markHandled(ctx, service)

	if duplicate {
		m.logger.Info("anomalies merged into open incident",
			"service", service, "incident_id", result.ID)
		return
	}

	if err := m.store.UpdateIncidentStatus(ctx, m.store.DB(), result.ID,
		models.IncidentAnalyzing, "monitor", "queued for analysis"); err != nil {
		m.logger.Error("status transition failed",
			"incident_id", result.ID, "error", err)
		return
	}
	if _, err := m.queue.Enqueue(ctx, analysis.TaskName, analysis.Args{IncidentID: result.ID}); err != nil {
		m.logger.Error("analysis enqueue failed",
			"incident_id", result.ID, "error", err)
	}
}

// recentlyHandled consults the cross-replica dedup key, degrading to the
// in-process map when the cache is unreachable.
func (m *Monitor) recentlyHandled(ctx context.Context, service string) bool {
	_, err := m.cache.Get(ctx, "dedup:"+service)
	if err == nil {
		return true
	}
	if errors.Is(err, cache.ErrCacheMiss) {
		m.recoverIfDegraded()
		return false
	}

	m.degrade()
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.local[service]
	return ok && time.Now().Before(until)
}

// markHandled sets the dedup key. Cache failure falls back to the local map
// and never blocks incident creation.
func (m *Monitor) markHandled(ctx context.Context, service string) {
	if _, err := m.cache.SetNX(ctx, "dedup:"+service, time.Now().Unix(), m.dedupWindow); err != nil {
		m.degrade()
		m.mu.Lock()
		m.local[service] = time.Now().Add(m.dedupWindow)
		m.mu.Unlock()
	}
}

func (m *Monitor) degrade() {
	m.mu.Lock()
	if !m.degraded {
		m.degraded = true
		monitoring.RecordDegradation("monitor_dedup")
		m.logger.Warn("shared cache unreachable, monitor dedup is per-process only")
	}
	m.mu.Unlock()
}

func (m *Monitor) recoverIfDegraded() {
	m.mu.Lock()
	if m.degraded {
		m.degraded = false
		m.local = make(map[string]time.Time)
		m.logger.Info("shared cache recovered, monitor dedup cross-replica again")
	}
	m.mu.Unlock()
}

func buildIncident(service string, anomalies []models.Anomaly) *models.Incident {
	maxSev := models.SeverityLow
	components := make([]string, 0, len(anomalies))
	snapshot := make(map[string]float64, len(anomalies))
	var parts []string
	for _, a := range anomalies {
		components = append(components, a.MetricName)
		snapshot[a.MetricName] = a.CurrentValue
		parts = append(parts, fmt.Sprintf("%s %.1f sigma", a.MetricName, a.DeviationSigma))
		maxSev = models.MaxSeverity(maxSev, severityForSigma(a.DeviationSigma))
	}

	return &models.Incident{
		ID:                 uuid.NewString(),
		Title:              fmt.Sprintf("Anomalies detected on %s", service),
		Description:        fmt.Sprintf("anomalous metrics: %s", strings.Join(parts, ", ")),
		Status:             models.IncidentDetected,
		Severity:           maxSev,
		AffectedService:    service,
		AffectedComponents: components,
		DetectedAt:         time.Now().UTC(),
		MetricsSnapshot:    snapshot,
		Context:            map[string]interface{}{"source": "anomaly_monitor"},
	}
}

func severityForSigma(sigma float64) models.Severity {
	switch {
	case sigma >= 6:
		return models.SeverityCritical
	case sigma >= 4.5:
		return models.SeverityHigh
	case sigma >= 3.5:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}
