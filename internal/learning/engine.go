// Package learning tracks per-(service, category) outcome history and turns
// it into confidence adjustments for future hypotheses.
package learning

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sentinelops/remedy-core/internal/models"
	"github.com/sentinelops/remedy-core/internal/monitoring"
	"github.com/sentinelops/remedy-core/internal/store"
	"github.com/sentinelops/remedy-core/pkg/logger"
)

// Adjustment bounds and thresholds.
const (
	boostThreshold   = 0.8
	penaltyThreshold = 0.3
	boostAmount      = 0.10
	penaltyAmount    = -0.10
)

// Engine persists outcome captures and serves confidence adjustments from an
// in-process cache. The datastore row lock is authoritative; the cache is a
// read optimisation only.
type Engine struct {
	store  *store.Store
	logger logger.Logger

	mu    sync.RWMutex
	cache map[string]*models.IncidentPattern
}

// New creates the engine with an empty cache. Call Warmup before serving.
func New(st *store.Store, log logger.Logger) *Engine {
	return &Engine{
		store:  st,
		logger: log,
		cache:  make(map[string]*models.IncidentPattern),
	}
}

// PatternID builds the learning row key.
func PatternID(service, category string) string {
	return service + ":" + category
}

// Warmup loads every pattern row into the cache. The population is bounded by
// #services x #categories, so no eviction is needed.
func (e *Engine) Warmup(ctx context.Context) error {
	patterns, err := e.store.ListPatterns(ctx, e.store.DB())
	if err != nil {
		return fmt.Errorf("warm pattern cache: %w", err)
	}
	e.mu.Lock()
	for _, p := range patterns {
		e.cache[p.PatternID] = p
	}
	e.mu.Unlock()
	e.logger.Info("pattern cache warmed", "patterns", len(patterns))
	return nil
}

// CaptureOutcome records one incident outcome under the pattern row lock and
// appends the calibration record.
func (e *Engine) CaptureOutcome(ctx context.Context, rec *models.ConfidenceOutcomeRecord) error {
	patternID := PatternID(rec.ServiceName, rec.HypothesisCategory)

	var committed *models.IncidentPattern
	err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		pattern, err := e.store.GetPatternForUpdate(ctx, tx, patternID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if pattern == nil {
			rate := 0.0
			if rec.OutcomeSuccess {
				rate = 1.0
			}
			pattern = &models.IncidentPattern{
				PatternID:       patternID,
				Name:            fmt.Sprintf("%s %s", rec.ServiceName, rec.HypothesisCategory),
				Category:        rec.HypothesisCategory,
				OccurrenceCount: 1,
				SuccessRate:     rate,
			}
		} else {
			correct := 0.0
			if rec.OutcomeSuccess {
				correct = 1.0
			}
			count := float64(pattern.OccurrenceCount)
			pattern.SuccessRate = (pattern.SuccessRate*count + correct) / (count + 1)
			pattern.OccurrenceCount++
		}
		pattern.ConfidenceAdjustment = adjustmentFor(pattern.SuccessRate)
		pattern.UpdatedAt = time.Now().UTC()

		if err := e.store.UpsertPattern(ctx, tx, pattern); err != nil {
			return err
		}
		if err := e.store.AppendOutcome(ctx, tx, rec); err != nil {
			return err
		}
		committed = pattern
		return nil
	})
	if err != nil {
		return fmt.Errorf("capture outcome %s: %w", patternID, err)
	}

	e.mu.Lock()
	e.cache[patternID] = committed
	e.mu.Unlock()

	monitoring.RecordIncidentOutcome(rec.OutcomeStatus)
	e.logger.Info("outcome captured",
		"pattern_id", patternID,
		"occurrences", committed.OccurrenceCount,
		"success_rate", committed.SuccessRate,
		"adjustment", committed.ConfidenceAdjustment)
	return nil
}

// Adjustment returns the learned confidence delta for a (service, category).
// Cache miss falls through to the datastore; an unknown pattern yields zero.
func (e *Engine) Adjustment(ctx context.Context, service, category string) float64 {
	patternID := PatternID(service, category)

	e.mu.RLock()
	p, ok := e.cache[patternID]
	e.mu.RUnlock()
	if ok {
		return p.ConfidenceAdjustment
	}

	p, err := e.store.GetPattern(ctx, e.store.DB(), patternID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.logger.Warn("pattern read failed", "pattern_id", patternID, "error", err)
		}
		return 0
	}

	e.mu.Lock()
	e.cache[patternID] = p
	e.mu.Unlock()
	return p.ConfidenceAdjustment
}

// Pattern returns the cached pattern row, if known.
func (e *Engine) Pattern(service, category string) (*models.IncidentPattern, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.cache[PatternID(service, category)]
	return p, ok
}

func adjustmentFor(successRate float64) float64 {
	switch {
	case successRate > boostThreshold:
		return boostAmount
	case successRate < penaltyThreshold:
		return penaltyAmount
	default:
		return 0
	}
}
