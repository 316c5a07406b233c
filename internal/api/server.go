// Package api exposes the thin HTTP surface: health probes, self-metrics,
// incident ingest and action approval. All heavy work is enqueued; handlers
// answer with 202 semantics.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sentinelops/remedy-core/internal/blast"
	"github.com/sentinelops/remedy-core/internal/config"
	"github.com/sentinelops/remedy-core/internal/dedup"
	"github.com/sentinelops/remedy-core/internal/monitoring"
	"github.com/sentinelops/remedy-core/internal/queue"
	"github.com/sentinelops/remedy-core/internal/ratelimit"
	"github.com/sentinelops/remedy-core/internal/store"
	"github.com/sentinelops/remedy-core/pkg/cache"
	"github.com/sentinelops/remedy-core/pkg/logger"
)

// Server wires handlers to their collaborators.
type Server struct {
	cfg     *config.Config
	store   *store.Store
	dedup   *dedup.Deduplicator
	queue   *queue.Queue
	blast   *blast.Assessor
	cache   cache.SharedCache
	logger  logger.Logger
	version string

	http *http.Server
}

// New builds the server and its routes.
func New(cfg *config.Config, st *store.Store, dd *dedup.Deduplicator,
	q *queue.Queue, ba *blast.Assessor, sc cache.SharedCache,
	version string, log logger.Logger) *Server {

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg: cfg, store: st, dedup: dd, queue: q, blast: ba,
		cache: sc, logger: log, version: version,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.HTTPMetricsMiddleware())
	monitoring.SetupPrometheusMetrics(router, version)

	router.GET("/health", s.handleHealth)
	router.GET("/ready", s.handleReady)

	v1 := router.Group("/api/v1")
	v1.Use(s.rateLimitMiddleware("api"))
	{
		v1.POST("/incidents", s.handleCreateIncident)
		v1.GET("/incidents", s.handleListIncidents)
		v1.GET("/incidents/:id", s.handleGetIncident)
		v1.GET("/incidents/:id/events", s.handleListEvents)
		v1.GET("/incidents/:id/hypotheses", s.handleListHypotheses)
		v1.POST("/actions/:id/approve", s.handleApproveAction)
		v1.GET("/services/:service/blast-radius", s.handleBlastRadius)
	}

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// rateLimitMiddleware enforces the named limit from config. Routes without a
// configured limit pass through.
func (s *Server) rateLimitMiddleware(name string) gin.HandlerFunc {
	cfg, ok := s.cfg.RateLimits[name]
	if !ok {
		return func(c *gin.Context) { c.Next() }
	}
	limiter := ratelimit.New(name, cfg, s.cache, s.logger)

	return func(c *gin.Context) {
		decision := limiter.Allow(c.Request.Context(), c.ClientIP())
		if !decision.Allowed {
			c.Header("Retry-After", fmt.Sprintf("%d", int(decision.RetryAfter.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": int(decision.RetryAfter.Seconds()),
			})
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.version})
}

func (s *Server) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := gin.H{}
	ready := true
	if err := s.store.HealthCheck(ctx); err != nil {
		checks["datastore"] = err.Error()
		ready = false
	} else {
		checks["datastore"] = "ok"
	}
	// Cache unavailability degrades features but does not block readiness.
	if err := s.cache.HealthCheck(ctx); err != nil {
		checks["cache"] = err.Error()
	} else {
		checks["cache"] = "ok"
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"ready": ready, "checks": checks})
}
