package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sentinelops/remedy-core/internal/alerts"
	"github.com/sentinelops/remedy-core/internal/analysis"
	"github.com/sentinelops/remedy-core/internal/models"
	"github.com/sentinelops/remedy-core/internal/remediate"
	"github.com/sentinelops/remedy-core/internal/store"
)

// createIncidentRequest is the manual ingest payload.
type createIncidentRequest struct {
	Title       string             `json:"title" binding:"required"`
	Description string             `json:"description" binding:"required"`
	Service     string             `json:"service" binding:"required"`
	Severity    string             `json:"severity"`
	Components  []string           `json:"components"`
	Metrics     map[string]float64 `json:"metrics"`
}

// handleCreateIncident accepts an externally reported incident, runs it
// through dedup, and queues analysis. Answers 202: the analysis itself is
// asynchronous.
func (s *Server) handleCreateIncident(c *gin.Context) {
	var req createIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	severity := alerts.NormalizeSeverity(req.Severity, s.logger)

	incident := &models.Incident{
		ID:                 uuid.NewString(),
		Title:              req.Title,
		Description:        req.Description,
		Status:             models.IncidentDetected,
		Severity:           severity,
		AffectedService:    req.Service,
		AffectedComponents: req.Components,
		DetectedAt:         time.Now().UTC(),
		MetricsSnapshot:    req.Metrics,
		Context:            map[string]interface{}{"source": "api"},
	}

	result, duplicate, err := s.dedup.CreateOrUpdate(c.Request.Context(), incident)
	if err != nil {
		s.logger.Error("incident ingest failed", "service", req.Service, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "incident ingest failed"})
		return
	}

	if !duplicate {
		if err := s.store.UpdateIncidentStatus(c.Request.Context(), s.store.DB(),
			result.ID, models.IncidentAnalyzing, "api", "queued for analysis"); err != nil {
			s.logger.Error("status transition failed", "incident_id", result.ID, "error", err)
		} else if _, err := s.queue.Enqueue(c.Request.Context(), analysis.TaskName,
			analysis.Args{IncidentID: result.ID}); err != nil {
			s.logger.Error("analysis enqueue failed", "incident_id", result.ID, "error", err)
		}
	}

	c.JSON(http.StatusAccepted, gin.H{
		"incident_id": result.ID,
		"duplicate":   duplicate,
		"status":      result.Status,
	})
}

func (s *Server) handleGetIncident(c *gin.Context) {
	incident, err := s.store.GetIncident(c.Request.Context(), s.store.DB(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, incident)
}

func (s *Server) handleListIncidents(c *gin.Context) {
	service := c.Query("service")
	if service == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "service query parameter is required"})
		return
	}

	statuses := []models.IncidentStatus{
		models.IncidentDetected, models.IncidentAnalyzing,
		models.IncidentPendingApproval, models.IncidentRemediating,
		models.IncidentVerifying,
	}
	if st := c.Query("status"); st != "" {
		statuses = []models.IncidentStatus{models.IncidentStatus(st)}
	}

	since := time.Now().Add(-24 * time.Hour)
	incidents, err := s.store.FindCandidates(c.Request.Context(), s.store.DB(), service, statuses, since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"incidents": incidents, "count": len(incidents)})
}

func (s *Server) handleListEvents(c *gin.Context) {
	events, err := s.store.ListEvents(c.Request.Context(), s.store.DB(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) handleListHypotheses(c *gin.Context) {
	hypotheses, err := s.store.ListHypotheses(c.Request.Context(), s.store.DB(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"hypotheses": hypotheses})
}

// handleApproveAction flips an action to approved and queues execution.
func (s *Server) handleApproveAction(c *gin.Context) {
	id := c.Param("id")
	if err := s.store.UpdateActionStatus(c.Request.Context(), s.store.DB(), id, models.ActionApproved); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "action not found"})
		case errors.Is(err, store.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "approval failed"})
		}
		return
	}

	if _, err := s.queue.Enqueue(c.Request.Context(), remediate.TaskName,
		remediate.Args{ActionID: id}); err != nil {
		s.logger.Error("execution enqueue failed", "action_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "execution enqueue failed"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"action_id": id, "status": models.ActionApproved})
}

func (s *Server) handleBlastRadius(c *gin.Context) {
	radius := s.blast.Assess(c.Request.Context(), c.Param("service"))
	c.JSON(http.StatusOK, radius)
}
