package api

import (
	"fmt"
	"net/http"
	"strconv"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/reevehq/reeve/internal/common/timeutil"
	"github.com/reevehq/reeve/internal/events/bus"
	"github.com/reevehq/reeve/internal/pulse"
	"github.com/reevehq/reeve/internal/pulse/store"
)

const (
	minPromptLen = 10
	maxPromptLen = 2000

	minListLimit = 1
	maxListLimit = 100
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "reeve-pulse-daemon",
	})
}

func (s *Server) handleSchedule(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if n := utf8.RuneCountInString(req.Prompt); n < minPromptLen || n > maxPromptLen {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("prompt must be between %d and %d characters", minPromptLen, maxPromptLen),
		})
		return
	}

	priority := pulse.PriorityNormal
	if req.Priority != "" {
		priority = pulse.Priority(req.Priority)
		if !priority.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid priority: %q", req.Priority)})
			return
		}
	}

	if req.ScheduledAt == "" {
		req.ScheduledAt = "now"
	}
	scheduledAt, err := timeutil.ParseTimeString(req.ScheduledAt)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	source := req.Source
	if source == "" {
		source = "external"
	}

	p, err := s.store.Schedule(c.Request.Context(), store.ScheduleParams{
		ScheduledAt: scheduledAt,
		Prompt:      req.Prompt,
		Priority:    priority,
		SessionID:   req.SessionID,
		StickyNotes: req.StickyNotes,
		Tags:        req.Tags,
		CreatedBy:   source,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to schedule pulse: %v", err)})
		return
	}

	if s.events != nil {
		s.events.Publish(c.Request.Context(), bus.SubjectPulseScheduled, bus.PulseEvent{
			PulseID:   p.ID,
			Status:    string(p.Status),
			Priority:  string(p.Priority),
			CreatedBy: p.CreatedBy,
		})
	}

	c.JSON(http.StatusOK, scheduleResponse{
		PulseID:     p.ID,
		ScheduledAt: timeutil.FormatUTC(p.ScheduledAt),
		Message:     fmt.Sprintf("Pulse %d scheduled successfully", p.ID),
	})
}

func (s *Server) handleUpcoming(c *gin.Context) {
	limit := parseLimit(c.DefaultQuery("limit", "20"), 20)

	pulses, err := s.store.GetUpcoming(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to retrieve pulses: %v", err)})
		return
	}

	items := make([]upcomingItem, 0, len(pulses))
	for _, p := range pulses {
		items = append(items, toUpcomingItem(p))
	}
	c.JSON(http.StatusOK, upcomingResponse{Count: len(items), Pulses: items})
}

func (s *Server) handleList(c *gin.Context) {
	status := c.DefaultQuery("status", "all")
	if status != "all" && status != "overdue" && !pulse.Status(status).Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid status filter: %q", status)})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < minListLimit || limit > maxListLimit {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("limit must be between %d and %d", minListLimit, maxListLimit),
		})
		return
	}

	pulses, err := s.store.GetByStatus(c.Request.Context(), status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to retrieve pulses: %v", err)})
		return
	}

	details := make([]pulseDetails, 0, len(pulses))
	for _, p := range pulses {
		details = append(details, toPulseDetails(p))
	}
	c.JSON(http.StatusOK, listResponse{Count: len(details), Status: status, Pulses: details})
}

func (s *Server) handleGetPulse(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pulse id"})
		return
	}

	p, err := s.store.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to retrieve pulse: %v", err)})
		return
	}
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("pulse %d not found", id)})
		return
	}
	c.JSON(http.StatusOK, toPulseDetails(p))
}

func (s *Server) handlePulseStats(c *gin.Context) {
	stats, err := s.store.GetStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to compute stats: %v", err)})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleExecutionStats(c *gin.Context) {
	stats, err := s.store.GetExecutionStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to compute stats: %v", err)})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleStatus(c *gin.Context) {
	resp := gin.H{
		"status":    "running",
		"database":  s.cfg.Database.Path,
		"desk_path": s.cfg.DeskPath,
		"api_port":  s.cfg.API.Port,
	}
	if s.reporter != nil {
		resp["in_flight"] = s.reporter.InFlight()
		resp["max_concurrent"] = s.reporter.MaxConcurrent()
	}
	c.JSON(http.StatusOK, resp)
}

// parseLimit is lenient: bad values fall back to the default, the way the
// upcoming endpoint has always behaved. The list endpoint validates strictly.
func parseLimit(raw string, fallback int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
