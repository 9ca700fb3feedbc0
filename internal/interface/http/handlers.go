package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/deutsch-portal/lernportal-hub/internal/application/command"
	"github.com/deutsch-portal/lernportal-hub/internal/application/query"
	"github.com/deutsch-portal/lernportal-hub/internal/domain/progress"
	"github.com/deutsch-portal/lernportal-hub/internal/domain/shared"
	"github.com/deutsch-portal/lernportal-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth answers 503 when a critical dependency is down.
func (s *Server) handleHealth(c *gin.Context) {
	status := s.deps.HealthChecker.Check(c.Request.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(c, code, status)
}

// handleReady answers 503 when any dependency is down.
func (s *Server) handleReady(c *gin.Context) {
	status := s.deps.HealthChecker.Check(c.Request.Context())
	if !status.Ready {
		writeJSON(c, http.StatusServiceUnavailable, gin.H{"status": "not_ready", "reason": status.Message})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": "ready"})
}

// ══════════════════════════════════════════════════════════════════════════════
// LEARNER HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// AwardRequest is the body of POST /learners/:id/awards.
type AwardRequest struct {
	EventKind string `json:"event_kind" binding:"required"`
}

// AwardResponse is the outcome of an award.
type AwardResponse struct {
	LearnerID         string                     `json:"learner_id"`
	EventKind         string                     `json:"event_kind,omitempty"`
	Amount            int                        `json:"amount"`
	TotalPoints       int                        `json:"total_points"`
	Level             int                        `json:"level"`
	PreviousLevel     int                        `json:"previous_level"`
	LeveledUp         bool                       `json:"leveled_up"`
	CurrentStreakDays int                        `json:"current_streak_days"`
	UnlockedBadges    []progress.BadgeDefinition `json:"unlocked_badges"`
	Skipped           bool                       `json:"skipped,omitempty"`
}

func newAwardResponse(r *command.AwardPointsResult) AwardResponse {
	resp := AwardResponse{
		LearnerID:      r.LearnerID,
		Skipped:        r.Skipped,
		UnlockedBadges: r.UnlockedBadges,
	}
	if resp.UnlockedBadges == nil {
		resp.UnlockedBadges = []progress.BadgeDefinition{}
	}
	if r.Skipped || r.Record == nil {
		return resp
	}
	resp.EventKind = r.Kind.String()
	resp.Amount = r.Amount
	resp.TotalPoints = r.Record.TotalPoints
	resp.Level = r.Record.Level
	resp.PreviousLevel = r.PreviousLevel
	resp.LeveledUp = r.LeveledUp
	resp.CurrentStreakDays = r.Record.CurrentStreakDays
	return resp
}

// handleAwardPoints handles POST /api/v1/learners/:id/awards
func (s *Server) handleAwardPoints(c *gin.Context) {
	if s.deps.AwardPoints == nil {
		writeNotConfigured(c)
		return
	}

	var req AwardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSONErrorWithDetails(c, http.StatusBadRequest, "invalid_request", "event_kind is required", err.Error())
		return
	}

	result, err := s.deps.AwardPoints.Handle(c.Request.Context(), command.AwardPointsCommand{
		LearnerID:     c.Param("id"),
		EventKind:     req.EventKind,
		CorrelationID: requestID(c),
	})
	if err != nil {
		s.writeError(c, "award points", err)
		return
	}

	writeJSON(c, http.StatusOK, newAwardResponse(result))
}

// handleGetProgress handles GET /api/v1/learners/:id/progress
// A learner without awards gets an empty level-1 record.
func (s *Server) handleGetProgress(c *gin.Context) {
	if s.deps.GetProgress == nil {
		writeNotConfigured(c)
		return
	}

	view, err := s.deps.GetProgress.Handle(c.Request.Context(), query.GetProgressQuery{
		LearnerID:  c.Param("id"),
		AllowEmpty: true,
	})
	if err != nil {
		s.writeError(c, "get progress", err)
		return
	}
	writeJSON(c, http.StatusOK, view)
}

// handleGetHistory handles GET /api/v1/learners/:id/history?limit=
func (s *Server) handleGetHistory(c *gin.Context) {
	if s.deps.GetHistory == nil {
		writeNotConfigured(c)
		return
	}

	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}

	entries, err := s.deps.GetHistory.Handle(c.Request.Context(), query.GetHistoryQuery{
		LearnerID: c.Param("id"),
		Limit:     limit,
	})
	if err != nil {
		s.writeError(c, "get history", err)
		return
	}
	writeJSONWithMeta(c, http.StatusOK, entries, &ResponseMeta{TotalCount: len(entries)})
}

// handleGetBadges handles GET /api/v1/learners/:id/badges
func (s *Server) handleGetBadges(c *gin.Context) {
	if s.deps.GetBadges == nil {
		writeNotConfigured(c)
		return
	}

	result, err := s.deps.GetBadges.Handle(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, "get badges", err)
		return
	}
	writeJSON(c, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetLeaderboard handles GET /api/v1/leaderboard?limit=
func (s *Server) handleGetLeaderboard(c *gin.Context) {
	if s.deps.GetLeaderboard == nil {
		writeNotConfigured(c)
		return
	}

	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}

	result, err := s.deps.GetLeaderboard.Handle(c.Request.Context(), query.GetLeaderboardQuery{Limit: limit})
	if err != nil {
		s.writeError(c, "get leaderboard", err)
		return
	}
	writeJSONWithMeta(c, http.StatusOK, result, &ResponseMeta{TotalCount: len(result.Entries)})
}

// ══════════════════════════════════════════════════════════════════════════════
// LESSON HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleJoinWindow handles GET /api/v1/lessons/join-window?date=&time=
func (s *Server) handleJoinWindow(c *gin.Context) {
	if s.deps.JoinWindow == nil {
		writeNotConfigured(c)
		return
	}

	result, err := s.deps.JoinWindow.Handle(c.Request.Context(), query.JoinWindowQuery{
		Date: c.Query("date"),
		Time: c.Query("time"),
	})
	if err != nil {
		s.writeError(c, "join window", err)
		return
	}
	writeJSON(c, http.StatusOK, result)
}

// handleWeekCalendar handles GET /api/v1/lessons/week?start=YYYY-MM-DD
func (s *Server) handleWeekCalendar(c *gin.Context) {
	if s.deps.WeekCalendar == nil {
		writeNotConfigured(c)
		return
	}

	result, err := s.deps.WeekCalendar.Handle(c.Request.Context(), query.WeekCalendarQuery{
		WeekStart: c.Query("start"),
		Hours:     s.config.CalendarHours,
	})
	if err != nil {
		s.writeError(c, "week calendar", err)
		return
	}
	writeJSONWithMeta(c, http.StatusOK, result, &ResponseMeta{TotalCount: result.Total})
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse represents a standard JSON response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      interface{}   `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp  time.Time `json:"timestamp"`
	Version    string    `json:"version,omitempty"`
	TotalCount int       `json:"total_count,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(c *gin.Context, status int, data interface{}) {
	writeJSONWithMeta(c, status, data, nil)
}

// writeJSONWithMeta writes a JSON response with custom metadata.
func writeJSONWithMeta(c *gin.Context, status int, data interface{}, meta *ResponseMeta) {
	if meta == nil {
		meta = &ResponseMeta{}
	}
	meta.Timestamp = time.Now().UTC()
	meta.Version = "v1"

	c.JSON(status, JSONResponse{
		Success:   status >= 200 && status < 300,
		Data:      data,
		Meta:      meta,
		RequestID: requestID(c),
	})
}

// writeJSONError writes an error JSON response and aborts the chain.
func writeJSONError(c *gin.Context, status int, code, message string) {
	writeJSONErrorWithDetails(c, status, code, message, "")
}

// writeJSONErrorWithDetails writes an error JSON response with details.
func writeJSONErrorWithDetails(c *gin.Context, status int, code, message, details string) {
	c.AbortWithStatusJSON(status, JSONResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC()},
		RequestID: requestID(c),
	})
}

func writeNotConfigured(c *gin.Context) {
	writeJSONError(c, http.StatusNotImplemented, "not_implemented", "Handler not configured")
}

// writeError maps domain errors to status codes:
// validation 400, not found 404, conflicts 409, unavailable 503, rest 500.
func (s *Server) writeError(c *gin.Context, op string, err error) {
	status, code := statusFor(err)

	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed",
			logger.Err(err),
			logger.String("request_id", requestID(c)),
		)
		writeJSONError(c, status, code, "Request could not be completed")
		return
	}

	message := err.Error()
	var de *shared.DomainError
	if errors.As(err, &de) {
		message = de.Message
	}
	writeJSONErrorWithDetails(c, status, code, message, err.Error())
}

func statusFor(err error) (int, string) {
	switch {
	case shared.IsValidation(err):
		return http.StatusBadRequest, "invalid_request"
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case shared.IsAlreadyExists(err):
		return http.StatusConflict, "conflict"
	case shared.IsExternalService(err):
		return http.StatusServiceUnavailable, "service_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// queryInt reads an optional integer query parameter. On a malformed value
// it writes 400 and returns false.
func queryInt(c *gin.Context, key string) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeJSONErrorWithDetails(c, http.StatusBadRequest, "invalid_request", key+" must be an integer", err.Error())
		return 0, false
	}
	return n, true
}
