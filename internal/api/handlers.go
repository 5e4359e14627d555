package api

import (
	"net/http"
	"strconv"
	"time"

	"market-analyst-bot/internal/auth"
	"market-analyst-bot/internal/database"
	"market-analyst-bot/internal/pipeline"

	"github.com/gin-gonic/gin"
)

// analyzeRequest is the client-facing analysis request body
type analyzeRequest struct {
	Market      string `json:"market"`
	Symbol      string `json:"symbol" binding:"required"`
	Timeframe   string `json:"timeframe" binding:"required"`
	Style       string `json:"style"`
	Risk        string `json:"risk"`
	NewsEnabled bool   `json:"news_enabled"`
}

func (s *Server) handleHealth(c *gin.Context) {
	status := gin.H{"status": "ok"}
	if s.repo != nil {
		if err := s.repo.HealthCheck(c.Request.Context()); err != nil {
			status["status"] = "degraded"
			status["database"] = "unreachable"
		} else {
			status["database"] = "ok"
		}
	}
	if s.cacheSvc != nil {
		if err := s.cacheSvc.Ping(c.Request.Context()); err != nil {
			status["status"] = "degraded"
		}
		status["cache"] = s.cacheSvc.GetStats()
	}
	if s.hub != nil {
		status["ws_clients"] = s.hub.ClientCount()
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleRegister(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	user, err := s.authService.Register(c.Request.Context(), req)
	if err != nil {
		if authErr, ok := err.(auth.AuthError); ok {
			errorResponse(c, http.StatusConflict, authErr.Code, authErr.Message)
			return
		}
		s.logger.Error("registration failed", "error", err)
		errorResponse(c, http.StatusInternalServerError, "internal", "registration failed")
		return
	}

	successResponse(c, gin.H{"id": user.ID, "email": user.Email})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	resp, err := s.authService.Login(c.Request.Context(), req)
	if err != nil {
		if authErr, ok := err.(auth.AuthError); ok {
			errorResponse(c, http.StatusUnauthorized, authErr.Code, authErr.Message)
			return
		}
		s.logger.Error("login failed", "error", err)
		errorResponse(c, http.StatusInternalServerError, "internal", "login failed")
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleAnalyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Market == "" {
		req.Market = "crypto"
	}
	if req.Style == "" {
		req.Style = "swing"
	}
	if req.Risk == "" {
		req.Risk = "moderate"
	}

	userID := auth.UserID(c)
	result, perr := s.analyzer.Analyze(c.Request.Context(), pipeline.Request{
		UserID:      userID,
		Market:      req.Market,
		Symbol:      req.Symbol,
		Timeframe:   req.Timeframe,
		Style:       req.Style,
		Risk:        req.Risk,
		NewsEnabled: req.NewsEnabled,
		Privileged:  auth.IsPrivileged(c),
	})
	if perr != nil {
		errorResponse(c, statusForCode(perr.Code), string(perr.Code), perr.UserMessage())
		return
	}

	s.recordAnalysis(c, userID, req, result)
	successResponse(c, result)
}

// recordAnalysis persists the audit row. Best-effort; the response is
// already decided by the time we get here.
func (s *Server) recordAnalysis(c *gin.Context, userID string, req analyzeRequest, result *pipeline.Result) {
	if s.repo == nil {
		return
	}
	rec := &database.AnalysisRecord{
		UserID:    userID,
		Market:    req.Market,
		Symbol:    req.Symbol,
		Timeframe: req.Timeframe,
		Style:     req.Style,
		Risk:      req.Risk,
		Validated: result.Validated,
		Repaired:  result.Repaired,
		ZoneCount: len(result.Zones),
		ChartRef:  result.ChartRef,
	}
	if err := s.repo.CreateAnalysisRecord(c.Request.Context(), rec); err != nil {
		s.logger.Warn("failed to persist analysis record", "user_id", userID, "error", err)
	}
}

func statusForCode(code pipeline.Code) int {
	switch code {
	case pipeline.CodeQuotaExceeded:
		return http.StatusTooManyRequests
	case pipeline.CodeMarketDataUnavailable, pipeline.CodeGenerationUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleQuota(c *gin.Context) {
	remaining, err := s.quota.Remaining(c.Request.Context(), auth.UserID(c))
	if err != nil {
		s.logger.Error("quota lookup failed", "error", err)
		errorResponse(c, http.StatusInternalServerError, "internal", "quota lookup failed")
		return
	}
	successResponse(c, gin.H{
		"remaining": remaining,
		"unlimited": remaining < 0,
	})
}

func (s *Server) handleListJobs(c *gin.Context) {
	if s.jobs == nil {
		successResponse(c, []pipeline.Job{})
		return
	}

	all, err := s.jobs.List(c.Request.Context())
	if err != nil {
		s.logger.Error("job list failed", "error", err)
		errorResponse(c, http.StatusInternalServerError, "internal", "job list failed")
		return
	}

	userID := auth.UserID(c)
	privileged := auth.IsPrivileged(c)
	jobs := make([]pipeline.Job, 0, len(all))
	for _, job := range all {
		if privileged || job.UserID == userID {
			jobs = append(jobs, job)
		}
	}
	successResponse(c, jobs)
}

func (s *Server) handleGetJob(c *gin.Context) {
	if s.jobs == nil {
		errorResponse(c, http.StatusNotFound, "not_found", "job not found")
		return
	}

	job, err := s.jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		errorResponse(c, http.StatusNotFound, "not_found", "job not found")
		return
	}
	if job.UserID != auth.UserID(c) && !auth.IsPrivileged(c) {
		errorResponse(c, http.StatusForbidden, "forbidden", "not your job")
		return
	}
	successResponse(c, job)
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.repo == nil {
		successResponse(c, []database.AnalysisRecord{})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	records, err := s.repo.ListAnalysisRecords(c.Request.Context(), auth.UserID(c), limit)
	if err != nil {
		s.logger.Error("history lookup failed", "error", err)
		errorResponse(c, http.StatusInternalServerError, "internal", "history lookup failed")
		return
	}
	successResponse(c, records)
}

// subscriptionUpdateRequest is the admin request to change a user's plan
type subscriptionUpdateRequest struct {
	Tier      string `json:"tier" binding:"required,oneof=free pro"`
	Status    string `json:"status" binding:"required,oneof=active past_due cancelled"`
	ExpiresAt string `json:"expires_at"` // RFC3339, empty for no expiry
}

func parseOptionalTime(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Server) handleUpdateSubscription(c *gin.Context) {
	if s.repo == nil {
		errorResponse(c, http.StatusServiceUnavailable, "unavailable", "database disabled")
		return
	}

	var req subscriptionUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	expiresAt, err := parseOptionalTime(req.ExpiresAt)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid_request", "expires_at must be RFC3339")
		return
	}

	err = s.repo.UpdateSubscription(
		c.Request.Context(), c.Param("id"),
		database.SubscriptionTier(req.Tier), database.SubscriptionStatus(req.Status), expiresAt,
	)
	if err != nil {
		errorResponse(c, http.StatusNotFound, "not_found", err.Error())
		return
	}
	successResponse(c, gin.H{"updated": true})
}
