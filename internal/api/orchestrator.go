package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ajitpratap0/tradehawk/internal/db"
)

func (s *Server) handleMarketHours(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Clock.Status(time.Now()))
}

func (s *Server) handleCurrentRegime(c *gin.Context) {
	regime, err := s.deps.Regimes.GetCurrent(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if regime == nil {
		notFound(c, "No active regime found")
		return
	}
	c.JSON(http.StatusOK, regime)
}

func validRegime(raw string) (db.RegimeType, bool) {
	switch t := db.RegimeType(raw); t {
	case db.RegimeNormalBull, db.RegimeDefenseTrigger, db.RegimeRecoveryMode, db.RegimeRecoveryComplete:
		return t, true
	default:
		return "", false
	}
}

func (s *Server) handleSetRegime(c *gin.Context) {
	regimeType, ok := validRegime(c.Param("type"))
	if !ok {
		badRequest(c, "Invalid regime type: "+c.Param("type"))
		return
	}

	var qqqPrice *float64
	if raw := c.Query("qqq_price"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			badRequest(c, "invalid qqq_price")
			return
		}
		qqqPrice = &v
	}
	var recoveryStrike *float64
	if raw := c.Query("recovery_strike"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			badRequest(c, "invalid recovery_strike")
			return
		}
		recoveryStrike = &v
	}

	regime, err := s.deps.Orchestrator.SetRegime(c.Request.Context(), regimeType, qqqPrice, recoveryStrike)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "regime": regime.RegimeType})
}

func (s *Server) handleExecuteWeekly(c *gin.Context) {
	result, err := s.deps.Orchestrator.ExecuteWeekly(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleEmergencyShutdown(c *gin.Context) {
	result, err := s.deps.Orchestrator.EmergencyShutdown(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleOrchestratorStatus(c *gin.Context) {
	status, err := s.deps.Orchestrator.Status(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleAnalyze(c *gin.Context) {
	result, err := s.deps.Orchestrator.Analyze(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleListRecommendations(c *gin.Context) {
	ctx := c.Request.Context()
	pendingOnly := c.DefaultQuery("pending_only", "true") == "true"

	if pendingOnly {
		recs, err := s.deps.Orchestrator.Pending(ctx)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, recs)
		return
	}

	recs, err := s.deps.Recommendations.List(ctx, "", queryInt(c, "limit", 50))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

func (s *Server) handleGetRecommendation(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	rec, err := s.deps.Recommendations.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleApproveRecommendation(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	rec, err := s.deps.Orchestrator.Approve(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":            "approved",
		"recommendation_id": rec.ID,
		"message":           "Recommendation approved. You can now execute it.",
	})
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleRejectRecommendation(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		badRequest(c, err.Error())
		return
	}
	if req.Reason == "" {
		req.Reason = "No reason provided"
	}

	rec, err := s.deps.Orchestrator.Reject(c.Request.Context(), id, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":            "rejected",
		"recommendation_id": rec.ID,
		"reason":            req.Reason,
	})
}

func (s *Server) handleExecuteRecommendation(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	outcome, err := s.deps.Orchestrator.Execute(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if !outcome.Success {
		msg := outcome.Error
		if msg == "" {
			msg = "Execution failed"
		}
		badRequest(c, msg)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":            "executed",
		"recommendation_id": id,
		"order_id":          outcome.OrderID,
		"execution_price":   outcome.ExecutionPrice,
		"action":            outcome.Action,
	})
}
