package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ajitpratap0/tradehawk/internal/db"
)

// agentSummary is one dashboard row per registered agent.
type agentSummary struct {
	AgentID        string     `json:"agent_id"`
	Name           string     `json:"agent_name"`
	Kind           string     `json:"agent_type"`
	Status         string     `json:"status"`
	Active         bool       `json:"active"`
	SuccessfulRuns int        `json:"successful_runs"`
	FailedRuns     int        `json:"failed_runs"`
	TotalRuns      int        `json:"total_runs"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
}

func (s *Server) handleDashboard(c *gin.Context) {
	ctx := c.Request.Context()

	agents, err := s.deps.Agents.List(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	summaries := make([]agentSummary, 0, len(agents))
	for _, a := range agents {
		ok, failed, err := s.deps.Runs.CountByAgent(ctx, a.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		summaries = append(summaries, agentSummary{
			AgentID:        a.ID.String(),
			Name:           a.Name,
			Kind:           a.Kind,
			Status:         string(a.Status),
			Active:         a.Active,
			SuccessfulRuns: ok,
			FailedRuns:     failed,
			TotalRuns:      ok + failed,
			LastRunAt:      a.LastRunAt,
		})
	}

	regime, err := s.deps.Regimes.GetCurrent(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	stats, err := s.deps.Trades.OptionsStats(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	byType, err := s.deps.Metrics.TradesByType(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	recent, err := s.deps.Trades.ListOptionsTrades(ctx, "", 10)
	if err != nil {
		respondError(c, err)
		return
	}
	pending, err := s.deps.Recommendations.List(ctx, db.RecommendationPending, 10)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{
		"current_regime":          nil,
		"regime_started_at":       nil,
		"qqq_price":               nil,
		"agents":                  summaries,
		"trade_summary":           stats,
		"trades_by_type":          byType,
		"recent_trades":           recent,
		"pending_recommendations": len(pending),
	}
	if regime != nil {
		resp["current_regime"] = regime.RegimeType
		resp["regime_started_at"] = regime.StartedAt
		resp["qqq_price"] = regime.QQQPriceAtStart
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePnLChart(c *gin.Context) {
	days := queryInt(c, "days", 30)
	since := time.Now().UTC().AddDate(0, 0, -days)

	points, err := s.deps.Metrics.PnLByDay(c.Request.Context(), since)
	if err != nil {
		respondError(c, err)
		return
	}

	type chartPoint struct {
		Date          string  `json:"date"`
		PnL           float64 `json:"pnl"`
		CumulativePnL float64 `json:"cumulative_pnl"`
	}
	var cumulative float64
	chart := make([]chartPoint, 0, len(points))
	for _, p := range points {
		cumulative += p.PnL
		chart = append(chart, chartPoint{
			Date:          p.Day.Format("2006-01-02"),
			PnL:           p.PnL,
			CumulativePnL: cumulative,
		})
	}
	c.JSON(http.StatusOK, chart)
}

func (s *Server) handleTradesByType(c *gin.Context) {
	trades, err := s.deps.Trades.ListOptionsTrades(c.Request.Context(), "", 500)
	if err != nil {
		respondError(c, err)
		return
	}
	grouped := make(map[string][]*db.OptionsTrade)
	for _, t := range trades {
		grouped[t.TradeType] = append(grouped[t.TradeType], t)
	}
	c.JSON(http.StatusOK, grouped)
}

func (s *Server) handleAgentMetrics(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	since := time.Now().UTC().Add(-time.Duration(queryInt(c, "hours", 24)) * time.Hour)
	metrics, err := s.deps.Metrics.AgentMetricsSince(c.Request.Context(), id, since)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, metrics)
}

func (s *Server) handleSystemMetrics(c *gin.Context) {
	since := time.Now().UTC().Add(-time.Duration(queryInt(c, "hours", 24)) * time.Hour)
	metrics, err := s.deps.Metrics.SystemMetricsSince(c.Request.Context(), c.Query("metric_name"), since)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, metrics)
}
