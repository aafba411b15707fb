package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ajitpratap0/tradehawk/internal/db"
)

func (s *Server) registerRoutes() {
	s.router.GET("/", s.handleRoot)
	s.router.GET("/health", s.handleHealth)
	if s.deps.WebSocket != nil {
		s.router.GET("/ws", s.deps.WebSocket)
	}

	api := s.router.Group("/api")

	agents := api.Group("/agents")
	{
		agents.GET("", s.handleListAgents)
		agents.POST("", s.handleCreateAgent)
		agents.GET("/activities/all", s.handleAllActivities)
		agents.GET("/:id", s.handleGetAgent)
		agents.PATCH("/:id", s.handleUpdateAgent)
		agents.POST("/:id/start", s.handleStartAgent)
		agents.POST("/:id/stop", s.handleStopAgent)
		agents.POST("/:id/pause", s.handlePauseAgent)
		agents.GET("/:id/runs", s.handleAgentRuns)
		agents.GET("/:id/activities", s.handleAgentActivities)
	}

	trades := api.Group("/trades")
	{
		trades.GET("", s.handleListTrades)
		trades.GET("/open", s.handleOpenTrades)
		trades.POST("", s.handleCreateTrade)
		trades.POST("/:id/close", s.handleCloseTrade)
		trades.GET("/stats", s.handleTradeStats)
	}

	metrics := api.Group("/metrics")
	{
		metrics.GET("/dashboard", s.handleDashboard)
		metrics.GET("/pnl-chart", s.handlePnLChart)
		metrics.GET("/trades-by-type", s.handleTradesByType)
		metrics.GET("/agent/:id", s.handleAgentMetrics)
		metrics.GET("/system", s.handleSystemMetrics)
	}

	orch := api.Group("/orchestrator")
	{
		orch.GET("/market-hours", s.handleMarketHours)
		orch.GET("/regime", s.handleCurrentRegime)
		orch.POST("/regime/:type", s.handleSetRegime)
		orch.POST("/execute", s.handleExecuteWeekly)
		orch.POST("/shutdown", s.handleEmergencyShutdown)
		orch.GET("/status", s.handleOrchestratorStatus)
		orch.POST("/analyze", s.handleAnalyze)
		orch.GET("/recommendations", s.handleListRecommendations)
		orch.GET("/recommendations/:id", s.handleGetRecommendation)
		orch.POST("/recommendations/:id/approve", s.handleApproveRecommendation)
		orch.POST("/recommendations/:id/reject", s.handleRejectRecommendation)
		orch.POST("/recommendations/:id/execute", s.handleExecuteRecommendation)
	}

	brokerGroup := api.Group("/broker")
	{
		brokerGroup.GET("/status", s.handleBrokerStatus)
		brokerGroup.POST("/connect", s.handleBrokerConnect)
		brokerGroup.POST("/disconnect", s.handleBrokerDisconnect)
		brokerGroup.GET("/account", s.handleBrokerAccount)
		brokerGroup.GET("/positions", s.handleBrokerPositions)
		brokerGroup.GET("/qqq-price", s.handleQQQPrice)
		brokerGroup.GET("/option-chain", s.handleOptionChain)
		brokerGroup.GET("/find-put-spread", s.handleFindPutSpread)
		brokerGroup.POST("/place-spread", s.handlePlaceSpread)
		brokerGroup.GET("/open-orders", s.handleBrokerOpenOrders)
		brokerGroup.DELETE("/orders/:id", s.handleBrokerCancelOrder)
	}

	crypto := api.Group("/crypto")
	{
		crypto.GET("/status", s.handleCryptoStatus)
		crypto.GET("/account", s.handleCryptoAccount)
		crypto.GET("/holdings", s.handleCryptoHoldings)
		crypto.GET("/quotes", s.handleCryptoQuotes)
		crypto.GET("/quotes/:symbol", s.handleCryptoQuote)
		crypto.GET("/pairs", s.handleCryptoPairs)
		crypto.GET("/orders", s.handleCryptoOrders)
		crypto.DELETE("/orders/:id", s.handleCryptoCancelOrder)
		crypto.GET("/agents", s.handleHunterAgents)
		crypto.POST("/agents/:id/start", s.handleHunterAgentStart)
		crypto.POST("/agents/:id/stop", s.handleHunterAgentStop)
		crypto.POST("/agents/:id/pause", s.handleHunterAgentPause)
		crypto.PATCH("/agents/:id", s.handleHunterAgentUpdate)
		crypto.GET("/scheduler/status", s.handleSchedulerStatus)
		crypto.POST("/scheduler/start", s.handleSchedulerStart)
		crypto.POST("/scheduler/stop", s.handleSchedulerStop)

		s.hunterRoutes(crypto.Group("/hunter"), db.AgentKindCryptoHunter)
	}

	s.hunterRoutes(api.Group("/gem-hunter"), db.AgentKindGemHunter)
}

// hunterRoutes mounts the shared hunter control surface for one agent
// kind. The crypto hunter lives under /crypto/hunter, the gem hunter
// directly under /gem-hunter.
func (s *Server) hunterRoutes(grp *gin.RouterGroup, kind string) {
	grp.GET("/state", s.handleHunterState(kind))
	grp.GET("/watchlist", s.handleHunterWatchlist(kind))
	grp.GET("/positions", s.handleHunterPositions(kind))
	grp.GET("/history", s.handleHunterHistory(kind))
	grp.POST("/scan", s.handleHunterScan(kind))
	grp.POST("/watchlist/add", s.handleWatchlistAdd(kind))
	grp.POST("/watchlist/:symbol/remove", s.handleWatchlistRemove(kind))
	grp.POST("/positions/:id/close", s.handlePositionClose(kind))
	grp.GET("/config", s.handleHunterConfig(kind))
	grp.PATCH("/config", s.handleHunterConfigUpdate(kind))
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "TradeHawk API",
		"health":  "/health",
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"app":     "tradehawk",
		"version": "1.0.0",
	})
}
