package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ajitpratap0/tradehawk/internal/db"
)

func (s *Server) handleListTrades(c *gin.Context) {
	trades, err := s.deps.Trades.ListOptionsTrades(c.Request.Context(), c.Query("status"), queryInt(c, "limit", 100))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, trades)
}

func (s *Server) handleOpenTrades(c *gin.Context) {
	trades, err := s.deps.Trades.ListOpenOptionsTrades(c.Request.Context(), c.Query("trade_type"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, trades)
}

type createTradeRequest struct {
	AgentID         *uuid.UUID `json:"agent_id"`
	TradeType       string     `json:"trade_type" binding:"required"`
	Symbol          string     `json:"symbol"`
	ShortStrike     *float64   `json:"short_strike"`
	LongStrike      *float64   `json:"long_strike"`
	Expiration      *string    `json:"expiration"`
	Contracts       int        `json:"contracts" binding:"required"`
	PremiumReceived *float64   `json:"premium_received"`
	MaxRisk         *float64   `json:"max_risk"`
	OrderID         *string    `json:"order_id"`
}

func (s *Server) handleCreateTrade(c *gin.Context) {
	var req createTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.Symbol == "" {
		req.Symbol = "QQQ"
	}

	trade := &db.OptionsTrade{
		AgentID:         req.AgentID,
		TradeType:       req.TradeType,
		Symbol:          req.Symbol,
		ShortStrike:     req.ShortStrike,
		LongStrike:      req.LongStrike,
		Expiration:      req.Expiration,
		Contracts:       req.Contracts,
		PremiumReceived: req.PremiumReceived,
		MaxRisk:         req.MaxRisk,
		OrderID:         req.OrderID,
		Status:          "open",
	}
	if err := s.deps.Trades.CreateOptionsTrade(c.Request.Context(), trade); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, trade)
}

func (s *Server) handleCloseTrade(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	pnl, err := strconv.ParseFloat(c.Query("pnl"), 64)
	if err != nil {
		badRequest(c, "pnl query parameter is required")
		return
	}
	if err := s.deps.Trades.CloseOptionsTrade(c.Request.Context(), id, pnl); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "closed",
		"trade_id": id,
		"pnl":      pnl,
	})
}

func (s *Server) handleTradeStats(c *gin.Context) {
	stats, err := s.deps.Trades.OptionsStats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
