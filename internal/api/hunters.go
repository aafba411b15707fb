package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradehawk/internal/broker"
	"github.com/ajitpratap0/tradehawk/internal/broker/robinhood"
	"github.com/ajitpratap0/tradehawk/internal/db"
	"github.com/ajitpratap0/tradehawk/internal/hunter"
	"github.com/ajitpratap0/tradehawk/internal/market"
)

// hunterFor resolves the live hunter of one kind. A missing hunter
// means its venue was never configured, so the surface answers 503.
func (s *Server) hunterFor(c *gin.Context, kind string) (*hunter.Hunter, bool) {
	h, ok := s.deps.Hunters.Hunter(kind)
	if !ok {
		unavailable(c, kind+" is not configured")
		return nil, false
	}
	return h, true
}

func (s *Server) handleHunterState(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h, ok := s.hunterFor(c, kind)
		if !ok {
			return
		}
		state, err := h.State(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, state)
	}
}

func (s *Server) handleHunterWatchlist(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h, ok := s.hunterFor(c, kind)
		if !ok {
			return
		}
		entries, err := h.Watchlist(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, entries)
	}
}

func (s *Server) handleHunterPositions(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h, ok := s.hunterFor(c, kind)
		if !ok {
			return
		}
		positions, err := h.OpenPositions(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, positions)
	}
}

func (s *Server) handleHunterHistory(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h, ok := s.hunterFor(c, kind)
		if !ok {
			return
		}
		history, err := h.History(c.Request.Context(), queryInt(c, "limit", 50))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, history)
	}
}

func (s *Server) handleHunterScan(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h, ok := s.hunterFor(c, kind)
		if !ok {
			return
		}
		summary, err := h.RunCycle(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

type addSymbolRequest struct {
	Symbol string `json:"symbol" binding:"required"`
}

func (s *Server) handleWatchlistAdd(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h, ok := s.hunterFor(c, kind)
		if !ok {
			return
		}
		var req addSymbolRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		entry, err := h.AddToWatchlist(c.Request.Context(), strings.ToUpper(req.Symbol))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": fmt.Sprintf("%s added to watchlist", entry.Symbol),
		})
	}
}

func (s *Server) handleWatchlistRemove(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h, ok := s.hunterFor(c, kind)
		if !ok {
			return
		}
		symbol := strings.ToUpper(c.Param("symbol"))
		if err := h.RemoveFromWatchlist(c.Request.Context(), symbol); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": fmt.Sprintf("%s removed from watchlist", symbol),
		})
	}
}

func (s *Server) handlePositionClose(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h, ok := s.hunterFor(c, kind)
		if !ok {
			return
		}
		id, ok := parseID(c)
		if !ok {
			return
		}
		pos, err := h.ClosePosition(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		msg := fmt.Sprintf("Position %s closed", pos.Symbol)
		if pos.RealizedPnL != nil {
			msg = fmt.Sprintf("Position %s closed, pnl %.2f", pos.Symbol, *pos.RealizedPnL)
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": msg})
	}
}

func (s *Server) handleHunterConfig(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h, ok := s.hunterFor(c, kind)
		if !ok {
			return
		}
		raw := h.ConfigJSON()
		if len(raw) == 0 {
			raw = json.RawMessage("{}")
		}
		c.Data(http.StatusOK, "application/json", raw)
	}
}

func (s *Server) handleHunterConfigUpdate(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := s.hunterFor(c, kind); !ok {
			return
		}
		patch, err := io.ReadAll(c.Request.Body)
		if err != nil || len(patch) == 0 {
			badRequest(c, "config body is required")
			return
		}
		merged, err := s.deps.Hunters.UpdateConfig(c.Request.Context(), kind, patch)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		c.Data(http.StatusOK, "application/json", merged)
	}
}

// requireCrypto gates the Robinhood market-data and order routes.
func (s *Server) requireCrypto(c *gin.Context) (*robinhood.Adapter, bool) {
	if s.deps.Crypto == nil {
		unavailable(c, "Crypto venue not configured. Set ROBINHOOD_API_KEY and ROBINHOOD_PRIVATE_KEY.")
		return nil, false
	}
	return s.deps.Crypto, true
}

func (s *Server) handleCryptoStatus(c *gin.Context) {
	if s.deps.Crypto == nil {
		c.JSON(http.StatusOK, gin.H{
			"connected":  false,
			"configured": false,
			"account_id": nil,
			"message":    "Crypto venue not configured. Set ROBINHOOD_API_KEY and ROBINHOOD_PRIVATE_KEY.",
		})
		return
	}

	account, err := s.deps.Crypto.Account(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusOK, gin.H{
			"connected":  false,
			"configured": true,
			"account_id": nil,
			"message":    "Connection error: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"connected":  true,
		"configured": true,
		"account_id": account.ID,
		"message":    "Connected to crypto venue",
	})
}

func (s *Server) handleCryptoAccount(c *gin.Context) {
	adapter, ok := s.requireCrypto(c)
	if !ok {
		return
	}
	account, err := adapter.Account(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (s *Server) handleCryptoHoldings(c *gin.Context) {
	adapter, ok := s.requireCrypto(c)
	if !ok {
		return
	}
	holdings, err := adapter.Holdings(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, holdings)
}

func (s *Server) handleCryptoQuotes(c *gin.Context) {
	adapter, ok := s.requireCrypto(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var symbols []string
	if raw := c.Query("symbols"); raw != "" {
		for _, sym := range strings.Split(raw, ",") {
			symbols = append(symbols, robinhood.PairSymbol(strings.TrimSpace(sym)))
		}
	} else {
		instruments, err := adapter.Instruments(ctx)
		if err != nil {
			respondError(c, err)
			return
		}
		for _, ins := range instruments {
			if ins.Tradable {
				symbols = append(symbols, ins.Symbol)
			}
		}
	}

	quotes, err := adapter.Quotes(ctx, symbols)
	if err != nil {
		respondError(c, err)
		return
	}
	for i := range quotes {
		s.cacheQuote(ctx, &quotes[i])
	}
	c.JSON(http.StatusOK, quotes)
}

func (s *Server) handleCryptoQuote(c *gin.Context) {
	adapter, ok := s.requireCrypto(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	symbol := robinhood.PairSymbol(c.Param("symbol"))

	quote, err := adapter.Quote(ctx, symbol)
	if err != nil {
		// Venue unreachable: serve the last cached quote, marked stale.
		if cached, found := s.staleQuote(ctx, symbol); found {
			c.JSON(http.StatusOK, gin.H{"quote": cached, "stale": true})
			return
		}
		respondError(c, err)
		return
	}
	s.cacheQuote(ctx, quote)
	c.JSON(http.StatusOK, quote)
}

// cacheQuote refreshes both quote caches best-effort: the Redis mirror
// for the fast path and the quotes table as the durable fallback.
func (s *Server) cacheQuote(ctx context.Context, q *broker.Quote) {
	if q == nil {
		return
	}
	s.deps.QuoteMirror.Store(ctx, market.MirroredQuote{
		Symbol:    q.Symbol,
		Bid:       q.Bid,
		Ask:       q.Ask,
		Mark:      q.Mark,
		Timestamp: q.Timestamp,
	})
	if s.deps.Quotes != nil {
		err := s.deps.Quotes.Upsert(ctx, &db.Quote{
			Symbol:    q.Symbol,
			Bid:       q.Bid,
			Ask:       q.Ask,
			Mark:      q.Mark,
			High:      q.High,
			Low:       q.Low,
			Open:      q.Open,
			Volume:    q.Volume,
			UpdatedAt: q.Timestamp,
		})
		if err != nil {
			log.Warn().Err(err).Str("symbol", q.Symbol).Msg("Failed to persist quote")
		}
	}
}

// staleQuote checks the mirror first, then the quotes table.
func (s *Server) staleQuote(ctx context.Context, symbol string) (*broker.Quote, bool) {
	if mirrored, ok := s.deps.QuoteMirror.Lookup(ctx, symbol); ok {
		return &broker.Quote{
			Symbol:    mirrored.Symbol,
			Bid:       mirrored.Bid,
			Ask:       mirrored.Ask,
			Mark:      mirrored.Mark,
			Timestamp: mirrored.Timestamp,
		}, true
	}
	if s.deps.Quotes == nil {
		return nil, false
	}
	stored, err := s.deps.Quotes.Get(ctx, symbol)
	if err != nil {
		return nil, false
	}
	return &broker.Quote{
		Symbol:    stored.Symbol,
		Bid:       stored.Bid,
		Ask:       stored.Ask,
		Mark:      stored.Mark,
		High:      stored.High,
		Low:       stored.Low,
		Open:      stored.Open,
		Volume:    stored.Volume,
		Timestamp: stored.UpdatedAt,
	}, true
}

func (s *Server) handleCryptoPairs(c *gin.Context) {
	adapter, ok := s.requireCrypto(c)
	if !ok {
		return
	}
	instruments, err := adapter.Instruments(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, instruments)
}

func (s *Server) handleCryptoOrders(c *gin.Context) {
	adapter, ok := s.requireCrypto(c)
	if !ok {
		return
	}
	orders, err := adapter.ListOrders(c.Request.Context(), c.Query("status"), queryInt(c, "limit", 50))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (s *Server) handleCryptoCancelOrder(c *gin.Context) {
	adapter, ok := s.requireCrypto(c)
	if !ok {
		return
	}
	cancelled, err := adapter.CancelOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	msg := "Order cancelled"
	if !cancelled {
		msg = "Failed to cancel order"
	}
	c.JSON(http.StatusOK, gin.H{"success": cancelled, "message": msg})
}

func (s *Server) handleHunterAgents(c *gin.Context) {
	agents, err := s.deps.Agents.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	family := make([]*db.Agent, 0, 2)
	for _, a := range agents {
		if a.Kind == db.AgentKindCryptoHunter || a.Kind == db.AgentKindGemHunter {
			family = append(family, a)
		}
	}
	c.JSON(http.StatusOK, family)
}

func (s *Server) hunterAgentAction(c *gin.Context, target db.AgentStatus, verb string) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	agent, err := s.deps.Agents.Get(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	if target == db.AgentStatusRunning && !agent.Active {
		badRequest(c, "Agent is disabled")
		return
	}

	if h, isHunter := s.deps.Hunters.HunterByID(id); isHunter {
		switch target {
		case db.AgentStatusRunning:
			err = s.deps.Hunters.Start(ctx, h.Kind())
		case db.AgentStatusPaused:
			err = s.deps.Hunters.Pause(ctx, h.Kind())
		default:
			err = s.deps.Hunters.Stop(ctx, h.Kind())
		}
	} else {
		err = s.deps.Agents.UpdateStatus(ctx, id, target)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": fmt.Sprintf("Agent %s %s", agent.Name, verb),
	})
}

func (s *Server) handleHunterAgentStart(c *gin.Context) {
	s.hunterAgentAction(c, db.AgentStatusRunning, "started")
}

func (s *Server) handleHunterAgentStop(c *gin.Context) {
	s.hunterAgentAction(c, db.AgentStatusStopped, "stopped")
}

func (s *Server) handleHunterAgentPause(c *gin.Context) {
	s.hunterAgentAction(c, db.AgentStatusPaused, "paused")
}

// handleHunterAgentUpdate shares the PATCH semantics of the main agents
// surface; it exists here because dashboards address hunter agents
// through the family-scoped route.
func (s *Server) handleHunterAgentUpdate(c *gin.Context) {
	s.handleUpdateAgent(c)
}

func (s *Server) handleSchedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Scheduler.Status())
}

func (s *Server) handleSchedulerStart(c *gin.Context) {
	h, ok := s.hunterFor(c, db.AgentKindCryptoHunter)
	if !ok {
		return
	}
	if err := s.deps.Hunters.Start(c.Request.Context(), h.Kind()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": fmt.Sprintf("Crypto hunter scheduler started (interval: %s)", h.Profile().ScanInterval),
	})
}

func (s *Server) handleSchedulerStop(c *gin.Context) {
	h, ok := s.hunterFor(c, db.AgentKindCryptoHunter)
	if !ok {
		return
	}
	if err := s.deps.Hunters.Stop(c.Request.Context(), h.Kind()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Crypto hunter scheduler stopped",
	})
}
