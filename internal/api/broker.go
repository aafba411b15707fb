package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ajitpratap0/tradehawk/internal/broker"
	"github.com/ajitpratap0/tradehawk/internal/broker/ibkr"
)

// requireOptions gates routes that need a live gateway session. It
// answers 503 itself when the venue is absent or disconnected.
func (s *Server) requireOptions(c *gin.Context) (*ibkr.Adapter, bool) {
	if s.deps.Options == nil {
		unavailable(c, "Options venue not configured")
		return nil, false
	}
	if !s.deps.Options.Connected() {
		unavailable(c, "Not connected to IB")
		return nil, false
	}
	return s.deps.Options, true
}

func (s *Server) handleBrokerStatus(c *gin.Context) {
	if s.deps.Options == nil {
		c.JSON(http.StatusOK, gin.H{
			"connected": false,
			"message":   "Options venue not configured",
		})
		return
	}

	status, err := s.deps.Options.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusOK, gin.H{
			"connected": false,
			"message":   "Gateway unreachable",
		})
		return
	}

	message := "Not connected"
	if status.Connected && status.Authenticated {
		message = "Connected to Interactive Brokers"
	}
	c.JSON(http.StatusOK, gin.H{
		"connected":     status.Connected && status.Authenticated,
		"authenticated": status.Authenticated,
		"competing":     status.Competing,
		"account_id":    status.AccountID,
		"read_only":     status.ReadOnly,
		"message":       message,
	})
}

func (s *Server) handleBrokerConnect(c *gin.Context) {
	if s.deps.Options == nil {
		unavailable(c, "Options venue not configured")
		return
	}
	if s.deps.Options.Connected() {
		c.JSON(http.StatusOK, gin.H{"status": "already_connected"})
		return
	}
	if err := s.deps.Options.Connect(c.Request.Context()); err != nil {
		unavailable(c, "Failed to connect to IB. Ensure the gateway is running with API enabled.")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "connected"})
}

func (s *Server) handleBrokerDisconnect(c *gin.Context) {
	if s.deps.Options != nil {
		s.deps.Options.Disconnect()
	}
	c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
}

func (s *Server) handleBrokerAccount(c *gin.Context) {
	adapter, ok := s.requireOptions(c)
	if !ok {
		return
	}
	summary, err := adapter.AccountSummary(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleBrokerPositions(c *gin.Context) {
	adapter, ok := s.requireOptions(c)
	if !ok {
		return
	}
	positions, err := adapter.Positions(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, positions)
}

func (s *Server) handleQQQPrice(c *gin.Context) {
	adapter, ok := s.requireOptions(c)
	if !ok {
		return
	}
	price, err := adapter.StockPrice(c.Request.Context(), "QQQ")
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": "QQQ", "price": price})
}

func (s *Server) handleOptionChain(c *gin.Context) {
	adapter, ok := s.requireOptions(c)
	if !ok {
		return
	}
	symbol := c.DefaultQuery("symbol", "QQQ")
	right := broker.OptionRight(c.Query("right"))
	legs, err := adapter.OptionChain(c.Request.Context(), symbol, c.Query("expiration"), right)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, legs)
}

func (s *Server) handleFindPutSpread(c *gin.Context) {
	adapter, ok := s.requireOptions(c)
	if !ok {
		return
	}

	criteria := s.deps.SpreadDefaults
	criteria.Underlying = c.DefaultQuery("symbol", criteria.Underlying)
	if v, err := queryFloat(c, "spread_width"); err == nil {
		criteria.SpreadWidth = v
	}
	if v, err := queryFloat(c, "min_credit"); err == nil {
		criteria.MinCredit = v
	}
	if v, err := queryFloat(c, "max_credit"); err == nil {
		criteria.MaxCredit = v
	}
	if v, err := queryFloat(c, "max_delta"); err == nil {
		criteria.MaxShortDelta = v
	}

	spread, err := adapter.FindPutSpread(c.Request.Context(), criteria)
	if err != nil {
		if errors.Is(err, ibkr.ErrNoSpread) {
			notFound(c, "No suitable spread found matching criteria")
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, spread)
}

type placeSpreadRequest struct {
	ShortStrike float64 `json:"short_strike" binding:"required"`
	LongStrike  float64 `json:"long_strike" binding:"required"`
	Expiration  string  `json:"expiration" binding:"required"` // YYYYMMDD
	Right       string  `json:"right"`
	Quantity    int     `json:"quantity" binding:"required"`
	LimitPrice  float64 `json:"limit_price" binding:"required"`
}

func (s *Server) handlePlaceSpread(c *gin.Context) {
	adapter, ok := s.requireOptions(c)
	if !ok {
		return
	}
	var req placeSpreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	right := broker.RightPut
	if req.Right != "" {
		right = broker.OptionRight(req.Right)
	}

	ctx := c.Request.Context()
	short, long, err := adapter.QualifySpreadLegs(ctx, "QQQ", req.Expiration, req.ShortStrike, req.LongStrike, right)
	if err != nil {
		respondError(c, err)
		return
	}
	handle, err := adapter.PlaceSpreadOrder(ctx, broker.SpreadOrderRequest{
		Short:      short,
		Long:       long,
		Expiration: req.Expiration,
		Right:      right,
		Quantity:   req.Quantity,
		LimitPrice: req.LimitPrice,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": handle.ID, "status": "submitted"})
}

func (s *Server) handleBrokerOpenOrders(c *gin.Context) {
	adapter, ok := s.requireOptions(c)
	if !ok {
		return
	}
	orders, err := adapter.OpenOrders(c.Request.Context(), c.Query("symbol"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (s *Server) handleBrokerCancelOrder(c *gin.Context) {
	adapter, ok := s.requireOptions(c)
	if !ok {
		return
	}
	id := c.Param("id")
	cancelled, err := adapter.CancelOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if !cancelled {
		notFound(c, "Order not found or already filled")
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": id, "status": "cancelled"})
}
