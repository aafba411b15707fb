// Package api exposes the trading platform over HTTP: agent control,
// blotters, dashboards, the orchestrator's approval gate, both broker
// venues, and the websocket feed. Handlers stay thin; anything beyond
// request parsing and response shaping lives in the owning service.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradehawk/internal/broker"
	"github.com/ajitpratap0/tradehawk/internal/broker/ibkr"
	"github.com/ajitpratap0/tradehawk/internal/broker/robinhood"
	"github.com/ajitpratap0/tradehawk/internal/db"
	"github.com/ajitpratap0/tradehawk/internal/hunter"
	"github.com/ajitpratap0/tradehawk/internal/market"
	"github.com/ajitpratap0/tradehawk/internal/markethours"
	"github.com/ajitpratap0/tradehawk/internal/metrics"
	"github.com/ajitpratap0/tradehawk/internal/orchestrator"
	"github.com/ajitpratap0/tradehawk/internal/scheduler"
)

// Deps carries everything the handlers call into. Venue adapters may be
// nil when their credentials are absent; the affected routes then
// answer 503 instead of failing at startup.
type Deps struct {
	Agents          *db.AgentStore
	Runs            *db.RunStore
	Activities      *db.ActivityStore
	Trades          *db.TradeStore
	Regimes         *db.RegimeStore
	Recommendations *db.RecommendationStore
	Quotes          *db.QuoteStore
	Metrics         *db.MetricStore

	Hunters      *hunter.Runtime
	Orchestrator *orchestrator.Orchestrator
	Scheduler    *scheduler.Scheduler
	Clock        *markethours.Clock

	Options *ibkr.Adapter
	Crypto  *robinhood.Adapter

	// QuoteMirror is the Redis fast path for crypto quotes; nil-safe.
	QuoteMirror *market.QuoteMirror

	// SpreadDefaults seeds the put-spread search when the caller does
	// not override the strategy parameters.
	SpreadDefaults broker.PutSpreadCriteria

	// WebSocket serves the /ws upgrade; nil disables the route.
	WebSocket gin.HandlerFunc
}

// Server is the HTTP front door.
type Server struct {
	router *gin.Engine
	deps   Deps
	addr   string
	server *http.Server
}

// NewServer builds the router with logging, recovery, CORS, and
// Prometheus middleware installed, and every route registered.
func NewServer(addr string, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(metrics.Middleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s := &Server{
		router: router,
		deps:   deps,
		addr:   addr,
	}
	s.registerRoutes()
	return s
}

// Router returns the underlying engine, used by tests to drive requests
// without a listener.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start blocks serving HTTP until Stop is called or the listener fails.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	log.Info().Msg("Stopping API server")
	return s.server.Shutdown(ctx)
}

// LoggerMiddleware logs one line per request with latency and status.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		event := log.Info()
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Int("status", status).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")

		for _, err := range c.Errors {
			log.Error().Err(err.Err).Str("path", path).Msg("Handler error")
		}
	}
}
