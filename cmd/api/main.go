// The tradehawk service process: HTTP API, websocket feed, scheduler,
// both hunter agents, and the options orchestrator, all in one binary.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradehawk/internal/activity"
	"github.com/ajitpratap0/tradehawk/internal/alerts"
	"github.com/ajitpratap0/tradehawk/internal/api"
	"github.com/ajitpratap0/tradehawk/internal/broker"
	"github.com/ajitpratap0/tradehawk/internal/broker/ibkr"
	"github.com/ajitpratap0/tradehawk/internal/broker/robinhood"
	"github.com/ajitpratap0/tradehawk/internal/config"
	"github.com/ajitpratap0/tradehawk/internal/db"
	"github.com/ajitpratap0/tradehawk/internal/events"
	"github.com/ajitpratap0/tradehawk/internal/executor"
	"github.com/ajitpratap0/tradehawk/internal/hunter"
	"github.com/ajitpratap0/tradehawk/internal/market"
	"github.com/ajitpratap0/tradehawk/internal/markethours"
	"github.com/ajitpratap0/tradehawk/internal/metrics"
	"github.com/ajitpratap0/tradehawk/internal/orchestrator"
	"github.com/ajitpratap0/tradehawk/internal/scheduler"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (defaults to ./configs/config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := config.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize logger")
	}
	log.Info().Bool("dry_run", cfg.Trading.DryRun).Msg("Starting TradeHawk")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional Vault overlay; env vars remain the fallback for every key.
	vaultCfg := config.GetVaultConfigFromEnv()
	if vaultCfg.Enabled {
		if err := config.LoadSecretsFromVault(ctx, cfg, vaultCfg); err != nil {
			log.Fatal().Err(err).Msg("Failed to load secrets from Vault")
		}
	}

	executor.SetGlobalDryRun(cfg.Trading.DryRun)

	// Two pools: a slow cycle must not starve the HTTP layer.
	apiDB, err := db.New(ctx, cfg.Database.GetDSN(), cfg.Database.APIMaxConns)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect API database pool")
	}
	defer apiDB.Close()
	workerDB, err := db.New(ctx, cfg.Database.GetDSN(), cfg.Database.WorkerMaxConns)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect worker database pool")
	}
	defer workerDB.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.GetRedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	var bus *events.Bus
	if cfg.NATS.Enabled {
		bus, err = events.New(events.Config{
			URL:    cfg.NATS.URL,
			Name:   "tradehawk",
			Prefix: cfg.NATS.Prefix,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Event bus unavailable, running without live fan-out")
			bus = nil
		} else {
			defer bus.Close()
		}
	}

	// Stores. Worker-side services get their own instances over the
	// worker pool; the API handlers read through the API pool.
	agents := db.NewAgentStore(workerDB)
	runs := db.NewRunStore(workerDB)
	activities := db.NewActivityStore(workerDB)
	trades := db.NewTradeStore(workerDB)
	regimes := db.NewRegimeStore(workerDB)
	recommendations := db.NewRecommendationStore(workerDB)

	recorder := activity.NewRecorder(activities, bus)

	clock, err := markethours.New()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load market-hours calendar")
	}

	// Venue adapters. Missing crypto credentials degrade that family to
	// read-only 503s; a misconfigured gateway endpoint is fatal because
	// the orchestrator cannot run without one.
	breakers := broker.NewBreakerSet()
	cryptoAdapter, err := robinhood.New(robinhood.Config{
		APIKey:     cfg.Robinhood.APIKey,
		PrivateKey: cfg.Robinhood.PrivateKey,
		BaseURL:    cfg.Robinhood.BaseURL,
	}, breakers)
	if err != nil {
		if !errors.Is(err, broker.ErrNotConfigured) {
			log.Fatal().Err(err).Msg("Failed to build crypto venue adapter")
		}
		log.Warn().Msg("Crypto venue not configured, crypto hunter disabled")
		cryptoAdapter = nil
	}
	optionsAdapter, err := ibkr.New(ibkr.Config{
		Host:      cfg.IBKR.Host,
		Port:      cfg.IBKR.Port,
		AccountID: cfg.IBKR.AccountID,
		ReadOnly:  cfg.IBKR.ReadOnly,
	}, breakers)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build options gateway adapter")
	}

	history := market.NewService(
		market.NewSeriesCache(redisClient, cfg.MarketData.CacheTTL),
		market.NewCryptoCompareClient(""),
		market.NewCoinGeckoClient(""),
	)
	charts := market.NewYahooClient("")

	sched := scheduler.New(scheduler.Config{})
	runtime := hunter.NewRuntime(agents, runs, sched, recorder)

	if cryptoAdapter != nil {
		agent, err := agents.GetByName(ctx, "crypto_hunter")
		if err != nil {
			log.Fatal().Err(err).Msg("Crypto hunter agent row missing, run migrations first")
		}
		h, err := hunter.NewCryptoHunter(hunter.Deps{
			Agents:    agents,
			Positions: db.NewPositionStore(workerDB, "crypto_positions"),
			Watchlist: db.NewWatchlistStore(workerDB, "crypto_watchlist"),
			Trades:    trades,
			Activity:  recorder,
			Bus:       bus,
			Adapter:   cryptoAdapter,
			Clock:     clock,
		}, history, agent)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to build crypto hunter")
		}
		runtime.Register(h)
	}

	gemAgent, err := agents.GetByName(ctx, "gem_hunter")
	if err != nil {
		log.Fatal().Err(err).Msg("Gem hunter agent row missing, run migrations first")
	}
	gem, err := hunter.NewGemHunter(hunter.Deps{
		Agents:    agents,
		Positions: db.NewPositionStore(workerDB, "gem_positions"),
		Watchlist: db.NewWatchlistStore(workerDB, "gem_watchlist"),
		Trades:    trades,
		Activity:  recorder,
		Bus:       bus,
		Adapter:   optionsAdapter,
		Clock:     clock,
	}, charts, gemAgent)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build gem hunter")
	}
	runtime.Register(gem)

	orchAgent, err := agents.GetByName(ctx, "orchestrator")
	if err != nil {
		log.Fatal().Err(err).Msg("Orchestrator agent row missing, run migrations first")
	}
	orch, err := orchestrator.New(orchestrator.Deps{
		Agents:          agents,
		Trades:          trades,
		Regimes:         regimes,
		Recommendations: recommendations,
		Activity:        recorder,
		Bus:             bus,
		Gateway:         optionsAdapter,
		Clock:           clock,
	}, orchestrator.Config{
		VIXShutdownThreshold: cfg.Orchestrator.VIXShutdownThreshold,
		SpreadWidth:          cfg.Orchestrator.SpreadWidth,
		TargetCreditMin:      cfg.Orchestrator.TargetCreditMin,
		TargetCreditMax:      cfg.Orchestrator.TargetCreditMax,
		MaxDelta:             cfg.Orchestrator.MaxDelta,
		MaxPositionPct:       cfg.Trading.MaxPositionPct,
		ExecutionHour:        cfg.Orchestrator.ExecutionHour,
		ExecutionMinute:      cfg.Orchestrator.ExecutionMinute,
		RecommendationTTL:    cfg.Orchestrator.RecommendationTTL,
		DryRun:               cfg.Trading.DryRun,
	}, orchAgent)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build orchestrator")
	}

	// Websocket hub bridges the event bus to dashboard clients.
	hub := NewHub()
	go hub.Run()
	if bus != nil {
		if _, err := hub.BridgeBus(bus); err != nil {
			log.Warn().Err(err).Msg("Failed to bridge event bus to websocket hub")
		}
	}

	// Alert sinks: the log sink always runs; telegram when configured.
	if bus != nil {
		sinks := alerts.Fanout{alerts.LogSink{}}
		if cfg.Alerts.TelegramEnabled {
			tg, err := alerts.NewTelegram(cfg.Alerts.TelegramToken, cfg.Alerts.TelegramChatID)
			if err != nil {
				log.Error().Err(err).Msg("Telegram sink unavailable")
			} else {
				sinks = append(sinks, tg)
			}
		}
		bridge := alerts.NewBridge(bus, sinks, alerts.BridgeConfig{})
		if err := bridge.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start alert bridge")
		} else {
			defer bridge.Stop()
		}
	}

	// Ops listener and database-derived gauges.
	metricsServer := metrics.NewServer(cfg.Server.MetricsPort, log.Logger)
	if err := metricsServer.Start(); err != nil {
		log.Error().Err(err).Msg("Failed to start metrics server")
	}
	updater := metrics.NewUpdater(apiDB.Pool(), 30*time.Second)
	updater.TrackPool("api", apiDB.Pool())
	updater.TrackPool("worker", workerDB.Pool())
	go updater.Start(ctx)

	// Resume agents that were running when the process last stopped,
	// then start ticking.
	if err := runtime.Bootstrap(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to bootstrap scheduled agents")
	}
	sched.Start()
	go orch.RunScheduled(ctx)

	server := api.NewServer(cfg.Server.GetAPIAddr(), api.Deps{
		Agents:          db.NewAgentStore(apiDB),
		Runs:            db.NewRunStore(apiDB),
		Activities:      db.NewActivityStore(apiDB),
		Trades:          db.NewTradeStore(apiDB),
		Regimes:         db.NewRegimeStore(apiDB),
		Recommendations: db.NewRecommendationStore(apiDB),
		Quotes:          db.NewQuoteStore(apiDB),
		Metrics:         db.NewMetricStore(apiDB),
		Hunters:         runtime,
		Orchestrator:    orch,
		Scheduler:       sched,
		Clock:           clock,
		Options:         optionsAdapter,
		Crypto:          cryptoAdapter,
		QuoteMirror:     market.NewQuoteMirror(redisClient, 0),
		SpreadDefaults: broker.PutSpreadCriteria{
			Underlying:    "QQQ",
			MinCredit:     cfg.Orchestrator.TargetCreditMin,
			MaxCredit:     cfg.Orchestrator.TargetCreditMax,
			SpreadWidth:   cfg.Orchestrator.SpreadWidth,
			MaxShortDelta: cfg.Orchestrator.MaxDelta,
		},
		WebSocket: hub.Handler(),
	})

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error().Err(err).Msg("Server error")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	}

	log.Info().Msg("Shutting down...")
	cancel()
	sched.Stop()
	updater.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to stop API server gracefully")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to stop metrics server gracefully")
	}
	log.Info().Msg("Shutdown complete")
}
