package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, int32(10), cfg.Database.APIMaxConns)
	assert.Equal(t, int32(10), cfg.Database.WorkerMaxConns)
	assert.True(t, cfg.Trading.DryRun, "dry run must default on")
	assert.Equal(t, 45.0, cfg.Orchestrator.VIXShutdownThreshold)
	assert.Equal(t, 25.0, cfg.Orchestrator.SpreadWidth)
	assert.Equal(t, 0.55, cfg.Orchestrator.TargetCreditMin)
	assert.Equal(t, 0.70, cfg.Orchestrator.TargetCreditMax)
	assert.Equal(t, 0.12, cfg.Orchestrator.MaxDelta)
	assert.Equal(t, 4*time.Hour, cfg.Orchestrator.RecommendationTTL)
	assert.Equal(t, "127.0.0.1", cfg.IBKR.Host)
	assert.Equal(t, 7497, cfg.IBKR.Port)
	assert.Equal(t, time.Hour, cfg.MarketData.CacheTTL)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DRY_RUN", "false")
	t.Setenv("ROBINHOOD_API_KEY", "rh-key-from-env")
	t.Setenv("IB_PORT", "4002")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.False(t, cfg.Trading.DryRun)
	assert.Equal(t, "rh-key-from-env", cfg.Robinhood.APIKey)
	assert.Equal(t, 4002, cfg.IBKR.Port)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	t.Run("valid defaults", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("bad port", func(t *testing.T) {
		cfg := base()
		cfg.Server.Port = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("credit range inverted", func(t *testing.T) {
		cfg := base()
		cfg.Orchestrator.TargetCreditMin = 0.9
		assert.Error(t, cfg.Validate())
	})

	t.Run("position pct out of range", func(t *testing.T) {
		cfg := base()
		cfg.Trading.MaxPositionPct = 1.5
		assert.Error(t, cfg.Validate())
	})

	t.Run("telegram enabled without token", func(t *testing.T) {
		cfg := base()
		cfg.Alerts.TelegramEnabled = true
		cfg.Alerts.TelegramToken = ""
		assert.Error(t, cfg.Validate())
	})
}

func TestGetDSN(t *testing.T) {
	db := DatabaseConfig{
		Host: "db.local", Port: 5433, User: "hawk", Password: "pw",
		Name: "hawkdb", SSLMode: "require",
	}
	assert.Equal(t, "postgres://hawk:pw@db.local:5433/hawkdb?sslmode=require", db.GetDSN())
}

func TestGetRedisAddr(t *testing.T) {
	r := RedisConfig{Host: "cache.local", Port: 6380}
	assert.Equal(t, "cache.local:6380", r.GetRedisAddr())
}
