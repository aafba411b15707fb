// Package config loads and validates platform configuration from files
// and environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for all tradehawk services.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Robinhood    RobinhoodConfig    `mapstructure:"robinhood"`
	IBKR         IBKRConfig         `mapstructure:"ibkr"`
	MarketData   MarketDataConfig   `mapstructure:"market_data"`
	Trading      TradingConfig      `mapstructure:"trading"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Alerts       AlertsConfig       `mapstructure:"alerts"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig configures the HTTP API server and the ops listener.
type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// DatabaseConfig configures PostgreSQL connectivity. The API and the
// scheduled cycles draw from separate pools so a slow cycle cannot
// starve the HTTP layer.
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	Name           string `mapstructure:"name"`
	SSLMode        string `mapstructure:"ssl_mode"`
	APIMaxConns    int32  `mapstructure:"api_max_conns"`
	WorkerMaxConns int32  `mapstructure:"worker_max_conns"`
}

// RedisConfig configures the shared price/quote cache store.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig configures the event bus used to fan platform events out to
// the websocket hub and alert sinks.
type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Prefix  string `mapstructure:"prefix"`
}

// RobinhoodConfig configures the signed REST crypto venue.
type RobinhoodConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	PrivateKey string        `mapstructure:"private_key"` // base64 Ed25519 seed
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// IBKRConfig configures the local options/stock gateway.
type IBKRConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	ClientID  int    `mapstructure:"client_id"`
	AccountID string `mapstructure:"account_id"`
	ReadOnly  bool   `mapstructure:"readonly"`
}

// MarketDataConfig configures the historical price provider chain.
type MarketDataConfig struct {
	APIKey           string        `mapstructure:"api_key"`
	PrimaryTimeout   time.Duration `mapstructure:"primary_timeout"`
	SecondaryTimeout time.Duration `mapstructure:"secondary_timeout"`
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
}

// TradingConfig carries process-wide trading gates and options strategy
// parameters.
type TradingConfig struct {
	DryRun         bool    `mapstructure:"dry_run"`
	MaxPositionPct float64 `mapstructure:"max_position_pct"`
	MaxDrawdownPct float64 `mapstructure:"max_drawdown_pct"`
}

// OrchestratorConfig parameterises the weekly QQQ credit-spread workflow.
type OrchestratorConfig struct {
	VIXShutdownThreshold float64       `mapstructure:"vix_shutdown_threshold"`
	SpreadWidth          float64       `mapstructure:"spread_width"`
	TargetCreditMin      float64       `mapstructure:"target_credit_min"`
	TargetCreditMax      float64       `mapstructure:"target_credit_max"`
	MaxDelta             float64       `mapstructure:"max_delta"`
	ExecutionHour        int           `mapstructure:"execution_hour"`
	ExecutionMinute      int           `mapstructure:"execution_minute"`
	RecommendationTTL    time.Duration `mapstructure:"recommendation_ttl"`
}

// AlertsConfig configures optional outbound alert sinks.
type AlertsConfig struct {
	TelegramEnabled bool   `mapstructure:"telegram_enabled"`
	TelegramToken   string `mapstructure:"telegram_token"`
	TelegramChatID  int64  `mapstructure:"telegram_chat_id"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "console"
}

// Load reads configuration from the given file (or ./configs/config.yaml
// when empty), applies defaults, and overlays environment variables with
// the TRADEHAWK_ prefix. Venue credentials also bind their conventional
// bare names (ROBINHOOD_API_KEY, DRY_RUN, ...).
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("TRADEHAWK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindVenueEnv(v)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional; defaults + env are enough to run.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// bindVenueEnv binds the bare environment names the brokers have always
// used, alongside the prefixed forms.
func bindVenueEnv(v *viper.Viper) {
	_ = v.BindEnv("robinhood.api_key", "TRADEHAWK_ROBINHOOD_API_KEY", "ROBINHOOD_API_KEY")
	_ = v.BindEnv("robinhood.private_key", "TRADEHAWK_ROBINHOOD_PRIVATE_KEY", "ROBINHOOD_PRIVATE_KEY")
	_ = v.BindEnv("ibkr.host", "TRADEHAWK_IBKR_HOST", "IB_HOST")
	_ = v.BindEnv("ibkr.port", "TRADEHAWK_IBKR_PORT", "IB_PORT")
	_ = v.BindEnv("ibkr.client_id", "TRADEHAWK_IBKR_CLIENT_ID", "IB_CLIENT_ID")
	_ = v.BindEnv("ibkr.readonly", "TRADEHAWK_IBKR_READONLY", "IB_READONLY")
	_ = v.BindEnv("ibkr.account_id", "TRADEHAWK_IBKR_ACCOUNT_ID", "BROKER_ACCOUNT_ID")
	_ = v.BindEnv("trading.dry_run", "TRADEHAWK_TRADING_DRY_RUN", "DRY_RUN")
	_ = v.BindEnv("market_data.api_key", "TRADEHAWK_MARKET_DATA_API_KEY", "MARKET_DATA_API_KEY")
	_ = v.BindEnv("database.url", "TRADEHAWK_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("redis.url", "TRADEHAWK_REDIS_URL", "REDIS_URL")
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9091)

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "tradehawk")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "tradehawk")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.api_max_conns", 10)
	v.SetDefault("database.worker_max_conns", 10)

	// Redis
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// NATS
	v.SetDefault("nats.enabled", true)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.prefix", "tradehawk.")

	// Robinhood crypto venue
	v.SetDefault("robinhood.base_url", "https://trading.robinhood.com")
	v.SetDefault("robinhood.timeout", 30*time.Second)

	// IBKR gateway
	v.SetDefault("ibkr.host", "127.0.0.1")
	v.SetDefault("ibkr.port", 7497)
	v.SetDefault("ibkr.client_id", 1)
	v.SetDefault("ibkr.readonly", false)

	// Market data
	v.SetDefault("market_data.primary_timeout", 15*time.Second)
	v.SetDefault("market_data.secondary_timeout", 10*time.Second)
	v.SetDefault("market_data.cache_ttl", time.Hour)

	// Trading gates
	v.SetDefault("trading.dry_run", true)
	v.SetDefault("trading.max_position_pct", 0.25)
	v.SetDefault("trading.max_drawdown_pct", 0.15)

	// Orchestrator strategy parameters
	v.SetDefault("orchestrator.vix_shutdown_threshold", 45.0)
	v.SetDefault("orchestrator.spread_width", 25.0)
	v.SetDefault("orchestrator.target_credit_min", 0.55)
	v.SetDefault("orchestrator.target_credit_max", 0.70)
	v.SetDefault("orchestrator.max_delta", 0.12)
	v.SetDefault("orchestrator.execution_hour", 15)
	v.SetDefault("orchestrator.execution_minute", 45)
	v.SetDefault("orchestrator.recommendation_ttl", 4*time.Hour)

	// Alerts
	v.SetDefault("alerts.telegram_enabled", false)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime failures.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [1, 65535], got %d", c.Server.Port)
	}
	if c.Database.APIMaxConns < 1 || c.Database.WorkerMaxConns < 1 {
		return fmt.Errorf("database pool sizes must be positive")
	}
	if c.Trading.MaxPositionPct <= 0 || c.Trading.MaxPositionPct > 1 {
		return fmt.Errorf("trading.max_position_pct must be in (0, 1], got %f", c.Trading.MaxPositionPct)
	}
	if c.Orchestrator.TargetCreditMin > c.Orchestrator.TargetCreditMax {
		return fmt.Errorf("orchestrator.target_credit_min %.2f exceeds max %.2f",
			c.Orchestrator.TargetCreditMin, c.Orchestrator.TargetCreditMax)
	}
	if c.Orchestrator.MaxDelta <= 0 || c.Orchestrator.MaxDelta >= 1 {
		return fmt.Errorf("orchestrator.max_delta must be in (0, 1), got %f", c.Orchestrator.MaxDelta)
	}
	if c.Orchestrator.ExecutionHour < 0 || c.Orchestrator.ExecutionHour > 23 {
		return fmt.Errorf("orchestrator.execution_hour must be in [0, 23], got %d", c.Orchestrator.ExecutionHour)
	}
	if c.Alerts.TelegramEnabled && c.Alerts.TelegramToken == "" {
		return fmt.Errorf("alerts.telegram_token required when telegram alerts are enabled")
	}
	return nil
}

// GetDSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// GetRedisAddr returns the host:port address for the Redis client.
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAPIAddr returns the listen address for the HTTP server.
func (c *ServerConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
