// Package config provides application-wide configuration management.
// All configuration is loaded from files and environment variables.
// No configuration is hardcoded in strategy, broker, or engine logic.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Mode defines whether the system runs in paper or live trading mode.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// Config holds all system configuration.
// Loaded once at startup and passed as read-only to all components.
type Config struct {
	// ActiveBroker selects which broker implementation to use.
	ActiveBroker string `json:"active_broker"`

	// TradingMode controls whether orders are actually placed (live) or simulated (paper).
	TradingMode Mode `json:"trading_mode"`

	// AccountID is the broker account to trade under.
	AccountID string `json:"account_id"`

	// Capital is the account's starting equity, used for position sizing.
	Capital float64 `json:"capital"`

	// Risk holds the configured account risk limits (see RiskConfig).
	Risk RiskConfig `json:"risk"`

	// CircuitBreakers holds per-named-breaker thresholds.
	CircuitBreakers CircuitBreakerSetConfig `json:"circuit_breakers"`

	// Broker holds the broker client's connection configuration.
	Broker BrokerConfig `json:"broker"`

	// DatabaseURL is the Postgres connection string.
	DatabaseURL string `json:"database_url"`

	// MetricsPort is the port the Prometheus /metrics endpoint listens on. 0 disables it.
	MetricsPort int `json:"metrics_port"`
}

// RiskConfig defines account risk limits read from the config file. Validate
// checks them and Watcher reports changes to them; internal/orders' pre-trade
// safety checks do not read this struct, they take storage.SafetyLimits.
type RiskConfig struct {
	// MaxPositionSize is the maximum order quantity (contracts) for any single order.
	MaxPositionSize int `json:"max_position_size"`

	// MaxConcurrentPositions limits concurrently open positions per account.
	MaxConcurrentPositions int `json:"max_concurrent_positions"`

	// MaxDailyTrades limits the number of orders submitted since midnight account-local time.
	MaxDailyTrades int `json:"max_daily_trades"`

	// MaxDailyLoss is the maximum realized+unrealized loss (in account currency) before
	// the day's trading halts.
	MaxDailyLoss float64 `json:"max_daily_loss"`
}

// CircuitBreakerSetConfig configures the three named breakers.
type CircuitBreakerSetConfig struct {
	Orders     BreakerConfig `json:"orders"`
	MarketData BreakerConfig `json:"market_data"`
	Auth       BreakerConfig `json:"auth"`
}

// BreakerConfig configures one named circuit breaker.
type BreakerConfig struct {
	FailureThreshold int `json:"failure_threshold"`
	SuccessThreshold int `json:"success_threshold"`
	// BaseTimeoutMs is the OPEN-state timeout before probing HALF_OPEN, in milliseconds.
	BaseTimeoutMs int `json:"base_timeout_ms"`
	// MaxTimeoutMs caps the exponential doubling of the timeout.
	MaxTimeoutMs int `json:"max_timeout_ms"`
}

// BrokerConfig holds the broker client's connection and credential configuration.
type BrokerConfig struct {
	AccountType      string `json:"account_type"` // "live" or "demo" — selects base URL
	APIBaseLive      string `json:"-"`
	APIBaseDemo      string `json:"-"`
	MDWSLive         string `json:"-"`
	MDWSDemo         string `json:"-"`
	Username         string `json:"username"`
	Password         string `json:"password"`
	AppID            string `json:"app_id"`
	AppSecret        string `json:"app_secret"`
	DeviceID         string `json:"device_id"`
}

// Load reads configuration from a JSON file.
// Environment variables override file values where applicable.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config: read file %s: %w", absPath, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse json: %w", err)
	}

	// Environment variable overrides.
	if v := os.Getenv("ALGO_TRADING_MODE"); v != "" {
		cfg.TradingMode = Mode(v)
	}
	if v := os.Getenv("ALGO_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("ALGO_ACTIVE_BROKER"); v != "" {
		cfg.ActiveBroker = v
	}

	// Required environment overrides.
	cfg.Broker.APIBaseLive = os.Getenv("BROKER_API_BASE_LIVE")
	cfg.Broker.APIBaseDemo = os.Getenv("BROKER_API_BASE_DEMO")
	cfg.Broker.MDWSLive = os.Getenv("BROKER_MD_WS_LIVE")
	cfg.Broker.MDWSDemo = os.Getenv("BROKER_MD_WS_DEMO")

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills in default breaker thresholds when the config file omits them.
func applyDefaults(cfg *Config) {
	if cfg.CircuitBreakers.Orders.BaseTimeoutMs == 0 {
		cfg.CircuitBreakers.Orders = BreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, BaseTimeoutMs: 60_000, MaxTimeoutMs: 300_000}
	}
	if cfg.CircuitBreakers.MarketData.BaseTimeoutMs == 0 {
		cfg.CircuitBreakers.MarketData = BreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, BaseTimeoutMs: 30_000, MaxTimeoutMs: 300_000}
	}
	if cfg.CircuitBreakers.Auth.BaseTimeoutMs == 0 {
		cfg.CircuitBreakers.Auth = BreakerConfig{FailureThreshold: 3, SuccessThreshold: 1, BaseTimeoutMs: 120_000, MaxTimeoutMs: 300_000}
	}
}

// Validate checks that all required configuration fields are present and sane.
func (c *Config) Validate() error {
	if c.ActiveBroker == "" {
		return fmt.Errorf("active_broker is required")
	}
	if c.TradingMode != ModePaper && c.TradingMode != ModeLive {
		return fmt.Errorf("trading_mode must be 'paper' or 'live', got %q", c.TradingMode)
	}
	if c.Capital <= 0 {
		return fmt.Errorf("capital must be positive, got %f", c.Capital)
	}
	if c.Risk.MaxPositionSize <= 0 {
		return fmt.Errorf("risk.max_position_size must be positive, got %d", c.Risk.MaxPositionSize)
	}
	if c.Risk.MaxConcurrentPositions <= 0 {
		return fmt.Errorf("risk.max_concurrent_positions must be positive, got %d", c.Risk.MaxConcurrentPositions)
	}
	if c.Risk.MaxDailyTrades <= 0 {
		return fmt.Errorf("risk.max_daily_trades must be positive, got %d", c.Risk.MaxDailyTrades)
	}
	if c.Risk.MaxDailyLoss <= 0 {
		return fmt.Errorf("risk.max_daily_loss must be positive, got %f", c.Risk.MaxDailyLoss)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}

	// Live mode has stricter requirements to prevent accidental real trading.
	if c.TradingMode == ModeLive {
		if err := c.validateLiveMode(); err != nil {
			return fmt.Errorf("live mode: %w", err)
		}
	}

	return nil
}

// validateLiveMode enforces extra safety checks when running with real money.
func (c *Config) validateLiveMode() error {
	if c.Broker.APIBaseLive == "" {
		return fmt.Errorf("BROKER_API_BASE_LIVE is required for live trading")
	}
	if c.Broker.MDWSLive == "" {
		return fmt.Errorf("BROKER_MD_WS_LIVE is required for live trading")
	}
	if c.Broker.AppID == "" || c.Broker.AppSecret == "" {
		return fmt.Errorf("broker.app_id and broker.app_secret are required for live trading")
	}

	// Safety cap: max 5 concurrent positions in live mode.
	if c.Risk.MaxConcurrentPositions > 5 {
		return fmt.Errorf("risk.max_concurrent_positions cannot exceed 5 in live mode (got %d)", c.Risk.MaxConcurrentPositions)
	}

	return nil
}
