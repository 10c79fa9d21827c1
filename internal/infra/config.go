package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"breakout_go/internal/domain"
	"breakout_go/internal/strategy"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultUserAgent is a browser-like user agent string to avoid bot detection
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	envPrefix = "BREAKOUT_"
)

// Config holds every application setting.
// After LoadConfig reads the file, environment variables override it.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
		Symbol  string `yaml:"symbol"`
	} `yaml:"app"`

	Strategy struct {
		InitialStopLoss   decimal.Decimal `yaml:"initial_stop_loss"`
		DependentStopLoss decimal.Decimal `yaml:"dependent_stop_loss"`
		InitialLookback   int             `yaml:"initial_lookback"`
		LowestLookback    int             `yaml:"lowest_lookback"`
		HighestLookback   int             `yaml:"highest_lookback"`
		VolatilityWindow  int             `yaml:"volatility_window"`
	} `yaml:"strategy"`

	Schedule struct {
		Timezone      string   `yaml:"timezone"`
		MarketOpen    string   `yaml:"market_open"`
		OffsetMinutes int      `yaml:"offset_minutes"`
		Holidays      []string `yaml:"holidays"`
	} `yaml:"schedule"`

	Data struct {
		BaseURL    string  `yaml:"base_url"`
		RatePerSec float64 `yaml:"rate_per_sec"`
		Burst      int     `yaml:"burst"`
		TimeoutSec int     `yaml:"timeout_sec"`
		Retries    int     `yaml:"retries"`
	} `yaml:"data"`

	Broker struct {
		Mode         string          `yaml:"mode"`
		StartingCash decimal.Decimal `yaml:"starting_cash"`
		Breaker      struct {
			ConsecutiveFailures uint32 `yaml:"consecutive_failures"`
			TimeoutSec          int    `yaml:"timeout_sec"`
		} `yaml:"breaker"`
	} `yaml:"broker"`

	Replay struct {
		From string `yaml:"from"`
		To   string `yaml:"to"`
	} `yaml:"replay"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Telemetry struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"telemetry"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// DefaultConfig returns the settings of the reference TSLA run.
func DefaultConfig() *Config {
	var cfg Config
	p := strategy.DefaultParams()

	cfg.App.Name = "breakout_go"
	cfg.App.Version = "0.1.0"
	cfg.App.Symbol = "TSLA"

	cfg.Strategy.InitialStopLoss = p.InitialStopLoss
	cfg.Strategy.DependentStopLoss = p.DependentStopLoss
	cfg.Strategy.InitialLookback = p.InitialLookback
	cfg.Strategy.LowestLookback = p.LowestLookback
	cfg.Strategy.HighestLookback = p.HighestLookback
	cfg.Strategy.VolatilityWindow = p.VolatilityWindow

	cfg.Schedule.Timezone = "America/New_York"
	cfg.Schedule.MarketOpen = "09:30"
	cfg.Schedule.OffsetMinutes = 30

	cfg.Data.BaseURL = "https://query1.finance.yahoo.com"
	cfg.Data.RatePerSec = 2
	cfg.Data.Burst = 1
	cfg.Data.TimeoutSec = 10
	cfg.Data.Retries = 3

	cfg.Broker.Mode = "paper"
	cfg.Broker.StartingCash = decimal.NewFromInt(100000)
	cfg.Broker.Breaker.ConsecutiveFailures = 3
	cfg.Broker.Breaker.TimeoutSec = 60

	cfg.Replay.From = "2020-10-01"
	cfg.Replay.To = "2021-11-23"

	cfg.Storage.Path = "data/breakout.db"
	cfg.Telemetry.Addr = ":8080"
	cfg.Logging.Level = "info"
	cfg.Logging.Dir = "logs"
	return &cfg
}

// LoadConfig reads .env, then the YAML file over the defaults, then BREAKOUT_* overrides.
func LoadConfig(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &domain.ConfigError{Field: "path", Err: fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)}
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &domain.ConfigError{Field: "yaml", Err: err}
	}

	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Params converts the strategy section.
func (c *Config) Params() strategy.Params {
	return strategy.Params{
		InitialStopLoss:   c.Strategy.InitialStopLoss,
		DependentStopLoss: c.Strategy.DependentStopLoss,
		InitialLookback:   c.Strategy.InitialLookback,
		LowestLookback:    c.Strategy.LowestLookback,
		HighestLookback:   c.Strategy.HighestLookback,
		VolatilityWindow:  c.Strategy.VolatilityWindow,
	}
}

// Offset is the delay after the open at which the cycle fires.
func (c *Config) Offset() time.Duration {
	return time.Duration(c.Schedule.OffsetMinutes) * time.Minute
}

// DataTimeout is the per-request timeout of the history client.
func (c *Config) DataTimeout() time.Duration {
	return time.Duration(c.Data.TimeoutSec) * time.Second
}

// Validate checks configuration validity. Errors are *domain.ConfigError.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.App.Symbol) == "" {
		return &domain.ConfigError{Field: "app.symbol", Err: domain.ErrInvalidSymbol}
	}

	if err := c.Params().Validate(); err != nil {
		return err
	}

	if c.Schedule.OffsetMinutes < 0 {
		return &domain.ConfigError{Field: "schedule.offset_minutes", Err: fmt.Errorf("must not be negative")}
	}

	if !hasPrefix(c.Data.BaseURL, "http://") && !hasPrefix(c.Data.BaseURL, "https://") {
		return &domain.ConfigError{Field: "data.base_url", Err: fmt.Errorf("invalid URL: %q", c.Data.BaseURL)}
	}
	if c.Data.RatePerSec <= 0 {
		return &domain.ConfigError{Field: "data.rate_per_sec", Err: fmt.Errorf("must be positive")}
	}
	if c.Data.TimeoutSec <= 0 {
		return &domain.ConfigError{Field: "data.timeout_sec", Err: fmt.Errorf("must be positive")}
	}

	if c.Broker.Mode != "paper" {
		return &domain.ConfigError{Field: "broker.mode", Err: fmt.Errorf("unsupported mode %q", c.Broker.Mode)}
	}
	if !c.Broker.StartingCash.IsPositive() {
		return &domain.ConfigError{Field: "broker.starting_cash", Err: fmt.Errorf("must be positive")}
	}

	if c.Storage.Path == "" {
		return &domain.ConfigError{Field: "storage.path", Err: fmt.Errorf("required")}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return &domain.ConfigError{Field: "logging.level", Err: fmt.Errorf("unknown level %q", c.Logging.Level)}
	}

	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv overwrites settings from BREAKOUT_* variables when present.
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv(envPrefix + "SYMBOL"); v != "" {
		cfg.App.Symbol = v
	}
	if v := os.Getenv(envPrefix + "DATA_URL"); v != "" {
		cfg.Data.BaseURL = v
	}
	if v := os.Getenv(envPrefix + "STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv(envPrefix + "TELEMETRY_ADDR"); v != "" {
		cfg.Telemetry.Addr = v
		cfg.Telemetry.Enabled = true
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(envPrefix + "STARTING_CASH"); v != "" {
		if cash, err := decimal.NewFromString(v); err == nil {
			cfg.Broker.StartingCash = cash
		}
	}
}
