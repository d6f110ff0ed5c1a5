package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full boot-time configuration for the engine process.
type Config struct {
	Broker  BrokerConfig  `yaml:"broker"`
	Risk    RiskConfig    `yaml:"risk"`
	Clock   ClockConfig   `yaml:"clock"`
	HTTP    HTTPConfig    `yaml:"http"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
}

// BrokerConfig holds the vendor credentials and connection details. Secrets
// (TOTPSeed, PIN, WebhookPassphrase) must come from environment overrides,
// never the checked-in YAML.
type BrokerConfig struct {
	BaseURL      string `yaml:"base_url"`
	FeedURL      string `yaml:"feed_url"`
	ConsumerKey  string `yaml:"consumer_key"`
	UCC          string `yaml:"ucc"`
	Mobile       string `yaml:"mobile"`
	PIN          string `yaml:"pin"`
	TOTPSeed     string `yaml:"totp_seed"`
	PaperTrading bool   `yaml:"paper_trading"`
}

// RiskConfig holds risk limits read from the YAML file. They are not passed
// to the engine: the sentinel starts empty and takes its limits from the
// configuration sent to ConfigureAndStart through the HTTP control surface.
type RiskConfig struct {
	Capital             float64 `yaml:"capital"`
	Leverage            float64 `yaml:"leverage"`
	MaxDailyLoss        float64 `yaml:"max_daily_loss"`
	MaxConcurrentTrades int     `yaml:"max_concurrent_trades"`
	RiskPerTradeFrac    float64 `yaml:"risk_per_trade_frac"`
	SizingMethod        string  `yaml:"sizing_method"`
}

// ClockConfig fixes the trading session's timezone and square-off time.
type ClockConfig struct {
	Timezone      string `yaml:"timezone"`
	SquareOffHour int    `yaml:"square_off_hour"`
	SquareOffMin  int    `yaml:"square_off_min"`
}

// HTTPConfig controls the control-surface HTTP adapter (§6).
type HTTPConfig struct {
	Addr              string  `yaml:"addr"`
	WebhookPassphrase string  `yaml:"webhook_passphrase"`
	WebhookRatePerSec float64 `yaml:"webhook_rate_per_sec"`
	WebhookBurst      int     `yaml:"webhook_burst"`
}

// StorageConfig controls where the SQLite ledger is persisted.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // path to the SQLite file, or ":memory:"
}

// LogConfig controls logging format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML config at path, layers a .env file (if present) and
// environment overrides on top, and fills in defaults for anything unset.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// SquareOffTime returns the configured square-off hour/minute as a clock offset.
func (c *Config) SquareOffTime() (hour, min int) {
	return c.Clock.SquareOffHour, c.Clock.SquareOffMin
}

// applyEnvOverrides lets deployment secrets and log tuning override the
// checked-in YAML without editing it. Broker and webhook secrets can be set
// here or in the YAML; a non-empty environment value wins.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("BROKER_TOTP_SEED"); v != "" {
		cfg.Broker.TOTPSeed = v
	}
	if v := os.Getenv("BROKER_PIN"); v != "" {
		cfg.Broker.PIN = v
	}
	if v := os.Getenv("BROKER_CONSUMER_KEY"); v != "" {
		cfg.Broker.ConsumerKey = v
	}
	if v := os.Getenv("WEBHOOK_PASSPHRASE"); v != "" {
		cfg.HTTP.WebhookPassphrase = v
	}
	if v := os.Getenv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
}

// setDefaults ensures required values have sane fallbacks when the YAML
// leaves them zero.
func setDefaults(cfg *Config) {
	if cfg.Broker.BaseURL == "" {
		cfg.Broker.BaseURL = "https://api.broker.example.com"
	}
	if cfg.Clock.Timezone == "" {
		cfg.Clock.Timezone = "Asia/Kolkata"
	}
	if cfg.Clock.SquareOffHour == 0 && cfg.Clock.SquareOffMin == 0 {
		cfg.Clock.SquareOffHour = 15
		cfg.Clock.SquareOffMin = 10
	}
	if cfg.Risk.MaxConcurrentTrades <= 0 {
		cfg.Risk.MaxConcurrentTrades = 3
	}
	if cfg.Risk.RiskPerTradeFrac <= 0 {
		cfg.Risk.RiskPerTradeFrac = 0.01
	}
	if cfg.Risk.Leverage <= 0 {
		cfg.Risk.Leverage = 1
	}
	if cfg.Risk.SizingMethod == "" {
		cfg.Risk.SizingMethod = "FIXED_FRACTIONAL"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.WebhookRatePerSec <= 0 {
		cfg.HTTP.WebhookRatePerSec = 5
	}
	if cfg.HTTP.WebhookBurst <= 0 {
		cfg.HTTP.WebhookBurst = 10
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "tradecore.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
