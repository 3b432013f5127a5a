package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete session runtime configuration.
type Config struct {
	Session    SessionConfig    `json:"session" yaml:"session"`
	Account    AccountConfig    `json:"account" yaml:"account"`
	Risk       RiskConfig       `json:"risk" yaml:"risk"`
	Dedupe     DedupeConfig     `json:"dedupe" yaml:"dedupe"`
	Checkpoint CheckpointConfig `json:"checkpoint" yaml:"checkpoint"`
	Reconcile  ReconcileConfig  `json:"reconcile" yaml:"reconcile"`
	Journal    JournalConfig    `json:"journal" yaml:"journal"`
	Telemetry  TelemetryConfig  `json:"telemetry" yaml:"telemetry"`
	Broker     BrokerConfig     `json:"broker" yaml:"broker"`
	Decision   DecisionConfig   `json:"decision" yaml:"decision"`
}

// SessionConfig contains coordinator lifecycle parameters.
type SessionConfig struct {
	ID              string `json:"id" yaml:"id"`
	HistoryWindow   int    `json:"history_window" yaml:"history_window"`
	SubmitTimeout   string `json:"submit_timeout" yaml:"submit_timeout"`
	SubmitRetries   int    `json:"submit_retries" yaml:"submit_retries"`
	RetryBackoff    string `json:"retry_backoff" yaml:"retry_backoff"`
	OrderTimeout    string `json:"order_timeout" yaml:"order_timeout"`
	LiquidateOnStop bool   `json:"liquidate_on_stop" yaml:"liquidate_on_stop"`
}

// AccountConfig contains account initialization parameters.
type AccountConfig struct {
	ID       string  `json:"id" yaml:"id"`
	Currency string  `json:"currency" yaml:"currency"`
	Capital  float64 `json:"capital" yaml:"capital"`
}

// RiskConfig contains pre-trade gate limits.
type RiskConfig struct {
	MaxDailyLossPct    float64 `json:"max_daily_loss_pct" yaml:"max_daily_loss_pct"`
	MaxDrawdownPct     float64 `json:"max_drawdown_pct" yaml:"max_drawdown_pct"`
	MaxNotional        float64 `json:"max_notional" yaml:"max_notional"`
	MaxOrdersPerWindow int     `json:"max_orders_per_window" yaml:"max_orders_per_window"`
	RateWindow         string  `json:"rate_window" yaml:"rate_window"`
}

// DedupeConfig contains idempotency tracker parameters.
type DedupeConfig struct {
	StorePath string `json:"store_path" yaml:"store_path"`
	TTL       string `json:"ttl" yaml:"ttl"`
}

// CheckpointConfig contains checkpoint pipeline parameters.
type CheckpointConfig struct {
	Path       string `json:"path" yaml:"path"`
	QueueDepth int    `json:"queue_depth" yaml:"queue_depth"`
}

// ReconcileConfig contains position reconciler parameters.
type ReconcileConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Interval string `json:"interval" yaml:"interval"`
	Timeout  string `json:"timeout" yaml:"timeout"`
}

// JournalConfig contains journaling parameters.
type JournalConfig struct {
	Type       string `json:"type" yaml:"type"` // "csv", "sqlite" or "none"
	FillsFile  string `json:"fills_file,omitempty" yaml:"fills_file,omitempty"`
	EquityFile string `json:"equity_file,omitempty" yaml:"equity_file,omitempty"`
	DBPath     string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

// TelemetryConfig contains the HTTP listener for /metrics and /ws.
type TelemetryConfig struct {
	Listen string `json:"listen,omitempty" yaml:"listen,omitempty"`
}

// BrokerConfig contains simulated-broker parameters.
type BrokerConfig struct {
	Type              string  `json:"type" yaml:"type"` // "sim"
	Latency           string  `json:"latency,omitempty" yaml:"latency,omitempty"`
	CommissionPerUnit float64 `json:"commission_per_unit" yaml:"commission_per_unit"`
	MaxFillUnits      float64 `json:"max_fill_units,omitempty" yaml:"max_fill_units,omitempty"`
}

// DecisionConfig selects and tunes the decision engine.
type DecisionConfig struct {
	Engine    string   `json:"engine" yaml:"engine"` // registered engine name
	Symbols   []string `json:"symbols" yaml:"symbols"`
	Window    int      `json:"window,omitempty" yaml:"window,omitempty"`
	Threshold float64  `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Units     float64  `json:"units,omitempty" yaml:"units,omitempty"`
}

// Duration parses a duration field, returning fallback for the empty string.
func Duration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}

// LoadFromFile loads configuration from a file, trying YAML first and
// falling back to JSON.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile saves configuration to a file (YAML or JSON by extension).
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Session.ID == "" {
		return fmt.Errorf("session.id is required")
	}
	if c.Account.Capital <= 0 {
		return fmt.Errorf("account.capital must be positive")
	}
	if c.Risk.MaxDailyLossPct <= 0 || c.Risk.MaxDailyLossPct >= 1 {
		return fmt.Errorf("risk.max_daily_loss_pct must be between 0 and 1")
	}
	if c.Risk.MaxDrawdownPct <= 0 || c.Risk.MaxDrawdownPct >= 1 {
		return fmt.Errorf("risk.max_drawdown_pct must be between 0 and 1")
	}
	if c.Risk.MaxNotional <= 0 {
		return fmt.Errorf("risk.max_notional must be positive")
	}
	for _, field := range []struct {
		name, value string
	}{
		{"session.submit_timeout", c.Session.SubmitTimeout},
		{"session.retry_backoff", c.Session.RetryBackoff},
		{"session.order_timeout", c.Session.OrderTimeout},
		{"risk.rate_window", c.Risk.RateWindow},
		{"dedupe.ttl", c.Dedupe.TTL},
		{"reconcile.interval", c.Reconcile.Interval},
		{"reconcile.timeout", c.Reconcile.Timeout},
		{"broker.latency", c.Broker.Latency},
	} {
		if _, err := Duration(field.value, 0); err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
	}
	if c.Dedupe.StorePath == "" {
		return fmt.Errorf("dedupe.store_path is required")
	}
	if c.Checkpoint.Path == "" {
		return fmt.Errorf("checkpoint.path is required")
	}
	switch c.Journal.Type {
	case "csv":
		if c.Journal.FillsFile == "" || c.Journal.EquityFile == "" {
			return fmt.Errorf("journal fills_file and equity_file required for CSV type")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for SQLite type")
		}
	case "none":
	default:
		return fmt.Errorf("journal.type must be 'csv', 'sqlite' or 'none'")
	}
	if c.Broker.Type != "sim" {
		return fmt.Errorf("broker.type must be 'sim'")
	}
	if c.Decision.Engine == "" {
		return fmt.Errorf("decision.engine is required")
	}
	if len(c.Decision.Symbols) == 0 {
		return fmt.Errorf("decision.symbols must name at least one symbol")
	}
	return nil
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			ID:            "SESSION-001",
			HistoryWindow: 64,
			SubmitTimeout: "5s",
			SubmitRetries: 3,
			RetryBackoff:  "250ms",
			OrderTimeout:  "2m",
		},
		Account: AccountConfig{
			ID:       "SIM-001",
			Currency: "USD",
			Capital:  100000,
		},
		Risk: RiskConfig{
			MaxDailyLossPct:    0.02,
			MaxDrawdownPct:     0.10,
			MaxNotional:        250000,
			MaxOrdersPerWindow: 10,
			RateWindow:         "1m",
		},
		Dedupe: DedupeConfig{
			StorePath: "./submitted.json",
			TTL:       "5m",
		},
		Checkpoint: CheckpointConfig{
			Path:       "./session.checkpoint",
			QueueDepth: 64,
		},
		Reconcile: ReconcileConfig{
			Enabled:  true,
			Interval: "1h",
			Timeout:  "30s",
		},
		Journal: JournalConfig{
			Type:       "csv",
			FillsFile:  "./fills.csv",
			EquityFile: "./equity.csv",
		},
		Telemetry: TelemetryConfig{
			Listen: ":9180",
		},
		Broker: BrokerConfig{
			Type:              "sim",
			Latency:           "10ms",
			CommissionPerUnit: 0.05,
		},
		Decision: DecisionConfig{
			Engine:    "meanrev",
			Symbols:   []string{"AAPL"},
			Window:    20,
			Threshold: 1.5,
			Units:     10,
		},
	}
}
