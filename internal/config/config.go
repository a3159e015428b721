// Package config provides configuration management for the backtester.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/quantfold/backtester/internal/models"
	"github.com/quantfold/backtester/internal/strategy"
)

// Defaults applied by normalize when a field is unset.
const (
	defaultLogLevel    = "info"
	defaultDataSource  = "synthetic"
	defaultStoragePath = "backtest_runs.json"
	defaultOutputDir   = "output"
	defaultListenAddr  = ":8080"
	defaultHTTPTimeout = "10s"
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Backtest    BacktestConfig    `yaml:"backtest"`
	Data        DataConfig        `yaml:"data"`
	Risk        RiskConfig        `yaml:"risk"`
	Storage     StorageConfig     `yaml:"storage"`
	Report      ReportConfig      `yaml:"report"`
	Sweep       SweepConfig       `yaml:"sweep"`
}

// EnvironmentConfig defines the runtime settings.
type EnvironmentConfig struct {
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BacktestConfig defines the run itself.
type BacktestConfig struct {
	InitialCapital float64         `yaml:"initial_capital"`
	Strategy       StrategyConfig  `yaml:"strategy"`
	Valuation      ValuationConfig `yaml:"valuation"`
	// KeepOpenAtEnd leaves positions open after the last bar instead of
	// force-closing them.
	KeepOpenAtEnd bool `yaml:"keep_open_at_end"`
}

// StrategyConfig selects and parameterizes a signal source.
type StrategyConfig struct {
	Name   string          `yaml:"name"`
	Params strategy.Params `yaml:"params"`
}

// ValuationConfig selects how position value responds to price.
type ValuationConfig struct {
	Policy          string  `yaml:"policy"` // notional | leveraged
	PremiumFraction float64 `yaml:"premium_fraction"`
	Leverage        float64 `yaml:"leverage"`
}

// DataConfig defines where bars come from.
type DataConfig struct {
	Source    string          `yaml:"source"` // csv | synthetic | remote
	Path      string          `yaml:"path"`
	Symbols   []string        `yaml:"symbols"`
	Synthetic SyntheticConfig `yaml:"synthetic"`
	Remote    RemoteConfig    `yaml:"remote"`
}

// SyntheticConfig parameterizes the seeded random-walk generator.
type SyntheticConfig struct {
	Seed       int64   `yaml:"seed"`
	Days       int     `yaml:"days"`
	StartPrice float64 `yaml:"start_price"`
	Volatility float64 `yaml:"volatility"`
	Drift      float64 `yaml:"drift"`
}

// RemoteConfig defines the HTTP bar source.
type RemoteConfig struct {
	URL        string `yaml:"url"`
	Timeout    string `yaml:"timeout"` // Go duration, e.g. "10s"
	MaxRetries int    `yaml:"max_retries"`
}

// RiskConfig mirrors the risk rule set with config-friendly field types.
type RiskConfig struct {
	StopLossPct            float64                `yaml:"stop_loss_pct"`
	TakeProfitPct          float64                `yaml:"take_profit_pct"`
	PositionSizePct        float64                `yaml:"position_size_pct"`
	MaxPositions           int                    `yaml:"max_positions"`
	CostRate               float64                `yaml:"cost_rate"`
	MinRiskReward          float64                `yaml:"min_risk_reward"`
	MinStopDistance        float64                `yaml:"min_stop_distance"`
	RequireStructuralBreak bool                   `yaml:"require_structural_break"`
	MaxDailyLosses         int                    `yaml:"max_daily_losses"`
	MaxHolding             string                 `yaml:"max_holding"` // Go duration, e.g. "72h"
	Sessions               []models.SessionWindow `yaml:"sessions"`
	Timezone               string                 `yaml:"timezone"`
	RiskPctBiased          float64                `yaml:"risk_pct_biased"`
	RiskPctNeutral         float64                `yaml:"risk_pct_neutral"`
	TickSize               float64                `yaml:"tick_size"`
}

// StorageConfig defines where run history is persisted.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// ReportConfig defines artifact output and the results server.
type ReportConfig struct {
	OutputDir  string `yaml:"output_dir"`
	ListenAddr string `yaml:"listen_addr"`
}

// SweepConfig runs several strategy variants over the same data.
type SweepConfig struct {
	MaxParallel int              `yaml:"max_parallel"`
	Variants    []StrategyConfig `yaml:"variants"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.normalize()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func (c *Config) normalize() {
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = defaultLogLevel
	}
	if c.Data.Source == "" {
		c.Data.Source = defaultDataSource
	}
	if c.Storage.Path == "" {
		c.Storage.Path = defaultStoragePath
	}
	if c.Report.OutputDir == "" {
		c.Report.OutputDir = defaultOutputDir
	}
	if c.Report.ListenAddr == "" {
		c.Report.ListenAddr = defaultListenAddr
	}
	if c.Data.Remote.Timeout == "" {
		c.Data.Remote.Timeout = defaultHTTPTimeout
	}
	if c.Sweep.MaxParallel == 0 {
		c.Sweep.MaxParallel = 4
	}
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	switch c.Environment.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("environment.log_level must be debug, info, warn or error")
	}

	if c.Backtest.InitialCapital <= 0 {
		return fmt.Errorf("backtest.initial_capital must be > 0")
	}
	if _, err := strategy.New(c.Backtest.Strategy.Name, c.Backtest.Strategy.Params); err != nil {
		return fmt.Errorf("backtest.strategy: %w", err)
	}
	switch c.Backtest.Valuation.Policy {
	case "", "notional", "leveraged":
	default:
		return fmt.Errorf("backtest.valuation.policy must be notional or leveraged")
	}

	switch c.Data.Source {
	case "csv":
		if c.Data.Path == "" {
			return fmt.Errorf("data.path is required for the csv source")
		}
	case "synthetic":
		if len(c.Data.Symbols) == 0 {
			return fmt.Errorf("data.symbols is required for the synthetic source")
		}
	case "remote":
		if c.Data.Remote.URL == "" {
			return fmt.Errorf("data.remote.url is required for the remote source")
		}
		if _, err := time.ParseDuration(c.Data.Remote.Timeout); err != nil {
			return fmt.Errorf("data.remote.timeout invalid: %w", err)
		}
	default:
		return fmt.Errorf("data.source must be csv, synthetic or remote")
	}

	if _, err := c.Risk.Rules(); err != nil {
		return err
	}

	for i, v := range c.Sweep.Variants {
		if _, err := strategy.New(v.Name, v.Params); err != nil {
			return fmt.Errorf("sweep.variants[%d]: %w", i, err)
		}
	}
	if c.Sweep.MaxParallel < 1 {
		return fmt.Errorf("sweep.max_parallel must be >= 1")
	}

	return nil
}

// Rules builds the validated risk rule set from the config section.
func (r RiskConfig) Rules() (*models.RiskRules, error) {
	var maxHolding time.Duration
	if r.MaxHolding != "" {
		d, err := time.ParseDuration(r.MaxHolding)
		if err != nil {
			return nil, fmt.Errorf("risk.max_holding invalid: %w", err)
		}
		maxHolding = d
	}
	rules := &models.RiskRules{
		StopLossPct:            r.StopLossPct,
		TakeProfitPct:          r.TakeProfitPct,
		PositionSizePct:        r.PositionSizePct,
		MaxPositions:           r.MaxPositions,
		CostRate:               r.CostRate,
		MinRiskReward:          r.MinRiskReward,
		MinStopDistance:        r.MinStopDistance,
		RequireStructuralBreak: r.RequireStructuralBreak,
		MaxDailyLosses:         r.MaxDailyLosses,
		MaxHolding:             maxHolding,
		Sessions:               r.Sessions,
		Timezone:               r.Timezone,
		RiskPctBiased:          r.RiskPctBiased,
		RiskPctNeutral:         r.RiskPctNeutral,
		TickSize:               r.TickSize,
	}
	rules.Normalize()
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return rules, nil
}

// ValuationPolicy builds the configured valuation policy.
func (c BacktestConfig) ValuationPolicy() models.ValuationPolicy {
	if c.Valuation.Policy == "leveraged" {
		return models.NewLeveragedValuation(c.Valuation.PremiumFraction, c.Valuation.Leverage)
	}
	return models.NotionalValuation{}
}

// RemoteTimeout returns the configured HTTP timeout for the remote source.
func (c *Config) RemoteTimeout() time.Duration {
	d, err := time.ParseDuration(c.Data.Remote.Timeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}
