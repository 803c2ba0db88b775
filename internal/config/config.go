// Package config loads the read-only-at-startup configuration blocks:
// strategy, risk, mt5, and data, from a YAML file with environment
// variable overrides applied last, the way the rest of the corpus
// layers env vars over a base file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// StrategyBlock is the pattern/decision-pipeline threshold surface.
type StrategyBlock struct {
	PivotLookbackLeft   int     `yaml:"pivot_lookback_left"`
	PivotLookbackRight  int     `yaml:"pivot_lookback_right"`
	EqualityTolerance   float64 `yaml:"equality_tolerance"`
	MinBarsBetween      int     `yaml:"min_bars_between"`
	AtrMultiplierStop   float64 `yaml:"atr_multiplier_stop"`
	RiskRewardRatioLong float64 `yaml:"risk_reward_ratio_long"`
	// RiskRewardRatioShort is kept for forward compatibility; the
	// Decision Engine hard-rejects short trades regardless of this value.
	RiskRewardRatioShort  float64  `yaml:"risk_reward_ratio_short"`
	MomentumAtrThreshold  float64  `yaml:"momentum_atr_threshold"`
	EnableMomentumFilter  bool     `yaml:"enable_momentum_filter"`
	CooldownHours         float64  `yaml:"cooldown_hours"`
	Pyramiding            int      `yaml:"pyramiding"`
	QualityScoreThreshold *float64 `yaml:"quality_score_threshold"`
}

// RiskBlock is the sizing/commission/drawdown surface.
type RiskBlock struct {
	RiskPercent        float64 `yaml:"risk_percent"`
	CommissionPerLot   float64 `yaml:"commission_per_lot"`
	MaxDrawdownPercent float64 `yaml:"max_drawdown_percent"`
}

// MT5Block names the instrument and connection the core trades.
type MT5Block struct {
	Symbol      string `yaml:"symbol"`
	Timeframe   string `yaml:"timeframe"`
	MagicNumber int    `yaml:"magic_number"`
}

// DataBlock names the bar window and persistence locations.
type DataBlock struct {
	BarsToFetch int    `yaml:"bars_to_fetch"`
	StateFile   string `yaml:"state_file"`
	BackupDir   string `yaml:"backup_dir"`
	DBURL       string `yaml:"db_url"`
}

// Config is the full, validated configuration.
type Config struct {
	Strategy StrategyBlock `yaml:"strategy"`
	Risk     RiskBlock     `yaml:"risk"`
	MT5      MT5Block      `yaml:"mt5"`
	Data     DataBlock     `yaml:"data"`
}

var validTimeframes = map[string]bool{
	"M1": true, "M5": true, "M15": true, "M30": true,
	"H1": true, "H4": true, "D1": true, "W1": true, "MN1": true,
}

// Load reads the YAML file at path, applies environment overrides, and
// validates the result. A missing .env file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GOLDCORE_RISK_PERCENT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Risk.RiskPercent = f
		}
	}
	if v := os.Getenv("GOLDCORE_PYRAMIDING"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Strategy.Pyramiding = n
		}
	}
	if v := os.Getenv("GOLDCORE_SYMBOL"); v != "" {
		cfg.MT5.Symbol = v
	}
	if v := os.Getenv("GOLDCORE_TIMEFRAME"); v != "" {
		cfg.MT5.Timeframe = strings.ToUpper(v)
	}
	if v := os.Getenv("GOLDCORE_STATE_FILE"); v != "" {
		cfg.Data.StateFile = v
	}
	if v := os.Getenv("GOLDCORE_DB_URL"); v != "" {
		cfg.Data.DBURL = v
	}
}

// Validate enforces the startup validation rules. A failure here is a
// ConfigInvalid error and must cause the process to exit with code 2.
func (c *Config) Validate() error {
	if c.Strategy.Pyramiding < 1 {
		return fmt.Errorf("config invalid: pyramiding must be >= 1, got %d", c.Strategy.Pyramiding)
	}
	if c.Strategy.AtrMultiplierStop <= 0 {
		return fmt.Errorf("config invalid: atr_multiplier_stop must be > 0, got %v", c.Strategy.AtrMultiplierStop)
	}
	if c.Strategy.RiskRewardRatioLong <= 0 {
		return fmt.Errorf("config invalid: risk_reward_ratio_long must be > 0, got %v", c.Strategy.RiskRewardRatioLong)
	}
	if c.Risk.RiskPercent <= 0 {
		return fmt.Errorf("config invalid: risk_percent must be > 0, got %v", c.Risk.RiskPercent)
	}
	if !validTimeframes[strings.ToUpper(c.MT5.Timeframe)] {
		return fmt.Errorf("config invalid: timeframe %q is not one of M1,M5,M15,M30,H1,H4,D1,W1,MN1", c.MT5.Timeframe)
	}
	return nil
}
