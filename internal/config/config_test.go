package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
strategy:
  pivot_lookback_left: 3
  pivot_lookback_right: 3
  equality_tolerance: 2.0
  min_bars_between: 5
  atr_multiplier_stop: 2.0
  risk_reward_ratio_long: 2.0
  risk_reward_ratio_short: 1.4
  momentum_atr_threshold: 0.5
  enable_momentum_filter: false
  cooldown_hours: 5
  pyramiding: 3
risk:
  risk_percent: 1.0
  commission_per_lot: 0
  max_drawdown_percent: 10
mt5:
  symbol: XAUUSD
  timeframe: H1
  magic_number: 123456
data:
  bars_to_fetch: 500
  state_file: state.json
  backup_dir: backups
  db_url: goldcore.db
`

func writeSample(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeSample(t, sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MT5.Symbol != "XAUUSD" || cfg.MT5.Timeframe != "H1" {
		t.Fatalf("unexpected mt5 block: %+v", cfg.MT5)
	}
	if cfg.Strategy.Pyramiding != 3 {
		t.Fatalf("expected pyramiding=3, got %d", cfg.Strategy.Pyramiding)
	}
}

func TestLoadRejectsInvalidTimeframe(t *testing.T) {
	bad := sampleYAML + "\n" // copy then mutate timeframe below
	bad = replaceOnce(bad, "timeframe: H1", "timeframe: H2")
	_, err := Load(writeSample(t, bad))
	if err == nil {
		t.Fatal("expected validation error for invalid timeframe")
	}
}

func TestLoadRejectsZeroPyramiding(t *testing.T) {
	bad := replaceOnce(sampleYAML, "pyramiding: 3", "pyramiding: 0")
	_, err := Load(writeSample(t, bad))
	if err == nil {
		t.Fatal("expected validation error for pyramiding < 1")
	}
}

func TestEnvOverrideAppliesLast(t *testing.T) {
	path := writeSample(t, sampleYAML)
	t.Setenv("GOLDCORE_SYMBOL", "XAGUSD")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MT5.Symbol != "XAGUSD" {
		t.Fatalf("expected env override to win, got %q", cfg.MT5.Symbol)
	}
}

func replaceOnce(s, old, new string) string {
	for i := 0; i+len(old) <= len(s); i++ {
		if s[i:i+len(old)] == old {
			return s[:i] + new + s[i+len(old):]
		}
	}
	return s
}
