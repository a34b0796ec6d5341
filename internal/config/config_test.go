package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/evetabi/contract/internal/config"
	"github.com/shopspring/decimal"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_ACCESS_SECRET", "secret")
	t.Setenv("SETTLEMENT_FEE_RATE", "")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Settlement.Asset != "USDT" {
		t.Errorf("asset = %q, want USDT", cfg.Settlement.Asset)
	}
	if !cfg.Settlement.FeeRate.Equal(decimal.NewFromFloat(0.01)) {
		t.Errorf("fee rate = %s, want 0.01", cfg.Settlement.FeeRate)
	}
	if cfg.Notifier.PollInterval != 2*time.Second {
		t.Errorf("poll interval = %s, want 2s", cfg.Notifier.PollInterval)
	}
	if cfg.Notifier.RecentWindow != 90*time.Second {
		t.Errorf("recent window = %s, want 90s", cfg.Notifier.RecentWindow)
	}
	if cfg.Notifier.FetchLimit != 30 {
		t.Errorf("fetch limit = %d, want 30", cfg.Notifier.FetchLimit)
	}
	if cfg.Settlement.Schedule == nil || len(cfg.Settlement.Schedule.Options()) != 9 {
		t.Error("default schedule should have 9 options")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateRejectsBadFeeRate(t *testing.T) {
	t.Setenv("JWT_ACCESS_SECRET", "secret")
	t.Setenv("SETTLEMENT_FEE_RATE", "1.5")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("fee rate 1.5 should fail validation")
	}
}

func TestValidateRequiresSecret(t *testing.T) {
	t.Setenv("JWT_ACCESS_SECRET", "")
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("missing JWT secret should fail validation")
	}
}

func TestLoadScheduleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.toml")
	body := `
[[option]]
duration = 45
profitability = 30

[[option]]
duration = 90
profitability = "37.5"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	sched, err := config.LoadSchedule(path)
	if err != nil {
		t.Fatalf("LoadSchedule: %v", err)
	}
	p, ok := sched.ProfitabilityFor(90)
	if !ok || !p.Equal(decimal.RequireFromString("37.5")) {
		t.Errorf("90s = %s (%v), want 37.5", p, ok)
	}
	if _, ok := sched.ProfitabilityFor(30); ok {
		t.Error("file schedule should replace the built-in table")
	}
}
