package config

import (
	"testing"
	"time"
)

func TestParseFillsDefaults(t *testing.T) {
	cfg, err := Parse([]byte("airports: [KIV]\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Airports) != 1 || cfg.Airports[0] != "KIV" {
		t.Errorf("airports = %v, want [KIV]", cfg.Airports)
	}
	if cfg.DelayedThresholdMinutes != 15 {
		t.Errorf("threshold = %d, want default 15", cfg.DelayedThresholdMinutes)
	}
	if cfg.CacheTTL != 10*time.Minute {
		t.Errorf("cache ttl = %v, want default 10m", cfg.CacheTTL)
	}
}

func TestParseOverrides(t *testing.T) {
	yamlData := []byte(`airports: [OTP, CLJ]
delayed_threshold_minutes: 20
delayed_fallback_minutes: 45
history_days: 14
cache_ttl: 5m
rate_limits:
  aerodatabox:
    strategy: fixed_window
    requests_per_second: 1
`)
	cfg, err := Parse(yamlData)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DelayedThresholdMinutes != 20 {
		t.Errorf("threshold = %d, want 20", cfg.DelayedThresholdMinutes)
	}
	if cfg.DelayedFallbackMinutes != 45 {
		t.Errorf("fallback = %d, want 45", cfg.DelayedFallbackMinutes)
	}
	if cfg.HistoryDays != 14 {
		t.Errorf("history days = %d, want 14", cfg.HistoryDays)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Errorf("cache ttl = %v, want 5m", cfg.CacheTTL)
	}
	if _, ok := cfg.RateLimits["aerodatabox"]; !ok {
		t.Error("expected aerodatabox rate limit config")
	}

	lim := cfg.Limiter("aerodatabox")
	if lim == nil {
		t.Fatal("expected limiter")
	}
}

func TestParseRejectsBadYAML(t *testing.T) {
	if _, err := Parse([]byte("airports: [unterminated")); err == nil {
		t.Error("expected error for malformed YAML")
	}
}
