package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestTokenBucketAllowAndRefill(t *testing.T) {
	tb := NewLimiter(Config{Strategy: StrategyTokenBucket, RequestsPerSec: 5, Burst: 5})

	for i := 0; i < 5; i++ {
		if !tb.Allow() {
			t.Fatalf("expected token available at %d", i)
		}
	}
	if tb.Allow() {
		t.Fatal("expected no token after burst")
	}

	time.Sleep(250 * time.Millisecond)
	if !tb.Allow() {
		t.Fatal("expected token after partial refill")
	}
}

func TestTokenBucketWaitRespectsContext(t *testing.T) {
	tb := NewLimiter(Config{Strategy: StrategyTokenBucket, RequestsPerSec: 1, Burst: 1})

	// Consume the initial token.
	if !tb.Allow() {
		t.Fatal("expected first token")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := tb.Wait(ctx); err == nil {
		t.Fatal("expected timeout")
	}
}

func TestTokenBucketReset(t *testing.T) {
	tb := NewLimiter(Config{Strategy: StrategyTokenBucket, RequestsPerSec: 1, Burst: 2})
	tb.Allow()
	tb.Allow()
	if tb.Allow() {
		t.Fatal("bucket should be empty")
	}
	tb.Reset()
	if !tb.Allow() {
		t.Fatal("expected token after reset")
	}
}

func TestFixedWindow(t *testing.T) {
	fw := NewLimiter(Config{Strategy: StrategyFixedWindow, RequestsPerSec: 2})
	if !fw.Allow() || !fw.Allow() {
		t.Fatal("expected first two to pass")
	}
	if fw.Allow() {
		t.Fatal("expected third to be blocked")
	}

	time.Sleep(time.Second)
	if !fw.Allow() {
		t.Fatal("expected allow after window reset")
	}
}

func TestBackoffBounds(t *testing.T) {
	cfg := Config{InitialBackoff: time.Second, MaxBackoff: 10 * time.Second, BackoffMultiplier: 2, MaxRetries: 5}

	for attempt := 1; attempt <= 5; attempt++ {
		d := backoff(attempt, cfg)
		if d <= 0 {
			t.Fatal("backoff should be positive")
		}
		if d > cfg.MaxBackoff {
			t.Fatal("backoff should cap at max")
		}
	}

	if d := backoff(10, cfg); d != cfg.MaxBackoff {
		t.Fatal("expected max backoff when attempts exceed max retries")
	}
}

func TestLoadSourceConfigs(t *testing.T) {
	yamlData := []byte(`rate_limits:
  aerodatabox:
    strategy: token_bucket
    requests_per_second: 2
    burst: 4
    max_retries: 3
    initial_backoff: 1s
    max_backoff: 30s
    backoff_multiplier: 2
`)

	cfgs, err := LoadSourceConfigs(yamlData)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	adb, err := cfgs.Get("aerodatabox")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if adb.RequestsPerSec != 2 {
		t.Errorf("requests_per_second = %v, want 2", adb.RequestsPerSec)
	}
	if adb.MaxBackoff != 30*time.Second {
		t.Errorf("max_backoff = %v, want 30s", adb.MaxBackoff)
	}

	// Unknown sources fall back to the default config with an error.
	def, err := cfgs.Get("openweathermap")
	if err == nil {
		t.Error("expected error for unknown source")
	}
	if def.RequestsPerSec != DefaultConfig().RequestsPerSec {
		t.Errorf("fallback config = %+v", def)
	}
}
