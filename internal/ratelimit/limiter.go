// Package ratelimit paces outbound calls to the upstream flight API so the
// service stays inside its plan quota.
package ratelimit

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Limiter is the rate limiting contract.
type Limiter interface {
	// Wait blocks until a slot is available or the context is canceled.
	Wait(ctx context.Context) error
	// Allow reports whether a slot is available right now, consuming it.
	Allow() bool
	// Reserve returns how long until the next slot without consuming it.
	Reserve() time.Duration
	// RetryAfter returns the backoff for the given retry attempt.
	RetryAfter(attempt int) time.Duration
	// Reset restores the limiter to its initial state.
	Reset()
}

// Strategy selects the limiter implementation.
type Strategy string

const (
	StrategyTokenBucket Strategy = "token_bucket"
	StrategyFixedWindow Strategy = "fixed_window"
)

// NewLimiter creates a limiter for the config.
func NewLimiter(cfg Config) Limiter {
	cfg = applyDefaults(cfg)
	switch cfg.Strategy {
	case StrategyFixedWindow:
		return newFixedWindow(cfg)
	default:
		return newTokenBucket(cfg)
	}
}

// tokenBucket refills continuously at the configured rate up to the burst
// size.
type tokenBucket struct {
	mu         sync.Mutex
	rate       float64
	burst      int
	tokens     float64
	lastUpdate time.Time
	cfg        Config
}

func newTokenBucket(cfg Config) *tokenBucket {
	return &tokenBucket{
		rate:       cfg.RequestsPerSec,
		burst:      cfg.Burst,
		tokens:     float64(cfg.Burst),
		lastUpdate: time.Now(),
		cfg:        cfg,
	}
}

func (tb *tokenBucket) Wait(ctx context.Context) error {
	tb.mu.Lock()
	tb.refill()
	if tb.tokens >= 1.0 {
		tb.tokens--
		tb.mu.Unlock()
		return nil
	}
	deficit := 1.0 - tb.tokens
	wait := time.Duration(deficit/tb.rate*float64(time.Second)) + time.Nanosecond
	tb.mu.Unlock()

	timer := time.NewTimer(wait)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		tb.mu.Lock()
		tb.refill()
		if tb.tokens >= 1.0 {
			tb.tokens--
		}
		tb.mu.Unlock()
		return nil
	}
}

func (tb *tokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= 1.0 {
		tb.tokens--
		return true
	}
	return false
}

func (tb *tokenBucket) Reserve() time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= 1.0 {
		return 0
	}
	deficit := 1.0 - tb.tokens
	return time.Duration(deficit / tb.rate * float64(time.Second))
}

func (tb *tokenBucket) RetryAfter(attempt int) time.Duration {
	return backoff(attempt, tb.cfg)
}

func (tb *tokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.tokens = float64(tb.burst)
	tb.lastUpdate = time.Now()
}

// refill adds tokens based on elapsed time (call with lock held).
func (tb *tokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastUpdate)
	if elapsed <= 0 {
		return
	}
	tb.tokens += elapsed.Seconds() * tb.rate
	if tb.tokens > float64(tb.burst) {
		tb.tokens = float64(tb.burst)
	}
	tb.lastUpdate = now
}

// fixedWindow allows a fixed number of calls per one-second window.
type fixedWindow struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	count       int
	windowStart time.Time
	cfg         Config
}

func newFixedWindow(cfg Config) *fixedWindow {
	return &fixedWindow{
		limit:       int(cfg.RequestsPerSec),
		window:      time.Second,
		windowStart: time.Now(),
		cfg:         cfg,
	}
}

func (fw *fixedWindow) Wait(ctx context.Context) error {
	for {
		if fw.Allow() {
			return nil
		}
		wait := fw.Reserve()
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (fw *fixedWindow) Allow() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	fw.resetWindowIfNeeded()
	if fw.count < fw.limit {
		fw.count++
		return true
	}
	return false
}

func (fw *fixedWindow) Reserve() time.Duration {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	fw.resetWindowIfNeeded()
	if fw.count < fw.limit {
		return 0
	}
	return fw.window - time.Since(fw.windowStart)
}

func (fw *fixedWindow) RetryAfter(attempt int) time.Duration {
	return backoff(attempt, fw.cfg)
}

func (fw *fixedWindow) Reset() {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	fw.count = 0
	fw.windowStart = time.Now()
}

func (fw *fixedWindow) resetWindowIfNeeded() {
	now := time.Now()
	if now.Sub(fw.windowStart) >= fw.window {
		fw.count = 0
		fw.windowStart = now
	}
}

// backoff computes exponential backoff with +/-25% jitter.
func backoff(attempt int, cfg Config) time.Duration {
	if attempt <= 0 {
		return 0
	}
	if attempt > cfg.MaxRetries {
		return cfg.MaxBackoff
	}

	base := float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffMultiplier, float64(attempt-1))
	if base > float64(cfg.MaxBackoff) {
		base = float64(cfg.MaxBackoff)
	}

	jitter := base * 0.25 * (2*rand.Float64() - 1)
	d := base + jitter
	if d < 0 {
		d = 0
	}
	if d > float64(cfg.MaxBackoff) {
		d = float64(cfg.MaxBackoff)
	}
	return time.Duration(d)
}
