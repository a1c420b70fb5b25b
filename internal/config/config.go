// Package config loads the service configuration file: which airports to
// track and the tuning constants for delay classification, caching and
// upstream rate limiting.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"flighthist/internal/ratelimit"
)

// Service is the YAML service configuration.
type Service struct {
	// Airports lists the IATA codes tracked by scheduled ingestion.
	Airports []string `yaml:"airports"`

	// DelayedThresholdMinutes: delay above this counts as delayed.
	DelayedThresholdMinutes int `yaml:"delayed_threshold_minutes"`
	// DelayedFallbackMinutes: assumed delay for a delayed status with no
	// usable timestamps.
	DelayedFallbackMinutes int `yaml:"delayed_fallback_minutes"`
	// HistoryDays is the trailing store window for statistics.
	HistoryDays int `yaml:"history_days"`

	CacheTTL time.Duration `yaml:"cache_ttl"`

	RateLimits map[string]ratelimit.Config `yaml:"rate_limits"`
}

// Default returns the built-in configuration used when no file is given.
func Default() Service {
	return Service{
		Airports:                []string{"KIV", "OTP", "RMO"},
		DelayedThresholdMinutes: 15,
		DelayedFallbackMinutes:  30,
		HistoryDays:             7,
		CacheTTL:                10 * time.Minute,
	}
}

// Load reads a YAML config file, filling omitted fields from Default.
func Load(path string) (Service, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Service{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes, filling omitted fields from Default.
func Parse(data []byte) (Service, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Service{}, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.DelayedThresholdMinutes <= 0 {
		cfg.DelayedThresholdMinutes = Default().DelayedThresholdMinutes
	}
	if cfg.DelayedFallbackMinutes <= 0 {
		cfg.DelayedFallbackMinutes = Default().DelayedFallbackMinutes
	}
	if cfg.HistoryDays <= 0 {
		cfg.HistoryDays = Default().HistoryDays
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = Default().CacheTTL
	}
	return cfg, nil
}

// Limiter builds the rate limiter for an upstream source, falling back to
// defaults when the source is not configured.
func (s Service) Limiter(source string) ratelimit.Limiter {
	cfgs := ratelimit.SourceConfigs{RateLimits: s.RateLimits}
	cfg, err := cfgs.Get(source)
	if err != nil {
		cfg = ratelimit.DefaultConfig()
	}
	return ratelimit.NewLimiter(cfg)
}
