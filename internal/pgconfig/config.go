// Package pgconfig loads configuration for pageguard's admin binary:
// the disk-usage eviction schedule and the rate limit guarding the
// manual eviction-trigger endpoints.
//
// Settings are layered: defaults -> pageguard-config.json -> environment
// variables (env vars win), grounded on
// _examples/laplaque-ai-anonymizing-proxy/internal/config.
package pgconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// EvictionConfig mirrors the original's DiskUsageEvictionTaskConfig.
// Period is stored as a human-readable duration string on disk/in env
// (e.g. "60s"), matching the original's humantime_serde field, and
// parsed into PeriodDuration at Validate time.
type EvictionConfig struct {
	MaxUsagePct    uint8         `json:"maxUsagePct"`
	MinAvailBytes  uint64        `json:"minAvailBytes"`
	Period         string        `json:"period"`
	TenantsDir     string        `json:"tenantsDir"`
	PeriodDuration time.Duration `json:"-"`
}

// RateLimitConfig configures the limiter guarding the admin eviction
// trigger endpoints.
type RateLimitConfig struct {
	RPS           float64 `json:"rps"`
	Burst         float64 `json:"burst"`
	InitialTokens float64 `json:"initialTokens"`
}

// Config holds the full pageguard configuration.
type Config struct {
	Eviction  *EvictionConfig `json:"diskUsageBasedEviction"`
	AdminRate RateLimitConfig `json:"adminRateLimit"`
	LogLevel  string          `json:"logLevel"`
	AdminPort int             `json:"adminPort"`
	BoltPath  string          `json:"boltPath"`
}

// Load returns config with defaults overridden by pageguard-config.json
// and environment variables.
func Load() (*Config, error) {
	cfg := defaults()
	loadFile(cfg, "pageguard-config.json")
	loadEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Eviction: nil, // absent by default: Launch is then a no-op, per spec §6
		AdminRate: RateLimitConfig{
			RPS:           5,
			Burst:         10,
			InitialTokens: 10,
		},
		LogLevel:  "info",
		AdminPort: 9898,
		BoltPath:  "pageguard-reports.db",
	}
}

// Validate checks range constraints named in spec §6 (max_usage_pct in
// 0..=100) and parses Period into PeriodDuration. A nil Eviction config
// is valid (eviction launcher becomes a no-op).
func (c *Config) Validate() error {
	if c.Eviction == nil {
		return nil
	}
	e := c.Eviction
	if e.MaxUsagePct > 100 {
		return fmt.Errorf("pgconfig: maxUsagePct must be in 0..=100, got %d", e.MaxUsagePct)
	}
	if e.Period == "" {
		return fmt.Errorf("pgconfig: period must be set when diskUsageBasedEviction is configured")
	}
	d, err := time.ParseDuration(e.Period)
	if err != nil {
		return fmt.Errorf("pgconfig: invalid period %q: %w", e.Period, err)
	}
	if d <= 0 {
		return fmt.Errorf("pgconfig: period must be positive, got %s", d)
	}
	e.PeriodDuration = d
	if e.TenantsDir == "" {
		e.TenantsDir = "."
	}
	return nil
}

func loadFile(cfg *Config, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // file is optional
	}
	_ = json.Unmarshal(data, cfg)
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("PAGEGUARD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PAGEGUARD_ADMIN_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AdminPort = n
		}
	}
	if v := os.Getenv("PAGEGUARD_BOLT_PATH"); v != "" {
		cfg.BoltPath = v
	}
	if v := os.Getenv("PAGEGUARD_EVICTION_MAX_USAGE_PCT"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 8); err == nil {
			cfg.ensureEviction().MaxUsagePct = uint8(n)
		}
	}
	if v := os.Getenv("PAGEGUARD_EVICTION_MIN_AVAIL_BYTES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.ensureEviction().MinAvailBytes = n
		}
	}
	if v := os.Getenv("PAGEGUARD_EVICTION_PERIOD"); v != "" {
		cfg.ensureEviction().Period = v
	}
	if v := os.Getenv("PAGEGUARD_EVICTION_TENANTS_DIR"); v != "" {
		cfg.ensureEviction().TenantsDir = v
	}
}

func (c *Config) ensureEviction() *EvictionConfig {
	if c.Eviction == nil {
		c.Eviction = &EvictionConfig{}
	}
	return c.Eviction
}
