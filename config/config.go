package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds the full service configuration.
type Config struct {
	// Acquisition limits.
	MaxConcurrent int           // concurrent URL acquisitions
	Timeout       time.Duration // per-request HTTP timeout
	UserAgent     string

	// Cache backend.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ListingTTL    time.Duration
	SellerTTL     time.Duration
	RateTTL       time.Duration
	CacheEnabled  bool

	// Browser pool.
	PoolEngines       int // pre-warmed browser processes
	PoolTabsPerEngine int // pre-warmed tabs per engine
	PoolMaxSessions   int // hard ceiling on concurrently leased sessions
	PoolNavTimeout    time.Duration
	BrowserInstallCmd []string // one-shot remediation when the browser binary is missing
	// BrowserInstallGlob matches the binary BrowserInstallCmd produces when
	// it lands outside PATH; the pool relaunches against the newest match.
	BrowserInstallGlob string
	EnableHeadless     bool

	// Currency.
	RateSourceURL string
	RateMarkupPct float64

	// Pricing tables.
	FeesFile     string
	ShippingFile string

	// Analytics.
	AnalyticsPath string

	MetricsAddr string
	Verbose     bool
}

// DefaultConfig returns conservative defaults for production use.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		MaxConcurrent: 5,
		Timeout:       20 * time.Second,
		UserAgent:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",

		RedisAddr:    "localhost:6379",
		ListingTTL:   24 * time.Hour,
		SellerTTL:    12 * time.Hour,
		RateTTL:      12 * time.Hour,
		CacheEnabled: true,

		PoolEngines:       1,
		PoolTabsPerEngine: 3,
		PoolMaxSessions:   5,
		PoolNavTimeout:    10 * time.Second,
		BrowserInstallCmd:  []string{"npx", "--yes", "playwright", "install", "chromium"},
		BrowserInstallGlob: filepath.Join(home, ".cache", "ms-playwright", "chromium-*", "chrome-linux", "chrome"),
		EnableHeadless:     true,

		RateSourceURL: "https://www.cbr.ru/scripts/XML_daily.asp",
		RateMarkupPct: 5.0,

		FeesFile:      "config/fees.yml",
		ShippingFile:  "config/shipping_table.yml",
		AnalyticsPath: "data/analytics.db",

		MetricsAddr: "",
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("max concurrent must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.CacheEnabled && c.RedisAddr == "" {
		return fmt.Errorf("redis address cannot be empty when caching is enabled")
	}
	if c.ListingTTL <= 0 || c.SellerTTL <= 0 || c.RateTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	if c.PoolEngines <= 0 {
		return fmt.Errorf("pool engines must be positive")
	}
	if c.PoolTabsPerEngine <= 0 {
		return fmt.Errorf("pool tabs per engine must be positive")
	}
	if c.PoolMaxSessions <= 0 {
		return fmt.Errorf("pool max sessions must be positive")
	}
	if c.PoolMaxSessions < c.PoolEngines {
		return fmt.Errorf("pool max sessions (%d) cannot be below engine count (%d)", c.PoolMaxSessions, c.PoolEngines)
	}
	if c.RateSourceURL == "" {
		return fmt.Errorf("rate source URL cannot be empty")
	}
	if c.RateMarkupPct < 0 {
		return fmt.Errorf("rate markup cannot be negative")
	}
	return nil
}
