package config

import (
	"fmt"
	"net/url"
	"regexp"
)

// Validate checks the configuration for invalid values before Engine.New
// accepts it.
func Validate(cfg *Config) error {
	if cfg.StartURL != "" {
		if err := ValidateURL(cfg.StartURL); err != nil {
			return fmt.Errorf("start_url: %w", err)
		}
	}

	switch cfg.CrawlType {
	case CrawlBasic, CrawlIntelligent, CrawlGazetteer, CrawlStructureOnly:
	default:
		return fmt.Errorf("crawl_type %q is not supported", cfg.CrawlType)
	}

	if cfg.Engine.Concurrency < 1 {
		return fmt.Errorf("engine.concurrency must be >= 1, got %d", cfg.Engine.Concurrency)
	}
	if cfg.Engine.Concurrency > 1000 {
		return fmt.Errorf("engine.concurrency must be <= 1000, got %d", cfg.Engine.Concurrency)
	}
	if cfg.Engine.MaxDepth < 0 {
		return fmt.Errorf("engine.max_depth must be >= 0, got %d", cfg.Engine.MaxDepth)
	}
	if cfg.Engine.RequestTimeout <= 0 {
		return fmt.Errorf("engine.request_timeout must be > 0")
	}
	if cfg.Engine.RateLimitMs < 0 {
		return fmt.Errorf("engine.rate_limit_ms must be >= 0")
	}
	if cfg.Engine.MaxQueue < 1 {
		return fmt.Errorf("engine.max_queue must be >= 1, got %d", cfg.Engine.MaxQueue)
	}

	if cfg.Queue.MaxScan < 1 {
		return fmt.Errorf("queue.max_scan must be >= 1, got %d", cfg.Queue.MaxScan)
	}
	if cfg.Queue.DiscoveryRatio < 0 || cfg.Queue.AcquisitionRatio < 0 {
		return fmt.Errorf("queue.discovery_ratio and queue.acquisition_ratio must be >= 0")
	}
	if cfg.Queue.DiscoveryRatio == 0 && cfg.Queue.AcquisitionRatio == 0 {
		return fmt.Errorf("at least one of queue.discovery_ratio / queue.acquisition_ratio must be > 0")
	}

	if cfg.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must be >= 0, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.BaseDelayMs <= 0 {
		return fmt.Errorf("retry.base_delay_ms must be > 0")
	}
	if cfg.Retry.MaxDelayMs < cfg.Retry.BaseDelayMs {
		return fmt.Errorf("retry.max_delay_ms must be >= retry.base_delay_ms")
	}
	if cfg.Retry.JitterRatio < 0 || cfg.Retry.JitterRatio > 1 {
		return fmt.Errorf("retry.jitter_ratio must be in [0,1], got %f", cfg.Retry.JitterRatio)
	}

	if cfg.HostBudget.MaxErrors < 1 {
		return fmt.Errorf("host_budget.max_errors must be >= 1, got %d", cfg.HostBudget.MaxErrors)
	}
	if cfg.HostBudget.WindowMs <= 0 {
		return fmt.Errorf("host_budget.window_ms must be > 0")
	}
	if cfg.HostBudget.LockoutMs <= 0 {
		return fmt.Errorf("host_budget.lockout_ms must be > 0")
	}

	if cfg.Headless.Enabled {
		if cfg.Headless.MaxBrowsers < 1 {
			return fmt.Errorf("headless.max_browsers must be >= 1 when enabled, got %d", cfg.Headless.MaxBrowsers)
		}
		if cfg.Headless.MaxPagesPerBrowser < 1 {
			return fmt.Errorf("headless.max_pages_per_browser must be >= 1 when enabled, got %d", cfg.Headless.MaxPagesPerBrowser)
		}
	}

	if cfg.Classifier.AggregatorWeights.URL < 0 || cfg.Classifier.AggregatorWeights.Content < 0 || cfg.Classifier.AggregatorWeights.Headless < 0 {
		return fmt.Errorf("classifier.aggregator_weights must be >= 0")
	}
	for _, pattern := range append(append([]string{}, cfg.Classifier.SoftFailureSignatures...), cfg.Classifier.HardFailureSignatures...) {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("invalid failure signature regex %q: %w", pattern, err)
		}
	}

	validStoreDrivers := map[string]bool{"mongodb": true, "memory": true}
	if !validStoreDrivers[cfg.Store.Driver] {
		return fmt.Errorf("store.driver %q is not supported (valid: mongodb, memory)", cfg.Store.Driver)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be 1-65535, got %d", cfg.Metrics.Port)
		}
	}

	return nil
}

// ValidateURL checks if a URL string is valid for crawling.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
