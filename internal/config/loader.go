package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Load reads configuration from file, environment, and CLI flags.
// Priority (highest to lowest): CLI flags > env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	v.SetEnvPrefix("NEWSCRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("newscrawler")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".newscrawler"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	return Load(path)
}

// setDefaults registers default values in viper.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("crawl_type", cfg.CrawlType)

	v.SetDefault("engine.concurrency", cfg.Engine.Concurrency)
	v.SetDefault("engine.max_queue", cfg.Engine.MaxQueue)
	v.SetDefault("engine.max_depth", cfg.Engine.MaxDepth)
	v.SetDefault("engine.max_downloads", cfg.Engine.MaxDownloads)
	v.SetDefault("engine.rate_limit_ms", cfg.Engine.RateLimitMs)
	v.SetDefault("engine.request_timeout", cfg.Engine.RequestTimeout)
	v.SetDefault("engine.shutdown_grace_ms", cfg.Engine.ShutdownGraceMs)
	v.SetDefault("engine.stall_threshold", cfg.Engine.StallThreshold)
	v.SetDefault("engine.user_agents", cfg.Engine.UserAgents)

	v.SetDefault("queue.discovery_ratio", cfg.Queue.DiscoveryRatio)
	v.SetDefault("queue.acquisition_ratio", cfg.Queue.AcquisitionRatio)
	v.SetDefault("queue.burst_cap", cfg.Queue.BurstCap)
	v.SetDefault("queue.max_scan", cfg.Queue.MaxScan)
	v.SetDefault("queue.total_prioritisation", cfg.Queue.TotalPrioritisation)

	v.SetDefault("cache.prefer_cache", cfg.Cache.PreferCache)
	v.SetDefault("cache.max_age_ms", cfg.Cache.MaxAgeMs)
	v.SetDefault("cache.max_age_article_ms", cfg.Cache.MaxAgeArticleMs)
	v.SetDefault("cache.max_age_hub_ms", cfg.Cache.MaxAgeHubMs)
	v.SetDefault("cache.lru_size", cfg.Cache.LRUSize)
	v.SetDefault("cache.known_404_ttl", cfg.Cache.Known404TTL)

	v.SetDefault("retry.max_attempts", cfg.Retry.MaxAttempts)
	v.SetDefault("retry.base_delay_ms", cfg.Retry.BaseDelayMs)
	v.SetDefault("retry.max_delay_ms", cfg.Retry.MaxDelayMs)
	v.SetDefault("retry.jitter_ratio", cfg.Retry.JitterRatio)

	v.SetDefault("host_budget.max_errors", cfg.HostBudget.MaxErrors)
	v.SetDefault("host_budget.window_ms", cfg.HostBudget.WindowMs)
	v.SetDefault("host_budget.lockout_ms", cfg.HostBudget.LockoutMs)

	v.SetDefault("headless.enabled", cfg.Headless.Enabled)
	v.SetDefault("headless.max_browsers", cfg.Headless.MaxBrowsers)
	v.SetDefault("headless.max_pages_per_browser", cfg.Headless.MaxPagesPerBrowser)
	v.SetDefault("headless.max_session_age_ms", cfg.Headless.MaxSessionAgeMs)
	v.SetDefault("headless.health_check_interval_ms", cfg.Headless.HealthCheckIntervalMs)
	v.SetDefault("headless.max_consecutive_errors", cfg.Headless.MaxConsecutiveErrors)
	v.SetDefault("headless.fallback_on_connection_reset", cfg.Headless.FallbackOnConnectionReset)
	v.SetDefault("headless.degraded_cooldown_ms", cfg.Headless.DegradedCooldownMs)
	v.SetDefault("headless.navigation_settle_ms", cfg.Headless.NavigationSettleMs)
	v.SetDefault("headless.recycle_after_pages", cfg.Headless.RecycleAfterPages)

	v.SetDefault("priority.type_weights", cfg.Priority.TypeWeights)
	v.SetDefault("priority.discovery_bonuses", cfg.Priority.DiscoveryBonuses)

	v.SetDefault("classifier.stage2_thresholds", cfg.Classifier.Stage2Thresholds)
	v.SetDefault("classifier.aggregator_weights", cfg.Classifier.AggregatorWeights)
	v.SetDefault("classifier.soft_failure_signatures", cfg.Classifier.SoftFailureSignatures)
	v.SetDefault("classifier.hard_failure_signatures", cfg.Classifier.HardFailureSignatures)
	v.SetDefault("classifier.headless_confidence_floor", cfg.Classifier.HeadlessConfidenceFloor)

	v.SetDefault("store.driver", cfg.Store.Driver)
	v.SetDefault("store.database", cfg.Store.Database)
	v.SetDefault("store.checkpoint_interval", cfg.Store.CheckpointInterval)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.port", cfg.Metrics.Port)
	v.SetDefault("metrics.path", cfg.Metrics.Path)

	v.SetDefault("telemetry.progress_batch_interval", cfg.Telemetry.ProgressBatchInterval)
	v.SetDefault("telemetry.url_batch_max_size", cfg.Telemetry.URLBatchMaxSize)
	v.SetDefault("telemetry.url_batch_max_interval", cfg.Telemetry.URLBatchMaxInterval)
	v.SetDefault("telemetry.per_url_broadcast_enabled", cfg.Telemetry.PerURLBroadcastEnabled)
	v.SetDefault("telemetry.history_size", cfg.Telemetry.HistorySize)
	v.SetDefault("telemetry.sse_port", cfg.Telemetry.SSEPort)
}

// LiveConfig holds a hot-reloadable view of the config. A reload is seen
// only by code that reads through Get (the classifier's thresholds and
// signature lists). The decision tree, loaded separately by
// classifier.LoadTree, and the queue's priority weights are read once at
// startup and are not swapped.
type LiveConfig struct {
	ptr    atomic.Pointer[Config]
	logger *slog.Logger
}

// NewLiveConfig wraps an initial Config for atomic hot-swap.
func NewLiveConfig(initial *Config, logger *slog.Logger) *LiveConfig {
	lc := &LiveConfig{logger: logger.With("component", "config_watcher")}
	lc.ptr.Store(initial)
	return lc
}

// Get returns the current config snapshot. Callers must not mutate it.
func (lc *LiveConfig) Get() *Config {
	return lc.ptr.Load()
}

// WatchAndReload watches configPath for changes and atomically swaps in a
// freshly parsed Config on every write event. Every section is re-read,
// but only callers of Get see the new values; components built from the
// startup *Config (queue, throttle, store) keep using it.
func (lc *LiveConfig) WatchAndReload(configPath string) error {
	v := viper.New()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("initial read for watch: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		next := DefaultConfig()
		setDefaults(v, next)
		if err := v.Unmarshal(next); err != nil {
			lc.logger.Warn("config reload failed, keeping previous", "error", err, "file", e.Name)
			return
		}
		lc.ptr.Store(next)
		lc.logger.Info("config reloaded", "file", e.Name)
	})
	v.WatchConfig()
	return nil
}
