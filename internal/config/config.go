package config

import "time"

// Version is set at build time via ldflags.
var Version = "dev"

// CrawlType names the overall crawl strategy. It is validated and logged;
// no component changes its behaviour on it, so the fetch/throttle/
// classifier contracts and the priority scoring are identical across types.
type CrawlType string

const (
	CrawlBasic         CrawlType = "basic"
	CrawlIntelligent   CrawlType = "intelligent"
	CrawlGazetteer     CrawlType = "gazetteer"
	CrawlStructureOnly CrawlType = "structure-only"
)

// Config is the root configuration for the crawl engine.
type Config struct {
	StartURL  string    `mapstructure:"start_url"  yaml:"start_url"`
	CrawlType CrawlType `mapstructure:"crawl_type" yaml:"crawl_type"`

	Engine     EngineConfig     `mapstructure:"engine"      yaml:"engine"`
	Queue      QueueConfig      `mapstructure:"queue"       yaml:"queue"`
	Cache      CacheConfig      `mapstructure:"cache"       yaml:"cache"`
	Retry      RetryConfig      `mapstructure:"retry"       yaml:"retry"`
	HostBudget HostBudgetConfig `mapstructure:"host_budget" yaml:"host_budget"`
	Headless   HeadlessConfig   `mapstructure:"headless"    yaml:"headless"`
	Priority   PriorityConfig   `mapstructure:"priority"    yaml:"priority"`
	Classifier ClassifierConfig `mapstructure:"classifier"  yaml:"classifier"`
	Store      StoreConfig      `mapstructure:"store"       yaml:"store"`
	Logging    LoggingConfig    `mapstructure:"logging"     yaml:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"     yaml:"metrics"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"   yaml:"telemetry"`

	HTTPSUpgradeHosts        []string `mapstructure:"https_upgrade_hosts"         yaml:"https_upgrade_hosts"`
	StoreErrorResponseBodies bool     `mapstructure:"store_error_response_bodies" yaml:"store_error_response_bodies"`
}

// EngineConfig controls concurrency, depth, timeouts, and the worker pool.
type EngineConfig struct {
	Concurrency        int            `mapstructure:"concurrency"          yaml:"concurrency"`
	MaxQueue           int            `mapstructure:"max_queue"            yaml:"max_queue"`
	MaxDepth           int            `mapstructure:"max_depth"            yaml:"max_depth"`
	MaxDownloads       int            `mapstructure:"max_downloads"        yaml:"max_downloads"`
	RateLimitMs        int            `mapstructure:"rate_limit_ms"        yaml:"rate_limit_ms"`
	RequestTimeout     time.Duration  `mapstructure:"request_timeout"      yaml:"request_timeout"`
	ShutdownGraceMs    time.Duration  `mapstructure:"shutdown_grace_ms"    yaml:"shutdown_grace_ms"`
	StallThreshold     time.Duration  `mapstructure:"stall_threshold"      yaml:"stall_threshold"`
	PerHostConcurrency map[string]int `mapstructure:"per_host_concurrency" yaml:"per_host_concurrency"`
	UserAgents         []string       `mapstructure:"user_agents"          yaml:"user_agents"`
}

// QueueConfig controls scheduling behavior.
type QueueConfig struct {
	DiscoveryRatio      int      `mapstructure:"discovery_ratio"      yaml:"discovery_ratio"`
	AcquisitionRatio    int      `mapstructure:"acquisition_ratio"    yaml:"acquisition_ratio"`
	BurstCap            int      `mapstructure:"burst_cap"            yaml:"burst_cap"`
	MaxScan             int      `mapstructure:"max_scan"             yaml:"max_scan"`
	TotalPrioritisation bool     `mapstructure:"total_prioritisation" yaml:"total_prioritisation"`
	FocusTokens         []string `mapstructure:"focus_tokens"         yaml:"focus_tokens"`
}

// CacheConfig controls per-kind TTL policy. A negative duration disables
// the corresponding cache-age ceiling.
type CacheConfig struct {
	PreferCache     bool          `mapstructure:"prefer_cache"       yaml:"prefer_cache"`
	MaxAgeMs        time.Duration `mapstructure:"max_age_ms"         yaml:"max_age_ms"`
	MaxAgeArticleMs time.Duration `mapstructure:"max_age_article_ms" yaml:"max_age_article_ms"`
	MaxAgeHubMs     time.Duration `mapstructure:"max_age_hub_ms"     yaml:"max_age_hub_ms"`
	LRUSize         int           `mapstructure:"lru_size"           yaml:"lru_size"`
	Known404TTL     time.Duration `mapstructure:"known_404_ttl"      yaml:"known_404_ttl"`
}

// RetryConfig controls the retry/backoff policy.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"  yaml:"max_attempts"`
	BaseDelayMs time.Duration `mapstructure:"base_delay_ms" yaml:"base_delay_ms"`
	MaxDelayMs  time.Duration `mapstructure:"max_delay_ms"  yaml:"max_delay_ms"`
	JitterRatio float64       `mapstructure:"jitter_ratio"  yaml:"jitter_ratio"`
}

// HostBudgetConfig controls the per-host failure circuit breaker.
type HostBudgetConfig struct {
	MaxErrors int           `mapstructure:"max_errors" yaml:"max_errors"`
	WindowMs  time.Duration `mapstructure:"window_ms"  yaml:"window_ms"`
	LockoutMs time.Duration `mapstructure:"lockout_ms" yaml:"lockout_ms"`
}

// HeadlessConfig controls the headless-browser fallback pool.
type HeadlessConfig struct {
	Enabled                   bool          `mapstructure:"enabled"                      yaml:"enabled"`
	MaxBrowsers               int           `mapstructure:"max_browsers"                 yaml:"max_browsers"`
	MaxPagesPerBrowser        int           `mapstructure:"max_pages_per_browser"        yaml:"max_pages_per_browser"`
	MaxSessionAgeMs           time.Duration `mapstructure:"max_session_age_ms"           yaml:"max_session_age_ms"`
	HealthCheckIntervalMs     time.Duration `mapstructure:"health_check_interval_ms"     yaml:"health_check_interval_ms"`
	MaxConsecutiveErrors      int           `mapstructure:"max_consecutive_errors"       yaml:"max_consecutive_errors"`
	FallbackOnConnectionReset bool          `mapstructure:"fallback_on_connection_reset" yaml:"fallback_on_connection_reset"`
	DegradedCooldownMs        time.Duration `mapstructure:"degraded_cooldown_ms"         yaml:"degraded_cooldown_ms"`
	NavigationSettleMs        time.Duration `mapstructure:"navigation_settle_ms"         yaml:"navigation_settle_ms"`
	RecycleAfterPages         int           `mapstructure:"recycle_after_pages"          yaml:"recycle_after_pages"`
}

// PriorityConfig controls the queue's scoring formula.
type PriorityConfig struct {
	TypeWeights      map[string]int   `mapstructure:"type_weights"      yaml:"type_weights"`
	DiscoveryBonuses map[string]int   `mapstructure:"discovery_bonuses" yaml:"discovery_bonuses"`
	Features         PriorityFeatures `mapstructure:"features"          yaml:"features"`
}

// PriorityFeatures toggles optional scoring hooks.
type PriorityFeatures struct {
	GapDrivenPrioritization bool `mapstructure:"gap_driven_prioritization" yaml:"gap_driven_prioritization"`
	ProblemClustering       bool `mapstructure:"problem_clustering"        yaml:"problem_clustering"`
	KnowledgeReuse          bool `mapstructure:"knowledge_reuse"           yaml:"knowledge_reuse"`
	CostAwarePriority       bool `mapstructure:"cost_aware_priority"       yaml:"cost_aware_priority"`
}

// ClassifierConfig controls the 3-stage page-type cascade.
type ClassifierConfig struct {
	Stage2Thresholds        Stage2Thresholds  `mapstructure:"stage2_thresholds"         yaml:"stage2_thresholds"`
	AggregatorWeights       AggregatorWeights `mapstructure:"aggregator_weights"        yaml:"aggregator_weights"`
	DecisionTreePath        string            `mapstructure:"decision_tree_path"        yaml:"decision_tree_path"`
	SoftFailureSignatures   []string          `mapstructure:"soft_failure_signatures"   yaml:"soft_failure_signatures"`
	HardFailureSignatures   []string          `mapstructure:"hard_failure_signatures"   yaml:"hard_failure_signatures"`
	HeadlessConfidenceFloor float64           `mapstructure:"headless_confidence_floor" yaml:"headless_confidence_floor"`
}

// Stage2Thresholds tunes the content-signal stage.
type Stage2Thresholds struct {
	MinArticleWordCount   int     `mapstructure:"min_article_word_count"   yaml:"min_article_word_count"`
	HighWordCount         int     `mapstructure:"high_word_count"          yaml:"high_word_count"`
	MinArticleParagraphs  int     `mapstructure:"min_article_paragraphs"   yaml:"min_article_paragraphs"`
	MaxArticleLinkDensity float64 `mapstructure:"max_article_link_density" yaml:"max_article_link_density"`
	MinNavLinkDensity     float64 `mapstructure:"min_nav_link_density"     yaml:"min_nav_link_density"`
}

// AggregatorWeights weights each cascade stage's vote.
type AggregatorWeights struct {
	URL      float64 `mapstructure:"url"      yaml:"url"`
	Content  float64 `mapstructure:"content"  yaml:"content"`
	Headless float64 `mapstructure:"headless" yaml:"headless"`
}

// StoreConfig controls the persistence backend.
type StoreConfig struct {
	Driver             string        `mapstructure:"driver"              yaml:"driver"`
	URI                string        `mapstructure:"uri"                 yaml:"uri"`
	Database           string        `mapstructure:"database"            yaml:"database"`
	CheckpointInterval time.Duration `mapstructure:"checkpoint_interval" yaml:"checkpoint_interval"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig controls the Prometheus text-exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port"    yaml:"port"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// TelemetryConfig controls the event bus's batching and history behavior.
type TelemetryConfig struct {
	ProgressBatchInterval  time.Duration `mapstructure:"progress_batch_interval"  yaml:"progress_batch_interval"`
	URLBatchMaxSize        int           `mapstructure:"url_batch_max_size"       yaml:"url_batch_max_size"`
	URLBatchMaxInterval    time.Duration `mapstructure:"url_batch_max_interval"   yaml:"url_batch_max_interval"`
	PerURLBroadcastEnabled bool          `mapstructure:"per_url_broadcast_enabled" yaml:"per_url_broadcast_enabled"`
	HistorySize            int           `mapstructure:"history_size"             yaml:"history_size"`
	SSEPort                int           `mapstructure:"sse_port"                 yaml:"sse_port"`
}

// DefaultConfig returns a Config populated with the engine's documented
// defaults.
func DefaultConfig() *Config {
	return &Config{
		CrawlType: CrawlBasic,
		Engine: EngineConfig{
			Concurrency:     10,
			MaxQueue:        100_000,
			MaxDepth:        8,
			RateLimitMs:     0,
			RequestTimeout:  30 * time.Second,
			ShutdownGraceMs: 10 * time.Second,
			StallThreshold:  60 * time.Second,
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			},
		},
		Queue: QueueConfig{
			DiscoveryRatio:   1,
			AcquisitionRatio: 1,
			BurstCap:         4,
			MaxScan:          64,
		},
		Cache: CacheConfig{
			PreferCache:     false,
			MaxAgeMs:        -1,
			MaxAgeArticleMs: -1,
			MaxAgeHubMs:     -1,
			LRUSize:         10_000,
			Known404TTL:     24 * time.Hour,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelayMs: 500 * time.Millisecond,
			MaxDelayMs:  30 * time.Second,
			JitterRatio: 0.2,
		},
		HostBudget: HostBudgetConfig{
			MaxErrors: 6,
			WindowMs:  5 * time.Minute,
			LockoutMs: 2 * time.Minute,
		},
		Headless: HeadlessConfig{
			Enabled:                   false,
			MaxBrowsers:               2,
			MaxPagesPerBrowser:        5,
			MaxSessionAgeMs:           10 * time.Minute,
			HealthCheckIntervalMs:     30 * time.Second,
			MaxConsecutiveErrors:      3,
			FallbackOnConnectionReset: true,
			DegradedCooldownMs:        60 * time.Second,
			NavigationSettleMs:        300 * time.Millisecond,
			RecycleAfterPages:         500,
		},
		Priority: PriorityConfig{
			TypeWeights: map[string]int{
				"article": 0, "hub-seed": 4, "history": 6,
				"nav": 10, "refresh": 25, "default": 12, "hub": 8,
			},
			DiscoveryBonuses: map[string]int{
				"adaptive-seed": 20, "gap-prediction": 15, "sitemap": 10, "hub-validated": 8,
			},
		},
		Classifier: ClassifierConfig{
			Stage2Thresholds: Stage2Thresholds{
				MinArticleWordCount:   250,
				HighWordCount:         600,
				MinArticleParagraphs:  3,
				MaxArticleLinkDensity: 0.3,
				MinNavLinkDensity:     0.5,
			},
			AggregatorWeights: AggregatorWeights{URL: 1.0, Content: 1.2, Headless: 1.5},
			SoftFailureSignatures: []string{
				`(?i)checking your browser`,
				`(?i)enable javascript and cookies`,
				`(?i)verify you are human`,
				`(?i)captcha`,
				`(?i)please wait\.\.\. redirecting`,
			},
			HardFailureSignatures: []string{
				`(?i)access denied`,
				`(?i)you have been blocked`,
				`(?i)403 forbidden`,
			},
			HeadlessConfidenceFloor: 0.7,
		},
		Store: StoreConfig{
			Driver:             "mongodb",
			Database:           "newscrawler",
			CheckpointInterval: 60 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text", Output: "stderr"},
		Metrics: MetricsConfig{Enabled: false, Port: 9090, Path: "/metrics"},
		Telemetry: TelemetryConfig{
			ProgressBatchInterval:  500 * time.Millisecond,
			URLBatchMaxSize:        50,
			URLBatchMaxInterval:    200 * time.Millisecond,
			PerURLBroadcastEnabled: false,
			HistorySize:            200,
			SSEPort:                8090,
		},
	}
}
