package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ishaanstalk/newscrawler/internal/classifier"
	"github.com/ishaanstalk/newscrawler/internal/config"
	"github.com/ishaanstalk/newscrawler/internal/engine"
	"github.com/ishaanstalk/newscrawler/internal/headless"
	"github.com/ishaanstalk/newscrawler/internal/observability"
	"github.com/ishaanstalk/newscrawler/internal/store"
	"github.com/ishaanstalk/newscrawler/internal/telemetry"
)

var (
	cfgFile     string
	verbose     bool
	crawlType   string
	maxDownload int
	maxDepth    int
	rateLimit   int
	dbURI       string
	preferCache bool
	treePath    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "newscrawler",
		Short: "newscrawler — fetch-and-schedule crawler for news sites",
		Long: `newscrawler discovers, classifies, and fetches news articles from a
seed set of hosts: an adaptive per-host rate limiter, a priority
frontier biased toward hub/article pages, a 3-stage page classifier,
and a headless fallback for JS-rendered content — with live progress
over SSE and checkpointed resume.`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	crawl := crawlCmd()
	// Set once cobra has accepted the crawl command's arguments and flags;
	// an Execute error before that point is a usage error.
	argsOK := false
	crawl.PreRun = func(*cobra.Command, []string) { argsOK = true }
	rootCmd.AddCommand(crawl)
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		if !argsOK {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func crawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [seed-url]",
		Short: "Start crawling from a seed URL",
		Args:  cobra.ExactArgs(1),
		RunE:  runCrawl,
	}

	cmd.Flags().StringVar(&crawlType, "type", "basic", "crawl type: basic, intelligent, gazetteer, structure-only")
	cmd.Flags().IntVar(&maxDownload, "max-downloads", 0, "maximum total downloads (0 = unlimited)")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "maximum crawl depth (0 = use config default)")
	cmd.Flags().IntVar(&rateLimit, "rate-limit", -1, "global minimum interval between requests, ms (-1 = use config default, 0 = disabled)")
	cmd.Flags().StringVar(&dbURI, "db", "", "MongoDB connection URI (empty = no persistence, in-memory only)")
	cmd.Flags().BoolVar(&preferCache, "prefer-cache", false, "serve from cache even when stale, skipping network fetch when possible")
	cmd.Flags().StringVar(&treePath, "decision-tree", "", "path to classifier decision tree YAML (empty = use config default)")

	return cmd
}

func runCrawl(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyCLIOverrides(cfg, args[0])

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var tree *classifier.Tree
	treeFile := treePath
	if treeFile == "" {
		treeFile = cfg.Classifier.DecisionTreePath
	}
	if treeFile != "" {
		tree, err = classifier.LoadTree(treeFile)
		if err != nil {
			return fmt.Errorf("load decision tree: %w", err)
		}
	}

	live := config.NewLiveConfig(cfg, logger)
	if cfgFile != "" {
		if err := live.WatchAndReload(cfgFile); err != nil {
			logger.Warn("config hot-reload disabled", "error", err)
		}
	}

	var durable *store.Store
	if cfg.Store.URI != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		durable, err = store.New(ctx, cfg.Store, logger)
		cancel()
		if err != nil {
			return fmt.Errorf("connect store: %w", err)
		}
	}

	var headlessPool *headless.Pool
	if cfg.Headless.Enabled {
		headlessPool, err = headless.New(cfg.Headless, logger)
		if err != nil {
			return fmt.Errorf("start headless pool: %w", err)
		}
	}

	logger.Info("starting crawl",
		"seed", args[0],
		"type", cfg.CrawlType,
		"concurrency", cfg.Engine.Concurrency,
		"max_depth", cfg.Engine.MaxDepth,
		"max_downloads", cfg.Engine.MaxDownloads,
		"persistence", cfg.Store.URI != "",
	)

	eng := engine.New(engine.Options{
		Cfg:      cfg,
		Live:     live,
		Logger:   logger,
		Store:    durable,
		Headless: headlessPool,
		Tree:     tree,
	})

	if cfg.Telemetry.SSEPort > 0 {
		sse := telemetry.NewServer(cfg.Telemetry.SSEPort, eng.Bus(), logger)
		if err := sse.Start(); err != nil {
			logger.Warn("failed to start SSE server", "error", err)
		} else {
			logger.Info("telemetry SSE server listening", "port", cfg.Telemetry.SSEPort)
		}
	}

	if cfg.Metrics.Enabled {
		metrics := observability.NewMetrics(statsFunc(eng.GetStats), logger)
		if err := metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
			logger.Warn("failed to start metrics server", "error", err)
		}
	}

	if err := eng.Seed(args[0]); err != nil {
		return fmt.Errorf("seed %q: %w", args[0], err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down gracefully", "signal", sig)
		go eng.Stop()

		select {
		case sig2 := <-sigCh:
			logger.Warn("second signal received, hard stop", "signal", sig2)
			os.Exit(130)
		case <-time.After(cfg.Engine.ShutdownGraceMs + 2*time.Second):
		}
	}()

	start := time.Now()
	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	eng.Wait()
	elapsed := time.Since(start)
	stats := eng.GetStats()

	logger.Info("crawl complete",
		"elapsed", elapsed,
		"urls_visited", stats["urlsVisited"],
		"urls_failed", stats["urlsFailed"],
		"bytes", stats["bytesDownloaded"],
	)

	fmt.Printf("crawl complete in %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("  visited:  %v\n", stats["urlsVisited"])
	fmt.Printf("  failed:   %v\n", stats["urlsFailed"])
	fmt.Printf("  skipped:  %v\n", stats["urlsSkipped"])
	fmt.Printf("  enqueued: %v\n", stats["urlsEnqueued"])
	fmt.Printf("  bytes:    %v\n", stats["bytesDownloaded"])

	if fail, _ := stats["urlsFailed"].(int64); fail > 0 {
		if visited, _ := stats["urlsVisited"].(int64); visited == 0 {
			return fmt.Errorf("crawl finished with %d failures and no successful visits", fail)
		}
	}
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("newscrawler %s\n", config.Version)
		},
	}
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

func applyCLIOverrides(cfg *config.Config, seedURL string) {
	cfg.StartURL = seedURL

	switch crawlType {
	case "basic", "intelligent", "gazetteer", "structure-only":
		cfg.CrawlType = config.CrawlType(crawlType)
	}
	if maxDownload > 0 {
		cfg.Engine.MaxDownloads = maxDownload
	}
	if maxDepth > 0 {
		cfg.Engine.MaxDepth = maxDepth
	}
	if rateLimit >= 0 {
		cfg.Engine.RateLimitMs = rateLimit
	}
	if dbURI != "" {
		cfg.Store.URI = dbURI
	}
	if preferCache {
		cfg.Cache.PreferCache = true
	}
}

// statsFunc adapts a plain func() map[string]any (engine.Engine.GetStats)
// into observability.StatsSource.
type statsFunc func() map[string]any

func (f statsFunc) Snapshot() map[string]any { return f() }
