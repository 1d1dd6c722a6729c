package engine

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ishaanstalk/newscrawler/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Engine.Concurrency = 2
	cfg.Engine.ShutdownGraceMs = 500 * time.Millisecond
	cfg.Engine.StallThreshold = 0 // disable watchdog by default in tests
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()
	return New(Options{Cfg: cfg, Logger: testLogger(), JobID: "test-job"})
}

func TestSeedEnqueuesAtDepthZero(t *testing.T) {
	e := newTestEngine(t, testConfig())
	if err := e.Seed("https://example.com/"); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if got := e.stats.URLsEnqueued.Load(); got != 1 {
		t.Fatalf("URLsEnqueued = %d, want 1", got)
	}
}

func TestSeedRejectsInvalidURL(t *testing.T) {
	e := newTestEngine(t, testConfig())
	if err := e.Seed("not a url \x7f"); err == nil {
		t.Fatal("expected error for invalid seed URL")
	}
}

func TestSeedDuplicateIsNotEnqueuedTwice(t *testing.T) {
	e := newTestEngine(t, testConfig())
	if err := e.Seed("https://example.com/a"); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if err := e.Seed("https://example.com/a"); err == nil {
		t.Fatal("expected duplicate seed to be rejected")
	}
}

func TestStartTwiceReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := newTestEngine(t, testConfig())
	if err := e.Seed(srv.URL); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Start(ctx); err == nil {
		t.Fatal("expected second Start to fail")
	}

	e.Stop()
	e.Wait()
}

// TestCrawlStoppedEmittedExactlyOnce verifies that regardless of how many
// goroutines race to tear the engine down, crawl:stopped fires once.
func TestCrawlStoppedEmittedExactlyOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html><body>hi</body></html>"))
	}))
	defer srv.Close()

	e := newTestEngine(t, testConfig())
	if err := e.Seed(srv.URL); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	sub, unsubscribe := e.Bus().Subscribe()
	defer unsubscribe()

	stoppedCount := 0
	var mu sync.Mutex
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sub {
			if ev.Type == "crawl:stopped" {
				mu.Lock()
				stoppedCount++
				mu.Unlock()
			}
		}
	}()

	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Stop()
		}()
	}
	wg.Wait()
	e.Wait()

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if stoppedCount != 1 {
		t.Fatalf("crawl:stopped published %d times, want 1", stoppedCount)
	}
}

func TestPauseResumeTransitionsState(t *testing.T) {
	e := newTestEngine(t, testConfig())
	if err := e.Seed("https://example.com/"); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	e.Pause()
	if e.GetPhase() != PhasePaused {
		t.Fatalf("phase = %s, want %s", e.GetPhase(), PhasePaused)
	}
	if !e.paused.Load() {
		t.Fatal("expected paused flag set")
	}

	e.Resume()
	if e.paused.Load() {
		t.Fatal("expected paused flag cleared after Resume")
	}

	e.Stop()
	e.Wait()
}

func TestPauseWhenNotRunningIsNoop(t *testing.T) {
	e := newTestEngine(t, testConfig())
	e.Pause()
	if e.GetPhase() != PhaseIdle {
		t.Fatalf("phase = %s, want %s", e.GetPhase(), PhaseIdle)
	}
}

func TestGetStatsSnapshotShape(t *testing.T) {
	e := newTestEngine(t, testConfig())
	stats := e.GetStats()
	for _, key := range []string{"urlsVisited", "urlsFailed", "urlsSkipped", "urlsEnqueued", "bytesDownloaded", "activeWorkers", "elapsed"} {
		if _, ok := stats[key]; !ok {
			t.Fatalf("GetStats() missing key %q", key)
		}
	}
}
