package fetch

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/ishaanstalk/newscrawler/internal/config"
	"github.com/ishaanstalk/newscrawler/internal/retry"
	"github.com/ishaanstalk/newscrawler/internal/urlutil"
)

const maxRedirectHops = 5

// CacheStore is the subset of internal/cache's contract the pipeline needs.
type CacheStore interface {
	Get(url string) (CacheEntry, bool)
	Put(url string, entry CacheEntry)
	MarkKnown404(url string)
	IsKnown404(url string) bool
}

// ThrottleGate is the subset of internal/throttle's contract the pipeline needs.
type ThrottleGate interface {
	AcquireDomainToken(ctx context.Context, host string) (ok bool, retryAfterMs int64)
	RecordSuccess(host string)
	RecordRateLimited(host string, retryAfterMs int64)
}

// BudgetGate is the subset of internal/throttle's Budget contract the pipeline needs.
type BudgetGate interface {
	IsLocked(host string) bool
	RecordFailure(host string)
	RecordSuccess(host string)
}

// GlobalLimiter optionally gates a single global rate token
// (cfg.Engine.RateLimitMs > 0).
type GlobalLimiter interface {
	Acquire(ctx context.Context) error
}

// ContentValidator inspects a 2xx response body and classifies it as
// valid, a soft failure (JS-required/bot-challenge), or a hard failure
// (access denied).
type ContentValidator interface {
	Validate(body []byte, headers http.Header) ContentVerdict
}

// ContentVerdict is the outcome of content validation.
type ContentVerdict string

const (
	ContentValid       ContentVerdict = "valid"
	ContentSoftFailure ContentVerdict = "soft-failure"
	ContentHardFailure ContentVerdict = "hard-failure"
)

// HeadlessFetcher is the subset of internal/headless's contract the
// pipeline needs for fallback.
type HeadlessFetcher interface {
	Fetch(ctx context.Context, rawURL string) (Result, error)
}

// EventSink receives pipeline telemetry (crawl:url:visited,
// crawl:url:error, crawl:url:skipped, crawl:rate:limited).
type EventSink interface {
	Emit(event string, fields map[string]any)
}

// Options configures a Pipeline.
type Options struct {
	Cfg       *config.Config
	Cache     CacheStore
	Throttle  ThrottleGate
	Budget    BudgetGate
	Global    GlobalLimiter // may be nil
	Validator ContentValidator
	Headless  HeadlessFetcher // may be nil if headless fallback is disabled
	Events    EventSink       // may be nil
	Logger    *slog.Logger
	Client    *http.Client // may be nil, a default is built
}

// Pipeline is the multi-phase fetch pipeline.
type Pipeline struct {
	cfg       *config.Config
	cache     CacheStore
	throttle  ThrottleGate
	budget    BudgetGate
	global    GlobalLimiter
	validator ContentValidator
	headless  HeadlessFetcher
	events    EventSink
	logger    *slog.Logger
	client    *http.Client
	uaIndex   atomic.Int64
}

// New constructs a Pipeline.
func New(opts Options) *Pipeline {
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Timeout: opts.Cfg.Engine.RequestTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse // redirects are followed manually in attempt
			},
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:       opts.Cfg,
		cache:     opts.Cache,
		throttle:  opts.Throttle,
		budget:    opts.Budget,
		global:    opts.Global,
		validator: opts.Validator,
		headless:  opts.Headless,
		events:    opts.Events,
		logger:    logger.With("component", "fetch_pipeline"),
		client:    client,
	}
}

// Fetch runs the full phase sequence for a URL.
func (p *Pipeline) Fetch(ctx context.Context, rawURL string, kind string, rc retry.Context) Result {
	normalized, err := urlutil.Normalize(rawURL)
	if err != nil {
		p.emit("crawl:url:skipped", map[string]any{"url": rawURL, "reason": "invalid-url"})
		return Result{Status: StatusSkipped, URL: rawURL, Err: err}
	}
	host := urlutil.Host(normalized)

	// Phase 2: cache check.
	if res, ok := p.checkCache(normalized, kind, false); ok {
		return res
	}

	// A URL recently seen to 404/410 is not refetched within its marker's
	// TTL.
	if p.cache.IsKnown404(normalized) {
		p.emit("crawl:url:skipped", map[string]any{"url": normalized, "reason": "known-404"})
		return Result{Status: StatusSkipped, URL: normalized, StatusCode: 404}
	}

	// Phase 3: throttle acquisition.
	if p.global != nil {
		if err := p.global.Acquire(ctx); err != nil {
			return Result{Status: StatusError, URL: normalized, Err: err, Retryable: false}
		}
	}
	ok, retryAfterMs := p.throttle.AcquireDomainToken(ctx, host)
	if !ok {
		if res, cacheOK := p.checkCache(normalized, kind, true); cacheOK {
			return res
		}
		p.emit("crawl:rate:limited", map[string]any{"url": normalized, "host": host, "retryAfterMs": retryAfterMs})
		return Result{Status: StatusHostLocked, URL: normalized, RetryAfterMs: retryAfterMs}
	}

	// Phase 4: host-budget check.
	if p.budget.IsLocked(host) {
		return Result{Status: StatusHostLocked, URL: normalized}
	}

	return p.attempt(ctx, normalized, host, kind, rc, nil)
}

// attempt performs phases 5-13 of a single network attempt, recursing on
// retry per phase 10.
func (p *Pipeline) attempt(ctx context.Context, rawURL, host, kind string, rc retry.Context, redirectChain []string) Result {
	cached, hasCache := p.cache.Get(rawURL)

	req, err := p.buildRequest(ctx, rawURL, hasCache, cached)
	if err != nil {
		return Result{Status: StatusError, URL: rawURL, Err: err, Retryable: false}
	}

	start := time.Now()
	httpResp, err := p.client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		return p.handleNetworkError(ctx, rawURL, host, kind, rc, redirectChain, err)
	}
	defer httpResp.Body.Close()

	// Phase 7: manual redirect loop.
	if httpResp.StatusCode != 304 && httpResp.StatusCode >= 300 && httpResp.StatusCode < 400 {
		loc := httpResp.Header.Get("Location")
		if loc == "" || len(redirectChain) >= maxRedirectHops {
			return Result{Status: StatusError, URL: rawURL, StatusCode: httpResp.StatusCode,
				Err: fmt.Errorf("redirect with no Location or max hops exceeded")}
		}
		next, err := resolveRedirect(rawURL, loc, p.cfg.HTTPSUpgradeHosts)
		if err != nil {
			return Result{Status: StatusError, URL: rawURL, Err: err}
		}
		return p.attempt(ctx, next, urlutil.Host(next), kind, rc, append(redirectChain, rawURL))
	}

	// Phase 8: status handling.
	switch {
	case httpResp.StatusCode == 304:
		p.throttle.RecordSuccess(host)
		p.budget.RecordSuccess(host)
		p.emit("crawl:url:visited", map[string]any{"url": rawURL, "status": 304})
		age := 0.0
		var body []byte
		if hasCache {
			age = cached.Age().Seconds()
			body = cached.Body
		}
		return Result{Status: StatusNotModified, URL: rawURL, FinalURL: rawURL, StatusCode: 304, Body: body, Source: SourceCache, AgeSeconds: age}

	case httpResp.StatusCode >= 200 && httpResp.StatusCode < 300:
		return p.handleSuccess(ctx, rawURL, host, kind, rc, httpResp, elapsed, redirectChain)

	case httpResp.StatusCode == 404 || httpResp.StatusCode == 410:
		p.emit("crawl:url:error", map[string]any{"url": rawURL, "status": httpResp.StatusCode, "countedTowardBudget": false})
		p.cache.MarkKnown404(rawURL)
		return p.terminate(rawURL, host, httpResp.StatusCode, fmt.Errorf("HTTP %d", httpResp.StatusCode), false)

	default:
		return p.handleErrorStatus(ctx, rawURL, host, kind, rc, httpResp, redirectChain)
	}
}

func (p *Pipeline) handleSuccess(ctx context.Context, rawURL, host, kind string, rc retry.Context, httpResp *http.Response, elapsed time.Duration, redirectChain []string) Result {
	body, err := readBody(httpResp)
	if err != nil {
		return Result{Status: StatusError, URL: rawURL, Err: err, Retryable: true}
	}

	if p.validator != nil {
		switch p.validator.Validate(body, httpResp.Header) {
		case ContentHardFailure:
			p.budget.RecordFailure(host)
			p.emit("crawl:url:error", map[string]any{"url": rawURL, "reason": "hard-failure"})
			return p.terminate(rawURL, host, httpResp.StatusCode, fmt.Errorf("hard failure signature matched"), false)
		case ContentSoftFailure:
			if p.headless != nil {
				if res, err := p.headless.Fetch(ctx, rawURL); err == nil {
					return res
				}
			}
			return p.fallbackOrTerminate(rawURL, host, fmt.Errorf("soft failure signature matched"))
		}
	}

	p.throttle.RecordSuccess(host)
	p.budget.RecordSuccess(host)

	entry := CacheEntry{
		URL: rawURL, Body: body, Headers: httpResp.Header,
		ETag: httpResp.Header.Get("ETag"), LastModified: httpResp.Header.Get("Last-Modified"),
		FetchedAt: time.Now(), Kind: kind,
	}
	p.cache.Put(rawURL, entry)

	p.emit("crawl:url:visited", map[string]any{"url": rawURL, "status": httpResp.StatusCode, "bytes": len(body)})

	return Result{
		Status:     StatusSuccess,
		URL:        rawURL,
		FinalURL:   httpResp.Request.URL.String(),
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       body,
		Source:     SourceNetwork,
		RedirectChain: redirectChain,
		Timing: Timing{
			TotalMs:         elapsed.Milliseconds(),
			DownloadMs:      elapsed.Milliseconds(),
			BytesDownloaded: int64(len(body)),
			TransferKbps:    transferKbps(int64(len(body)), elapsed),
		},
	}
}

func (p *Pipeline) handleErrorStatus(ctx context.Context, rawURL, host, kind string, rc retry.Context, httpResp *http.Response, redirectChain []string) Result {
	status := httpResp.StatusCode
	retryAfterMs := retry.ParseRetryAfter(httpResp.Header.Get("Retry-After"))

	if status == 429 {
		p.throttle.RecordRateLimited(host, retryAfterMs)
	}
	p.budget.RecordFailure(host)
	p.emit("crawl:url:error", map[string]any{"url": rawURL, "status": status})

	if retry.IsRetryableStatus(status) && rc.Retryable() {
		delay := retry.ComputeDelay(p.cfg.Retry, rc.AttemptIndex, retryAfterMs)
		return p.sleepAndRetry(ctx, rawURL, host, kind, rc, delay, redirectChain)
	}

	return p.fallbackOrTerminate(rawURL, host, fmt.Errorf("HTTP %d", status))
}

func (p *Pipeline) handleNetworkError(ctx context.Context, rawURL, host, kind string, rc retry.Context, redirectChain []string, err error) Result {
	kindErr := retry.ClassifyNetworkError(err)
	p.budget.RecordFailure(host)
	p.emit("crawl:url:error", map[string]any{"url": rawURL, "errorKind": string(kindErr)})

	if retry.IsRetryableKind(kindErr) && rc.Retryable() {
		delay := retry.ComputeDelay(p.cfg.Retry, rc.AttemptIndex, 0)
		return p.sleepAndRetry(ctx, rawURL, host, kind, rc, delay, redirectChain)
	}

	if kindErr == retry.KindConnectionReset && p.headless != nil && p.cfg.Headless.FallbackOnConnectionReset {
		if res, herr := p.headless.Fetch(ctx, rawURL); herr == nil {
			return res
		}
	}

	return p.fallbackOrTerminate(rawURL, host, err)
}

func (p *Pipeline) sleepAndRetry(ctx context.Context, rawURL, host, kind string, rc retry.Context, delay time.Duration, redirectChain []string) Result {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return Result{Status: StatusError, URL: rawURL, Err: ctx.Err()}
	case <-timer.C:
	}
	return p.attempt(ctx, rawURL, host, kind, rc.Next(), redirectChain)
}

// fallbackOrTerminate implements phases 12-13: try the stale cache, else
// return a terminal error.
func (p *Pipeline) fallbackOrTerminate(rawURL, host string, cause error) Result {
	if entry, ok := p.cache.Get(rawURL); ok {
		return Result{Status: StatusSuccess, URL: rawURL, FinalURL: rawURL, Body: entry.Body,
			Headers: entry.Headers, Source: SourceStaleCache, AgeSeconds: entry.Age().Seconds()}
	}
	return p.terminate(rawURL, host, 0, cause, false)
}

func (p *Pipeline) terminate(rawURL, host string, statusCode int, err error, retryable bool) Result {
	return Result{Status: StatusError, URL: rawURL, StatusCode: statusCode, Err: err, Retryable: retryable}
}

// checkCache implements phase 2 of the pipeline, using the cache-decision
// function: if maxAgeMs >= 0, use the entry iff it's within
// that age; else if preferCache, always use it; else never use it.
// forceCache bypasses the decision entirely (used for the 429-with-
// fresh-cache scheduling rule).
func (p *Pipeline) checkCache(rawURL, kind string, forceCache bool) (Result, bool) {
	entry, ok := p.cache.Get(rawURL)
	if !ok {
		return Result{}, false
	}

	if forceCache || shouldUseCache(p.maxAgeFor(kind), p.cfg.Cache.PreferCache, entry.Age()) {
		return Result{Status: StatusSuccess, URL: rawURL, FinalURL: rawURL, Body: entry.Body,
			Headers: entry.Headers, Source: SourceCache, AgeSeconds: entry.Age().Seconds()}, true
	}
	return Result{}, false
}

// shouldUseCache is the pure cache-decision function; internal/cache
// exposes the same logic as ShouldUseCache.
func shouldUseCache(maxAge time.Duration, preferCache bool, age time.Duration) bool {
	if maxAge >= 0 {
		return age <= maxAge
	}
	return preferCache
}

func (p *Pipeline) maxAgeFor(kind string) time.Duration {
	switch kind {
	case "article":
		if p.cfg.Cache.MaxAgeArticleMs >= 0 {
			return p.cfg.Cache.MaxAgeArticleMs
		}
	case "hub", "hub-seed", "nav":
		if p.cfg.Cache.MaxAgeHubMs >= 0 {
			return p.cfg.Cache.MaxAgeHubMs
		}
	}
	return p.cfg.Cache.MaxAgeMs
}

// buildRequest constructs a deterministic, browser-like request with
// conditional headers when a prior cache entry is known.
func (p *Pipeline) buildRequest(ctx context.Context, rawURL string, hasCache bool, cached CacheEntry) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", p.nextUserAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "none")
	req.Header.Set("Sec-Fetch-User", "?1")
	req.Header.Set("Connection", "keep-alive")

	if hasCache {
		if cached.ETag != "" {
			req.Header.Set("If-None-Match", cached.ETag)
		}
		if cached.LastModified != "" {
			req.Header.Set("If-Modified-Since", cached.LastModified)
		}
	}

	return req, nil
}

func (p *Pipeline) nextUserAgent() string {
	agents := p.cfg.Engine.UserAgents
	if len(agents) == 0 {
		return "newscrawler/" + config.Version
	}
	idx := p.uaIndex.Add(1) % int64(len(agents))
	return agents[idx]
}

func (p *Pipeline) emit(event string, fields map[string]any) {
	if p.events != nil {
		p.events.Emit(event, fields)
	}
}

// resolveRedirect resolves a Location header against the current URL and
// applies the HTTPS-upgrade list.
func resolveRedirect(current, location string, upgradeHosts []string) (string, error) {
	base, err := url.Parse(current)
	if err != nil {
		return "", err
	}
	next, err := base.Parse(location)
	if err != nil {
		return "", err
	}
	if next.Scheme == "http" {
		host := strings.ToLower(next.Hostname())
		for _, h := range upgradeHosts {
			if strings.EqualFold(h, host) {
				next.Scheme = "https"
				break
			}
		}
	}
	return next.String(), nil
}

// readBody decompresses and reads a response body, applying the body's
// declared Content-Encoding (gzip, deflate, or brotli).
func readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	case "deflate":
		fl := flate.NewReader(reader)
		defer fl.Close()
		reader = fl
	case "br":
		reader = brotli.NewReader(reader)
	}
	return io.ReadAll(reader)
}

func transferKbps(bytes int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(bytes) / 1024 / elapsed.Seconds()
}
