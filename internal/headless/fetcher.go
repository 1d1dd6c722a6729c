package headless

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"

	"github.com/ishaanstalk/newscrawler/internal/classifier"
	"github.com/ishaanstalk/newscrawler/internal/config"
	"github.com/ishaanstalk/newscrawler/internal/fetch"
)

// defaultNavTimeout bounds a single page navigation. Session lifetime is
// governed separately by the pool's recycling policy.
const defaultNavTimeout = 30 * time.Second

// renderedSignalsJS probes the live DOM for the classifier's stage-3
// signals: whether an <article> element actually renders visibly, and
// how many images are lazy-loaded.
const renderedSignalsJS = `() => {
	const el = document.querySelector("article");
	let visible = false;
	if (el) {
		const r = el.getBoundingClientRect();
		const s = window.getComputedStyle(el);
		visible = r.width > 0 && r.height > 0 && s.display !== "none" && s.visibility !== "hidden";
	}
	const lazy = document.querySelectorAll("img[data-src], img[loading=lazy], img[data-lazy-src]").length;
	return { visible: visible, lazyImages: lazy };
}`

// Fetcher adapts a Pool into the internal/fetch.HeadlessFetcher contract
// used as the fetch pipeline's fallback path, and into
// classifier.RenderedFetcher for the cascade's stage 3.
type Fetcher struct {
	pool   *Pool
	cfg    config.HeadlessConfig
	logger *slog.Logger
}

// NewFetcher wraps a Pool as a fetch.HeadlessFetcher.
func NewFetcher(pool *Pool, cfg config.HeadlessConfig, logger *slog.Logger) *Fetcher {
	return &Fetcher{pool: pool, cfg: cfg, logger: logger.With("component", "headless_fetcher")}
}

// Fetch renders rawURL in a pooled headless browser and returns its
// settled HTML as a fetch.Result tagged with Source: SourceHeadless.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (fetch.Result, error) {
	start := time.Now()

	html, finalURL, _, err := f.render(ctx, rawURL, false)
	if err != nil {
		return fetch.Result{}, err
	}

	elapsed := time.Since(start)

	return fetch.Result{
		Status:     fetch.StatusSuccess,
		URL:        rawURL,
		FinalURL:   finalURL,
		StatusCode: 200,
		Body:       []byte(html),
		Source:     fetch.SourceHeadless,
		Timing: fetch.Timing{
			TotalMs:         elapsed.Milliseconds(),
			BytesDownloaded: int64(len(html)),
		},
	}, nil
}

// FetchRendered implements classifier.RenderedFetcher: the settled HTML
// plus the rendered-DOM signals probed on the live page.
func (f *Fetcher) FetchRendered(ctx context.Context, rawURL string) ([]byte, classifier.RenderedSignals, error) {
	html, _, sig, err := f.render(ctx, rawURL, true)
	if err != nil {
		return nil, classifier.RenderedSignals{}, err
	}
	return []byte(html), sig, nil
}

// render leases a page, navigates, waits for the DOM to settle, and
// snapshots the outer HTML; withSignals additionally probes the live DOM
// for stage-3 signals before the page is released.
func (f *Fetcher) render(ctx context.Context, rawURL string, withSignals bool) (html, finalURL string, sig classifier.RenderedSignals, err error) {
	lease, err := f.pool.Acquire(ctx)
	if err != nil {
		return "", "", sig, fmt.Errorf("acquire headless page: %w", err)
	}

	page := lease.Page

	succeeded := false
	defer func() { lease.Release(!succeeded) }()

	if err := page.Timeout(defaultNavTimeout).Navigate(rawURL); err != nil {
		return "", "", sig, fmt.Errorf("navigate: %w", err)
	}

	settle := f.cfg.NavigationSettleMs
	if settle <= 0 {
		settle = 300 * time.Millisecond
	}
	if err := page.Timeout(defaultNavTimeout).WaitStable(settle); err != nil {
		f.logger.Warn("page stability timeout, continuing", "url", rawURL, "error", err)
	}

	html, err = page.HTML()
	if err != nil {
		return "", "", sig, fmt.Errorf("read html: %w", err)
	}

	finalURL = rawURL
	if info, err := page.Info(); err == nil && info != nil {
		finalURL = info.URL
	}

	if withSignals {
		sig = probeRenderedSignals(page, f.logger, rawURL)
	}

	succeeded = true
	return html, finalURL, sig, nil
}

// probeRenderedSignals evaluates renderedSignalsJS on the live page. A
// probe failure degrades to zero signals rather than failing the render.
func probeRenderedSignals(page *rod.Page, logger *slog.Logger, rawURL string) classifier.RenderedSignals {
	obj, err := page.Eval(renderedSignalsJS)
	if err != nil {
		logger.Warn("rendered-signal probe failed", "url", rawURL, "error", err)
		return classifier.RenderedSignals{}
	}
	return classifier.RenderedSignals{
		ArticleVisible: obj.Value.Get("visible").Bool(),
		LazyImageCount: obj.Value.Get("lazyImages").Int(),
	}
}
