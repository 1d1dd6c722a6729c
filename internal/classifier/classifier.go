package classifier

import (
	"context"
	"log/slog"

	"github.com/ishaanstalk/newscrawler/internal/config"
	"github.com/ishaanstalk/newscrawler/internal/fetch"
)

// RenderedSignals are stage 3's rendered-DOM facts, observed on the live
// page rather than parsed from static HTML: whether an <article> element
// is actually visible after rendering, and how many images are
// lazy-loaded (a proxy for JS-dependent content the static fetch missed).
type RenderedSignals struct {
	ArticleVisible bool
	LazyImageCount int
}

// RenderedFetcher is the richer contract a headless fetcher may
// implement in addition to fetch.HeadlessFetcher: the rendered HTML plus
// rendered-DOM signals probed on the live page. internal/headless's
// Fetcher implements it; stage 3 falls back to plain Fetch (HTML only,
// no signals, no bonus) when the configured fetcher doesn't.
type RenderedFetcher interface {
	FetchRendered(ctx context.Context, rawURL string) ([]byte, RenderedSignals, error)
}

// visibleArticleBonus is added to stage 3's confidence when the rendered
// page shows a visible article element and content scoring agrees the
// page is an article.
const visibleArticleBonus = 0.15

// Classifier runs the full 3-stage cascade over a fetched page and
// produces a labeled Verdict. Stage 3 (headless re-render) only runs
// when stage 1 and stage 2 both undershoot the confidence floor, or when
// the caller explicitly requests high-value verification.
type Classifier struct {
	stage1   *Stage1
	headless fetch.HeadlessFetcher // may be nil: stage 3 is then skipped
	logger   *slog.Logger

	live *config.LiveConfig
}

// New builds a Classifier. headless may be nil to disable stage 3
// entirely (e.g. when config.Headless.Enabled is false).
func New(tree *Tree, live *config.LiveConfig, headless fetch.HeadlessFetcher, logger *slog.Logger) *Classifier {
	return &Classifier{
		stage1:   NewStage1(tree),
		headless: headless,
		logger:   logger.With("component", "classifier"),
		live:     live,
	}
}

// ClassifyOptions adjusts a single Classify call.
type ClassifyOptions struct {
	// ForceHeadlessVerification runs stage 3 unconditionally, for
	// high-value URLs the caller wants to double-check regardless of
	// stage 1/2 confidence.
	ForceHeadlessVerification bool
}

// Classify runs the cascade over html fetched from rawURL and returns the
// aggregated Verdict. html is the stage-2 input; stage 3 (if triggered)
// fetches and re-renders rawURL itself via the headless pool.
func (c *Classifier) Classify(ctx context.Context, rawURL string, html []byte, opts ClassifyOptions) Verdict {
	cfg := c.classifierConfig()

	results := make([]StageResult, 0, 3)

	urlResult := c.stage1.Classify(rawURL)
	results = append(results, urlResult)

	sig, err := ExtractSignals(html)
	var contentResult StageResult
	if err != nil {
		contentResult = StageResult{Stage: StageContent, Label: LabelUnknown, Confidence: 0, Reason: "parse-error"}
	} else {
		contentResult = ClassifyContent(sig, cfg.Stage2Thresholds)
	}
	results = append(results, contentResult)

	maxConf := urlResult.Confidence
	if contentResult.Confidence > maxConf {
		maxConf = contentResult.Confidence
	}

	needsHeadless := opts.ForceHeadlessVerification || maxConf < cfg.HeadlessConfidenceFloor
	if needsHeadless && c.headless != nil {
		if headlessResult, ok := c.runHeadlessStage(ctx, rawURL, cfg.Stage2Thresholds); ok {
			results = append(results, headlessResult)
		}
	}

	return Aggregate(results, cfg.AggregatorWeights)
}

// runHeadlessStage renders rawURL, re-runs content scoring on the
// rendered HTML, and folds in the rendered-DOM signals: a visible
// article element boosts an article verdict's confidence.
func (c *Classifier) runHeadlessStage(ctx context.Context, rawURL string, th config.Stage2Thresholds) (StageResult, bool) {
	var body []byte
	var rendered *RenderedSignals

	if rf, ok := c.headless.(RenderedFetcher); ok {
		html, sig, err := rf.FetchRendered(ctx, rawURL)
		if err != nil {
			c.logger.Warn("headless stage 3 fetch failed", "url", rawURL, "error", err)
			return StageResult{}, false
		}
		body = html
		rendered = &sig
	} else {
		res, err := c.headless.Fetch(ctx, rawURL)
		if err != nil || res.Status != fetch.StatusSuccess {
			c.logger.Warn("headless stage 3 fetch failed", "url", rawURL, "error", err)
			return StageResult{}, false
		}
		body = res.Body
	}

	sig, err := ExtractSignals(body)
	if err != nil {
		return StageResult{}, false
	}
	result := ClassifyContent(sig, th)
	result.Stage = StageHeadless
	result.Rendered = rendered
	if rendered != nil && rendered.ArticleVisible && result.Label == LabelArticle {
		result.Confidence = clamp01(result.Confidence + visibleArticleBonus)
		result.Reason += "+visible-article"
	}
	return result, true
}

func (c *Classifier) classifierConfig() config.ClassifierConfig {
	if c.live == nil {
		return config.DefaultConfig().Classifier
	}
	return c.live.Get().Classifier
}
