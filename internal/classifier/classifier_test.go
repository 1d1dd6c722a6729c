package classifier

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/ishaanstalk/newscrawler/internal/config"
	"github.com/ishaanstalk/newscrawler/internal/fetch"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeHeadlessFetcher struct {
	calls int
	body  []byte
	err   error
}

func (f *fakeHeadlessFetcher) Fetch(ctx context.Context, rawURL string) (fetch.Result, error) {
	f.calls++
	if f.err != nil {
		return fetch.Result{}, f.err
	}
	return fetch.Result{Status: fetch.StatusSuccess, URL: rawURL, Body: f.body}, nil
}

type fakeRenderedFetcher struct {
	fakeHeadlessFetcher
	sig RenderedSignals
}

func (f *fakeRenderedFetcher) FetchRendered(ctx context.Context, rawURL string) ([]byte, RenderedSignals, error) {
	f.calls++
	if f.err != nil {
		return nil, RenderedSignals{}, f.err
	}
	return f.body, f.sig, nil
}

func testLiveConfig() *config.LiveConfig {
	cfg := config.DefaultConfig()
	cfg.Classifier.DecisionTreePath = ""
	return config.NewLiveConfig(cfg, testLogger())
}

const richArticleHTML = `<html><head>
<script type="application/ld+json">{"@type":"NewsArticle","headline":"x"}</script>
</head><body><article>` + `real news content word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word word` + `</article></body></html>`

func TestClassifySkipsHeadlessWhenConfidenceAboveFloor(t *testing.T) {
	tree := sampleTree()
	if err := tree.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	headless := &fakeHeadlessFetcher{}
	c := New(tree, testLiveConfig(), headless, testLogger())

	v := c.Classify(context.Background(), "https://news.example.com/2026/07/31/big-story", []byte(richArticleHTML), ClassifyOptions{})

	if headless.calls != 0 {
		t.Errorf("expected headless stage to be skipped, got %d calls", headless.calls)
	}
	if v.Label != LabelArticle {
		t.Errorf("got %q, want article", v.Label)
	}
}

func TestClassifyRunsHeadlessWhenBelowConfidenceFloor(t *testing.T) {
	tree := &Tree{Root: Node{Kind: NodeResult, Label: LabelUnknown, Confidence: 0.1, Reason: "no-signal"}}
	if err := tree.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	headless := &fakeHeadlessFetcher{body: []byte(`<html><body><article>headless rendered article body with plenty of text here to count as words one two three four five six seven eight nine ten eleven twelve thirteen fourteen fifteen sixteen seventeen eighteen nineteen twenty twentyone twentytwo twentythree twentyfour twentyfive twentysix twentyseven twentyeight twentynine thirty thirtyone thirtytwo thirtythree thirtyfour thirtyfive thirtysix thirtyseven thirtyeight thirtynine forty fortyone fortytwo fortythree fortyfour fortyfive fortysix fortyseven fortyeight fortynine fifty</article></body></html>`)}
	c := New(tree, testLiveConfig(), headless, testLogger())

	v := c.Classify(context.Background(), "https://news.example.com/x", []byte("<html><body></body></html>"), ClassifyOptions{})

	if headless.calls != 1 {
		t.Errorf("expected headless stage to run exactly once, got %d calls", headless.calls)
	}
	foundHeadlessStage := false
	for _, r := range v.StageResults {
		if r.Stage == StageHeadless {
			foundHeadlessStage = true
		}
	}
	if !foundHeadlessStage {
		t.Error("expected a headless StageResult in the verdict")
	}
}

func TestClassifyHeadlessStageAppliesVisibleArticleBonus(t *testing.T) {
	tree := &Tree{Root: Node{Kind: NodeResult, Label: LabelUnknown, Confidence: 0.1, Reason: "no-signal"}}
	if err := tree.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	// Rendered body scores article at 0.75 via the article-body signal
	// (word count stays under the high-word-count threshold), so the
	// visible-article bonus is observable on top of it.
	renderedBody := []byte(`<html><body><article><p>` +
		"word word word word word word word word word word word word word word word word word word word word" +
		`</p></article></body></html>`)

	headless := &fakeRenderedFetcher{
		fakeHeadlessFetcher: fakeHeadlessFetcher{body: renderedBody},
		sig:                 RenderedSignals{ArticleVisible: true, LazyImageCount: 4},
	}
	c := New(tree, testLiveConfig(), headless, testLogger())

	v := c.Classify(context.Background(), "https://news.example.com/x", []byte("<html><body></body></html>"), ClassifyOptions{})

	var stage3 *StageResult
	for i := range v.StageResults {
		if v.StageResults[i].Stage == StageHeadless {
			stage3 = &v.StageResults[i]
		}
	}
	if stage3 == nil {
		t.Fatal("expected a headless StageResult in the verdict")
	}
	if stage3.Rendered == nil || !stage3.Rendered.ArticleVisible || stage3.Rendered.LazyImageCount != 4 {
		t.Fatalf("expected rendered-DOM signals to be carried on the stage result, got %+v", stage3.Rendered)
	}
	if stage3.Label != LabelArticle {
		t.Fatalf("got stage 3 label %q, want article", stage3.Label)
	}
	if stage3.Confidence <= 0.75 || stage3.Confidence > 0.75+visibleArticleBonus+1e-9 {
		t.Fatalf("expected visible-article bonus on top of the 0.75 base, got %v", stage3.Confidence)
	}
}

func TestClassifyHeadlessStageNoBonusWhenArticleNotVisible(t *testing.T) {
	tree := &Tree{Root: Node{Kind: NodeResult, Label: LabelUnknown, Confidence: 0.1, Reason: "no-signal"}}
	if err := tree.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	renderedBody := []byte(`<html><body><article><p>` +
		"word word word word word word word word word word word word word word word word word word word word" +
		`</p></article></body></html>`)

	headless := &fakeRenderedFetcher{
		fakeHeadlessFetcher: fakeHeadlessFetcher{body: renderedBody},
		sig:                 RenderedSignals{ArticleVisible: false},
	}
	c := New(tree, testLiveConfig(), headless, testLogger())

	v := c.Classify(context.Background(), "https://news.example.com/x", []byte("<html><body></body></html>"), ClassifyOptions{})

	for _, r := range v.StageResults {
		if r.Stage == StageHeadless {
			if r.Confidence != 0.75 {
				t.Fatalf("expected unboosted 0.75 confidence when article isn't visible, got %v", r.Confidence)
			}
			return
		}
	}
	t.Fatal("expected a headless StageResult in the verdict")
}

func TestClassifyForceHeadlessVerificationAlwaysRuns(t *testing.T) {
	tree := sampleTree()
	if err := tree.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	headless := &fakeHeadlessFetcher{body: []byte(richArticleHTML)}
	c := New(tree, testLiveConfig(), headless, testLogger())

	_ = c.Classify(context.Background(), "https://news.example.com/2026/07/31/big-story", []byte(richArticleHTML), ClassifyOptions{ForceHeadlessVerification: true})

	if headless.calls != 1 {
		t.Errorf("expected forced headless verification to run, got %d calls", headless.calls)
	}
}

func TestClassifySkipsHeadlessWhenFetcherNil(t *testing.T) {
	tree := &Tree{Root: Node{Kind: NodeResult, Label: LabelUnknown, Confidence: 0.1, Reason: "no-signal"}}
	if err := tree.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	c := New(tree, testLiveConfig(), nil, testLogger())
	v := c.Classify(context.Background(), "https://news.example.com/x", []byte("<html><body></body></html>"), ClassifyOptions{})
	if v.Label == "" {
		t.Fatal("expected a verdict even with no headless fetcher configured")
	}
}

// TestClassifyIsDeterministic checks that classifying the same
// (url, html) pair repeatedly produces bit-identical verdicts.
func TestClassifyIsDeterministic(t *testing.T) {
	tree := sampleTree()
	if err := tree.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	c := New(tree, testLiveConfig(), &fakeHeadlessFetcher{}, testLogger())

	first := c.Classify(context.Background(), "https://news.example.com/2026/07/31/big-story", []byte(richArticleHTML), ClassifyOptions{})
	for i := 0; i < 25; i++ {
		got := c.Classify(context.Background(), "https://news.example.com/2026/07/31/big-story", []byte(richArticleHTML), ClassifyOptions{})
		if got.Label != first.Label || got.Confidence != first.Confidence || got.HasDisagreement != first.HasDisagreement {
			t.Fatalf("run %d diverged: got %+v, want %+v", i, got, first)
		}
	}
}
