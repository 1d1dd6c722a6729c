package classifier

import (
	"strings"
	"testing"

	"github.com/ishaanstalk/newscrawler/internal/config"
)

func testThresholds() config.Stage2Thresholds {
	return config.Stage2Thresholds{
		MinArticleWordCount:   50,
		HighWordCount:         200,
		MinArticleParagraphs:  2,
		MaxArticleLinkDensity: 0.3,
		MinNavLinkDensity:     0.5,
	}
}

func articleHTML(paragraphWords int, paragraphs int) string {
	var sb strings.Builder
	sb.WriteString("<html><body><article>")
	word := "word "
	for i := 0; i < paragraphs; i++ {
		sb.WriteString("<p>")
		sb.WriteString(strings.Repeat(word, paragraphWords))
		sb.WriteString("</p>")
	}
	sb.WriteString("</article></body></html>")
	return sb.String()
}

func TestExtractSignalsCountsWordsAndParagraphs(t *testing.T) {
	html := articleHTML(30, 3)
	sig, err := ExtractSignals([]byte(html))
	if err != nil {
		t.Fatalf("ExtractSignals: %v", err)
	}
	if sig.WordCount != 90 {
		t.Errorf("word count = %d, want 90", sig.WordCount)
	}
	if sig.ParagraphCount != 3 {
		t.Errorf("paragraph count = %d, want 3", sig.ParagraphCount)
	}
	if !sig.HasArticleBodyProperty {
		t.Error("expected <article> tag to set HasArticleBodyProperty")
	}
}

func TestExtractSignalsDetectsSchemaOrgArticle(t *testing.T) {
	html := `<html><head>
		<script type="application/ld+json">{"@context":"https://schema.org","@type":"NewsArticle","headline":"x"}</script>
	</head><body><p>short body</p></body></html>`
	sig, err := ExtractSignals([]byte(html))
	if err != nil {
		t.Fatalf("ExtractSignals: %v", err)
	}
	if !sig.HasSchemaArticle {
		t.Error("expected JSON-LD NewsArticle to set HasSchemaArticle")
	}
}

func TestExtractSignalsComputesNavLinkRatio(t *testing.T) {
	html := `<html><body>
		<nav><a href="/a">A</a><a href="/b">B</a></nav>
		<article><a href="/c">C</a></article>
	</body></html>`
	sig, err := ExtractSignals([]byte(html))
	if err != nil {
		t.Fatalf("ExtractSignals: %v", err)
	}
	want := 2.0 / 3.0
	if diff := sig.NavLinkRatio - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("nav link ratio = %v, want %v", sig.NavLinkRatio, want)
	}
}

func TestClassifyContentNavWhenLinkRatioHigh(t *testing.T) {
	sig := Signals{NavLinkRatio: 0.9}
	result := ClassifyContent(sig, testThresholds())
	if result.Label != LabelNav {
		t.Errorf("got %q, want nav", result.Label)
	}
}

func TestClassifyContentArticleOnSchemaSignal(t *testing.T) {
	sig := Signals{HasSchemaArticle: true, WordCount: 300}
	result := ClassifyContent(sig, testThresholds())
	if result.Label != LabelArticle {
		t.Errorf("got %q, want article", result.Label)
	}
	if result.Confidence < 0.9 {
		t.Errorf("expected high confidence for schema + high word count, got %v", result.Confidence)
	}
}

func TestClassifyContentArticleOnWordCountThreshold(t *testing.T) {
	sig := Signals{WordCount: 80, ParagraphCount: 3, LinkDensity: 0.1}
	result := ClassifyContent(sig, testThresholds())
	if result.Label != LabelArticle {
		t.Errorf("got %q, want article", result.Label)
	}
}

func TestClassifyContentHubOnHighLinkDensity(t *testing.T) {
	sig := Signals{WordCount: 80, ParagraphCount: 1, LinkDensity: 0.8}
	result := ClassifyContent(sig, testThresholds())
	if result.Label != LabelHub {
		t.Errorf("got %q, want hub", result.Label)
	}
}

func TestClassifyContentUnknownWhenNoSignalMet(t *testing.T) {
	sig := Signals{WordCount: 5, ParagraphCount: 0, LinkDensity: 0.2}
	result := ClassifyContent(sig, testThresholds())
	if result.Label != LabelUnknown {
		t.Errorf("got %q, want unknown", result.Label)
	}
}
