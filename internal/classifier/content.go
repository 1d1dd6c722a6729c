package classifier

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/ishaanstalk/newscrawler/internal/config"
)

// Signals are the HTML content features stage 2 scores against the
// configured thresholds.
type Signals struct {
	WordCount              int
	ParagraphCount         int
	LinkDensity            float64
	HeadingCounts          map[string]int
	HasSchemaArticle       bool
	HasArticleBodyProperty bool
	NavLinkRatio           float64
}

// ExtractSignals parses raw HTML and computes the content signals used
// by stage 2.
func ExtractSignals(rawHTML []byte) (Signals, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(rawHTML))
	if err != nil {
		return Signals{}, err
	}

	sig := Signals{HeadingCounts: map[string]int{}}

	bodyText := doc.Find("body").Text()
	sig.WordCount = len(strings.Fields(bodyText))
	sig.ParagraphCount = doc.Find("p").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return len(strings.TrimSpace(s.Text())) > 0
	}).Length()

	for _, tag := range []string{"h1", "h2", "h3", "h4", "h5", "h6"} {
		sig.HeadingCounts[tag] = doc.Find(tag).Length()
	}

	totalTextLen := len(bodyText)
	linkTextLen := 0
	doc.Find("a").Each(func(_ int, s *goquery.Selection) {
		linkTextLen += len(s.Text())
	})
	if totalTextLen > 0 {
		sig.LinkDensity = float64(linkTextLen) / float64(totalTextLen)
	}

	sig.HasArticleBodyProperty = doc.Find(`[itemprop="articleBody"]`).Length() > 0 || doc.Find("article").Length() > 0
	sig.HasSchemaArticle = hasSchemaOrgArticle(doc)

	sig.NavLinkRatio = navLinkRatio(rawHTML)

	return sig, nil
}

// hasSchemaOrgArticle looks for an "Article"-family @type in JSON-LD
// blocks or an itemtype attribute.
func hasSchemaOrgArticle(doc *goquery.Document) bool {
	found := false
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var obj map[string]any
		if err := json.Unmarshal([]byte(s.Text()), &obj); err == nil {
			if schemaTypeIsArticle(obj["@type"]) {
				found = true
				return false
			}
			return true
		}
		var arr []map[string]any
		if err := json.Unmarshal([]byte(s.Text()), &arr); err == nil {
			for _, item := range arr {
				if schemaTypeIsArticle(item["@type"]) {
					found = true
					return false
				}
			}
		}
		return true
	})
	if found {
		return true
	}
	return doc.Find(`[itemtype*="schema.org/Article"], [itemtype*="schema.org/NewsArticle"]`).Length() > 0
}

func schemaTypeIsArticle(v any) bool {
	switch t := v.(type) {
	case string:
		return strings.Contains(t, "Article")
	case []any:
		for _, e := range t {
			if s, ok := e.(string); ok && strings.Contains(s, "Article") {
				return true
			}
		}
	}
	return false
}

// navLinkRatio computes the fraction of all anchors on the page that
// fall within a <nav>, <header>, or <footer> ancestor, using
// antchfx/htmlquery for the structural query.
func navLinkRatio(rawHTML []byte) float64 {
	doc, err := html.Parse(bytes.NewReader(rawHTML))
	if err != nil {
		return 0
	}

	allLinks := htmlquery.Find(doc, "//a")
	if len(allLinks) == 0 {
		return 0
	}
	navLinks := htmlquery.Find(doc, "//nav//a|//header//a|//footer//a")
	return float64(len(navLinks)) / float64(len(allLinks))
}

// ClassifyContent scores Signals against the configured thresholds.
func ClassifyContent(sig Signals, th config.Stage2Thresholds) StageResult {
	switch {
	case th.MinNavLinkDensity > 0 && sig.NavLinkRatio >= th.MinNavLinkDensity:
		conf := clamp01(0.5 + sig.NavLinkRatio/2)
		return StageResult{Stage: StageContent, Label: LabelNav, Confidence: conf, Reason: "nav-link-ratio"}

	case sig.HasSchemaArticle || sig.HasArticleBodyProperty:
		conf := 0.75
		if th.HighWordCount > 0 && sig.WordCount >= th.HighWordCount {
			conf = 0.95
		}
		return StageResult{Stage: StageContent, Label: LabelArticle, Confidence: conf, Reason: "schema-article-signal"}

	case sig.WordCount >= th.MinArticleWordCount &&
		sig.ParagraphCount >= th.MinArticleParagraphs &&
		(th.MaxArticleLinkDensity <= 0 || sig.LinkDensity <= th.MaxArticleLinkDensity):
		conf := 0.6
		if th.HighWordCount > 0 && sig.WordCount >= th.HighWordCount {
			conf = 0.85
		}
		return StageResult{Stage: StageContent, Label: LabelArticle, Confidence: conf, Reason: "word-count-threshold"}

	case th.MaxArticleLinkDensity > 0 && sig.LinkDensity > th.MaxArticleLinkDensity:
		conf := clamp01(0.55 + sig.LinkDensity*0.3)
		return StageResult{Stage: StageContent, Label: LabelHub, Confidence: conf, Reason: "high-link-density"}

	default:
		return StageResult{Stage: StageContent, Label: LabelUnknown, Confidence: 0.3, Reason: "no-signal-threshold-met"}
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
