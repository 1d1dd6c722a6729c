// Package classifier implements the page-type classification cascade:
// a URL decision tree (stage 1), HTML content signals (stage 2),
// a headless-rendered re-run of stage 2 for low-confidence or high-value
// pages (stage 3), and a weighted aggregator that reconciles the stages
// into a single labeled, provenance-carrying verdict.
//
// It also provides SignatureValidator, a lightweight regex-based
// bot-challenge detector that implements internal/fetch's ContentValidator
// contract via config-driven, hot-reloadable soft/hard failure patterns.
package classifier

// Label is a page-type classification.
type Label string

const (
	LabelArticle Label = "article"
	LabelHub     Label = "hub"
	LabelNav     Label = "nav"
	LabelUnknown Label = "unknown"
)

// labelRank breaks ties between equally-weighted labels:
// article > hub > nav > unknown.
var labelRank = map[Label]int{
	LabelArticle: 3,
	LabelHub:     2,
	LabelNav:     1,
	LabelUnknown: 0,
}

// StageName identifies which cascade stage produced a StageResult.
type StageName string

const (
	StageURL      StageName = "url"
	StageContent  StageName = "content"
	StageHeadless StageName = "headless"
)

// StageResult is one cascade stage's vote: a label with a confidence in
// [0, 1] and the provenance tag describing how it arrived at that label.
type StageResult struct {
	Stage      StageName
	Label      Label
	Confidence float64
	Reason     string

	// Rendered carries stage 3's rendered-DOM signals; nil for stages 1-2
	// and when the headless fetcher can't probe the live page.
	Rendered *RenderedSignals
}

// Verdict is the cascade's final output: the winning label,
// its aggregate confidence, the full per-stage provenance trail, and a
// flag noting whether the stages disagreed with one another.
type Verdict struct {
	Label           Label
	Confidence      float64
	Provenance      []string
	StageResults    []StageResult
	HasDisagreement bool
}
