package classifier

import (
	"testing"

	"github.com/ishaanstalk/newscrawler/internal/config"
)

func testWeights() config.AggregatorWeights {
	return config.AggregatorWeights{URL: 1.0, Content: 1.2, Headless: 1.5}
}

func TestAggregateTrustsSingleHighConfidenceStage(t *testing.T) {
	results := []StageResult{
		{Stage: StageURL, Label: LabelArticle, Confidence: 0.95, Reason: "dated-path"},
		{Stage: StageContent, Label: LabelHub, Confidence: 0.4, Reason: "ambiguous"},
	}
	v := Aggregate(results, testWeights())
	if v.Label != LabelArticle {
		t.Errorf("got %q, want article", v.Label)
	}
	if v.Confidence != 0.95 {
		t.Errorf("got confidence %v, want 0.95", v.Confidence)
	}
	found := false
	for _, p := range v.Provenance {
		if p == "url-high-confidence" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected url-high-confidence provenance tag, got %v", v.Provenance)
	}
}

func TestAggregateWeightedSumArgmaxWhenNoStageHighConfidence(t *testing.T) {
	results := []StageResult{
		{Stage: StageURL, Label: LabelArticle, Confidence: 0.6, Reason: "r1"},
		{Stage: StageContent, Label: LabelArticle, Confidence: 0.7, Reason: "r2"},
	}
	v := Aggregate(results, testWeights())
	if v.Label != LabelArticle {
		t.Errorf("got %q, want article", v.Label)
	}
	wantConf := (1.0*0.6 + 1.2*0.7) / (1.0 + 1.2)
	if diff := v.Confidence - wantConf; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("confidence = %v, want %v", v.Confidence, wantConf)
	}
}

func TestAggregateTieBreaksArticleOverHub(t *testing.T) {
	results := []StageResult{
		{Stage: StageURL, Label: LabelArticle, Confidence: 0.5, Reason: "r1"},
		{Stage: StageContent, Label: LabelHub, Confidence: 0.5 * 1.0 / 1.2, Reason: "r2"},
	}
	v := Aggregate(results, testWeights())
	// both labels score 1.0*0.5 == 0.5 weighted contribution; article should win the tie.
	if v.Label != LabelArticle {
		t.Errorf("got %q, want article (tie-break)", v.Label)
	}
}

func TestAggregateFlagsDisagreement(t *testing.T) {
	results := []StageResult{
		{Stage: StageURL, Label: LabelArticle, Confidence: 0.5, Reason: "r1"},
		{Stage: StageContent, Label: LabelHub, Confidence: 0.5, Reason: "r2"},
	}
	v := Aggregate(results, testWeights())
	if !v.HasDisagreement {
		t.Error("expected HasDisagreement to be true when stages disagree")
	}
}

func TestAggregateNoDisagreementWhenStagesAgree(t *testing.T) {
	results := []StageResult{
		{Stage: StageURL, Label: LabelArticle, Confidence: 0.5, Reason: "r1"},
		{Stage: StageContent, Label: LabelArticle, Confidence: 0.6, Reason: "r2"},
	}
	v := Aggregate(results, testWeights())
	if v.HasDisagreement {
		t.Error("expected HasDisagreement to be false when stages agree")
	}
}

func TestAggregateEmptyResultsReturnsUnknown(t *testing.T) {
	v := Aggregate(nil, testWeights())
	if v.Label != LabelUnknown {
		t.Errorf("got %q, want unknown", v.Label)
	}
}
