package classifier

import "github.com/ishaanstalk/newscrawler/internal/config"

// highConfidenceThreshold is the single-stage trust shortcut: a stage
// this sure is believed outright, skipping the weighted vote.
const highConfidenceThreshold = 0.9

// Aggregate combines the stage results that actually ran into a final
// Verdict:
//   - if any stage's confidence >= 0.9, trust that stage directly, with
//     provenance "<stage>-high-confidence";
//   - otherwise take the weighted-sum argmax over label, with confidence
//     equal to weightedSum / sum-of-weights-of-stages-that-ran;
//   - ties broken article > hub > nav > unknown;
//   - HasDisagreement is set whenever the stages that ran didn't
//     unanimously agree on a label.
func Aggregate(results []StageResult, weights config.AggregatorWeights) Verdict {
	v := Verdict{Label: LabelUnknown, StageResults: results}
	if len(results) == 0 {
		return v
	}

	for _, r := range results {
		v.Provenance = append(v.Provenance, string(r.Stage)+":"+string(r.Label)+":"+r.Reason)
		if r.Confidence >= highConfidenceThreshold {
			v.Label = r.Label
			v.Confidence = r.Confidence
			v.Provenance = append(v.Provenance, string(r.Stage)+"-high-confidence")
			v.HasDisagreement = hasDisagreement(results)
			return v
		}
	}

	weighted := map[Label]float64{}
	var totalWeight float64
	for _, r := range results {
		w := weightFor(r.Stage, weights)
		weighted[r.Label] += w * r.Confidence
		totalWeight += w
	}

	var best Label
	bestScore := -1.0
	for label, score := range weighted {
		if score > bestScore || (score == bestScore && labelRank[label] > labelRank[best]) {
			best = label
			bestScore = score
		}
	}

	v.Label = best
	if totalWeight > 0 {
		v.Confidence = clamp01(bestScore / totalWeight)
	}
	v.HasDisagreement = hasDisagreement(results)
	return v
}

func weightFor(stage StageName, weights config.AggregatorWeights) float64 {
	switch stage {
	case StageURL:
		return weights.URL
	case StageContent:
		return weights.Content
	case StageHeadless:
		return weights.Headless
	}
	return 0
}

func hasDisagreement(results []StageResult) bool {
	if len(results) < 2 {
		return false
	}
	first := results[0].Label
	for _, r := range results[1:] {
		if r.Label != first {
			return true
		}
	}
	return false
}
