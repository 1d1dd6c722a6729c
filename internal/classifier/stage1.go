package classifier

import "strings"

// Stage1 evaluates the URL decision tree, the cascade's cheapest stage.
type Stage1 struct {
	tree *Tree
}

// NewStage1 wraps a validated Tree. Callers are expected to have already
// called Tree.Validate.
func NewStage1(tree *Tree) *Stage1 {
	return &Stage1{tree: tree}
}

// Classify evaluates rawURL against the decision tree and returns its
// StageResult. If no tree is configured, it falls back to LabelUnknown
// at zero confidence rather than failing the cascade.
func (s *Stage1) Classify(rawURL string) StageResult {
	if s.tree == nil {
		return StageResult{Stage: StageURL, Label: LabelUnknown, Confidence: 0, Reason: "no-decision-tree"}
	}

	facts := FactsFromURL(rawURL)
	node, path, ok := s.tree.Eval(facts)
	if !ok {
		return StageResult{Stage: StageURL, Label: LabelUnknown, Confidence: 0, Reason: "tree-did-not-terminate"}
	}

	reason := node.Reason
	if reason == "" {
		reason = strings.Join(path, "/")
	}
	return StageResult{Stage: StageURL, Label: node.Label, Confidence: node.Confidence, Reason: reason}
}
