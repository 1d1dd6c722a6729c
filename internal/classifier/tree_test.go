package classifier

import "testing"

func sampleTree() *Tree {
	return &Tree{
		Root: Node{
			Kind: NodeBranch,
			If:   &Condition{Kind: ConditionURLMatches, Pattern: `/\d{4}/\d{2}/\d{2}/`},
			Then: &Node{Kind: NodeResult, Label: LabelArticle, Confidence: 0.9, Reason: "dated-path"},
			Else: &Node{
				Kind: NodeBranch,
				If: &Condition{
					Kind: ConditionCompound,
					Op:   CompoundOr,
					Conditions: []Condition{
						{Kind: ConditionURLMatches, Pattern: `/category/`},
						{Kind: ConditionURLMatches, Pattern: `/tag/`},
					},
				},
				Then: &Node{Kind: NodeResult, Label: LabelHub, Confidence: 0.8, Reason: "category-or-tag-path"},
				Else: &Node{Kind: NodeRef, Ref: "fallback"},
			},
		},
		Refs: map[string]Node{
			"fallback": {Kind: NodeResult, Label: LabelUnknown, Confidence: 0.2, Reason: "no-url-signal"},
		},
	}
}

func TestTreeValidateAcceptsWellFormedTree(t *testing.T) {
	tree := sampleTree()
	if err := tree.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestTreeValidateRejectsMissingLabel(t *testing.T) {
	tree := &Tree{Root: Node{Kind: NodeResult, Confidence: 0.5}}
	if err := tree.Validate(); err == nil {
		t.Fatal("expected error for result node missing label")
	}
}

func TestTreeValidateRejectsOutOfRangeConfidence(t *testing.T) {
	tree := &Tree{Root: Node{Kind: NodeResult, Label: LabelArticle, Confidence: 1.5}}
	if err := tree.Validate(); err == nil {
		t.Fatal("expected error for confidence out of [0,1]")
	}
}

func TestTreeValidateRejectsUnknownOperator(t *testing.T) {
	tree := &Tree{
		Root: Node{
			Kind: NodeBranch,
			If:   &Condition{Kind: ConditionCompare, Field: "x", Operator: "~=", Value: 1},
			Then: &Node{Kind: NodeResult, Label: LabelArticle, Confidence: 0.5},
			Else: &Node{Kind: NodeResult, Label: LabelHub, Confidence: 0.5},
		},
	}
	if err := tree.Validate(); err == nil {
		t.Fatal("expected error for invalid compare operator")
	}
}

func TestTreeValidateRejectsDanglingRef(t *testing.T) {
	tree := &Tree{Root: Node{Kind: NodeRef, Ref: "missing"}}
	if err := tree.Validate(); err == nil {
		t.Fatal("expected error for ref to undefined subtree")
	}
}

func TestTreeEvalDatedPathMatchesArticle(t *testing.T) {
	tree := sampleTree()
	if err := tree.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	node, _, ok := tree.Eval(FactsFromURL("https://news.example.com/2026/07/31/big-story"))
	if !ok {
		t.Fatal("expected tree to terminate")
	}
	if node.Label != LabelArticle {
		t.Errorf("got label %q, want %q", node.Label, LabelArticle)
	}
}

func TestTreeEvalCategoryPathMatchesHub(t *testing.T) {
	tree := sampleTree()
	if err := tree.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	node, _, ok := tree.Eval(FactsFromURL("https://news.example.com/category/world"))
	if !ok {
		t.Fatal("expected tree to terminate")
	}
	if node.Label != LabelHub {
		t.Errorf("got label %q, want %q", node.Label, LabelHub)
	}
}

func TestTreeEvalFallsBackToRef(t *testing.T) {
	tree := sampleTree()
	if err := tree.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	node, _, ok := tree.Eval(FactsFromURL("https://news.example.com/"))
	if !ok {
		t.Fatal("expected tree to terminate")
	}
	if node.Label != LabelUnknown {
		t.Errorf("got label %q, want %q", node.Label, LabelUnknown)
	}
}

func TestEvalCompareCondition(t *testing.T) {
	tree := &Tree{
		Root: Node{
			Kind: NodeBranch,
			If:   &Condition{Kind: ConditionCompare, Field: "path_segment_count", Operator: ">=", Value: 3},
			Then: &Node{Kind: NodeResult, Label: LabelArticle, Confidence: 0.7, Reason: "deep-path"},
			Else: &Node{Kind: NodeResult, Label: LabelHub, Confidence: 0.6, Reason: "shallow-path"},
		},
	}
	if err := tree.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	node, _, _ := tree.Eval(FactsFromURL("https://example.com/a/b/c/d"))
	if node.Label != LabelArticle {
		t.Errorf("deep path: got %q, want article", node.Label)
	}

	node, _, _ = tree.Eval(FactsFromURL("https://example.com/a"))
	if node.Label != LabelHub {
		t.Errorf("shallow path: got %q, want hub", node.Label)
	}
}

func TestEvalNotCondition(t *testing.T) {
	tree := &Tree{
		Root: Node{
			Kind: NodeBranch,
			If: &Condition{
				Kind: ConditionCompound,
				Op:   CompoundNot,
				Conditions: []Condition{
					{Kind: ConditionURLMatches, Pattern: `/category/`},
				},
			},
			Then: &Node{Kind: NodeResult, Label: LabelArticle, Confidence: 0.6, Reason: "not-category"},
			Else: &Node{Kind: NodeResult, Label: LabelHub, Confidence: 0.6, Reason: "is-category"},
		},
	}
	if err := tree.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	node, _, _ := tree.Eval(FactsFromURL("https://example.com/2026/story"))
	if node.Label != LabelArticle {
		t.Errorf("got %q, want article", node.Label)
	}
}
