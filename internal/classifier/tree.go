package classifier

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// NodeKind identifies a decision-tree node's shape.
type NodeKind string

const (
	NodeBranch NodeKind = "branch"
	NodeResult NodeKind = "result"
	NodeRef    NodeKind = "ref"
)

// ConditionKind identifies the kind of test a branch node evaluates.
type ConditionKind string

const (
	ConditionURLMatches   ConditionKind = "url_matches"
	ConditionTextContains ConditionKind = "text_contains"
	ConditionCompare      ConditionKind = "compare"
	ConditionFlag         ConditionKind = "flag"
	ConditionCompound     ConditionKind = "compound"
)

// CompoundOp identifies how a compound condition combines its children.
type CompoundOp string

const (
	CompoundAnd CompoundOp = "and"
	CompoundOr  CompoundOp = "or"
	CompoundNot CompoundOp = "not"
)

// Condition is a single test evaluated against a URL string. Exactly the
// fields relevant to Kind are populated; the rest are zero.
type Condition struct {
	Kind ConditionKind `json:"kind" yaml:"kind"`

	// url_matches / text_contains
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`

	// compare
	Field    string  `json:"field,omitempty"    yaml:"field,omitempty"`
	Operator string  `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value    float64 `json:"value,omitempty"    yaml:"value,omitempty"`

	// flag
	Flag string `json:"flag,omitempty" yaml:"flag,omitempty"`

	// compound
	Op         CompoundOp  `json:"op,omitempty"         yaml:"op,omitempty"`
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`

	compiled *regexp.Regexp
}

// Node is one node of the stage-1 decision tree.
type Node struct {
	Kind NodeKind `json:"kind" yaml:"kind"`

	// branch
	If   *Condition `json:"if,omitempty"   yaml:"if,omitempty"`
	Then *Node      `json:"then,omitempty" yaml:"then,omitempty"`
	Else *Node      `json:"else,omitempty" yaml:"else,omitempty"`

	// result
	Label      Label   `json:"label,omitempty"      yaml:"label,omitempty"`
	Confidence float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Reason     string  `json:"reason,omitempty"     yaml:"reason,omitempty"`

	// ref
	Ref string `json:"ref,omitempty" yaml:"ref,omitempty"`
}

// Tree is the full stage-1 decision tree: a root node plus a table of named
// subtrees resolvable via NodeRef ("ref") nodes, letting a config author
// factor out a shared subtree (e.g. "is this a known wire-service host")
// without repeating it.
type Tree struct {
	Root Node            `json:"root" yaml:"root"`
	Refs map[string]Node `json:"refs,omitempty" yaml:"refs,omitempty"`
}

// LoadTree reads and validates a decision-tree YAML file. The file is read
// once per call; config.LiveConfig.WatchAndReload does not watch it.
func LoadTree(path string) (*Tree, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read decision tree %s: %w", path, err)
	}
	var t Tree
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("parse decision tree %s: %w", path, err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid decision tree %s: %w", path, err)
	}
	return &t, nil
}

var validOperators = map[string]bool{"<": true, "<=": true, ">": true, ">=": true, "==": true, "!=": true}

// Validate checks the tree's structural invariants: required fields per
// node kind, a valid compare-operator set, confidence within [0,1]. It
// compiles every regex pattern so later evaluation never fails on a
// malformed pattern.
func (t *Tree) Validate() error {
	if err := validateNode(&t.Root, t.Refs); err != nil {
		return fmt.Errorf("root: %w", err)
	}
	for name, ref := range t.Refs {
		n := ref
		if err := validateNode(&n, t.Refs); err != nil {
			return fmt.Errorf("ref %q: %w", name, err)
		}
		t.Refs[name] = n
	}
	return nil
}

func validateNode(n *Node, refs map[string]Node) error {
	switch n.Kind {
	case NodeBranch:
		if n.If == nil {
			return fmt.Errorf("branch node missing 'if' condition")
		}
		if err := validateCondition(n.If); err != nil {
			return err
		}
		if n.Then == nil || n.Else == nil {
			return fmt.Errorf("branch node requires both 'then' and 'else'")
		}
		if err := validateNode(n.Then, refs); err != nil {
			return fmt.Errorf("then: %w", err)
		}
		if err := validateNode(n.Else, refs); err != nil {
			return fmt.Errorf("else: %w", err)
		}
	case NodeResult:
		if n.Label == "" {
			return fmt.Errorf("result node missing label")
		}
		if n.Confidence < 0 || n.Confidence > 1 {
			return fmt.Errorf("result node confidence %v out of [0,1]", n.Confidence)
		}
	case NodeRef:
		if n.Ref == "" {
			return fmt.Errorf("ref node missing 'ref' name")
		}
		if _, ok := refs[n.Ref]; !ok {
			return fmt.Errorf("ref node points at undefined ref %q", n.Ref)
		}
	default:
		return fmt.Errorf("unknown node kind %q", n.Kind)
	}
	return nil
}

func validateCondition(c *Condition) error {
	switch c.Kind {
	case ConditionURLMatches, ConditionTextContains:
		if c.Pattern == "" {
			return fmt.Errorf("%s condition missing pattern", c.Kind)
		}
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return fmt.Errorf("%s condition pattern %q: %w", c.Kind, c.Pattern, err)
		}
		c.compiled = re
	case ConditionCompare:
		if c.Field == "" {
			return fmt.Errorf("compare condition missing field")
		}
		if !validOperators[c.Operator] {
			return fmt.Errorf("compare condition has invalid operator %q", c.Operator)
		}
	case ConditionFlag:
		if c.Flag == "" {
			return fmt.Errorf("flag condition missing flag name")
		}
	case ConditionCompound:
		switch c.Op {
		case CompoundAnd, CompoundOr:
			if len(c.Conditions) == 0 {
				return fmt.Errorf("compound %s requires at least one child condition", c.Op)
			}
		case CompoundNot:
			if len(c.Conditions) != 1 {
				return fmt.Errorf("compound not requires exactly one child condition")
			}
		default:
			return fmt.Errorf("unknown compound operator %q", c.Op)
		}
		for i := range c.Conditions {
			if err := validateCondition(&c.Conditions[i]); err != nil {
				return fmt.Errorf("compound child %d: %w", i, err)
			}
		}
	default:
		return fmt.Errorf("unknown condition kind %q", c.Kind)
	}
	return nil
}

// URLFacts is the evaluation context stage 1 matches conditions against:
// the raw URL string plus numeric fields (path segment count) and boolean
// flags (query string presence, trailing slash, etc) derived from it.
type URLFacts struct {
	URL    string
	Fields map[string]float64
	Flags  map[string]bool
}

// Eval walks the tree from its root and returns the first result node
// reached, or (Label: "", false) if the tree never terminates in a result
// (a validated tree always does; this only happens against a tree that
// skipped Validate).
func (t *Tree) Eval(facts URLFacts) (Node, []string, bool) {
	return evalNode(&t.Root, t.Refs, facts, nil)
}

func evalNode(n *Node, refs map[string]Node, facts URLFacts, path []string) (Node, []string, bool) {
	switch n.Kind {
	case NodeResult:
		return *n, path, true
	case NodeRef:
		ref, ok := refs[n.Ref]
		if !ok {
			return Node{}, path, false
		}
		return evalNode(&ref, refs, facts, append(path, "ref:"+n.Ref))
	case NodeBranch:
		if evalCondition(n.If, facts) {
			return evalNode(n.Then, refs, facts, append(path, "then"))
		}
		return evalNode(n.Else, refs, facts, append(path, "else"))
	}
	return Node{}, path, false
}

func evalCondition(c *Condition, facts URLFacts) bool {
	switch c.Kind {
	case ConditionURLMatches:
		return c.compiled != nil && c.compiled.MatchString(facts.URL)
	case ConditionTextContains:
		return strings.Contains(strings.ToLower(facts.URL), strings.ToLower(c.Pattern))
	case ConditionCompare:
		v, ok := facts.Fields[c.Field]
		if !ok {
			return false
		}
		return compare(v, c.Operator, c.Value)
	case ConditionFlag:
		return facts.Flags[c.Flag]
	case ConditionCompound:
		switch c.Op {
		case CompoundAnd:
			for _, child := range c.Conditions {
				if !evalCondition(&child, facts) {
					return false
				}
			}
			return true
		case CompoundOr:
			for _, child := range c.Conditions {
				if evalCondition(&child, facts) {
					return true
				}
			}
			return false
		case CompoundNot:
			return !evalCondition(&c.Conditions[0], facts)
		}
	}
	return false
}

func compare(a float64, op string, b float64) bool {
	switch op {
	case "<":
		return a < b
	case "<=":
		return a <= b
	case ">":
		return a > b
	case ">=":
		return a >= b
	case "==":
		return a == b
	case "!=":
		return a != b
	}
	return false
}

// FactsFromURL derives the default URLFacts field/flag set from a raw URL:
// path segment count, query presence, trailing-slash, numeric-looking last
// segment (a common article-id signal), and file-extension presence.
func FactsFromURL(rawURL string) URLFacts {
	facts := URLFacts{URL: rawURL, Fields: map[string]float64{}, Flags: map[string]bool{}}

	path := rawURL
	if i := strings.Index(rawURL, "://"); i >= 0 {
		path = rawURL[i+3:]
	}
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		hasQuery := strings.ContainsRune(path[i:], '?')
		facts.Flags["has_query"] = hasQuery
		path = path[:i]
	}
	if i := strings.Index(path, "/"); i >= 0 {
		path = path[i:]
	} else {
		path = "/"
	}

	segments := strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
	facts.Fields["path_segment_count"] = float64(len(segments))
	facts.Flags["trailing_slash"] = strings.HasSuffix(path, "/") && path != "/"

	if len(segments) > 0 {
		last := segments[len(segments)-1]
		facts.Flags["numeric_last_segment"] = isNumericLike(last)
		facts.Flags["has_extension"] = strings.Contains(last, ".")
	}
	return facts
}

func isNumericLike(s string) bool {
	digits := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits == 0 {
		return false
	}
	_, err := strconv.Atoi(strings.TrimFunc(s, func(r rune) bool { return !(r >= '0' && r <= '9') }))
	return err == nil && digits*2 >= len(s)
}
