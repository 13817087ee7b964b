package update

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/cl4nyz/elevadores-updater/internal/glob"
	"github.com/cl4nyz/elevadores-updater/internal/types"
)

// Rule is a protection rule. The set of implementations is closed:
// ExactPath, PrefixPath and GlobPattern.
type Rule interface {
	Kind() types.RuleKind
	String() string
	isRule()
}

// ExactPath protects one relative path.
type ExactPath string

// PrefixPath protects a directory and everything below it. The stored value
// always ends in "/".
type PrefixPath string

// GlobPattern protects paths matching a shell-style pattern. "*" and "?" also
// match "/", so "*.db" protects "data/cache.db". A pattern ending in "/"
// protects matching directories and everything below them.
type GlobPattern struct {
	pattern string
	re      *regexp.Regexp
}

func (ExactPath) Kind() types.RuleKind    { return types.RuleExact }
func (PrefixPath) Kind() types.RuleKind   { return types.RulePrefix }
func (*GlobPattern) Kind() types.RuleKind { return types.RuleGlob }

func (r ExactPath) String() string    { return string(r) }
func (r PrefixPath) String() string   { return string(r) }
func (r *GlobPattern) String() string { return r.pattern }

func (ExactPath) isRule()    {}
func (PrefixPath) isRule()   {}
func (*GlobPattern) isRule() {}

// NewGlobPattern compiles a shell-style pattern.
func NewGlobPattern(pattern string) (*GlobPattern, error) {
	re, err := glob.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &GlobPattern{pattern: pattern, re: re}, nil
}

// ParseRule turns a configured string into a typed rule: any of "*?[" makes a
// glob, a trailing "/" makes a prefix, anything else is an exact path.
func ParseRule(s string) (Rule, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.ReplaceAll(s, `\`, "/"), "./")
	if s == "" || s == "/" {
		return nil, fmt.Errorf("empty protection rule")
	}
	if strings.HasPrefix(s, "/") {
		return nil, fmt.Errorf("protection rule %q must be relative", s)
	}

	switch {
	case strings.ContainsAny(s, "*?["):
		return NewGlobPattern(s)
	case strings.HasSuffix(s, "/"):
		return PrefixPath(path.Clean(s) + "/"), nil
	default:
		return ExactPath(path.Clean(s)), nil
	}
}

// ParseRules parses every entry, reporting the first invalid one.
func ParseRules(specs []string) ([]Rule, error) {
	rules := make([]Rule, 0, len(specs))
	for i, s := range specs {
		r, err := ParseRule(s)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// matchRule is the single dispatch point for rule evaluation.
func matchRule(r Rule, rel string) bool {
	switch r := r.(type) {
	case ExactPath:
		return rel == string(r)
	case PrefixPath:
		return strings.HasPrefix(rel, string(r)) || rel == strings.TrimSuffix(string(r), "/")
	case *GlobPattern:
		return r.re.MatchString(rel)
	default:
		return false
	}
}

// Classifier decides whether a relative path may be overwritten by an update.
// It holds no mutable state; the rule set is fixed at construction.
type Classifier struct {
	ordered []Rule // exact, then prefix, then glob
}

// NewClassifier builds a classifier. Rules are evaluated by kind (exact,
// prefix, glob) and in the given order within a kind.
func NewClassifier(rules ...Rule) *Classifier {
	c := &Classifier{ordered: make([]Rule, 0, len(rules))}
	for _, kind := range types.AllRuleKinds() {
		for _, r := range rules {
			if r != nil && r.Kind() == kind {
				c.ordered = append(c.ordered, r)
			}
		}
	}
	return c
}

// NewClassifierFromStrings parses specs and builds a classifier.
func NewClassifierFromStrings(specs []string) (*Classifier, error) {
	rules, err := ParseRules(specs)
	if err != nil {
		return nil, err
	}
	return NewClassifier(rules...), nil
}

// Rules returns the rules in evaluation order.
func (c *Classifier) Rules() []Rule {
	return append([]Rule(nil), c.ordered...)
}

// Match returns the first rule protecting rel, if any.
func (c *Classifier) Match(rel string) (Rule, bool) {
	rel = normalizeRel(rel)
	for _, r := range c.ordered {
		if matchRule(r, rel) {
			return r, true
		}
	}
	return nil, false
}

// IsUpdatable reports whether rel may be overwritten.
func (c *Classifier) IsUpdatable(rel string) bool {
	_, protected := c.Match(rel)
	return !protected
}

// normalizeRel converts rel to a clean slash-separated relative path.
func normalizeRel(rel string) string {
	rel = strings.ReplaceAll(rel, `\`, "/")
	rel = path.Clean(rel)
	return strings.TrimPrefix(rel, "./")
}
