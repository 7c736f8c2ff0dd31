// Package rules decides which classes of the source archive are kept,
// delegated or dropped, and parses class rename directives.
//
// Keep rules are plain strings evaluated in declaration order; the first
// matching rule decides:
//
//	-a.B       not kept: matches a.B and its nested classes a.B$X, not a.Bx
//	=a.B       kept: matches exactly a.B
//	a.b.       kept: matches a.b. itself and every name starting with a.b.
//
// A class no keep rule accepts is delegated when a delegate rule names it or
// an enclosing class, and excluded otherwise.
package rules

import (
	"sort"
	"strings"
)

// Disposition is the outcome of classifying one class.
type Disposition int

const (
	Excluded Disposition = iota
	Keep
	Delegate
)

func (d Disposition) String() string {
	switch d {
	case Keep:
		return "keep"
	case Delegate:
		return "delegate"
	default:
		return "excluded"
	}
}

// RuleKind distinguishes the three keep rule forms.
type RuleKind int

const (
	RulePrefix RuleKind = iota
	RuleExact
	RuleExclude
)

// Rule is one parsed keep rule.
type Rule struct {
	Kind    RuleKind
	Pattern string
}

// ParseRule parses the textual keep rule form.
func ParseRule(s string) Rule {
	switch {
	case strings.HasPrefix(s, "-"):
		return Rule{Kind: RuleExclude, Pattern: s[1:]}
	case strings.HasPrefix(s, "="):
		return Rule{Kind: RuleExact, Pattern: s[1:]}
	}
	return Rule{Kind: RulePrefix, Pattern: s}
}

func (r Rule) String() string {
	switch r.Kind {
	case RuleExclude:
		return "-" + r.Pattern
	case RuleExact:
		return "=" + r.Pattern
	}
	return r.Pattern
}

// Match reports whether the rule applies to the dotted class name.
func (r Rule) Match(name string) bool {
	switch r.Kind {
	case RuleExclude:
		return enclosedBy(name, r.Pattern)
	case RuleExact:
		return name == r.Pattern
	}
	return strings.HasPrefix(name, r.Pattern)
}

// enclosedBy reports whether name is outer or one of its nested classes.
func enclosedBy(name, outer string) bool {
	return name == outer || strings.HasPrefix(name, outer+"$")
}

// Selector classifies class names. It is immutable and safe for concurrent use.
type Selector struct {
	keep     []Rule
	delegate []string
}

// NewSelector parses keep rules and delegate class names.
func NewSelector(keep, delegate []string) *Selector {
	s := &Selector{delegate: append([]string(nil), delegate...)}
	for _, k := range keep {
		if k == "" || k == "-" || k == "=" {
			continue
		}
		s.keep = append(s.keep, ParseRule(k))
	}
	return s
}

// Classify returns the disposition of a dotted class name.
func (s *Selector) Classify(name string) Disposition {
	if s.kept(name) {
		return Keep
	}
	for _, d := range s.delegate {
		if enclosedBy(name, d) {
			return Delegate
		}
	}
	return Excluded
}

func (s *Selector) kept(name string) bool {
	for _, r := range s.keep {
		if r.Match(name) {
			return r.Kind != RuleExclude
		}
	}
	return false
}

// ClassifyAll classifies every name.
func (s *Selector) ClassifyAll(names []string) map[string]Disposition {
	out := make(map[string]Disposition, len(names))
	for _, n := range names {
		out[n] = s.Classify(n)
	}
	return out
}

// Select returns the names with the given disposition, sorted.
func Select(all map[string]Disposition, want Disposition) []string {
	var out []string
	for n, d := range all {
		if d == want {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// ResourcePrefixes returns the archive path prefixes whose resources are copied:
// every prefix keep rule with dots turned into slashes. Exact rules name a
// single class and select no resources.
func (s *Selector) ResourcePrefixes() []string {
	var out []string
	for _, r := range s.keep {
		if r.Kind != RulePrefix {
			continue
		}
		out = append(out, strings.ReplaceAll(r.Pattern, ".", "/"))
	}
	return out
}
