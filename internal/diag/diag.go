// Package diag collects non-fatal problems found during a run.
package diag

import "fmt"

// Kind classifies a diagnostic.
type Kind string

const (
	KindRuleParse    Kind = "rule_parse"
	KindClassRewrite Kind = "class_rewrite"
	KindClassRead    Kind = "class_read"
	KindCallSite     Kind = "call_site"
)

// Diag records one non-fatal issue. Subject is the rule text or class name
// the issue belongs to.
type Diag struct {
	Subject string `json:"subject"`
	Kind    Kind   `json:"kind"`
	Msg     string `json:"msg"`
}

func (d Diag) String() string {
	return fmt.Sprintf("[%s] %s: %s", d.Kind, d.Subject, d.Msg)
}

// Diags accumulates diagnostics in the order they were reported.
type Diags struct {
	items []Diag
}

func (d *Diags) Add(subject string, kind Kind, msg string) {
	d.items = append(d.items, Diag{Subject: subject, Kind: kind, Msg: msg})
}

func (d *Diags) Items() []Diag { return d.items }
func (d *Diags) Len() int      { return len(d.items) }

// Count returns the number of diagnostics of the given kind.
func (d *Diags) Count(kind Kind) int {
	n := 0
	for _, it := range d.items {
		if it.Kind == kind {
			n++
		}
	}
	return n
}

// Subjects returns the distinct subjects of the given kind, in report order.
func (d *Diags) Subjects(kind Kind) []string {
	seen := map[string]bool{}
	var out []string
	for _, it := range d.items {
		if it.Kind == kind && !seen[it.Subject] {
			seen[it.Subject] = true
			out = append(out, it.Subject)
		}
	}
	return out
}

// Mode controls error handling behavior.
type Mode int

const (
	ModeBestEffort Mode = iota // record the problem, keep going
	ModeStrict                 // first class rewrite error aborts the run
)

func (m Mode) String() string {
	if m == ModeStrict {
		return "strict"
	}
	return "best-effort"
}
