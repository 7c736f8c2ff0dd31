package rules

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrRuleParse reports a malformed rename directive.
var ErrRuleParse = errors.New("rules: malformed rename directive")

// Mapping renames one class. Names are dotted.
type Mapping struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// InternalFrom returns From in slash-separated classfile form.
func (m Mapping) InternalFrom() string { return strings.ReplaceAll(m.From, ".", "/") }

// InternalTo returns To in slash-separated classfile form.
func (m Mapping) InternalTo() string { return strings.ReplaceAll(m.To, ".", "/") }

func (m Mapping) String() string { return m.From + "=" + m.To }

// ParseRenames parses "from=to" directives in order. Invalid directives are
// dropped and reported; they never stop the remaining ones from parsing.
func ParseRenames(directives []string) ([]Mapping, []error) {
	var (
		out  []Mapping
		errs []error
	)
	for _, d := range directives {
		i := strings.IndexByte(d, '=')
		switch {
		case i < 0:
			errs = append(errs, errors.Wrapf(ErrRuleParse, "%q: missing '='", d))
			continue
		case i == 0:
			errs = append(errs, errors.Wrapf(ErrRuleParse, "%q: empty source class", d))
			continue
		case i == len(d)-1:
			errs = append(errs, errors.Wrapf(ErrRuleParse, "%q: empty target class", d))
			continue
		}
		out = append(out, Mapping{From: d[:i], To: d[i+1:]})
	}
	return out, errs
}

// KeepWithRenames returns an exact rule for every mapped class followed by
// keep. The exact rules come first, so a renamed class is kept even when a
// user rule would exclude it.
func KeepWithRenames(keep []string, mappings []Mapping) []string {
	out := make([]string, 0, len(keep)+len(mappings))
	for _, m := range mappings {
		out = append(out, "="+m.From)
	}
	return append(out, keep...)
}
