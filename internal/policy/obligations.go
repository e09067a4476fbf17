package policy

import (
	"sort"
)

// Disclosure modes.
const (
	DisclosureNone            = "none"
	DisclosureAppendIfMissing = "append_if_missing"
)

type Disclosure struct {
	Mode string `json:"mode,omitempty" yaml:"mode"`
	Text string `json:"text,omitempty" yaml:"text"`
}

// Set reports whether the disclosure asks for anything.
func (d Disclosure) Set() bool { return d.Mode != "" || d.Text != "" }

type Logging struct {
	Enabled       bool `json:"enabled" yaml:"enabled"`
	IncludeArgs   bool `json:"include_args" yaml:"include_args"`
	IncludeResult bool `json:"include_result" yaml:"include_result"`
	TamperEvident bool `json:"tamper_evident" yaml:"tamper_evident"`
}

type Reflection struct {
	Required bool     `json:"required" yaml:"required"`
	Fields   []string `json:"fields" yaml:"fields"`
}

// Obligations are side constraints attached to a result.
type Obligations struct {
	Disclosure Disclosure `json:"disclosure" yaml:"disclosure"`
	Logging    Logging    `json:"logging" yaml:"logging"`
	Reflection Reflection `json:"reflection" yaml:"reflection"`
}

// ObligationConflict records a scalar obligation that two contributors set
// differently. The first contributor in document order wins.
type ObligationConflict struct {
	Field       string     `json:"field"`
	KeptFrom    string     `json:"kept_from"`
	Kept        Disclosure `json:"kept"`
	DroppedFrom string     `json:"dropped_from"`
	Dropped     Disclosure `json:"dropped"`
}

type contribution struct {
	source string
	ob     Obligations
}

// mergeObligations folds contributions in order. Booleans are OR-ed, lists
// are unioned, and disclosure keeps the first set value.
func mergeObligations(contribs []contribution) (Obligations, []ObligationConflict) {
	var (
		out       Obligations
		from      string
		conflicts []ObligationConflict
		fields    []string
	)
	for _, c := range contribs {
		if d := c.ob.Disclosure; d.Set() {
			switch {
			case !out.Disclosure.Set():
				out.Disclosure = d
				from = c.source
			case d != out.Disclosure:
				conflicts = append(conflicts, ObligationConflict{
					Field:       "disclosure",
					KeptFrom:    from,
					Kept:        out.Disclosure,
					DroppedFrom: c.source,
					Dropped:     d,
				})
			}
		}

		l := c.ob.Logging
		out.Logging.Enabled = out.Logging.Enabled || l.Enabled
		out.Logging.IncludeArgs = out.Logging.IncludeArgs || l.IncludeArgs
		out.Logging.IncludeResult = out.Logging.IncludeResult || l.IncludeResult
		out.Logging.TamperEvident = out.Logging.TamperEvident || l.TamperEvident

		out.Reflection.Required = out.Reflection.Required || c.ob.Reflection.Required
		fields = append(fields, c.ob.Reflection.Fields...)
	}
	out.Reflection.Fields = uniqueSorted(fields)
	return out, conflicts
}

func uniqueSorted(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
