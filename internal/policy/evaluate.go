package policy

import (
	"strings"

	"github.com/davidahmann/charter/internal/classify"
	"github.com/davidahmann/charter/internal/risk"
	"github.com/davidahmann/charter/internal/toolcall"
	"github.com/davidahmann/charter/pkg/types"
)

// Reason codes that do not name a rule.
const (
	ReasonDefault          = "default"
	ReasonNotLoaded        = "constitution_not_loaded"
	ReasonScopeUnavailable = "override_scope_unavailable"
)

const workspaceVar = "${WORKSPACE}"

// Result is the outcome of evaluating one call.
type Result struct {
	Decision        Decision              `json:"decision"`
	ReasonCode      string                `json:"reason_code"`
	Reason          string                `json:"reason,omitempty"`
	Risk            risk.Level            `json:"risk"`
	Classifications []string              `json:"classifications"`
	MatchedRules    []string              `json:"matched_rules"`
	Obligations     Obligations           `json:"obligations"`
	Override        *Override             `json:"override,omitempty"`
	Conflicts       []ObligationConflict  `json:"conflicts,omitempty"`
	Diagnostics     []toolcall.Diagnostic `json:"diagnostics,omitempty"`
	DocID           string                `json:"doc_id,omitempty"`
	DocHash         string                `json:"doc_hash,omitempty"`
	Revision        int                   `json:"revision,omitempty"`
}

// matchInput is what discriminators see.
type matchInput struct {
	tool string
	risk risk.Level
	tags classify.Set
}

var discriminatorTable = [discriminatorKindCount]func(Discriminator, matchInput) bool{
	DiscTool: func(d Discriminator, in matchInput) bool {
		return d.Values[0] == "*" || d.Values[0] == in.tool
	},
	DiscToolAnyOf: func(d Discriminator, in matchInput) bool {
		for _, t := range d.Values {
			if t == in.tool {
				return true
			}
		}
		return false
	},
	DiscRiskAtLeast: func(d Discriminator, in matchInput) bool {
		return in.risk.AtLeast(d.Risk)
	},
	DiscClassificationAnyOf: func(d Discriminator, in matchInput) bool {
		return in.tags.HasAny(d.Values)
	},
}

func (m Matcher) matches(in matchInput) bool {
	if len(m.Discriminators) == 0 {
		return false
	}
	for _, d := range m.Discriminators {
		if d.Kind >= discriminatorKindCount || !discriminatorTable[d.Kind](d, in) {
			return false
		}
	}
	return true
}

var predicateTable = [predicateKindCount]func(Predicate, toolcall.Facts) bool{
	PredPathPrefixAny: func(p Predicate, f toolcall.Facts) bool {
		if f.MalformedPaths || len(f.Paths) == 0 {
			return false
		}
		prefixes := expandPrefixes(p.Values, f.Workspace)
		for _, path := range f.Paths {
			if !withinAny(path, prefixes) {
				return false
			}
		}
		return true
	},
	PredDomainAnyOf: func(p Predicate, f toolcall.Facts) bool {
		if f.MalformedURLs || len(f.Domains) == 0 {
			return false
		}
		for _, d := range f.Domains {
			if !toolcall.DomainAllowed(d, p.Values) {
				return false
			}
		}
		return true
	},
	PredExplicitConfirmation: func(p Predicate, f toolcall.Facts) bool {
		return f.Confirmed == p.Flag
	},
	PredUserRequested: func(p Predicate, f toolcall.Facts) bool {
		return f.UserRequested != nil && *f.UserRequested == p.Flag
	},
}

// expandPrefixes substitutes ${WORKSPACE}. Prefixes that need a workspace
// the call did not declare are dropped.
func expandPrefixes(prefixes []string, workspace string) []string {
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if strings.Contains(p, workspaceVar) {
			if workspace == "" {
				continue
			}
			p = strings.ReplaceAll(p, workspaceVar, workspace)
		}
		if n := toolcall.NormalizePath(p); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func withinAny(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if toolcall.Within(path, prefix) {
			return true
		}
	}
	return false
}

func (o Outcome) resolve(f toolcall.Facts) Decision {
	if o.Kind == OutcomeDirect {
		return o.Decision
	}
	for _, p := range o.AllowIf {
		if p.Kind < predicateKindCount && predicateTable[p.Kind](p, f) {
			return Allow
		}
	}
	return o.Otherwise
}

// Evaluate applies doc to call given its risk level and classifications.
// It is pure: identical inputs give identical results.
func Evaluate(doc *Document, call types.ToolCall, level risk.Level, tags classify.Set) Result {
	return evaluateFacts(doc, call, toolcall.Extract(call), level, tags)
}

func evaluateFacts(doc *Document, call types.ToolCall, facts toolcall.Facts, level risk.Level, tags classify.Set) Result {
	if tags == nil {
		tags = classify.Set{}
	}
	res := Result{
		Risk:            level,
		Classifications: tags.Sorted(),
		MatchedRules:    []string{},
		Diagnostics:     facts.Diagnostics,
		DocID:           doc.ID,
		DocHash:         doc.DocHash,
		Revision:        doc.Revision,
	}

	in := matchInput{tool: facts.Tool, risk: level, tags: tags}
	type hit struct {
		rule     *Rule
		decision Decision
	}
	var hits []hit
	contribs := make([]contribution, 0, len(doc.Rules)+1)
	final := Allow

	for i := range doc.Rules {
		rule := &doc.Rules[i]
		if !rule.When.matches(in) {
			continue
		}
		d := rule.Outcome.resolve(facts)
		hits = append(hits, hit{rule: rule, decision: d})
		res.MatchedRules = append(res.MatchedRules, rule.ID)
		// require attaches whenever the matcher matched, whichever branch resolved
		contribs = append(contribs, contribution{source: "rule:" + rule.ID, ob: rule.Require})
		final = MaxDecision(final, d)
	}

	if len(hits) == 0 {
		final = doc.Defaults.Decision
		res.ReasonCode = ReasonDefault
	} else {
		for _, h := range hits {
			if h.decision == final {
				res.ReasonCode = h.rule.ID
				res.Reason = h.rule.Reason
				break
			}
		}
	}
	contribs = append(contribs, contribution{source: "defaults", ob: doc.Defaults.Obligations})
	res.Obligations, res.Conflicts = mergeObligations(contribs)
	res.Decision = final

	if final == Confirm {
		ov, err := NewOverride(call)
		if err != nil {
			res.Decision = Deny
			res.ReasonCode = ReasonScopeUnavailable
			res.Reason = ""
			res.Diagnostics = append(res.Diagnostics, toolcall.Diagnostic{
				Code:    ReasonScopeUnavailable,
				Field:   "args",
				Message: err.Error(),
			})
		} else {
			res.Override = &ov
		}
	}
	return res
}
