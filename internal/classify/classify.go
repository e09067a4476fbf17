// Package classify tags tool calls with harm and authorization classes.
//
// Each pattern rule contributes tags independently; the result is their
// union followed by promotion rules that only ever add tags.
package classify

import (
	"regexp"
	"sort"
	"strings"

	"github.com/davidahmann/charter/internal/toolcall"
	"github.com/davidahmann/charter/pkg/types"
)

// Tag vocabulary.
const (
	HiddenAction               = "hidden_action"
	UnauthorizedFileAccess     = "unauthorized_file_access"
	UnauthorizedEgress         = "unauthorized_egress"
	Impersonation              = "impersonation"
	HarmFinancial              = "harm_financial"
	HarmReputational           = "harm_reputational"
	HarmPhysical               = "harm_physical"
	ConstitutionallyProhibited = "constitutionally_prohibited"
)

// Vocabulary lists every tag the classifier can emit.
var Vocabulary = []string{
	ConstitutionallyProhibited,
	HarmFinancial,
	HarmPhysical,
	HarmReputational,
	HiddenAction,
	Impersonation,
	UnauthorizedEgress,
	UnauthorizedFileAccess,
}

// Set is an immutable set of tags.
type Set map[string]struct{}

// NewSet builds a set from tags.
func NewSet(tags ...string) Set {
	s := make(Set, len(tags))
	for _, t := range tags {
		s[t] = struct{}{}
	}
	return s
}

func (s Set) Has(tag string) bool {
	_, ok := s[tag]
	return ok
}

// HasAny reports whether any of tags is in s.
func (s Set) HasAny(tags []string) bool {
	for _, t := range tags {
		if s.Has(t) {
			return true
		}
	}
	return false
}

// Sorted returns the tags in lexical order; never nil.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Config carries the document-level inputs to classification.
type Config struct {
	AllowlistDomains []string
}

// Classifier applies the pattern rules. It is immutable.
type Classifier struct {
	allowlist []string
}

// New builds a classifier.
func New(cfg Config) *Classifier {
	c := &Classifier{}
	for _, d := range cfg.AllowlistDomains {
		if norm, err := toolcall.NormalizeDomain(d); err == nil && norm != "" {
			c.allowlist = append(c.allowlist, norm)
		}
	}
	return c
}

// Classify extracts facts from call and classifies them.
func (c *Classifier) Classify(call types.ToolCall) Set {
	return c.ClassifyFacts(toolcall.Extract(call))
}

// ClassifyFacts returns the union of every rule's contribution plus
// promotions.
func (c *Classifier) ClassifyFacts(f toolcall.Facts) Set {
	out := Set{}
	for _, r := range rules {
		if r.match(c, f) {
			out[r.tag] = struct{}{}
		}
	}
	for _, p := range promotions {
		if out.HasAny(p.from) {
			out[p.to] = struct{}{}
		}
	}
	return out
}

type rule struct {
	tag   string
	match func(*Classifier, toolcall.Facts) bool
}

type promotion struct {
	from []string
	to   string
}

var (
	identityClaimPattern = regexp.MustCompile(`\b(?i:this is|i am|i'm|from)\s+\p{Lu}\p{Ll}+\b`)
	aiDisclosurePattern  = regexp.MustCompile(`(?i)\b(?:ai|assistant|bot)\b`)
	reputationalPattern  = regexp.MustCompile(`(?i)\b(?:defame|ruin|expose|leak|doxx)\w*`)
	destructiveExec      = regexp.MustCompile(`(?i)(?:\brm\s+-[a-z]*r[a-z]*f|\bdel\s+/[sq]|\bformat\s+[a-z]:|\bmkfs\b)`)
	physicalPattern      = regexp.MustCompile(`(?i)\b(?:disable|override|bypass)\s+(?:the\s+)?(?:safety|brakes?|alarm|smoke detector|interlock)s?\b`)
)

var rules = []rule{
	{HiddenAction, func(_ *Classifier, f toolcall.Facts) bool {
		return f.UserRequested != nil && !*f.UserRequested
	}},
	{UnauthorizedFileAccess, func(_ *Classifier, f toolcall.Facts) bool {
		if f.MalformedPaths {
			return true
		}
		if f.Workspace == "" {
			return false
		}
		for _, p := range f.Paths {
			if !toolcall.Within(p, f.Workspace) {
				return true
			}
		}
		return false
	}},
	{UnauthorizedEgress, func(c *Classifier, f toolcall.Facts) bool {
		if f.MalformedURLs {
			return true
		}
		for _, d := range f.Domains {
			if !toolcall.DomainAllowed(d, c.allowlist) {
				return true
			}
		}
		return false
	}},
	{Impersonation, func(_ *Classifier, f toolcall.Facts) bool {
		for _, text := range f.Texts {
			if identityClaimPattern.MatchString(text) && !aiDisclosurePattern.MatchString(text) {
				return true
			}
		}
		return false
	}},
	{HarmReputational, func(_ *Classifier, f toolcall.Facts) bool {
		return anyMatch(reputationalPattern, f.Texts)
	}},
	{HarmFinancial, func(_ *Classifier, f toolcall.Facts) bool {
		return anyMatch(destructiveExec, f.Commands)
	}},
	{HarmPhysical, func(_ *Classifier, f toolcall.Facts) bool {
		return anyMatch(physicalPattern, f.Texts) || anyMatch(physicalPattern, f.Commands)
	}},
}

var promotions = []promotion{
	{from: []string{HarmFinancial, HarmPhysical, HarmReputational}, to: ConstitutionallyProhibited},
}

func anyMatch(re *regexp.Regexp, values []string) bool {
	for _, v := range values {
		if re.MatchString(v) {
			return true
		}
	}
	return false
}

// Known reports whether tag belongs to the vocabulary.
func Known(tag string) bool {
	tag = strings.TrimSpace(tag)
	for _, v := range Vocabulary {
		if v == tag {
			return true
		}
	}
	return false
}
