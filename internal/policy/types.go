package policy

import (
	"github.com/davidahmann/charter/internal/risk"
)

// SupportedVersion is the only document format version this engine reads.
const SupportedVersion = 1

// Document is a loaded, validated constitution. It is never mutated after
// load; a reload replaces it wholesale.
type Document struct {
	Version            int
	ID                 string
	Revision           int
	DocHash            string
	ImmutabilityLocked bool
	RequiresEngine     string
	Defaults           Defaults
	Egress             Egress
	ToolRisk           map[string]risk.Level
	Rules              []Rule
}

type Defaults struct {
	Decision    Decision
	Obligations Obligations
}

type Egress struct {
	AllowlistDomains []string
}

// Rule is one ordered entry of the document.
type Rule struct {
	ID      string
	Reason  string
	When    Matcher
	Outcome Outcome
	Require Obligations
}

// DiscriminatorKind is the closed set of matcher fields.
type DiscriminatorKind uint8

const (
	DiscTool DiscriminatorKind = iota
	DiscToolAnyOf
	DiscRiskAtLeast
	DiscClassificationAnyOf

	discriminatorKindCount
)

var discriminatorKeys = [discriminatorKindCount]string{
	DiscTool:                "tool",
	DiscToolAnyOf:           "tool_any_of",
	DiscRiskAtLeast:         "risk_at_least",
	DiscClassificationAnyOf: "classification_any_of",
}

func (k DiscriminatorKind) String() string {
	if k < discriminatorKindCount {
		return discriminatorKeys[k]
	}
	return "unknown"
}

// Discriminator is one matcher condition. Values holds tool names or tags;
// Risk is used by DiscRiskAtLeast.
type Discriminator struct {
	Kind   DiscriminatorKind
	Values []string
	Risk   risk.Level
}

// Matcher matches when every discriminator does. Validation guarantees at
// least one.
type Matcher struct {
	Discriminators []Discriminator
}

// OutcomeKind distinguishes direct from conditional outcomes.
type OutcomeKind uint8

const (
	OutcomeDirect OutcomeKind = iota
	OutcomeConditional
)

// Outcome is Direct(Decision) or Conditional(AllowIf, Otherwise).
type Outcome struct {
	Kind      OutcomeKind
	Decision  Decision
	AllowIf   []Predicate
	Otherwise Decision
}

// Direct builds a direct outcome.
func Direct(d Decision) Outcome { return Outcome{Kind: OutcomeDirect, Decision: d} }

// Conditional builds a conditional outcome.
func Conditional(otherwise Decision, allowIf ...Predicate) Outcome {
	return Outcome{Kind: OutcomeConditional, AllowIf: allowIf, Otherwise: otherwise}
}

// PredicateKind is the closed set of allow_if conditions.
type PredicateKind uint8

const (
	PredPathPrefixAny PredicateKind = iota
	PredDomainAnyOf
	PredExplicitConfirmation
	PredUserRequested

	predicateKindCount
)

var predicateKeys = [predicateKindCount]string{
	PredPathPrefixAny:        "path_prefix_any",
	PredDomainAnyOf:          "domain_any_of",
	PredExplicitConfirmation: "explicit_confirmation",
	PredUserRequested:        "user_requested",
}

func (k PredicateKind) String() string {
	if k < predicateKindCount {
		return predicateKeys[k]
	}
	return "unknown"
}

// Predicate is one allow_if condition. Values holds prefixes or domains;
// Flag is the expected boolean for intent predicates.
type Predicate struct {
	Kind   PredicateKind
	Values []string
	Flag   bool
}
