package policy

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/davidahmann/charter/internal/classify"
	"github.com/davidahmann/charter/internal/crypto"
	"github.com/davidahmann/charter/internal/risk"
	"github.com/davidahmann/charter/internal/toolcall"
	"gopkg.in/yaml.v3"
)

// EngineVersion is matched against a document's requires_engine constraint.
const EngineVersion = "0.1.0"

var (
	ErrSchema          = errors.New("constitution schema violation")
	ErrDocHashMissing  = errors.New("constitution declares no doc_hash")
	ErrDocHashMismatch = errors.New("declared doc_hash does not match canonical digest")
)

// LoadedDocument is a document together with the material it was loaded from.
type LoadedDocument struct {
	Document  *Document
	Bytes     []byte
	Canonical []byte
	Signature crypto.SignatureRecord
}

// ReadFiles loads and verifies a document and its detached signature.
func ReadFiles(docPath, sigPath string, pub ed25519.PublicKey) (LoadedDocument, error) {
	// #nosec G304 -- paths are operator-configured.
	raw, err := os.ReadFile(docPath)
	if err != nil {
		return LoadedDocument{}, err
	}
	sig, err := crypto.ReadSignatureRecord(sigPath)
	if err != nil {
		return LoadedDocument{}, err
	}
	return LoadVerified(raw, sig, pub)
}

// LoadVerified checks the declared doc hash and signature of raw, then
// validates it. Any failure is fatal.
func LoadVerified(raw []byte, sig crypto.SignatureRecord, pub ed25519.PublicKey) (LoadedDocument, error) {
	tree, err := ParseTree(raw)
	if err != nil {
		return LoadedDocument{}, err
	}
	canonical, err := CanonicalBytes(tree)
	if err != nil {
		return LoadedDocument{}, err
	}
	computed := crypto.DigestWithPrefix(canonical)
	if err := checkDeclaredHash(tree, computed); err != nil {
		return LoadedDocument{}, err
	}
	if err := crypto.VerifyDocument(sig, computed, pub); err != nil {
		return LoadedDocument{}, err
	}

	doc, err := Parse(raw)
	if err != nil {
		return LoadedDocument{}, err
	}
	return LoadedDocument{Document: doc, Bytes: raw, Canonical: canonical, Signature: sig}, nil
}

func checkDeclaredHash(tree map[string]any, computed string) error {
	declared, ok := tree[DocHashKey].(string)
	if !ok || strings.TrimSpace(declared) == "" {
		return ErrDocHashMissing
	}
	if declared != computed {
		return fmt.Errorf("%w: declared %s, computed %s", ErrDocHashMismatch, declared, computed)
	}
	return nil
}

// Parse decodes and validates raw without any integrity check. Every
// violation is reported, joined under ErrSchema.
func Parse(raw []byte) (*Document, error) {
	var rd rawDocument
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&rd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	doc, errs := compile(rd)
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrSchema, errors.Join(errs...))
	}
	return doc, nil
}

type rawDocument struct {
	Version            int               `yaml:"version"`
	ID                 string            `yaml:"id"`
	Revision           int               `yaml:"revision"`
	DocHash            string            `yaml:"doc_hash"`
	ImmutabilityLocked bool              `yaml:"immutability_locked"`
	RequiresEngine     string            `yaml:"requires_engine"`
	Description        string            `yaml:"description"`
	Defaults           rawDefaults       `yaml:"defaults"`
	Egress             rawEgress         `yaml:"egress"`
	ToolRisk           map[string]string `yaml:"tool_risk"`
	Rules              []rawRule         `yaml:"rules"`
}

type rawDefaults struct {
	Decision    string      `yaml:"decision"`
	Obligations Obligations `yaml:"obligations"`
}

type rawEgress struct {
	AllowlistDomains []string `yaml:"allowlist_domains"`
}

type rawRule struct {
	ID          string        `yaml:"id"`
	Reason      string        `yaml:"reason"`
	Description string        `yaml:"description"`
	When        rawWhen       `yaml:"when"`
	Action      string        `yaml:"action"`
	AllowIf     rawPredicates `yaml:"allow_if"`
	Otherwise   *rawOtherwise `yaml:"otherwise"`
	Require     Obligations   `yaml:"require"`
}

type rawWhen struct {
	Tool                string   `yaml:"tool"`
	ToolAnyOf           []string `yaml:"tool_any_of"`
	RiskAtLeast         string   `yaml:"risk_at_least"`
	ClassificationAnyOf []string `yaml:"classification_any_of"`
}

type rawOtherwise struct {
	Action string `yaml:"action"`
}

type rawPredicate struct {
	key    string
	line   int
	values []string
	flag   bool
}

// rawPredicates accepts either a mapping of predicates or a sequence of
// single-key mappings. Authored order is kept in both forms.
type rawPredicates []rawPredicate

func (p *rawPredicates) UnmarshalYAML(node *yaml.Node) error {
	var out rawPredicates
	add := func(k, v *yaml.Node) error {
		pred := rawPredicate{key: k.Value, line: k.Line}
		switch k.Value {
		case "path_prefix_any", "domain_any_of":
			if err := v.Decode(&pred.values); err != nil {
				return fmt.Errorf("line %d: %s must be a list of strings", k.Line, k.Value)
			}
		case "explicit_confirmation", "user_requested":
			if err := v.Decode(&pred.flag); err != nil {
				return fmt.Errorf("line %d: %s must be a boolean", k.Line, k.Value)
			}
		default:
			return fmt.Errorf("line %d: unknown allow_if predicate %q", k.Line, k.Value)
		}
		out = append(out, pred)
		return nil
	}

	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			if err := add(node.Content[i], node.Content[i+1]); err != nil {
				return err
			}
		}
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if item.Kind != yaml.MappingNode || len(item.Content) != 2 {
				return fmt.Errorf("line %d: each allow_if entry must hold exactly one predicate", item.Line)
			}
			if err := add(item.Content[0], item.Content[1]); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("line %d: allow_if must be a mapping or a list", node.Line)
	}
	*p = out
	return nil
}

func compile(rd rawDocument) (*Document, []error) {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	doc := &Document{
		Version:            rd.Version,
		ID:                 strings.TrimSpace(rd.ID),
		Revision:           rd.Revision,
		DocHash:            rd.DocHash,
		ImmutabilityLocked: rd.ImmutabilityLocked,
		RequiresEngine:     rd.RequiresEngine,
		ToolRisk:           map[string]risk.Level{},
	}

	if rd.Version != SupportedVersion {
		fail("version: unsupported version %d", rd.Version)
	}
	if doc.ID == "" {
		fail("id: required")
	}
	if rd.Revision < 1 {
		fail("revision: must be >= 1")
	}
	if rd.RequiresEngine != "" {
		if err := checkEngine(rd.RequiresEngine); err != nil {
			fail("requires_engine: %v", err)
		}
	}

	doc.Defaults.Decision = Confirm
	if rd.Defaults.Decision != "" {
		d, err := ParseDecision(rd.Defaults.Decision)
		if err != nil {
			fail("defaults.decision: %v", err)
		}
		doc.Defaults.Decision = d
	}
	doc.Defaults.Obligations = rd.Defaults.Obligations
	for _, err := range validateObligations(rd.Defaults.Obligations) {
		fail("defaults.obligations.%v", err)
	}

	for i, d := range rd.Egress.AllowlistDomains {
		norm, err := toolcall.NormalizeDomain(d)
		if err != nil || norm == "" {
			fail("egress.allowlist_domains[%d]: invalid domain %q", i, d)
			continue
		}
		doc.Egress.AllowlistDomains = append(doc.Egress.AllowlistDomains, norm)
	}

	for tool, level := range rd.ToolRisk {
		l, err := risk.ParseLevel(level)
		if err != nil {
			fail("tool_risk.%s: %v", tool, err)
			continue
		}
		doc.ToolRisk[tool] = l
	}

	seen := map[string]int{}
	for i, rr := range rd.Rules {
		rule, ruleErrs := compileRule(rr)
		for _, err := range ruleErrs {
			fail("rules[%d] (%s): %v", i, rr.ID, err)
		}
		if rule.ID != "" {
			if prev, dup := seen[rule.ID]; dup {
				fail("rules[%d]: duplicate id %q (first at rules[%d])", i, rule.ID, prev)
			}
			seen[rule.ID] = i
		}
		doc.Rules = append(doc.Rules, rule)
	}
	return doc, errs
}

func checkEngine(constraint string) error {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return err
	}
	v := semver.MustParse(EngineVersion)
	if !c.Check(v) {
		return fmt.Errorf("engine %s does not satisfy %q", EngineVersion, constraint)
	}
	return nil
}

func compileRule(rr rawRule) (Rule, []error) {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	rule := Rule{
		ID:      strings.TrimSpace(rr.ID),
		Reason:  rr.Reason,
		Require: rr.Require,
	}
	if rule.ID == "" {
		fail("id: required")
	}

	w := rr.When
	if w.Tool != "" {
		rule.When.Discriminators = append(rule.When.Discriminators, Discriminator{Kind: DiscTool, Values: []string{w.Tool}})
	}
	if w.ToolAnyOf != nil {
		if len(nonBlank(w.ToolAnyOf)) != len(w.ToolAnyOf) || len(w.ToolAnyOf) == 0 {
			fail("when.tool_any_of: must be a non-empty list of tool names")
		}
		rule.When.Discriminators = append(rule.When.Discriminators, Discriminator{Kind: DiscToolAnyOf, Values: w.ToolAnyOf})
	}
	if w.RiskAtLeast != "" {
		l, err := risk.ParseLevel(w.RiskAtLeast)
		if err != nil {
			fail("when.risk_at_least: %v", err)
		}
		rule.When.Discriminators = append(rule.When.Discriminators, Discriminator{Kind: DiscRiskAtLeast, Risk: l})
	}
	if w.ClassificationAnyOf != nil {
		if len(w.ClassificationAnyOf) == 0 {
			fail("when.classification_any_of: must not be empty")
		}
		for _, tag := range w.ClassificationAnyOf {
			if !classify.Known(tag) {
				fail("when.classification_any_of: unknown classification %q", tag)
			}
		}
		rule.When.Discriminators = append(rule.When.Discriminators, Discriminator{Kind: DiscClassificationAnyOf, Values: w.ClassificationAnyOf})
	}
	if len(rule.When.Discriminators) == 0 {
		fail("when: at least one discriminator is required")
	}

	switch {
	case rr.Action != "" && rr.AllowIf != nil:
		fail("action and allow_if are mutually exclusive")
	case rr.Action != "":
		if rr.Otherwise != nil {
			fail("otherwise requires allow_if")
		}
		d, err := ParseDecision(rr.Action)
		if err != nil {
			fail("action: %v", err)
		}
		rule.Outcome = Direct(d)
	case rr.AllowIf != nil:
		if len(rr.AllowIf) == 0 {
			fail("allow_if: must hold at least one predicate")
		}
		otherwise := Confirm
		if rr.Otherwise != nil {
			d, err := ParseDecision(rr.Otherwise.Action)
			if err != nil {
				fail("otherwise.action: %v", err)
			}
			otherwise = d
		}
		preds := make([]Predicate, 0, len(rr.AllowIf))
		for _, rp := range rr.AllowIf {
			p, err := compilePredicate(rp)
			if err != nil {
				fail("allow_if.%s: %v", rp.key, err)
				continue
			}
			preds = append(preds, p)
		}
		rule.Outcome = Conditional(otherwise, preds...)
	default:
		fail("one of action or allow_if is required")
	}

	for _, err := range validateObligations(rr.Require) {
		fail("require.%v", err)
	}
	return rule, errs
}

func compilePredicate(rp rawPredicate) (Predicate, error) {
	switch rp.key {
	case "path_prefix_any":
		if len(nonBlank(rp.values)) == 0 {
			return Predicate{}, errors.New("needs at least one prefix")
		}
		return Predicate{Kind: PredPathPrefixAny, Values: nonBlank(rp.values)}, nil
	case "domain_any_of":
		var domains []string
		for _, d := range rp.values {
			norm, err := toolcall.NormalizeDomain(d)
			if err != nil || norm == "" {
				return Predicate{}, fmt.Errorf("invalid domain %q", d)
			}
			domains = append(domains, norm)
		}
		if len(domains) == 0 {
			return Predicate{}, errors.New("needs at least one domain")
		}
		return Predicate{Kind: PredDomainAnyOf, Values: domains}, nil
	case "explicit_confirmation":
		return Predicate{Kind: PredExplicitConfirmation, Flag: rp.flag}, nil
	case "user_requested":
		return Predicate{Kind: PredUserRequested, Flag: rp.flag}, nil
	default:
		return Predicate{}, fmt.Errorf("unknown predicate")
	}
}

func validateObligations(o Obligations) []error {
	var errs []error
	switch o.Disclosure.Mode {
	case "", DisclosureNone:
		if o.Disclosure.Text != "" && o.Disclosure.Mode == "" {
			errs = append(errs, errors.New("disclosure.text requires disclosure.mode"))
		}
	case DisclosureAppendIfMissing:
		if strings.TrimSpace(o.Disclosure.Text) == "" {
			errs = append(errs, errors.New("disclosure.text: required for append_if_missing"))
		}
	default:
		errs = append(errs, fmt.Errorf("disclosure.mode: unknown mode %q", o.Disclosure.Mode))
	}
	for _, f := range o.Reflection.Fields {
		if strings.TrimSpace(f) == "" {
			errs = append(errs, errors.New("reflection.fields: blank field name"))
		}
	}
	return errs
}

func nonBlank(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
