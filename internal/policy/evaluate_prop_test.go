package policy

import (
	"fmt"
	"testing"

	"github.com/davidahmann/charter/internal/risk"
	"github.com/davidahmann/charter/pkg/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// ruleSpec is a generated rule: the decision it resolves to and whether it
// asks for tamper-evident logging or reflection.
type ruleSpec struct {
	Decision   int
	Tamper     bool
	Reflection bool
}

func genRuleSpec() gopter.Gen {
	return gopter.CombineGens(gen.IntRange(0, 2), gen.Bool(), gen.Bool()).Map(func(v []any) ruleSpec {
		return ruleSpec{Decision: v[0].(int), Tamper: v[1].(bool), Reflection: v[2].(bool)}
	})
}

func docFromSpecs(specs []ruleSpec) *Document {
	doc := &Document{ID: "generated", Revision: 1, Defaults: Defaults{Decision: Confirm}}
	for i, s := range specs {
		doc.Rules = append(doc.Rules, Rule{
			ID:      fmt.Sprintf("r%d", i),
			When:    Matcher{Discriminators: []Discriminator{{Kind: DiscTool, Values: []string{"*"}}}},
			Outcome: Direct(Decision(s.Decision)),
			Require: Obligations{
				Logging:    Logging{Enabled: true, TamperEvident: s.Tamper},
				Reflection: Reflection{Required: s.Reflection},
			},
		})
	}
	return doc
}

func TestEvaluateProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)
	call := types.ToolCall{Tool: "read", Args: map[string]any{"path": "/tmp/a"}}

	properties.Property("final decision is the maximum over matched rules", prop.ForAll(
		func(specs []ruleSpec) bool {
			res := Evaluate(docFromSpecs(specs), call, risk.Medium, nil)
			if len(specs) == 0 {
				return res.Decision == Confirm && res.ReasonCode == ReasonDefault
			}
			want := Allow
			for _, s := range specs {
				want = MaxDecision(want, Decision(s.Decision))
			}
			return res.Decision == want
		},
		gen.SliceOf(genRuleSpec()),
	))

	properties.Property("adding a matched rule never loosens the result", prop.ForAll(
		func(specs []ruleSpec, extra ruleSpec) bool {
			if len(specs) == 0 {
				return true
			}
			before := Evaluate(docFromSpecs(specs), call, risk.Medium, nil)
			after := Evaluate(docFromSpecs(append(append([]ruleSpec(nil), specs...), extra)), call, risk.Medium, nil)

			if after.Decision < before.Decision {
				return false
			}
			if before.Obligations.Logging.TamperEvident && !after.Obligations.Logging.TamperEvident {
				return false
			}
			if before.Obligations.Reflection.Required && !after.Obligations.Reflection.Required {
				return false
			}
			return true
		},
		gen.SliceOf(genRuleSpec()),
		genRuleSpec(),
	))

	properties.Property("deny never carries an override, confirm always does", prop.ForAll(
		func(specs []ruleSpec) bool {
			res := Evaluate(docFromSpecs(specs), call, risk.Medium, nil)
			switch res.Decision {
			case Deny, Allow:
				return res.Override == nil
			default:
				return res.Override != nil && res.Override.ScopeHash != ""
			}
		},
		gen.SliceOf(genRuleSpec()),
	))

	properties.TestingRun(t)
}
