package decision

import (
	"testing"

	"github.com/davidahmann/charter/internal/policy"
	"github.com/davidahmann/charter/internal/risk"
)

func TestBuildDecisionDeterministicID(t *testing.T) {
	res := policy.Result{
		Decision:        policy.Confirm,
		ReasonCode:      "impersonation_guard",
		Risk:            risk.High,
		Classifications: []string{"impersonation"},
		MatchedRules:    []string{"impersonation_guard"},
		Override:        &policy.Override{ScopeHash: "sha256:scope"},
		DocID:           "charter-default",
		DocHash:         "sha256:doc",
		Revision:        2,
	}

	recA, err := BuildDecision("sha256:ctx", res, "2026-01-20T16:34:13Z")
	if err != nil {
		t.Fatalf("build decision: %v", err)
	}

	recB, err := BuildDecision("sha256:ctx", res, "2026-01-20T16:34:13Z")
	if err != nil {
		t.Fatalf("build decision: %v", err)
	}

	if recA.DecisionID == "" {
		t.Fatalf("decision id missing")
	}
	if recA.DecisionID != recB.DecisionID {
		t.Fatalf("decision id not deterministic")
	}
	if recA.Decision != "confirm" || recA.Risk != "high" || recA.ScopeHash != "sha256:scope" {
		t.Fatalf("unexpected record %+v", recA)
	}

	res.Risk = risk.Critical
	recC, err := BuildDecision("sha256:ctx", res, "2026-01-20T16:34:13Z")
	if err != nil {
		t.Fatalf("build decision: %v", err)
	}
	if recA.DecisionID == recC.DecisionID {
		t.Fatalf("decision id should change when risk changes")
	}
}

func TestBuildDecisionWithoutOverride(t *testing.T) {
	rec, err := BuildDecision("sha256:ctx", policy.Result{Decision: policy.Deny, ReasonCode: policy.ReasonNotLoaded}, "2026-01-20T16:34:13Z")
	if err != nil {
		t.Fatalf("build decision: %v", err)
	}
	if rec.ScopeHash != "" {
		t.Fatalf("deny must not carry a scope hash")
	}
	if rec.Classifications == nil || rec.MatchedRules == nil {
		t.Fatalf("lists should be empty, not nil")
	}
}
