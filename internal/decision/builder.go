package decision

import (
	"github.com/davidahmann/charter/internal/crypto"
	"github.com/davidahmann/charter/internal/policy"
	"github.com/davidahmann/charter/pkg/types"
)

const DecisionSchema = "charter.decision.v0.1"

// BuildDecision builds a decision record for an evaluation result and
// computes its decision_id.
func BuildDecision(contextID string, res policy.Result, createdAt string) (types.DecisionRecord, error) {
	record := types.DecisionRecord{
		Schema:    DecisionSchema,
		CreatedAt: createdAt,
		ContextID: contextID,
		Constitution: types.DecisionConstitution{
			ID:       res.DocID,
			Revision: res.Revision,
			DocHash:  res.DocHash,
		},
		Decision:        res.Decision.String(),
		ReasonCode:      res.ReasonCode,
		Risk:            res.Risk.String(),
		Classifications: nonNil(res.Classifications),
		MatchedRules:    nonNil(res.MatchedRules),
	}
	if res.Override != nil {
		record.ScopeHash = res.Override.ScopeHash
	}

	signingView := map[string]any{
		"schema":     record.Schema,
		"created_at": record.CreatedAt,
		"context_id": record.ContextID,
		"constitution": map[string]any{
			"id":       record.Constitution.ID,
			"revision": record.Constitution.Revision,
			"doc_hash": record.Constitution.DocHash,
		},
		"decision":        record.Decision,
		"reason_code":     record.ReasonCode,
		"risk":            record.Risk,
		"classifications": record.Classifications,
		"matched_rules":   record.MatchedRules,
		"scope_hash":      record.ScopeHash,
	}

	canonical, err := crypto.Canonicalize(signingView)
	if err != nil {
		return types.DecisionRecord{}, err
	}

	record.DecisionID = crypto.DigestWithPrefix(canonical)
	return record, nil
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
