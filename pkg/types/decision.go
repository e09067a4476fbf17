package types

type DecisionRecord struct {
	Schema          string               `json:"schema"`
	DecisionID      string               `json:"decision_id"`
	CreatedAt       string               `json:"created_at"`
	ContextID       string               `json:"context_id"`
	Constitution    DecisionConstitution `json:"constitution"`
	Decision        string               `json:"decision"`
	ReasonCode      string               `json:"reason_code"`
	Risk            string               `json:"risk"`
	Classifications []string             `json:"classifications"`
	MatchedRules    []string             `json:"matched_rules"`
	ScopeHash       string               `json:"scope_hash,omitempty"`
}

type DecisionConstitution struct {
	ID       string `json:"id"`
	Revision int    `json:"revision"`
	DocHash  string `json:"doc_hash"`
}
