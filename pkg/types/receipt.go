package types

type ReceiptStatus string

const (
	ReceiptProceed          ReceiptStatus = "proceed"
	ReceiptPausedOnApproval ReceiptStatus = "paused_for_approval"
	ReceiptApproved         ReceiptStatus = "approved"
	ReceiptBlocked          ReceiptStatus = "blocked"
)

type ReceiptRequest struct {
	RequestID string         `json:"request_id"`
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args,omitempty"`
	Session   Session        `json:"session"`
}

type ReceiptConstitution struct {
	ID       string `json:"id"`
	Revision int    `json:"revision"`
	DocHash  string `json:"doc_hash"`
}

type ReceiptLogging struct {
	IncludeArgs   bool `json:"include_args"`
	IncludeResult bool `json:"include_result"`
	TamperEvident bool `json:"tamper_evident"`
}

type ReceiptApproval struct {
	ScopeHash  string `json:"scope_hash"`
	ApprovalID string `json:"approval_id,omitempty"`
	ApprovedAt string `json:"approved_at,omitempty"`
	Approver   string `json:"approver,omitempty"`
}
