package ledger

// Store is the receipt ledger. Every Tx method is also available outside a
// transaction.
type Store interface {
	WithTx(fn func(Tx) error) error
	Tx
}

type Tx interface {
	PutKey(key KeyRecord) error
	GetKey(keyID string) (KeyRecord, bool)

	PutConstitution(rec ConstitutionRecord) error
	GetConstitution(docHash string) (ConstitutionRecord, bool)

	PutContext(ctx ContextRecord) error
	GetContext(contextID string) (ContextRecord, bool)

	PutDecision(decision DecisionRecord) error
	GetDecision(decisionID string) (DecisionRecord, bool)

	PutReceipt(receipt ReceiptRecord) error
	GetReceipt(receiptID string) (ReceiptRecord, bool)

	PutChainHead(head ChainHead) error
	GetChainHead(chain string) (ChainHead, bool)

	PutApproval(approval ApprovalRecord) error
	GetApproval(approvalID string) (ApprovalRecord, bool)
}

// Approval statuses. An approval is consumed by the first matching call.
const (
	ApprovalPending  = "pending"
	ApprovalConsumed = "consumed"
)

// ReceiptChain names the tamper-evident receipt chain.
const ReceiptChain = "receipts"

type KeyRecord struct {
	KeyID     string
	PublicKey []byte
	CreatedAt string
	RotatedAt *string
}

// ConstitutionRecord is one document version that was loaded.
type ConstitutionRecord struct {
	DocHash        string
	ConstitutionID string
	Revision       int
	DocYAML        string
	SignatureJSON  []byte
	KeyID          string
	LoadedAt       string
}

type ContextRecord struct {
	ContextID string
	BodyJSON  []byte
	CreatedAt string
}

type DecisionRecord struct {
	DecisionID string
	ContextID  string
	DocHash    string
	Decision   string
	BodyJSON   []byte
	CreatedAt  string
}

type ReceiptRecord struct {
	ReceiptID     string
	RequestID     string
	CreatedAt     string
	PrevReceiptID *string
	ContextID     string
	DecisionID    string
	DocHash       string
	ApprovalID    *string
	Status        string
	BodyJSON      []byte
	BodyDigest    string
	KeyID         string
	Sig           []byte
}

// ChainHead is the latest receipt of a chain.
type ChainHead struct {
	Chain     string
	ReceiptID string
	UpdatedAt string
}

type ApprovalRecord struct {
	ApprovalID string
	ScopeHash  string
	DecisionID string
	Status     string
	Approver   *string
	ConsumedAt *string
	CreatedAt  string
	UpdatedAt  string
}
