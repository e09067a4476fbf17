package ledger

import (
	"crypto/ed25519"
	"fmt"

	"github.com/davidahmann/charter/internal/crypto"
	"github.com/davidahmann/charter/internal/toolcall"
	"github.com/davidahmann/charter/pkg/types"
)

const ReceiptSchema = "charter.receipt.v0.1"

type Signer interface {
	KeyID() string
	SignEd25519(message []byte) ([]byte, error)
}

// KeySigner signs receipts with an in-memory Ed25519 key.
type KeySigner struct {
	ID   string
	Priv ed25519.PrivateKey
}

func (s KeySigner) KeyID() string {
	return s.ID
}

func (s KeySigner) SignEd25519(message []byte) ([]byte, error) {
	return crypto.SignEd25519(s.Priv, message)
}

type MakeReceiptInput struct {
	Schema    string
	CreatedAt string

	PrevReceiptID *string

	ContextID  string
	DecisionID string

	Request      types.ReceiptRequest
	Constitution types.ReceiptConstitution
	Logging      types.ReceiptLogging

	Decision        string
	ReasonCode      string
	Risk            string
	Classifications []string
	MatchedRules    []string

	Approval *types.ReceiptApproval
	Status   types.ReceiptStatus
}

// MakeReceipt canonicalizes + hashes + signs a receipt body. Arguments are
// only recorded when the logging obligation includes them.
func MakeReceipt(in MakeReceiptInput, signer Signer) (ReceiptRecord, error) {
	if in.Schema == "" {
		in.Schema = ReceiptSchema
	}
	if in.Schema != ReceiptSchema {
		return ReceiptRecord{}, fmt.Errorf("invalid schema: %s", in.Schema)
	}
	if in.ContextID == "" || in.DecisionID == "" || in.Constitution.DocHash == "" {
		return ReceiptRecord{}, fmt.Errorf("missing required receipt fields")
	}
	if !validStatus(in.Status) {
		return ReceiptRecord{}, fmt.Errorf("invalid receipt status: %s", in.Status)
	}

	request := map[string]any{
		"request_id": in.Request.RequestID,
		"tool":       in.Request.Tool,
		"session":    toolcall.SessionView(in.Request.Session),
	}
	if in.Logging.IncludeArgs {
		args := in.Request.Args
		if args == nil {
			args = map[string]any{}
		}
		request["args"] = args
	}

	var approval any
	if in.Approval != nil {
		approval = map[string]any{
			"scope_hash":  in.Approval.ScopeHash,
			"approval_id": in.Approval.ApprovalID,
			"approved_at": in.Approval.ApprovedAt,
			"approver":    in.Approval.Approver,
		}
	}

	var prev any
	if in.PrevReceiptID != nil {
		prev = *in.PrevReceiptID
	}

	body := map[string]any{
		"schema":          in.Schema,
		"created_at":      in.CreatedAt,
		"prev_receipt_id": prev,
		"context_id":      in.ContextID,
		"decision_id":     in.DecisionID,
		"request":         request,
		"constitution": map[string]any{
			"id":       in.Constitution.ID,
			"revision": in.Constitution.Revision,
			"doc_hash": in.Constitution.DocHash,
		},
		"logging": map[string]any{
			"include_args":   in.Logging.IncludeArgs,
			"include_result": in.Logging.IncludeResult,
			"tamper_evident": in.Logging.TamperEvident,
		},
		"decision":        in.Decision,
		"reason_code":     in.ReasonCode,
		"risk":            in.Risk,
		"classifications": stringsOrEmpty(in.Classifications),
		"matched_rules":   stringsOrEmpty(in.MatchedRules),
		"approval":        approval,
		"status":          string(in.Status),
	}

	canonical, err := crypto.Canonicalize(body)
	if err != nil {
		return ReceiptRecord{}, err
	}

	digestBytes := crypto.DigestBytes(canonical)
	bodyDigest := crypto.DigestWithPrefix(canonical)

	sig, err := signer.SignEd25519(digestBytes)
	if err != nil {
		return ReceiptRecord{}, err
	}

	var approvalID *string
	if in.Approval != nil && in.Approval.ApprovalID != "" {
		approvalID = &in.Approval.ApprovalID
	}

	return ReceiptRecord{
		ReceiptID:     bodyDigest,
		RequestID:     in.Request.RequestID,
		CreatedAt:     in.CreatedAt,
		PrevReceiptID: in.PrevReceiptID,
		ContextID:     in.ContextID,
		DecisionID:    in.DecisionID,
		DocHash:       in.Constitution.DocHash,
		ApprovalID:    approvalID,
		Status:        string(in.Status),
		BodyJSON:      canonical,
		BodyDigest:    bodyDigest,
		KeyID:         signer.KeyID(),
		Sig:           sig,
	}, nil
}

func validStatus(status types.ReceiptStatus) bool {
	switch status {
	case types.ReceiptProceed,
		types.ReceiptPausedOnApproval,
		types.ReceiptApproved,
		types.ReceiptBlocked:
		return true
	default:
		return false
	}
}

func stringsOrEmpty(in []string) []any {
	out := make([]any, 0, len(in))
	for _, s := range in {
		out = append(out, s)
	}
	return out
}
