package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/davidahmann/charter/pkg/types"
)

var (
	ErrApprovalNotFound = errors.New("approval not found")
	ErrApprovalConsumed = errors.New("approval already used")
)

// Recorder appends signed receipts and tracks one-time approvals.
type Recorder struct {
	store  Store
	signer Signer
	now    func() time.Time
}

func NewRecorder(store Store, signer Signer) *Recorder {
	return &Recorder{
		store:  store,
		signer: signer,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *Recorder) Store() Store { return r.store }

// Append signs and stores a receipt. Tamper-evident receipts are linked to
// the current chain head, which then moves to the new receipt. Appending a
// body that is already stored returns the stored receipt.
func (r *Recorder) Append(in MakeReceiptInput) (ReceiptRecord, error) {
	if in.CreatedAt == "" {
		in.CreatedAt = r.now().Format(time.RFC3339)
	}
	var out ReceiptRecord
	err := r.store.WithTx(func(tx Tx) error {
		if in.Logging.TamperEvident {
			if head, ok := tx.GetChainHead(ReceiptChain); ok {
				prev := head.ReceiptID
				in.PrevReceiptID = &prev
			}
		}
		rec, err := MakeReceipt(in, r.signer)
		if err != nil {
			return err
		}
		if existing, ok := tx.GetReceipt(rec.ReceiptID); ok {
			out = existing
			return nil
		}
		if err := tx.PutReceipt(rec); err != nil {
			return err
		}
		if in.Logging.TamperEvident {
			if err := tx.PutChainHead(ChainHead{Chain: ReceiptChain, ReceiptID: rec.ReceiptID, UpdatedAt: in.CreatedAt}); err != nil {
				return err
			}
		}
		out = rec
		return nil
	})
	return out, err
}

// OpenApproval records a pending approval for scopeHash.
func (r *Recorder) OpenApproval(approvalID, scopeHash, decisionID string) (ApprovalRecord, error) {
	now := r.now().Format(time.RFC3339)
	rec := ApprovalRecord{
		ApprovalID: approvalID,
		ScopeHash:  scopeHash,
		DecisionID: decisionID,
		Status:     ApprovalPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.store.PutApproval(rec); err != nil {
		return ApprovalRecord{}, err
	}
	return rec, nil
}

// ConsumeApproval marks a pending approval used. check runs inside the
// transaction against the stored record and can veto consumption.
func (r *Recorder) ConsumeApproval(approvalID, approver string, check func(ApprovalRecord) error) (ApprovalRecord, error) {
	var out ApprovalRecord
	err := r.store.WithTx(func(tx Tx) error {
		rec, ok := tx.GetApproval(approvalID)
		if !ok {
			return ErrApprovalNotFound
		}
		if rec.Status != ApprovalPending {
			return fmt.Errorf("%w: %s", ErrApprovalConsumed, approvalID)
		}
		if check != nil {
			if err := check(rec); err != nil {
				return err
			}
		}
		now := r.now().Format(time.RFC3339)
		rec.Status = ApprovalConsumed
		rec.ConsumedAt = &now
		rec.UpdatedAt = now
		if approver != "" {
			rec.Approver = &approver
		}
		if err := tx.PutApproval(rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	return out, err
}

// ApprovalOf converts a consumed approval into its receipt form.
func ApprovalOf(rec ApprovalRecord) *types.ReceiptApproval {
	out := &types.ReceiptApproval{ScopeHash: rec.ScopeHash, ApprovalID: rec.ApprovalID}
	if rec.ConsumedAt != nil {
		out.ApprovedAt = *rec.ConsumedAt
	}
	if rec.Approver != nil {
		out.Approver = *rec.Approver
	}
	return out
}
