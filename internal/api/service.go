package api

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/davidahmann/charter/internal/decision"
	"github.com/davidahmann/charter/internal/ledger"
	"github.com/davidahmann/charter/internal/policy"
	"github.com/davidahmann/charter/internal/toolcall"
	"github.com/davidahmann/charter/pkg/types"
)

var (
	ErrNotLoaded       = errors.New("no constitution loaded")
	ErrApprovalBlocked = errors.New("call is denied by the current constitution")
	ErrReloadDisabled  = errors.New("constitution reload not configured")
)

// Source locates the signed constitution on disk.
type Source struct {
	DocPath   string
	SigPath   string
	PublicKey ed25519.PublicKey
}

// Service runs evaluations and approvals and writes their ledger entries.
type Service struct {
	Engine    *policy.Engine
	Recorder  *ledger.Recorder
	PublicKey ed25519.PublicKey
	Source    *Source
	Log       *slog.Logger

	now   func() time.Time
	newID func() string
}

type ServiceInput struct {
	Engine    *policy.Engine
	Ledger    ledger.Store
	Signer    ledger.Signer
	PublicKey ed25519.PublicKey
	Source    *Source
	Log       *slog.Logger
}

func NewService(in ServiceInput) (*Service, error) {
	if in.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if in.Signer == nil || in.PublicKey == nil {
		return nil, fmt.Errorf("receipt signing key is required")
	}
	store := in.Ledger
	if store == nil {
		store = ledger.NewInMemoryStore()
	}
	log := in.Log
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		Engine:    in.Engine,
		Recorder:  ledger.NewRecorder(store, in.Signer),
		PublicKey: in.PublicKey,
		Source:    in.Source,
		Log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return uuid.NewString() },
	}, nil
}

type CallRequest struct {
	Tool    string         `json:"tool"`
	Args    map[string]any `json:"args,omitempty"`
	Session types.Session  `json:"session"`
	Intent  types.Intent   `json:"intent"`
}

// ToolCall drops anything the host did not send; the workspace comes from
// gateway configuration.
func (c CallRequest) ToolCall() types.ToolCall {
	return types.ToolCall{Tool: c.Tool, Args: c.Args, Session: c.Session, Intent: c.Intent}
}

type EvaluateRequest struct {
	RequestID string `json:"request_id,omitempty"`
	CallRequest
}

type EvaluateResponse struct {
	RequestID       string                      `json:"request_id"`
	Decision        string                      `json:"decision"`
	NextAction      NextAction                  `json:"next_action"`
	ReasonCode      string                      `json:"reason_code"`
	Reason          string                      `json:"reason,omitempty"`
	Risk            string                      `json:"risk"`
	Classifications []string                    `json:"classifications"`
	MatchedRules    []string                    `json:"matched_rules"`
	Obligations     policy.Obligations          `json:"obligations"`
	Override        *policy.Override            `json:"override,omitempty"`
	Conflicts       []policy.ObligationConflict `json:"conflicts,omitempty"`
	Diagnostics     []toolcall.Diagnostic       `json:"diagnostics,omitempty"`
	Constitution    *types.ReceiptConstitution  `json:"constitution,omitempty"`
	Generation      uint64                      `json:"generation"`
	ContextID       string                      `json:"context_id"`
	DecisionID      string                      `json:"decision_id"`
	ApprovalID      string                      `json:"approval_id,omitempty"`
	ReceiptID       string                      `json:"receipt_id,omitempty"`
}

// Evaluate decides one call. A confirm opens a one-time approval for the
// call's scope hash; a receipt is written when logging is enabled.
func (s *Service) Evaluate(req EvaluateRequest) (EvaluateResponse, error) {
	createdAt := s.now().Format(time.RFC3339)
	if req.RequestID == "" {
		req.RequestID = s.newID()
	}
	call := req.ToolCall()

	ev := s.Engine.Evaluate(call)
	res := ev.Result
	ctxRec, decRec, err := buildRecords(call, res, createdAt)
	if err != nil {
		return EvaluateResponse{}, err
	}

	next := DetermineNextAction(res)
	resp := EvaluateResponse{
		RequestID:       req.RequestID,
		Decision:        res.Decision.String(),
		NextAction:      next,
		ReasonCode:      res.ReasonCode,
		Reason:          res.Reason,
		Risk:            res.Risk.String(),
		Classifications: decRec.Classifications,
		MatchedRules:    decRec.MatchedRules,
		Obligations:     res.Obligations,
		Override:        res.Override,
		Conflicts:       res.Conflicts,
		Diagnostics:     res.Diagnostics,
		Generation:      ev.Generation,
		ContextID:       ctxRec.ContextID,
		DecisionID:      decRec.DecisionID,
	}
	if res.DocHash != "" {
		resp.Constitution = &types.ReceiptConstitution{ID: res.DocID, Revision: res.Revision, DocHash: res.DocHash}
	}

	logging := res.Obligations.Logging
	pause := next == ActionPauseForApproval
	if logging.Enabled || pause {
		if err := s.persist(ctxRec, decRec); err != nil {
			return EvaluateResponse{}, err
		}
	}
	if pause {
		approval, err := s.Recorder.OpenApproval(s.newID(), res.Override.ScopeHash, decRec.DecisionID)
		if err != nil {
			return EvaluateResponse{}, fmt.Errorf("open approval: %w", err)
		}
		resp.ApprovalID = approval.ApprovalID
	}
	if logging.Enabled && res.DocHash != "" {
		receipt, err := s.Recorder.Append(receiptInput(req.RequestID, call, res, ctxRec, decRec, ReceiptStatusFor(next), nil))
		if err != nil {
			return EvaluateResponse{}, fmt.Errorf("append receipt: %w", err)
		}
		resp.ReceiptID = receipt.ReceiptID
	}

	s.Log.Info("call evaluated",
		"request_id", req.RequestID,
		"tool", call.Tool,
		"decision", resp.Decision,
		"reason_code", res.ReasonCode,
		"risk", resp.Risk,
		"next_action", next,
		"receipt_id", resp.ReceiptID,
		"generation", ev.Generation,
	)
	return resp, nil
}

type ApproveRequest struct {
	ApprovalID string `json:"approval_id"`
	RequestID  string `json:"request_id,omitempty"`
	Approver   string `json:"approver,omitempty"`
	CallRequest
}

type ApproveResponse struct {
	ApprovalID string     `json:"approval_id"`
	Status     string     `json:"status"`
	NextAction NextAction `json:"next_action"`
	ScopeHash  string     `json:"scope_hash"`
	ApprovedAt string     `json:"approved_at"`
	Approver   string     `json:"approver,omitempty"`
	ReceiptID  string     `json:"receipt_id,omitempty"`
}

// Approve consumes an open approval for exactly the call it was opened
// for. The call is re-evaluated first; a deny under the current
// constitution cannot be approved.
func (s *Service) Approve(req ApproveRequest) (ApproveResponse, error) {
	if req.RequestID == "" {
		req.RequestID = s.newID()
	}
	call := req.ToolCall()

	var ev policy.Evaluation
	approval, err := s.Recorder.ConsumeApproval(req.ApprovalID, req.Approver, func(rec ledger.ApprovalRecord) error {
		if err := s.Engine.VerifyApproval(call, rec.ScopeHash); err != nil {
			return err
		}
		ev = s.Engine.Evaluate(call)
		if ev.Result.Decision == policy.Deny {
			return fmt.Errorf("%w: %s", ErrApprovalBlocked, ev.Result.ReasonCode)
		}
		return nil
	})
	if err != nil {
		s.Log.Warn("approval rejected", "approval_id", req.ApprovalID, "error", err)
		return ApproveResponse{}, err
	}

	resp := ApproveResponse{
		ApprovalID: approval.ApprovalID,
		Status:     approval.Status,
		NextAction: ActionProceed,
		ScopeHash:  approval.ScopeHash,
	}
	ticket := ledger.ApprovalOf(approval)
	resp.ApprovedAt = ticket.ApprovedAt
	resp.Approver = ticket.Approver

	res := ev.Result
	if res.Obligations.Logging.Enabled && res.DocHash != "" {
		ctxRec, decRec, err := buildRecords(call, res, ticket.ApprovedAt)
		if err != nil {
			return ApproveResponse{}, err
		}
		if err := s.persist(ctxRec, decRec); err != nil {
			return ApproveResponse{}, err
		}
		receipt, err := s.Recorder.Append(receiptInput(req.RequestID, call, res, ctxRec, decRec, types.ReceiptApproved, ticket))
		if err != nil {
			return ApproveResponse{}, fmt.Errorf("append receipt: %w", err)
		}
		resp.ReceiptID = receipt.ReceiptID
	}

	s.Log.Info("approval consumed", "approval_id", approval.ApprovalID, "approver", resp.Approver, "receipt_id", resp.ReceiptID)
	return resp, nil
}

// Reload re-reads the constitution from Source. A failed reload keeps the
// current snapshot.
func (s *Service) Reload() (*policy.Snapshot, error) {
	if s.Source == nil {
		return nil, ErrReloadDisabled
	}
	snap, err := s.Engine.Store().LoadFiles(s.Source.DocPath, s.Source.SigPath, s.Source.PublicKey)
	if err != nil {
		return nil, err
	}
	if err := s.RecordConstitution(snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// RecordConstitution stores the loaded document version in the ledger.
func (s *Service) RecordConstitution(snap *policy.Snapshot) error {
	sig, err := json.Marshal(snap.Loaded.Signature)
	if err != nil {
		return err
	}
	doc := snap.Document()
	return s.Recorder.Store().PutConstitution(ledger.ConstitutionRecord{
		DocHash:        doc.DocHash,
		ConstitutionID: doc.ID,
		Revision:       doc.Revision,
		DocYAML:        string(snap.Loaded.Bytes),
		SignatureJSON:  sig,
		KeyID:          snap.Loaded.Signature.KeyID,
		LoadedAt:       snap.LoadedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Service) persist(ctxRec types.ContextRecord, decRec types.DecisionRecord) error {
	ctxBody, err := json.Marshal(ctxRec)
	if err != nil {
		return err
	}
	decBody, err := json.Marshal(decRec)
	if err != nil {
		return err
	}
	return s.Recorder.Store().WithTx(func(tx ledger.Tx) error {
		if err := tx.PutContext(ledger.ContextRecord{ContextID: ctxRec.ContextID, BodyJSON: ctxBody, CreatedAt: ctxRec.CreatedAt}); err != nil {
			return err
		}
		return tx.PutDecision(ledger.DecisionRecord{
			DecisionID: decRec.DecisionID,
			ContextID:  decRec.ContextID,
			DocHash:    decRec.Constitution.DocHash,
			Decision:   decRec.Decision,
			BodyJSON:   decBody,
			CreatedAt:  decRec.CreatedAt,
		})
	})
}

func buildRecords(call types.ToolCall, res policy.Result, createdAt string) (types.ContextRecord, types.DecisionRecord, error) {
	ctxRec, err := toolcall.BuildContext(call, createdAt)
	if err != nil {
		return types.ContextRecord{}, types.DecisionRecord{}, fmt.Errorf("build context: %w", err)
	}
	decRec, err := decision.BuildDecision(ctxRec.ContextID, res, createdAt)
	if err != nil {
		return types.ContextRecord{}, types.DecisionRecord{}, fmt.Errorf("build decision: %w", err)
	}
	return ctxRec, decRec, nil
}

func receiptInput(requestID string, call types.ToolCall, res policy.Result, ctxRec types.ContextRecord, decRec types.DecisionRecord, status types.ReceiptStatus, approval *types.ReceiptApproval) ledger.MakeReceiptInput {
	logging := res.Obligations.Logging
	return ledger.MakeReceiptInput{
		CreatedAt:  ctxRec.CreatedAt,
		ContextID:  ctxRec.ContextID,
		DecisionID: decRec.DecisionID,
		Request: types.ReceiptRequest{
			RequestID: requestID,
			Tool:      call.Tool,
			Args:      call.Args,
			Session:   call.Session,
		},
		Constitution: types.ReceiptConstitution{ID: res.DocID, Revision: res.Revision, DocHash: res.DocHash},
		Logging: types.ReceiptLogging{
			IncludeArgs:   logging.IncludeArgs,
			IncludeResult: logging.IncludeResult,
			TamperEvident: logging.TamperEvident,
		},
		Decision:        decRec.Decision,
		ReasonCode:      decRec.ReasonCode,
		Risk:            decRec.Risk,
		Classifications: decRec.Classifications,
		MatchedRules:    decRec.MatchedRules,
		Approval:        approval,
		Status:          status,
	}
}
