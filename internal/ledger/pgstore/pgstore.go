package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	_ "github.com/lib/pq"

	"github.com/davidahmann/charter/internal/ledger"
)

type Store struct {
	db *sql.DB
}

func OpenPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) WithTx(fn func(ledger.Tx) error) error {
	tx, err := s.db.BeginTx(context.Background(), &sql.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(&Tx{q: tx, locking: true}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) reader() *Tx { return &Tx{q: s.db} }

func (s *Store) PutKey(key ledger.KeyRecord) error {
	return s.WithTx(func(tx ledger.Tx) error { return tx.PutKey(key) })
}

func (s *Store) GetKey(keyID string) (ledger.KeyRecord, bool) { return s.reader().GetKey(keyID) }

func (s *Store) PutConstitution(rec ledger.ConstitutionRecord) error {
	return s.WithTx(func(tx ledger.Tx) error { return tx.PutConstitution(rec) })
}

func (s *Store) GetConstitution(docHash string) (ledger.ConstitutionRecord, bool) {
	return s.reader().GetConstitution(docHash)
}

func (s *Store) PutContext(ctx ledger.ContextRecord) error {
	return s.WithTx(func(tx ledger.Tx) error { return tx.PutContext(ctx) })
}

func (s *Store) GetContext(contextID string) (ledger.ContextRecord, bool) {
	return s.reader().GetContext(contextID)
}

func (s *Store) PutDecision(decision ledger.DecisionRecord) error {
	return s.WithTx(func(tx ledger.Tx) error { return tx.PutDecision(decision) })
}

func (s *Store) GetDecision(decisionID string) (ledger.DecisionRecord, bool) {
	return s.reader().GetDecision(decisionID)
}

func (s *Store) PutReceipt(receipt ledger.ReceiptRecord) error {
	return s.WithTx(func(tx ledger.Tx) error { return tx.PutReceipt(receipt) })
}

func (s *Store) GetReceipt(receiptID string) (ledger.ReceiptRecord, bool) {
	return s.reader().GetReceipt(receiptID)
}

func (s *Store) PutChainHead(head ledger.ChainHead) error {
	return s.WithTx(func(tx ledger.Tx) error { return tx.PutChainHead(head) })
}

func (s *Store) GetChainHead(chain string) (ledger.ChainHead, bool) {
	return s.reader().GetChainHead(chain)
}

func (s *Store) PutApproval(approval ledger.ApprovalRecord) error {
	return s.WithTx(func(tx ledger.Tx) error { return tx.PutApproval(approval) })
}

func (s *Store) GetApproval(approvalID string) (ledger.ApprovalRecord, bool) {
	return s.reader().GetApproval(approvalID)
}

type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Tx runs ledger operations on a transaction or, for plain reads, the pool.
// Inside a transaction, chain heads and approvals are read FOR UPDATE so
// concurrent appenders and approvers serialize.
type Tx struct {
	q       querier
	locking bool
}

func (t *Tx) forUpdate() string {
	if t.locking {
		return " FOR UPDATE"
	}
	return ""
}

func (t *Tx) PutKey(key ledger.KeyRecord) error {
	_, err := t.q.Exec(`INSERT INTO charter_keys(key_id, public_key, created_at, rotated_at)
VALUES($1,$2,$3::timestamptz,$4::timestamptz)
ON CONFLICT(key_id) DO UPDATE SET rotated_at=excluded.rotated_at`,
		key.KeyID,
		key.PublicKey,
		key.CreatedAt,
		key.RotatedAt,
	)
	return err
}

func (t *Tx) GetKey(keyID string) (ledger.KeyRecord, bool) {
	var rec ledger.KeyRecord
	row := t.q.QueryRow(`SELECT key_id, public_key, created_at::text, rotated_at::text FROM charter_keys WHERE key_id = $1`, keyID)
	if err := row.Scan(&rec.KeyID, &rec.PublicKey, &rec.CreatedAt, &rec.RotatedAt); err != nil {
		return ledger.KeyRecord{}, false
	}
	return rec, true
}

func (t *Tx) PutConstitution(rec ledger.ConstitutionRecord) error {
	if !json.Valid(rec.SignatureJSON) {
		return errors.New("invalid signature_json")
	}
	_, err := t.q.Exec(`INSERT INTO charter_constitutions(doc_hash, constitution_id, revision, doc_yaml, signature_json, key_id, loaded_at)
VALUES($1,$2,$3,$4,$5::jsonb,$6,$7::timestamptz)
ON CONFLICT(doc_hash) DO NOTHING`,
		rec.DocHash, rec.ConstitutionID, rec.Revision, rec.DocYAML, string(rec.SignatureJSON), rec.KeyID, rec.LoadedAt,
	)
	return err
}

func (t *Tx) GetConstitution(docHash string) (ledger.ConstitutionRecord, bool) {
	var rec ledger.ConstitutionRecord
	var sig string
	row := t.q.QueryRow(`SELECT doc_hash, constitution_id, revision, doc_yaml, signature_json::text, key_id, loaded_at::text FROM charter_constitutions WHERE doc_hash = $1`, docHash)
	if err := row.Scan(&rec.DocHash, &rec.ConstitutionID, &rec.Revision, &rec.DocYAML, &sig, &rec.KeyID, &rec.LoadedAt); err != nil {
		return ledger.ConstitutionRecord{}, false
	}
	rec.SignatureJSON = []byte(sig)
	return rec, true
}

func (t *Tx) PutContext(ctx ledger.ContextRecord) error {
	if !json.Valid(ctx.BodyJSON) {
		return errors.New("invalid body_json")
	}
	_, err := t.q.Exec(`INSERT INTO charter_contexts(context_id, created_at, body_json) VALUES($1,$2::timestamptz,$3::jsonb) ON CONFLICT(context_id) DO NOTHING`, ctx.ContextID, ctx.CreatedAt, string(ctx.BodyJSON))
	return err
}

func (t *Tx) GetContext(contextID string) (ledger.ContextRecord, bool) {
	var rec ledger.ContextRecord
	row := t.q.QueryRow(`SELECT context_id, body_json::text, created_at::text FROM charter_contexts WHERE context_id = $1`, contextID)
	var body string
	if err := row.Scan(&rec.ContextID, &body, &rec.CreatedAt); err != nil {
		return ledger.ContextRecord{}, false
	}
	rec.BodyJSON = []byte(body)
	return rec, true
}

func (t *Tx) PutDecision(decision ledger.DecisionRecord) error {
	if !json.Valid(decision.BodyJSON) {
		return errors.New("invalid body_json")
	}
	_, err := t.q.Exec(`INSERT INTO charter_decisions(decision_id, created_at, context_id, doc_hash, decision, body_json) VALUES($1,$2::timestamptz,$3,$4,$5,$6::jsonb) ON CONFLICT(decision_id) DO NOTHING`,
		decision.DecisionID, decision.CreatedAt, decision.ContextID, decision.DocHash, decision.Decision, string(decision.BodyJSON),
	)
	return err
}

func (t *Tx) GetDecision(decisionID string) (ledger.DecisionRecord, bool) {
	var rec ledger.DecisionRecord
	row := t.q.QueryRow(`SELECT decision_id, created_at::text, context_id, doc_hash, decision, body_json::text FROM charter_decisions WHERE decision_id = $1`, decisionID)
	var body string
	if err := row.Scan(&rec.DecisionID, &rec.CreatedAt, &rec.ContextID, &rec.DocHash, &rec.Decision, &body); err != nil {
		return ledger.DecisionRecord{}, false
	}
	rec.BodyJSON = []byte(body)
	return rec, true
}

// PutReceipt stores the body as text; the signed bytes must come back unchanged.
func (t *Tx) PutReceipt(receipt ledger.ReceiptRecord) error {
	if !json.Valid(receipt.BodyJSON) {
		return errors.New("invalid body_json")
	}
	_, err := t.q.Exec(
		`INSERT INTO charter_receipts(receipt_id, request_id, created_at, prev_receipt_id, context_id, decision_id, doc_hash, approval_id, status, body_json, body_digest, key_id, sig)
	VALUES($1,$2,$3::timestamptz,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		receipt.ReceiptID,
		receipt.RequestID,
		receipt.CreatedAt,
		receipt.PrevReceiptID,
		receipt.ContextID,
		receipt.DecisionID,
		receipt.DocHash,
		receipt.ApprovalID,
		receipt.Status,
		string(receipt.BodyJSON),
		receipt.BodyDigest,
		receipt.KeyID,
		receipt.Sig,
	)
	return err
}

func (t *Tx) GetReceipt(receiptID string) (ledger.ReceiptRecord, bool) {
	var rec ledger.ReceiptRecord
	row := t.q.QueryRow(`SELECT receipt_id, request_id, created_at::text, prev_receipt_id, context_id, decision_id, doc_hash, approval_id, status, body_json, body_digest, key_id, sig
FROM charter_receipts WHERE receipt_id = $1`, receiptID)
	var body string
	if err := row.Scan(
		&rec.ReceiptID,
		&rec.RequestID,
		&rec.CreatedAt,
		&rec.PrevReceiptID,
		&rec.ContextID,
		&rec.DecisionID,
		&rec.DocHash,
		&rec.ApprovalID,
		&rec.Status,
		&body,
		&rec.BodyDigest,
		&rec.KeyID,
		&rec.Sig,
	); err != nil {
		return ledger.ReceiptRecord{}, false
	}
	rec.BodyJSON = []byte(body)
	return rec, true
}

func (t *Tx) PutChainHead(head ledger.ChainHead) error {
	_, err := t.q.Exec(`INSERT INTO charter_chain_heads(chain, receipt_id, updated_at) VALUES($1,$2,$3::timestamptz)
ON CONFLICT(chain) DO UPDATE SET receipt_id=excluded.receipt_id, updated_at=excluded.updated_at`,
		head.Chain, head.ReceiptID, head.UpdatedAt,
	)
	return err
}

func (t *Tx) GetChainHead(chain string) (ledger.ChainHead, bool) {
	var head ledger.ChainHead
	row := t.q.QueryRow(`SELECT chain, receipt_id, updated_at::text FROM charter_chain_heads WHERE chain = $1`+t.forUpdate(), chain)
	if err := row.Scan(&head.Chain, &head.ReceiptID, &head.UpdatedAt); err != nil {
		return ledger.ChainHead{}, false
	}
	return head, true
}

func (t *Tx) PutApproval(approval ledger.ApprovalRecord) error {
	_, err := t.q.Exec(
		`INSERT INTO charter_approvals(approval_id, scope_hash, decision_id, status, approver, consumed_at, created_at, updated_at)
VALUES($1,$2,$3,$4,$5,$6::timestamptz,$7::timestamptz,$8::timestamptz)
ON CONFLICT(approval_id) DO UPDATE SET
  status=excluded.status,
  approver=COALESCE(excluded.approver, charter_approvals.approver),
  consumed_at=COALESCE(excluded.consumed_at, charter_approvals.consumed_at),
  updated_at=excluded.updated_at`,
		approval.ApprovalID,
		approval.ScopeHash,
		approval.DecisionID,
		approval.Status,
		approval.Approver,
		approval.ConsumedAt,
		approval.CreatedAt,
		approval.UpdatedAt,
	)
	return err
}

func (t *Tx) GetApproval(approvalID string) (ledger.ApprovalRecord, bool) {
	var rec ledger.ApprovalRecord
	row := t.q.QueryRow(`SELECT approval_id, scope_hash, decision_id, status, approver, consumed_at::text, created_at::text, updated_at::text FROM charter_approvals WHERE approval_id = $1`+t.forUpdate(), approvalID)
	if err := row.Scan(&rec.ApprovalID, &rec.ScopeHash, &rec.DecisionID, &rec.Status, &rec.Approver, &rec.ConsumedAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return ledger.ApprovalRecord{}, false
	}
	return rec, true
}
