package sqlstore

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/davidahmann/charter/internal/crypto"
	"github.com/davidahmann/charter/internal/ledger"
	"github.com/davidahmann/charter/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	s, err := OpenSQLite(dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := ledger.Migrate(s.DB(), ledger.DBSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestStoreCRUD(t *testing.T) {
	s := openTestStore(t)

	key := ledger.KeyRecord{KeyID: "kid", PublicKey: []byte("pub"), CreatedAt: "2026-01-20T00:00:00Z"}
	if err := s.PutKey(key); err != nil {
		t.Fatalf("put key: %v", err)
	}
	if got, ok := s.GetKey("kid"); !ok || got.KeyID != "kid" || got.RotatedAt != nil {
		t.Fatalf("get key mismatch: ok=%v got=%+v", ok, got)
	}

	doc := ledger.ConstitutionRecord{
		DocHash:        "sha256:doc",
		ConstitutionID: "charter-test",
		Revision:       3,
		DocYAML:        "version: 1\nid: charter-test\n",
		SignatureJSON:  []byte(`{"alg":"ed25519"}`),
		KeyID:          "ed25519:kid",
		LoadedAt:       "2026-01-20T00:00:00Z",
	}
	if err := s.PutConstitution(doc); err != nil {
		t.Fatalf("put constitution: %v", err)
	}
	if err := s.PutConstitution(doc); err != nil {
		t.Fatalf("reloading the same document should be a no-op: %v", err)
	}
	if got, ok := s.GetConstitution("sha256:doc"); !ok || got.Revision != 3 || string(got.SignatureJSON) != `{"alg":"ed25519"}` {
		t.Fatalf("get constitution mismatch: ok=%v got=%+v", ok, got)
	}

	ctx := ledger.ContextRecord{ContextID: "ctx1", BodyJSON: []byte(`{"context_id":"ctx1"}`), CreatedAt: "2026-01-20T00:00:01Z"}
	if err := s.PutContext(ctx); err != nil {
		t.Fatalf("put context: %v", err)
	}
	if got, ok := s.GetContext("ctx1"); !ok || string(got.BodyJSON) != string(ctx.BodyJSON) {
		t.Fatalf("get context mismatch: ok=%v got=%+v", ok, got)
	}

	dec := ledger.DecisionRecord{DecisionID: "dec1", ContextID: "ctx1", DocHash: "sha256:doc", Decision: "allow", BodyJSON: []byte(`{"decision_id":"dec1"}`), CreatedAt: "2026-01-20T00:00:02Z"}
	if err := s.PutDecision(dec); err != nil {
		t.Fatalf("put decision: %v", err)
	}
	if got, ok := s.GetDecision("dec1"); !ok || got.Decision != "allow" {
		t.Fatalf("get decision mismatch: ok=%v got=%+v", ok, got)
	}

	approval := ledger.ApprovalRecord{ApprovalID: "ap1", ScopeHash: "sha256:scope", DecisionID: "dec1", Status: ledger.ApprovalPending, CreatedAt: "2026-01-20T00:00:03Z", UpdatedAt: "2026-01-20T00:00:03Z"}
	if err := s.PutApproval(approval); err != nil {
		t.Fatalf("put approval: %v", err)
	}
	approver := "alice"
	at := "2026-01-20T00:00:04Z"
	approval.Status = ledger.ApprovalConsumed
	approval.Approver = &approver
	approval.ConsumedAt = &at
	approval.UpdatedAt = at
	if err := s.PutApproval(approval); err != nil {
		t.Fatalf("update approval: %v", err)
	}
	got, ok := s.GetApproval("ap1")
	if !ok || got.Status != ledger.ApprovalConsumed || got.Approver == nil || *got.Approver != "alice" {
		t.Fatalf("get approval mismatch: ok=%v got=%+v", ok, got)
	}

	if _, ok := s.GetReceipt("missing"); ok {
		t.Fatalf("expected missing receipt")
	}
	if _, ok := s.GetChainHead(ledger.ReceiptChain); ok {
		t.Fatalf("expected no chain head yet")
	}
}

func TestDecisionRequiresContext(t *testing.T) {
	s := openTestStore(t)
	dec := ledger.DecisionRecord{DecisionID: "orphan", ContextID: "nope", DocHash: "sha256:doc", Decision: "deny", BodyJSON: []byte(`{}`), CreatedAt: "2026-01-20T00:00:00Z"}
	if err := s.PutDecision(dec); err == nil {
		t.Fatalf("expected foreign key violation")
	}
}

func TestRecorderOverSQLite(t *testing.T) {
	s := openTestStore(t)

	priv, pub, err := crypto.KeyPairFromSeed(bytes.Repeat([]byte{0x02}, 32))
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	rec := ledger.NewRecorder(s, ledger.KeySigner{ID: "ed25519:sql", Priv: priv})

	in := ledger.MakeReceiptInput{
		CreatedAt:    "2026-01-20T00:00:00Z",
		ContextID:    "sha256:ctx",
		DecisionID:   "sha256:dec",
		Request:      types.ReceiptRequest{RequestID: "r1", Tool: "write", Session: types.Session{Kind: "main"}},
		Constitution: types.ReceiptConstitution{ID: "charter-test", Revision: 3, DocHash: "sha256:doc"},
		Logging:      types.ReceiptLogging{TamperEvident: true},
		Decision:     "allow",
		ReasonCode:   "default",
		Risk:         "high",
		Status:       types.ReceiptProceed,
	}
	first, err := rec.Append(in)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	in.Request.RequestID = "r2"
	second, err := rec.Append(in)
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	stored, ok := s.GetReceipt(second.ReceiptID)
	if !ok {
		t.Fatalf("receipt not stored")
	}
	if stored.PrevReceiptID == nil || *stored.PrevReceiptID != first.ReceiptID {
		t.Fatalf("expected prev link, got %v", stored.PrevReceiptID)
	}
	if !bytes.Equal(stored.BodyJSON, second.BodyJSON) {
		t.Fatalf("stored body differs from signed body")
	}

	n, err := ledger.VerifyChain(s, second.ReceiptID, pub)
	if err != nil || n != 2 {
		t.Fatalf("verify chain: n=%d err=%v", n, err)
	}

	if err := s.PutReceipt(first); err == nil {
		t.Fatalf("expected duplicate receipt to be rejected")
	}

	_, err = rec.OpenApproval("ap1", "sha256:scope", "sha256:dec")
	if err != nil {
		t.Fatalf("open approval: %v", err)
	}
	if _, err := rec.ConsumeApproval("ap1", "bob", nil); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if _, err := rec.ConsumeApproval("ap1", "bob", nil); !errors.Is(err, ledger.ErrApprovalConsumed) {
		t.Fatalf("expected consumed, got %v", err)
	}
}

func TestWithTxRollback(t *testing.T) {
	s := openTestStore(t)

	err := s.WithTx(func(tx ledger.Tx) error {
		if err := tx.PutContext(ledger.ContextRecord{ContextID: "rolled", BodyJSON: []byte(`{}`), CreatedAt: "2026-01-20T00:00:00Z"}); err != nil {
			return err
		}
		if _, ok := tx.GetContext("rolled"); !ok {
			t.Fatalf("expected context visible inside tx")
		}
		return errors.New("boom")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if _, ok := s.GetContext("rolled"); ok {
		t.Fatalf("expected rollback")
	}
}
