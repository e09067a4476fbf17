package ledger

import (
	"fmt"
	"sync"
)

type InMemoryStore struct {
	mu sync.Mutex

	keys          map[string]KeyRecord
	constitutions map[string]ConstitutionRecord
	contexts      map[string]ContextRecord
	decisions     map[string]DecisionRecord
	receipts      map[string]ReceiptRecord
	heads         map[string]ChainHead
	approvals     map[string]ApprovalRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		keys:          make(map[string]KeyRecord),
		constitutions: make(map[string]ConstitutionRecord),
		contexts:      make(map[string]ContextRecord),
		decisions:     make(map[string]DecisionRecord),
		receipts:      make(map[string]ReceiptRecord),
		heads:         make(map[string]ChainHead),
		approvals:     make(map[string]ApprovalRecord),
	}
}

func (s *InMemoryStore) WithTx(fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn((*memTx)(s))
}

type memTx InMemoryStore

func (s *InMemoryStore) PutKey(key KeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memTx)(s).PutKey(key)
}

func (s *InMemoryStore) GetKey(keyID string) (KeyRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memTx)(s).GetKey(keyID)
}

func (s *InMemoryStore) PutConstitution(rec ConstitutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memTx)(s).PutConstitution(rec)
}

func (s *InMemoryStore) GetConstitution(docHash string) (ConstitutionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memTx)(s).GetConstitution(docHash)
}

func (s *InMemoryStore) PutContext(ctx ContextRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memTx)(s).PutContext(ctx)
}

func (s *InMemoryStore) GetContext(contextID string) (ContextRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memTx)(s).GetContext(contextID)
}

func (s *InMemoryStore) PutDecision(decision DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memTx)(s).PutDecision(decision)
}

func (s *InMemoryStore) GetDecision(decisionID string) (DecisionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memTx)(s).GetDecision(decisionID)
}

func (s *InMemoryStore) PutReceipt(receipt ReceiptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memTx)(s).PutReceipt(receipt)
}

func (s *InMemoryStore) GetReceipt(receiptID string) (ReceiptRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memTx)(s).GetReceipt(receiptID)
}

func (s *InMemoryStore) PutChainHead(head ChainHead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memTx)(s).PutChainHead(head)
}

func (s *InMemoryStore) GetChainHead(chain string) (ChainHead, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memTx)(s).GetChainHead(chain)
}

func (s *InMemoryStore) PutApproval(approval ApprovalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memTx)(s).PutApproval(approval)
}

func (s *InMemoryStore) GetApproval(approvalID string) (ApprovalRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memTx)(s).GetApproval(approvalID)
}

func (t *memTx) PutKey(key KeyRecord) error {
	t.keys[key.KeyID] = key
	return nil
}

func (t *memTx) GetKey(keyID string) (KeyRecord, bool) {
	key, ok := t.keys[keyID]
	return key, ok
}

func (t *memTx) PutConstitution(rec ConstitutionRecord) error {
	t.constitutions[rec.DocHash] = rec
	return nil
}

func (t *memTx) GetConstitution(docHash string) (ConstitutionRecord, bool) {
	rec, ok := t.constitutions[docHash]
	return rec, ok
}

func (t *memTx) PutContext(ctx ContextRecord) error {
	t.contexts[ctx.ContextID] = ctx
	return nil
}

func (t *memTx) GetContext(contextID string) (ContextRecord, bool) {
	ctx, ok := t.contexts[contextID]
	return ctx, ok
}

func (t *memTx) PutDecision(decision DecisionRecord) error {
	t.decisions[decision.DecisionID] = decision
	return nil
}

func (t *memTx) GetDecision(decisionID string) (DecisionRecord, bool) {
	decision, ok := t.decisions[decisionID]
	return decision, ok
}

func (t *memTx) PutReceipt(receipt ReceiptRecord) error {
	if _, ok := t.receipts[receipt.ReceiptID]; ok {
		return fmt.Errorf("receipt %s already recorded", receipt.ReceiptID)
	}
	t.receipts[receipt.ReceiptID] = receipt
	return nil
}

func (t *memTx) GetReceipt(receiptID string) (ReceiptRecord, bool) {
	receipt, ok := t.receipts[receiptID]
	return receipt, ok
}

func (t *memTx) PutChainHead(head ChainHead) error {
	t.heads[head.Chain] = head
	return nil
}

func (t *memTx) GetChainHead(chain string) (ChainHead, bool) {
	head, ok := t.heads[chain]
	return head, ok
}

func (t *memTx) PutApproval(approval ApprovalRecord) error {
	t.approvals[approval.ApprovalID] = approval
	return nil
}

func (t *memTx) GetApproval(approvalID string) (ApprovalRecord, bool) {
	approval, ok := t.approvals[approvalID]
	return approval, ok
}
