package ledger

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/davidahmann/charter/internal/crypto"
)

var (
	ErrReceiptDigestMismatch = errors.New("receipt digest mismatch")
	ErrReceiptSignature      = errors.New("receipt signature invalid")
	ErrReceiptNotFound       = errors.New("receipt not found")
	ErrChainBroken           = errors.New("receipt chain broken")
)

// VerifyReceipt validates digest consistency and signature.
func VerifyReceipt(receipt ReceiptRecord, publicKey ed25519.PublicKey) error {
	digestBytes := crypto.DigestBytes(receipt.BodyJSON)
	digest := crypto.DigestWithPrefix(receipt.BodyJSON)
	if receipt.BodyDigest != digest || receipt.ReceiptID != digest {
		return ErrReceiptDigestMismatch
	}

	if !crypto.VerifyEd25519(publicKey, digestBytes, receipt.Sig) {
		return ErrReceiptSignature
	}
	return nil
}

// VerifyChain verifies receiptID and every receipt it links back to. It
// returns the number of receipts checked.
func VerifyChain(store Tx, receiptID string, publicKey ed25519.PublicKey) (int, error) {
	seen := map[string]struct{}{}
	count := 0
	for id := receiptID; id != ""; {
		if _, loop := seen[id]; loop {
			return count, fmt.Errorf("%w: cycle at %s", ErrChainBroken, id)
		}
		seen[id] = struct{}{}

		rec, ok := store.GetReceipt(id)
		if !ok {
			if count == 0 {
				return 0, ErrReceiptNotFound
			}
			return count, fmt.Errorf("%w: missing %s", ErrChainBroken, id)
		}
		if err := VerifyReceipt(rec, publicKey); err != nil {
			return count, fmt.Errorf("receipt %s: %w", id, err)
		}
		prev, err := bodyPrev(rec.BodyJSON)
		if err != nil {
			return count, fmt.Errorf("receipt %s: %w", id, err)
		}
		if (rec.PrevReceiptID != nil && *rec.PrevReceiptID != prev) || (rec.PrevReceiptID == nil && prev != "") {
			return count, fmt.Errorf("%w: %s links disagree", ErrChainBroken, id)
		}
		count++
		id = prev
	}
	return count, nil
}

func bodyPrev(body []byte) (string, error) {
	v, err := crypto.DecodeJSON(body)
	if err != nil {
		return "", err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return "", fmt.Errorf("receipt body is not an object")
	}
	prev, _ := m["prev_receipt_id"].(string)
	return prev, nil
}
