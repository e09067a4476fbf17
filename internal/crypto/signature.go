package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	SignatureSpec      = "aos-policy-signature-v1"
	AlgorithmEd25519   = "ed25519"
	KeyIDPrefix        = "ed25519:"
	UnspecifiedKeyName = "UNSPECIFIED"
)

// SignatureRecord is the detached signature over a document digest. It is
// stored next to the document and never contributes to the hashed bytes.
type SignatureRecord struct {
	Spec      string `json:"spec,omitempty"`
	DocHash   string `json:"doc_hash"`
	Signature string `json:"signature"`
	KeyID     string `json:"key_id"`
	Algorithm string `json:"algorithm"`
	SignedAt  string `json:"signed_at,omitempty"`
}

// NormalizeKeyID prefixes a bare key name with "ed25519:".
func NormalizeKeyID(keyID string) string {
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		return KeyIDPrefix + UnspecifiedKeyName
	}
	if strings.HasPrefix(keyID, KeyIDPrefix) {
		return keyID
	}
	return KeyIDPrefix + keyID
}

// SignDocument signs the digest named by docHash.
func SignDocument(docHash string, priv ed25519.PrivateKey, keyID string, signedAt time.Time) (SignatureRecord, error) {
	digest, err := ParseDigest(docHash)
	if err != nil {
		return SignatureRecord{}, err
	}
	sig, err := SignEd25519(priv, digest)
	if err != nil {
		return SignatureRecord{}, err
	}
	rec := SignatureRecord{
		Spec:      SignatureSpec,
		DocHash:   docHash,
		Signature: base64.StdEncoding.EncodeToString(sig),
		KeyID:     NormalizeKeyID(keyID),
		Algorithm: AlgorithmEd25519,
	}
	if !signedAt.IsZero() {
		rec.SignedAt = signedAt.UTC().Format(time.RFC3339)
	}
	return rec, nil
}

// VerifyDocument checks that rec binds docHash and carries a valid
// signature under pub.
func VerifyDocument(rec SignatureRecord, docHash string, pub ed25519.PublicKey) error {
	if !strings.EqualFold(rec.Algorithm, AlgorithmEd25519) {
		return fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, rec.Algorithm)
	}
	if rec.Spec != "" && rec.Spec != SignatureSpec {
		return fmt.Errorf("%w: spec %q", ErrUnsupportedAlgorithm, rec.Spec)
	}
	if !strings.HasPrefix(rec.KeyID, KeyIDPrefix) || len(rec.KeyID) == len(KeyIDPrefix) {
		return ErrInvalidKeyID
	}
	if rec.DocHash != docHash {
		return ErrDocHashBinding
	}
	digest, err := ParseDigest(docHash)
	if err != nil {
		return err
	}
	sig, err := DecodeSignature(rec.Signature)
	if err != nil {
		return err
	}
	if !VerifyEd25519(pub, digest, sig) {
		return ErrSignatureInvalid
	}
	return nil
}

// DecodeSignature accepts standard base64 or lowercase hex.
func DecodeSignature(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if out, err := base64.StdEncoding.DecodeString(s); err == nil && len(out) == ed25519.SignatureSize {
		return out, nil
	}
	if out, err := hex.DecodeString(s); err == nil && len(out) == ed25519.SignatureSize {
		return out, nil
	}
	return nil, ErrSignatureEncoding
}

// ReadSignatureRecord loads a signature record from a JSON file.
func ReadSignatureRecord(path string) (SignatureRecord, error) {
	// #nosec G304 -- path is operator-configured.
	raw, err := os.ReadFile(path)
	if err != nil {
		return SignatureRecord{}, err
	}
	return ParseSignatureRecord(raw)
}

// ParseSignatureRecord decodes a signature record.
func ParseSignatureRecord(raw []byte) (SignatureRecord, error) {
	var rec SignatureRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return SignatureRecord{}, fmt.Errorf("parse signature record: %w", err)
	}
	return rec, nil
}
