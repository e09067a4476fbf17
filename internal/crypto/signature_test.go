package crypto

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignAndVerifyDocument(t *testing.T) {
	priv, pub, err := KeyPairFromSeed(bytes.Repeat([]byte{0x05}, 32))
	require.NoError(t, err)

	docHash := DigestWithPrefix([]byte(`{"id":"constitution"}`))
	signedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec, err := SignDocument(docHash, priv, "ops", signedAt)
	require.NoError(t, err)
	require.Equal(t, SignatureSpec, rec.Spec)
	require.Equal(t, "ed25519:ops", rec.KeyID)
	require.Equal(t, AlgorithmEd25519, rec.Algorithm)
	require.Equal(t, "2026-03-01T12:00:00Z", rec.SignedAt)

	require.NoError(t, VerifyDocument(rec, docHash, pub))

	other := DigestWithPrefix([]byte(`{"id":"other"}`))
	require.ErrorIs(t, VerifyDocument(rec, other, pub), ErrDocHashBinding)

	_, otherPub, err := KeyPairFromSeed(bytes.Repeat([]byte{0x06}, 32))
	require.NoError(t, err)
	require.ErrorIs(t, VerifyDocument(rec, docHash, otherPub), ErrSignatureInvalid)

	badAlg := rec
	badAlg.Algorithm = "rsa"
	require.ErrorIs(t, VerifyDocument(badAlg, docHash, pub), ErrUnsupportedAlgorithm)

	badKey := rec
	badKey.KeyID = "ops"
	require.ErrorIs(t, VerifyDocument(badKey, docHash, pub), ErrInvalidKeyID)

	garbled := rec
	garbled.Signature = "not a signature"
	require.ErrorIs(t, VerifyDocument(garbled, docHash, pub), ErrSignatureEncoding)
}

func TestVerifyDocumentAcceptsHexSignature(t *testing.T) {
	priv, pub, err := KeyPairFromSeed(bytes.Repeat([]byte{0x07}, 32))
	require.NoError(t, err)
	docHash := DigestWithPrefix([]byte("doc"))

	digest, err := ParseDigest(docHash)
	require.NoError(t, err)
	sig, err := SignEd25519(priv, digest)
	require.NoError(t, err)

	rec := SignatureRecord{
		DocHash:   docHash,
		Signature: hex.EncodeToString(sig),
		KeyID:     "ed25519:legacy",
		Algorithm: "Ed25519",
	}
	require.NoError(t, VerifyDocument(rec, docHash, pub))
}

func TestNormalizeKeyID(t *testing.T) {
	require.Equal(t, "ed25519:UNSPECIFIED", NormalizeKeyID(""))
	require.Equal(t, "ed25519:k1", NormalizeKeyID("k1"))
	require.Equal(t, "ed25519:k1", NormalizeKeyID(" ed25519:k1 "))
}

func TestReadSignatureRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.sig.json")
	body := `{"spec":"aos-policy-signature-v1","doc_hash":"sha256:00","signature":"AA==","key_id":"ed25519:a","algorithm":"ed25519"}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	rec, err := ReadSignatureRecord(path)
	require.NoError(t, err)
	require.Equal(t, "sha256:00", rec.DocHash)
	require.Equal(t, "ed25519:a", rec.KeyID)

	_, err = ParseSignatureRecord([]byte("{"))
	require.Error(t, err)
}
