package policy

import (
	"bytes"
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/davidahmann/charter/internal/crypto"
	"github.com/davidahmann/charter/pkg/types"
)

type fixture struct {
	raw  []byte
	hash string
	sig  crypto.SignatureRecord
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

var testTime = time.Date(2026, 1, 20, 16, 34, 12, 0, time.UTC)

func testKey(t *testing.T) (ed25519.PrivateKey, ed25519.PublicKey) {
	t.Helper()
	priv, pub, err := crypto.KeyPairFromSeed(bytes.Repeat([]byte{0x07}, ed25519.SeedSize))
	if err != nil {
		t.Fatalf("key pair: %v", err)
	}
	return priv, pub
}

func signRaw(t *testing.T, raw []byte) fixture {
	t.Helper()
	stamped, hash, err := Stamp(raw)
	if err != nil {
		t.Fatalf("stamp: %v", err)
	}
	priv, pub := testKey(t)
	sig, err := crypto.SignDocument(hash, priv, "test", testTime)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return fixture{raw: stamped, hash: hash, sig: sig, priv: priv, pub: pub}
}

func signedFixture(t *testing.T) fixture {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("testdata", "constitution.yaml"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return signRaw(t, raw)
}

func loadedFixture(t *testing.T) *Document {
	t.Helper()
	fx := signedFixture(t)
	loaded, err := LoadVerified(fx.raw, fx.sig, fx.pub)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return loaded.Document
}

func boolPtr(b bool) *bool { return &b }

func messageCall(text string, confirmed bool) types.ToolCall {
	return types.ToolCall{
		Tool:    "message.send",
		Args:    map[string]any{"to": "+15550100", "message": text},
		Session: types.Session{Kind: "main"},
		Intent:  types.Intent{ExplicitConfirmation: confirmed},
	}
}
