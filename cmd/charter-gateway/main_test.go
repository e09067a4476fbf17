package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/davidahmann/charter/internal/config"
	"github.com/davidahmann/charter/internal/crypto"
	"github.com/davidahmann/charter/internal/policy"
)

const constitution = `version: 1
id: gateway-main
revision: 1
doc_hash: ""
defaults:
  decision: allow
  obligations:
    logging:
      enabled: true
rules:
  - id: no_exec
    reason: Shell access is refused.
    when:
      tool_any_of: [exec]
    action: deny
`

type files struct {
	dir     string
	docPath string
	sigPath string
	pubPath string
	priv    ed25519.PrivateKey
}

func writeConstitution(t *testing.T, f files, raw string) {
	t.Helper()
	stamped, hash, err := policy.Stamp([]byte(raw))
	if err != nil {
		t.Fatalf("stamp: %v", err)
	}
	sig, err := crypto.SignDocument(hash, f.priv, "main-test", time.Time{})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sigJSON, err := json.Marshal(sig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(f.docPath, stamped, 0o600); err != nil {
		t.Fatalf("write doc: %v", err)
	}
	if err := os.WriteFile(f.sigPath, sigJSON, 0o600); err != nil {
		t.Fatalf("write sig: %v", err)
	}
}

func setup(t *testing.T) files {
	t.Helper()
	dir := t.TempDir()
	priv, pub, err := crypto.KeyPairFromSeed(bytes.Repeat([]byte{0x05}, ed25519.SeedSize))
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	f := files{
		dir:     dir,
		docPath: filepath.Join(dir, "constitution.yaml"),
		sigPath: filepath.Join(dir, "constitution.yaml.sig.json"),
		pubPath: filepath.Join(dir, "constitution.pub"),
		priv:    priv,
	}
	if err := os.WriteFile(f.pubPath, []byte(crypto.EncodeKey(pub)), 0o600); err != nil {
		t.Fatalf("write pub: %v", err)
	}
	writeConstitution(t, f, constitution)
	return f
}

func envFrom(m map[string]string) envFn {
	return func(key string) string { return m[key] }
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadConfigDefaultsAndOverrides(t *testing.T) {
	f := setup(t)
	cfg, err := loadConfig(nil, envFrom(map[string]string{
		"CHARTER_CONSTITUTION_PATH": f.docPath,
		"CHARTER_PUBLIC_KEY_PATH":   f.pubPath,
		"CHARTER_WORKSPACE":         "/srv/agent",
	}))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("expected default addr, got %s", cfg.ListenAddr)
	}
	if cfg.Constitution.SignaturePath != f.docPath+".sig.json" {
		t.Fatalf("expected derived signature path, got %s", cfg.Constitution.SignaturePath)
	}
	if cfg.Workspace != "/srv/agent" {
		t.Fatalf("expected workspace override, got %s", cfg.Workspace)
	}
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	f := setup(t)
	path := filepath.Join(f.dir, "gateway.yaml")
	body := "listen_addr: \":9999\"\n" +
		"constitution:\n  path: " + f.docPath + "\n  public_key_path: " + f.pubPath + "\n" +
		"log:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadConfig([]string{"-config", path}, envFrom(map[string]string{"CHARTER_LOG_LEVEL": "warn"}))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddr != ":9999" {
		t.Fatalf("expected addr from config, got %s", cfg.ListenAddr)
	}
	if cfg.Log.Level != "warn" {
		t.Fatalf("expected env to win, got %s", cfg.Log.Level)
	}
}

func TestLoadConfigRejectsMissingConstitution(t *testing.T) {
	if _, err := loadConfig(nil, envFrom(nil)); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := loadConfig([]string{"-config", "/does/not/exist.yaml"}, envFrom(nil)); err == nil {
		t.Fatalf("expected load error")
	}
	if _, err := loadConfig([]string{"-bogus"}, envFrom(nil)); err == nil {
		t.Fatalf("expected flag error")
	}
}

func TestRunServesEvaluations(t *testing.T) {
	f := setup(t)
	env := envFrom(map[string]string{
		"CHARTER_LISTEN_ADDR":       "127.0.0.1:0",
		"CHARTER_CONSTITUTION_PATH": f.docPath,
		"CHARTER_PUBLIC_KEY_PATH":   f.pubPath,
		"CHARTER_DB_DRIVER":         "sqlite",
		"CHARTER_DB_DSN":            "file:" + filepath.Join(f.dir, "ledger.db"),
		"CHARTER_LOG_LEVEL":         "error",
	})

	served := false
	listen := func(srv *http.Server) error {
		served = true
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/evaluate", strings.NewReader(`{"tool":"exec","args":{"command":"ls"}}`))
		srv.Handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var out map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if out["decision"] != "deny" || out["reason_code"] != "no_exec" {
			t.Fatalf("unexpected evaluation: %v", out)
		}
		if id, _ := out["receipt_id"].(string); id == "" {
			t.Fatalf("expected a receipt")
		}
		return http.ErrServerClosed
	}

	if err := run(context.Background(), nil, env, listen); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !served {
		t.Fatalf("listen was not called")
	}
}

func TestRunReturnsListenError(t *testing.T) {
	f := setup(t)
	env := envFrom(map[string]string{
		"CHARTER_CONSTITUTION_PATH": f.docPath,
		"CHARTER_PUBLIC_KEY_PATH":   f.pubPath,
		"CHARTER_LOG_LEVEL":         "error",
	})
	listenErr := errors.New("listen failed")
	err := run(context.Background(), nil, env, func(*http.Server) error { return listenErr })
	if !errors.Is(err, listenErr) {
		t.Fatalf("expected listen error, got %v", err)
	}
}

func TestRunFailsWithoutPublicKey(t *testing.T) {
	f := setup(t)
	env := envFrom(map[string]string{
		"CHARTER_CONSTITUTION_PATH": f.docPath,
		"CHARTER_PUBLIC_KEY_PATH":   filepath.Join(f.dir, "missing.pub"),
	})
	if err := run(context.Background(), nil, env, func(*http.Server) error { return nil }); err == nil {
		t.Fatalf("expected public key error")
	}
}

func TestGatewayStartsDenyingWhenSignatureIsBad(t *testing.T) {
	f := setup(t)
	if err := os.WriteFile(f.sigPath, []byte(`{"doc_hash":"sha256:00","signature":"AA==","key_id":"x","algorithm":"ed25519"}`), 0o600); err != nil {
		t.Fatalf("write sig: %v", err)
	}
	cfg, err := loadConfig(nil, envFrom(map[string]string{
		"CHARTER_CONSTITUTION_PATH": f.docPath,
		"CHARTER_PUBLIC_KEY_PATH":   f.pubPath,
	}))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	gw, err := newGateway(context.Background(), cfg, quiet())
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}
	defer gw.close()
	if gw.service.Engine.Store().Current() != nil {
		t.Fatalf("expected no snapshot")
	}
}

func TestReloadOnSignal(t *testing.T) {
	f := setup(t)
	cfg, err := loadConfig(nil, envFrom(map[string]string{
		"CHARTER_CONSTITUTION_PATH": f.docPath,
		"CHARTER_PUBLIC_KEY_PATH":   f.pubPath,
	}))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	gw, err := newGateway(context.Background(), cfg, quiet())
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}
	defer gw.close()
	if gen := gw.service.Engine.Store().Current().Generation; gen != 1 {
		t.Fatalf("expected generation 1, got %d", gen)
	}

	writeConstitution(t, f, strings.Replace(constitution, "revision: 1", "revision: 2", 1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	done := make(chan struct{})
	go func() {
		reloadOnSignal(ctx, sigs, gw.service, quiet())
		close(done)
	}()
	sigs <- os.Interrupt

	deadline := time.Now().Add(5 * time.Second)
	for gw.service.Engine.Store().Current().Generation != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("reload did not happen")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if rev := gw.service.Engine.Store().Current().Document().Revision; rev != 2 {
		t.Fatalf("expected revision 2, got %d", rev)
	}
	cancel()
	<-done
}

func TestReceiptSignerFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "receipts.key")
	seed := bytes.Repeat([]byte{0x09}, ed25519.SeedSize)
	if err := os.WriteFile(path, []byte(crypto.EncodeKey(seed)), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	signer, pub, err := receiptSigner(config.SigningKeyConfig{KeyID: "receipts", PrivateKeyPath: path}, quiet())
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	if signer.KeyID() != "ed25519:receipts" {
		t.Fatalf("unexpected key id %s", signer.KeyID())
	}
	_, want, _ := crypto.KeyPairFromSeed(seed)
	if !pub.Equal(want) {
		t.Fatalf("public key mismatch")
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "b", "c"); got != "b" {
		t.Fatalf("expected b, got %s", got)
	}
	if got := firstNonEmpty("", ""); got != "" {
		t.Fatalf("expected empty, got %s", got)
	}
}
