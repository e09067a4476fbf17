package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	errEmptyKey        = errors.New("empty key file")
	errUnknownEncoding = errors.New("unrecognized key encoding")
)

// Key files hold raw bytes, "base64:"/"hex:" tagged text, or bare hex or
// base64 text. Private keys may be the 64-byte key or its 32-byte seed.

// LoadEd25519PrivateKey reads a signing key file.
func LoadEd25519PrivateKey(path string) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	// #nosec G304 -- path is operator-configured.
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	data, err := decodeBytes(raw, ed25519.PrivateKeySize, ed25519.SeedSize)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	priv, err := privateKeyOf(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return priv, priv.Public().(ed25519.PublicKey), nil
}

func privateKeyOf(data []byte) (ed25519.PrivateKey, error) {
	switch len(data) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(data), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(data), nil
	}
	return nil, fmt.Errorf("private key must be %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(data))
}

// LoadEd25519PublicKey reads a verification key file.
func LoadEd25519PublicKey(path string) (ed25519.PublicKey, error) {
	// #nosec G304 -- path is operator-configured.
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pub, err := ParseEd25519PublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pub, nil
}

// ParseEd25519PublicKey decodes a public key in any key file form.
func ParseEd25519PublicKey(raw []byte) (ed25519.PublicKey, error) {
	data, err := decodeBytes(raw, ed25519.PublicKeySize)
	if err != nil {
		return nil, err
	}
	if len(data) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(data))
	}
	return ed25519.PublicKey(data), nil
}

// EncodeKey renders key bytes in the "base64:" file form.
func EncodeKey(key []byte) string {
	return "base64:" + base64.StdEncoding.EncodeToString(key)
}

var taggedDecoders = map[string]func(string) ([]byte, error){
	"base64:": base64.StdEncoding.DecodeString,
	"hex:":    hex.DecodeString,
}

// decodeBytes resolves a key file. Bare hex is tried before raw bytes since
// hex text can share a raw key's length.
func decodeBytes(raw []byte, rawSizes ...int) ([]byte, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return nil, errEmptyKey
	}
	for tag, decode := range taggedDecoders {
		if rest, ok := strings.CutPrefix(text, tag); ok {
			return decode(rest)
		}
	}
	if out, err := hex.DecodeString(text); err == nil {
		return out, nil
	}
	for _, size := range rawSizes {
		if len(raw) == size {
			return raw, nil
		}
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawURLEncoding} {
		if out, err := enc.DecodeString(text); err == nil {
			return out, nil
		}
	}
	return nil, errUnknownEncoding
}
