package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DigestPrefix tags every digest string produced by this package.
const DigestPrefix = "sha256:"

// DigestBytes returns the raw SHA-256 digest bytes.
func DigestBytes(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// DigestHex returns the SHA-256 digest as lowercase hex.
func DigestHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DigestWithPrefix returns the SHA-256 digest with the "sha256:" prefix.
func DigestWithPrefix(data []byte) string {
	return DigestPrefix + DigestHex(data)
}

// CanonicalDigest canonicalizes v and returns its prefixed digest.
func CanonicalDigest(v any) (string, error) {
	canonical, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return DigestWithPrefix(canonical), nil
}

// ParseDigest returns the raw bytes of a "sha256:<hex>" digest. Only the
// lowercase form produced by DigestWithPrefix is accepted.
func ParseDigest(digest string) ([]byte, error) {
	hexPart, ok := strings.CutPrefix(digest, DigestPrefix)
	if !ok || len(hexPart) != hex.EncodedLen(sha256.Size) || strings.ToLower(hexPart) != hexPart {
		return nil, ErrInvalidDigest
	}
	raw, err := hex.DecodeString(hexPart)
	if err != nil {
		return nil, ErrInvalidDigest
	}
	return raw, nil
}

// SignEd25519 signs a digest using Ed25519.
func SignEd25519(privateKey ed25519.PrivateKey, digest []byte) ([]byte, error) {
	if len(digest) != sha256.Size {
		return nil, ErrInvalidDigestLen
	}
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKey
	}
	return ed25519.Sign(privateKey, digest), nil
}

// VerifyEd25519 reports whether sig is a valid signature of digest. Any
// malformed input yields false.
func VerifyEd25519(publicKey ed25519.PublicKey, digest, sig []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize ||
		len(digest) != sha256.Size ||
		len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(publicKey, digest, sig)
}
