package crypto

import "errors"

var (
	ErrNonFiniteNumber  = errors.New("non-finite numbers are not allowed")
	ErrInvalidNumber    = errors.New("invalid number literal")
	ErrInvalidUTF8      = errors.New("string is not valid utf-8")
	ErrNonStringMapKey  = errors.New("map keys must be strings")
	ErrUnsupportedType  = errors.New("unsupported type for canonicalization")
	ErrTrailingData     = errors.New("trailing data after json value")
	ErrInvalidSeedSize  = errors.New("invalid ed25519 seed size")
	ErrInvalidKey       = errors.New("invalid ed25519 key")
	ErrInvalidDigestLen = errors.New("invalid digest length")
	ErrInvalidDigest    = errors.New("digest must be sha256:<64 lowercase hex>")

	ErrUnsupportedAlgorithm = errors.New("unsupported signature algorithm")
	ErrInvalidKeyID         = errors.New("key id must be ed25519:<id>")
	ErrDocHashBinding       = errors.New("signature record is bound to a different doc hash")
	ErrSignatureEncoding    = errors.New("signature is neither base64 nor hex")
	ErrSignatureInvalid     = errors.New("signature verification failed")
)
