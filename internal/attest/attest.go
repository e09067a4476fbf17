// Package attest checks the shape of GitTruth attestation records. Trust
// roots and tree membership are the external verifier's job.
package attest

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/davidahmann/charter/internal/crypto"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Spec is the only attestation contract version accepted.
const Spec = "gittruth-attestation-v1"

const schemaURL = "https://charter.schemas.local/attest/gittruth-attestation-v1.schema.json"

//go:embed schema/attestation.schema.json
var schemaSource string

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		c.AssertFormat = true
		if err := c.AddResource(schemaURL, strings.NewReader(schemaSource)); err != nil {
			compileErr = fmt.Errorf("attestation schema load failed: %w", err)
			return
		}
		compiled, compileErr = c.Compile(schemaURL)
	})
	return compiled, compileErr
}

// Record is a decoded attestation.
type Record struct {
	Spec          string `json:"spec"`
	Repo          string `json:"repo"`
	Commit        string `json:"commit"`
	AttestationID string `json:"attestation_id"`
	TreeHash      string `json:"tree_hash"`
	Timestamp     string `json:"timestamp"`
	Signature     string `json:"signature"`
}

// FieldError is one failed check. Field is a JSON pointer into the record.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Result struct {
	OK     bool         `json:"ok"`
	Errors []FieldError `json:"errors"`
}

// ValidateShape checks a decoded JSON value (objects as map[string]any)
// against the attestation contract and reports every failing field.
func ValidateShape(record any) Result {
	sch, err := schema()
	if err != nil {
		return Result{Errors: []FieldError{{Field: "", Message: err.Error()}}}
	}
	err = sch.Validate(record)
	if err == nil {
		return Result{OK: true, Errors: []FieldError{}}
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return Result{Errors: []FieldError{{Field: "", Message: err.Error()}}}
	}
	out := Result{Errors: leaves(ve, nil)}
	sort.SliceStable(out.Errors, func(i, j int) bool { return out.Errors[i].Field < out.Errors[j].Field })
	return out
}

func leaves(ve *jsonschema.ValidationError, acc []FieldError) []FieldError {
	if len(ve.Causes) == 0 {
		return append(acc, FieldError{Field: ve.InstanceLocation, Message: ve.Message})
	}
	for _, c := range ve.Causes {
		acc = leaves(c, acc)
	}
	return acc
}

// ValidateJSON decodes raw and validates it.
func ValidateJSON(raw []byte) Result {
	v, err := crypto.DecodeJSON(raw)
	if err != nil {
		return Result{Errors: []FieldError{{Field: "", Message: fmt.Sprintf("invalid json: %v", err)}}}
	}
	return ValidateShape(v)
}

// ParseRecord validates raw and, when it is well-formed, decodes it.
func ParseRecord(raw []byte) (Record, Result) {
	v, err := crypto.DecodeJSON(raw)
	if err != nil {
		return Record{}, Result{Errors: []FieldError{{Field: "", Message: fmt.Sprintf("invalid json: %v", err)}}}
	}
	res := ValidateShape(v)
	if !res.OK {
		return Record{}, res
	}
	m := v.(map[string]any)
	str := func(k string) string {
		s, _ := m[k].(string)
		return s
	}
	return Record{
		Spec:          str("spec"),
		Repo:          str("repo"),
		Commit:        str("commit"),
		AttestationID: str("attestation_id"),
		TreeHash:      str("tree_hash"),
		Timestamp:     str("timestamp"),
		Signature:     str("signature"),
	}, res
}

// Verification is the structure an external verifier returns. Shape
// validation fills everything except TrustRoot.
type Verification struct {
	OK               bool         `json:"ok"`
	VerifiedTreeHash string       `json:"verified_tree_hash,omitempty"`
	VerifiedCommit   string       `json:"verified_commit,omitempty"`
	TrustRoot        string       `json:"trust_root,omitempty"`
	AttestationID    string       `json:"attestation_id,omitempty"`
	Timestamp        string       `json:"timestamp,omitempty"`
	Errors           []FieldError `json:"errors,omitempty"`
}

// Verify runs the shape check and echoes the attested values.
func Verify(raw []byte) Verification {
	rec, res := ParseRecord(raw)
	if !res.OK {
		return Verification{Errors: res.Errors}
	}
	return Verification{
		OK:               true,
		VerifiedTreeHash: rec.TreeHash,
		VerifiedCommit:   rec.Commit,
		AttestationID:    rec.AttestationID,
		Timestamp:        rec.Timestamp,
	}
}
