package attest

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func validRecord() map[string]any {
	return map[string]any{
		"spec":           Spec,
		"repo":           "github.com/example/constitution",
		"commit":         strings.Repeat("a1", 20),
		"attestation_id": "gt-0001",
		"tree_hash":      "sha256:" + strings.Repeat("0f", 32),
		"timestamp":      "2026-01-20T16:34:12Z",
		"signature":      "c2lnbmF0dXJl",
	}
}

func fields(res Result) []string {
	out := make([]string, 0, len(res.Errors))
	for _, e := range res.Errors {
		out = append(out, e.Field)
	}
	return out
}

func TestValidateShapeAcceptsWellFormedRecord(t *testing.T) {
	res := ValidateShape(validRecord())
	require.True(t, res.OK)
	require.Empty(t, res.Errors)

	rec := validRecord()
	rec["commit"] = strings.Repeat("b", 64)
	require.True(t, ValidateShape(rec).OK, "sha-256 object ids are accepted")
}

func TestValidateShapeReportsEveryBadField(t *testing.T) {
	rec := validRecord()
	rec["spec"] = "gittruth-attestation-v2"
	rec["commit"] = "HEAD"
	rec["tree_hash"] = "sha256:XYZ"
	rec["timestamp"] = "yesterday"

	res := ValidateShape(rec)
	require.False(t, res.OK)
	require.ElementsMatch(t, []string{"/commit", "/spec", "/timestamp", "/tree_hash"}, fields(res))
}

func TestValidateShapeReportsMissingFields(t *testing.T) {
	rec := validRecord()
	delete(rec, "signature")
	delete(rec, "repo")

	res := ValidateShape(rec)
	require.False(t, res.OK)
	joined := ""
	for _, e := range res.Errors {
		joined += e.Message + "\n"
	}
	require.Contains(t, joined, "signature")
	require.Contains(t, joined, "repo")
}

func TestValidateShapeRejectsWrongTypes(t *testing.T) {
	rec := validRecord()
	rec["signature"] = 42
	res := ValidateShape(rec)
	require.False(t, res.OK)
	require.Equal(t, []string{"/signature"}, fields(res))

	require.False(t, ValidateShape([]any{"not", "an", "object"}).OK)
}

func TestValidateJSON(t *testing.T) {
	raw, err := json.Marshal(validRecord())
	require.NoError(t, err)
	require.True(t, ValidateJSON(raw).OK)

	res := ValidateJSON([]byte(`{"spec": `))
	require.False(t, res.OK)
	require.Len(t, res.Errors, 1)
}

func TestVerifyEchoesAttestedValues(t *testing.T) {
	raw, err := json.Marshal(validRecord())
	require.NoError(t, err)

	v := Verify(raw)
	require.True(t, v.OK)
	require.Equal(t, "sha256:"+strings.Repeat("0f", 32), v.VerifiedTreeHash)
	require.Equal(t, strings.Repeat("a1", 20), v.VerifiedCommit)
	require.Equal(t, "gt-0001", v.AttestationID)
	require.Empty(t, v.TrustRoot)

	bad := Verify([]byte(`{"spec":"gittruth-attestation-v1"}`))
	require.False(t, bad.OK)
	require.NotEmpty(t, bad.Errors)
	require.Empty(t, bad.VerifiedTreeHash)
}
