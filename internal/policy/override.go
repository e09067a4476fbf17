package policy

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/davidahmann/charter/internal/toolcall"
	"github.com/davidahmann/charter/pkg/types"
)

const (
	OverrideModeOneTime    = "one_time"
	OverrideScopeExactCall = "exact_call"
)

var ErrApprovalScopeMismatch = errors.New("approval scope does not match this call")

// Override is the approval ticket attached to a CONFIRM result. It is only
// valid for the exact call whose scope hash it carries.
type Override struct {
	Mode          string `json:"mode"`
	Scope         string `json:"scope"`
	AuditRequired bool   `json:"audit_required"`
	ScopeHash     string `json:"scope_hash"`
}

// NewOverride builds the one-time, exact-call override for call.
func NewOverride(call types.ToolCall) (Override, error) {
	scopeHash, err := toolcall.ScopeHash(call)
	if err != nil {
		return Override{}, fmt.Errorf("compute scope hash: %w", err)
	}
	return Override{
		Mode:          OverrideModeOneTime,
		Scope:         OverrideScopeExactCall,
		AuditRequired: true,
		ScopeHash:     scopeHash,
	}, nil
}

// VerifyApproval recomputes the scope hash for call and compares it with
// the approved one in constant time.
func VerifyApproval(call types.ToolCall, approvedScopeHash string) error {
	current, err := toolcall.ScopeHash(call)
	if err != nil {
		return fmt.Errorf("compute scope hash: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(current), []byte(approvedScopeHash)) != 1 {
		return ErrApprovalScopeMismatch
	}
	return nil
}
