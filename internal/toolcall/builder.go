package toolcall

import (
	"github.com/davidahmann/charter/internal/crypto"
	"github.com/davidahmann/charter/pkg/types"
)

const ContextSchema = "charter.context.v0.1"

// BuildContext builds a context record and computes its context_id.
func BuildContext(call types.ToolCall, createdAt string) (types.ContextRecord, error) {
	record := types.ContextRecord{
		Schema:    ContextSchema,
		CreatedAt: createdAt,
		Call:      call,
	}

	intent := map[string]any{
		"explicit_confirmation": call.Intent.ExplicitConfirmation,
		"extra":                 argsTree(call.Intent.Extra),
	}
	if call.Intent.UserRequested != nil {
		intent["user_requested"] = *call.Intent.UserRequested
	}

	signingView := map[string]any{
		"schema":     record.Schema,
		"created_at": record.CreatedAt,
		"call": map[string]any{
			"tool":      call.Tool,
			"args":      argsTree(call.Args),
			"session":   SessionView(call.Session),
			"intent":    intent,
			"workspace": call.Workspace,
		},
	}

	canonical, err := crypto.Canonicalize(signingView)
	if err != nil {
		return types.ContextRecord{}, err
	}

	record.ContextID = crypto.DigestWithPrefix(canonical)
	return record, nil
}

// SessionView is the session as it participates in hashes.
func SessionView(s types.Session) map[string]any {
	return map[string]any{
		"kind":    s.Kind,
		"label":   s.Label,
		"channel": s.Channel,
	}
}

// ScopeView is the exact-call identity an approval is bound to.
func ScopeView(call types.ToolCall) map[string]any {
	return map[string]any{
		"tool":    call.Tool,
		"args":    argsTree(call.Args),
		"session": SessionView(call.Session),
	}
}

// ScopeHash digests ScopeView.
func ScopeHash(call types.ToolCall) (string, error) {
	return crypto.CanonicalDigest(ScopeView(call))
}

func argsTree(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	return args
}
