package types

// ToolCall is the runtime context of one proposed tool invocation.
type ToolCall struct {
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args,omitempty"`
	Session   Session        `json:"session"`
	Intent    Intent         `json:"intent"`
	Workspace string         `json:"workspace,omitempty"`
}

type Session struct {
	Kind    string `json:"kind,omitempty"`
	Label   string `json:"label,omitempty"`
	Channel string `json:"channel,omitempty"`
}

// Intent carries what the host knows about user intent. UserRequested is a
// pointer so that "not stated" stays distinct from an explicit false.
type Intent struct {
	UserRequested        *bool          `json:"user_requested,omitempty"`
	ExplicitConfirmation bool           `json:"explicit_confirmation,omitempty"`
	Extra                map[string]any `json:"extra,omitempty"`
}

type ContextRecord struct {
	Schema    string   `json:"schema"`
	ContextID string   `json:"context_id"`
	CreatedAt string   `json:"created_at"`
	Call      ToolCall `json:"call"`
}
