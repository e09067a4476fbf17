package toolcall

import (
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/davidahmann/charter/pkg/types"
	"golang.org/x/net/idna"
)

// DefaultSessionKind is assumed when the host does not name a session kind.
const DefaultSessionKind = "main"

// Diagnostic codes reported for malformed contexts.
const (
	DiagToolMissing      = "tool_missing"
	DiagPathMalformed    = "path_malformed"
	DiagURLMalformed     = "url_malformed"
	DiagTextMalformed    = "text_malformed"
	DiagCommandMalformed = "command_malformed"
)

// Diagnostic explains a conservative outcome caused by malformed input.
type Diagnostic struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Extraction points. Only these top-level argument keys are inspected.
var (
	PathFields    = []string{"path", "file_path", "filePath", "paths", "source", "destination"}
	URLFields     = []string{"url", "urls", "targetUrl", "target_url", "href"}
	TextFields    = []string{"message", "text", "body", "content", "subject", "caption"}
	CommandFields = []string{"command", "cmd"}
)

// Facts are the values extracted from a call's declared extraction points.
type Facts struct {
	Tool      string
	Workspace string
	// SessionKind is lowercased; an unstated kind reads as DefaultSessionKind.
	SessionKind   string
	Confirmed     bool
	UserRequested *bool
	// Paths are slash-normalized and, when a workspace is known, absolute.
	Paths    []string
	Domains  []string
	Texts    []string
	Commands []string

	MalformedPaths    bool
	MalformedURLs     bool
	MalformedTexts    bool
	MalformedCommands bool

	Diagnostics []Diagnostic
}

// Extract pulls facts out of call. It never fails; anything it cannot read
// is flagged and reported as a diagnostic.
func Extract(call types.ToolCall) Facts {
	facts := Facts{
		Tool:          strings.TrimSpace(call.Tool),
		Workspace:     NormalizePath(call.Workspace),
		SessionKind:   strings.ToLower(strings.TrimSpace(call.Session.Kind)),
		Confirmed:     call.Intent.ExplicitConfirmation,
		UserRequested: call.Intent.UserRequested,
	}
	if facts.SessionKind == "" {
		facts.SessionKind = DefaultSessionKind
	}
	if facts.Tool == "" {
		facts.Diagnostics = append(facts.Diagnostics, Diagnostic{
			Code:    DiagToolMissing,
			Field:   "tool",
			Message: "tool name is empty",
		})
	}

	for _, field := range PathFields {
		values, ok := stringValues(call.Args, field)
		if !ok {
			facts.MalformedPaths = true
			facts.Diagnostics = append(facts.Diagnostics, malformed(DiagPathMalformed, field))
			continue
		}
		for _, v := range values {
			facts.Paths = append(facts.Paths, ResolvePath(v, facts.Workspace))
		}
	}

	for _, field := range URLFields {
		values, ok := stringValues(call.Args, field)
		if !ok {
			facts.MalformedURLs = true
			facts.Diagnostics = append(facts.Diagnostics, malformed(DiagURLMalformed, field))
			continue
		}
		for _, v := range values {
			domain, err := DomainOf(v)
			if err != nil {
				facts.MalformedURLs = true
				facts.Diagnostics = append(facts.Diagnostics, Diagnostic{
					Code:    DiagURLMalformed,
					Field:   "args." + field,
					Message: err.Error(),
				})
				continue
			}
			facts.Domains = append(facts.Domains, domain)
		}
	}

	for _, field := range TextFields {
		values, ok := stringValues(call.Args, field)
		if !ok {
			facts.MalformedTexts = true
			facts.Diagnostics = append(facts.Diagnostics, malformed(DiagTextMalformed, field))
			continue
		}
		facts.Texts = append(facts.Texts, values...)
	}

	for _, field := range CommandFields {
		values, ok := commandValue(call.Args, field)
		if !ok {
			facts.MalformedCommands = true
			facts.Diagnostics = append(facts.Diagnostics, malformed(DiagCommandMalformed, field))
			continue
		}
		facts.Commands = append(facts.Commands, values...)
	}

	facts.Domains = uniqueSorted(facts.Domains)
	return facts
}

func malformed(code, field string) Diagnostic {
	return Diagnostic{
		Code:    code,
		Field:   "args." + field,
		Message: fmt.Sprintf("args.%s must be a string or a list of strings", field),
	}
}

// stringValues returns the non-empty strings at key. ok is false when the
// key is present with a shape other than string or list of strings.
func stringValues(args map[string]any, key string) ([]string, bool) {
	raw, present := args[key]
	if !present || raw == nil {
		return nil, true
	}
	switch v := raw.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, true
		}
		return []string{v}, true
	case []string:
		return nonEmpty(v), true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return nonEmpty(out), true
	default:
		return nil, false
	}
}

// commandValue joins an argv-style list into one command line.
func commandValue(args map[string]any, key string) ([]string, bool) {
	values, ok := stringValues(args, key)
	if !ok || len(values) == 0 {
		return values, ok
	}
	if _, isString := args[key].(string); isString {
		return values, true
	}
	return []string{strings.Join(values, " ")}, true
}

func nonEmpty(in []string) []string {
	out := in[:0:0]
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

// NormalizePath converts separators to '/' and cleans the result. Empty
// input stays empty.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	return path.Clean(strings.ReplaceAll(p, `\`, "/"))
}

// ResolvePath normalizes p and anchors relative paths at workspace.
func ResolvePath(p, workspace string) string {
	p = NormalizePath(p)
	if workspace != "" && !isAbs(p) {
		return path.Join(workspace, p)
	}
	return p
}

// Within reports whether p is root or lies beneath it. Both are expected
// to be normalized. Case is significant.
func Within(p, root string) bool {
	if p == "" || root == "" {
		return false
	}
	if p == root || (root == "/" && isAbs(p)) {
		return true
	}
	return strings.HasPrefix(p, strings.TrimSuffix(root, "/")+"/")
}

func isAbs(p string) bool {
	if strings.HasPrefix(p, "/") {
		return true
	}
	// drive-letter paths such as C:/Users
	return len(p) >= 3 && p[1] == ':' && p[2] == '/'
}

// DomainOf extracts the host of a URL as a lowercase ASCII domain.
func DomainOf(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("unparseable url %q", raw)
	}
	host := u.Hostname()
	if host == "" && u.Scheme == "" {
		if u2, err2 := url.Parse("//" + raw); err2 == nil {
			host = u2.Hostname()
		}
	}
	if host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}
	return NormalizeDomain(host)
}

// NormalizeDomain lowercases and IDNA-encodes a host name.
func NormalizeDomain(host string) (string, error) {
	host = strings.TrimSuffix(strings.TrimSpace(host), ".")
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", host, err)
	}
	return strings.ToLower(ascii), nil
}

// DomainAllowed reports whether domain equals an allowlist entry or is a
// subdomain of one.
func DomainAllowed(domain string, allowlist []string) bool {
	for _, allowed := range allowlist {
		if allowed == "" {
			continue
		}
		if domain == allowed || strings.HasSuffix(domain, "."+allowed) {
			return true
		}
	}
	return false
}

func uniqueSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
