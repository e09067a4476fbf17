package risk

import (
	"regexp"
	"strings"

	"github.com/davidahmann/charter/internal/toolcall"
	"github.com/davidahmann/charter/pkg/types"
)

// Config parameterizes a Scorer. The zero value is usable but scores every
// named tool at UnknownTool; start from DefaultConfig.
type Config struct {
	// ToolBase maps exact tool names, or "namespace.*" wildcards, to a base level.
	ToolBase    map[string]Level
	UnknownTool Level
	// SensitivePathHints are matched case-insensitively against slash-normalized paths.
	SensitivePathHints []string
	AllowlistDomains   []string
	// SensitiveSessionKinds escalate risk when the call is not explicitly confirmed.
	SensitiveSessionKinds []string
	MaxMessageLength      int
}

// DefaultConfig returns the built-in tool table and hints.
func DefaultConfig() Config {
	return Config{
		ToolBase: map[string]Level{
			"message.send":      Low,
			"message.broadcast": High,
			"read":              Medium,
			"write":             High,
			"edit":              High,
			"exec":              Critical,
			"web_fetch":         Medium,
			"browser.navigate":  Medium,
			"browser.upload":    High,
			"nodes.*":           High,
		},
		UnknownTool: Medium,
		SensitivePathHints: []string{
			"/appdata/",
			"/.ssh/",
			"id_rsa",
			"id_ed25519",
			"/.aws/",
			"/.gnupg/",
			"/etc/shadow",
			"password",
			"secrets",
			"token",
		},
		SensitiveSessionKinds: []string{"main", "group", "channel", "broadcast"},
		MaxMessageLength:      4000,
	}
}

// Assessment is the scorer's verdict with the contribution of each part.
type Assessment struct {
	Level       Level                 `json:"level"`
	Tool        Level                 `json:"tool"`
	Args        Level                 `json:"args"`
	Data        Level                 `json:"data"`
	Egress      Level                 `json:"egress"`
	Scope       Level                 `json:"scope"`
	Diagnostics []toolcall.Diagnostic `json:"diagnostics,omitempty"`
}

// Scorer computes risk levels. It is immutable and safe for concurrent use.
type Scorer struct {
	cfg            Config
	sensitiveKinds map[string]struct{}
	allowlist      []string
}

// NewScorer builds a scorer from cfg.
func NewScorer(cfg Config) *Scorer {
	s := &Scorer{
		cfg:            cfg,
		sensitiveKinds: make(map[string]struct{}, len(cfg.SensitiveSessionKinds)),
	}
	for _, kind := range cfg.SensitiveSessionKinds {
		s.sensitiveKinds[strings.ToLower(strings.TrimSpace(kind))] = struct{}{}
	}
	for _, d := range cfg.AllowlistDomains {
		if norm, err := toolcall.NormalizeDomain(d); err == nil && norm != "" {
			s.allowlist = append(s.allowlist, norm)
		}
	}
	return s
}

// Score extracts facts from call and scores them.
func (s *Scorer) Score(call types.ToolCall) Assessment {
	return s.ScoreFacts(toolcall.Extract(call))
}

// ScoreFacts returns the maximum over the tool, argument, data, egress and
// scope parts.
func (s *Scorer) ScoreFacts(f toolcall.Facts) Assessment {
	a := Assessment{
		Tool:        s.toolRisk(f),
		Args:        s.argRisk(f),
		Data:        s.dataRisk(f),
		Egress:      s.egressRisk(f),
		Diagnostics: f.Diagnostics,
	}
	running := Max(a.Tool, a.Args, a.Data, a.Egress)
	a.Scope = s.scopeRisk(f, running)
	a.Level = Max(running, a.Scope)
	return a
}

func (s *Scorer) toolRisk(f toolcall.Facts) Level {
	if f.Tool == "" {
		return Critical
	}
	if l, ok := s.cfg.ToolBase[f.Tool]; ok {
		return l
	}
	if i := strings.LastIndex(f.Tool, "."); i > 0 {
		if l, ok := s.cfg.ToolBase[f.Tool[:i]+".*"]; ok {
			return l
		}
	}
	return s.cfg.UnknownTool
}

var (
	moneyPattern       = regexp.MustCompile(`(?i)(?:[$\x{20AC}\x{A3}\x{A5}]\s?\d[\d,]*(?:\.\d+)?|\b\d[\d,]*(?:\.\d+)?\s?(?:usd|eur|gbp|dollars|euros|btc|eth)\b|\b(?:wire|transfer)\s+(?:funds|money)\b)`)
	credentialPattern  = regexp.MustCompile(`(?i)(?:-----BEGIN [A-Z ]*PRIVATE KEY-----|\bAKIA[0-9A-Z]{16}\b|\bgh[pousr]_[A-Za-z0-9]{20,}|\b(?:password|passwd|api[_-]?key|secret|token)\s*[:=]\s*\S+)`)
	destructivePattern = regexp.MustCompile(`(?i)(?:\brm\s+-[a-z]*r[a-z]*f|\bdrop\s+(?:table|database)\b|\btruncate\s+table\b|\bdelete\s+(?:all|everything)\b|\bwipe\b|\bformat\s+[a-z]:)`)
	execNetworkPattern = regexp.MustCompile(`(?i)\b(?:curl|wget|scp|ssh|nc|netcat|ftp|rsync)\b`)
	execDeletePattern  = regexp.MustCompile(`(?i)\b(?:rm|del|rmdir|format|mkfs|shred|dd)\b`)
)

func (s *Scorer) argRisk(f toolcall.Facts) Level {
	level := Low
	if f.MalformedTexts || f.MalformedCommands {
		level = High
	}

	for _, text := range f.Texts {
		switch {
		case credentialPattern.MatchString(text):
			level = Max(level, Critical)
		case moneyPattern.MatchString(text), destructivePattern.MatchString(text):
			level = Max(level, High)
		case s.cfg.MaxMessageLength > 0 && len(text) > s.cfg.MaxMessageLength:
			level = Max(level, Medium)
		}
	}

	for _, cmd := range f.Commands {
		switch {
		case execNetworkPattern.MatchString(cmd), execDeletePattern.MatchString(cmd), credentialPattern.MatchString(cmd):
			level = Max(level, Critical)
		default:
			level = Max(level, High)
		}
	}
	return level
}

func (s *Scorer) dataRisk(f toolcall.Facts) Level {
	if f.MalformedPaths {
		return High
	}
	if len(f.Paths) == 0 {
		return Low
	}
	level := Low
	for _, p := range f.Paths {
		switch {
		case s.sensitivePath(p):
			level = Max(level, High)
		case f.Workspace == "":
			level = Max(level, Medium)
		case !toolcall.Within(p, f.Workspace):
			level = Max(level, High)
		}
	}
	return level
}

func (s *Scorer) sensitivePath(p string) bool {
	lower := strings.ToLower(p)
	for _, hint := range s.cfg.SensitivePathHints {
		if hint != "" && strings.Contains(lower, strings.ToLower(hint)) {
			return true
		}
	}
	return false
}

func (s *Scorer) egressRisk(f toolcall.Facts) Level {
	if f.MalformedURLs {
		return High
	}
	for _, d := range f.Domains {
		if !toolcall.DomainAllowed(d, s.allowlist) {
			return High
		}
	}
	return Low
}

// scopeRisk escalates the running level by one when the call runs in a
// sensitive session without explicit confirmation.
func (s *Scorer) scopeRisk(f toolcall.Facts, running Level) Level {
	if f.Confirmed {
		return Low
	}
	if _, ok := s.sensitiveKinds[f.SessionKind]; !ok {
		return Low
	}
	return running.Escalate()
}
