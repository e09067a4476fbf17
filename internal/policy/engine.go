package policy

import (
	"sync/atomic"

	"github.com/davidahmann/charter/internal/classify"
	"github.com/davidahmann/charter/internal/risk"
	"github.com/davidahmann/charter/internal/toolcall"
	"github.com/davidahmann/charter/pkg/types"
)

// EngineConfig is host configuration for an Engine. Risk is the base scorer
// configuration; the loaded document's tool_risk and egress allowlist are
// layered on top of it.
type EngineConfig struct {
	Workspace string
	Risk      risk.Config
}

// Evaluation is an engine result together with the scorer breakdown and the
// snapshot it was computed against.
type Evaluation struct {
	Result     Result
	Assessment risk.Assessment
	Generation uint64
}

type evaluator struct {
	generation uint64
	scorer     *risk.Scorer
	classifier *classify.Classifier
}

// Engine evaluates calls against whatever snapshot the store currently holds.
type Engine struct {
	store *Store
	cfg   EngineConfig
	base  *evaluator
	cache atomic.Pointer[evaluator]
}

// NewEngine binds an engine to store.
func NewEngine(store *Store, cfg EngineConfig) *Engine {
	return &Engine{
		store: store,
		cfg:   cfg,
		base: &evaluator{
			scorer:     risk.NewScorer(cfg.Risk),
			classifier: classify.New(classify.Config{}),
		},
	}
}

// Store returns the snapshot store the engine reads.
func (e *Engine) Store() *Store { return e.store }

// Evaluate scores, classifies and evaluates call. With no document loaded
// the decision is deny with reason constitution_not_loaded.
func (e *Engine) Evaluate(call types.ToolCall) Evaluation {
	if call.Workspace == "" {
		call.Workspace = e.cfg.Workspace
	}
	facts := toolcall.Extract(call)

	snap := e.store.Current()
	if snap == nil {
		assessment := e.base.scorer.ScoreFacts(facts)
		tags := e.base.classifier.ClassifyFacts(facts)
		return Evaluation{
			Result: Result{
				Decision:        Deny,
				ReasonCode:      ReasonNotLoaded,
				Risk:            assessment.Level,
				Classifications: tags.Sorted(),
				MatchedRules:    []string{},
				Diagnostics:     facts.Diagnostics,
			},
			Assessment: assessment,
		}
	}

	ev := e.evaluatorFor(snap)
	assessment := ev.scorer.ScoreFacts(facts)
	tags := ev.classifier.ClassifyFacts(facts)
	return Evaluation{
		Result:     evaluateFacts(snap.Document(), call, facts, assessment.Level, tags),
		Assessment: assessment,
		Generation: snap.Generation,
	}
}

// VerifyApproval checks an approved scope hash against call.
func (e *Engine) VerifyApproval(call types.ToolCall, scopeHash string) error {
	return VerifyApproval(call, scopeHash)
}

func (e *Engine) evaluatorFor(snap *Snapshot) *evaluator {
	if ev := e.cache.Load(); ev != nil && ev.generation == snap.Generation {
		return ev
	}
	doc := snap.Document()
	cfg := e.cfg.Risk
	table := make(map[string]risk.Level, len(cfg.ToolBase)+len(doc.ToolRisk))
	for k, v := range cfg.ToolBase {
		table[k] = v
	}
	for k, v := range doc.ToolRisk {
		table[k] = v
	}
	cfg.ToolBase = table
	cfg.AllowlistDomains = append(append([]string(nil), cfg.AllowlistDomains...), doc.Egress.AllowlistDomains...)

	ev := &evaluator{
		generation: snap.Generation,
		scorer:     risk.NewScorer(cfg),
		classifier: classify.New(classify.Config{AllowlistDomains: doc.Egress.AllowlistDomains}),
	}
	e.cache.Store(ev)
	return ev
}
