package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/davidahmann/charter/internal/classify"
	"github.com/davidahmann/charter/internal/disclosure"
	"github.com/davidahmann/charter/internal/policy"
	"github.com/davidahmann/charter/internal/risk"
	"github.com/davidahmann/charter/internal/toolcall"
	"github.com/davidahmann/charter/pkg/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func readCall(cmd *cobra.Command, path string) (types.ToolCall, error) {
	raw, err := readInput(cmd, path)
	if err != nil {
		return types.ToolCall{}, err
	}
	return toolcall.ParseCall(raw)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

type classifyOutput struct {
	Risk            risk.Level      `json:"risk"`
	Assessment      risk.Assessment `json:"assessment"`
	Classifications []string        `json:"classifications"`
}

func newClassifyCmd() *cobra.Command {
	var allow []string
	var workspace string
	cmd := &cobra.Command{
		Use:   "classify <call.json|->",
		Short: "Score risk and list classification tags for a tool call",
		Args:  exactArgs(1, "<call.json|->"),
		RunE: func(cmd *cobra.Command, args []string) error {
			call, err := readCall(cmd, args[0])
			if err != nil {
				return err
			}
			if call.Workspace == "" {
				call.Workspace = workspace
			}
			cfg := risk.DefaultConfig()
			cfg.AllowlistDomains = allow
			facts := toolcall.Extract(call)
			assessment := risk.NewScorer(cfg).ScoreFacts(facts)
			tags := classify.New(classify.Config{AllowlistDomains: allow}).ClassifyFacts(facts)
			return writeJSON(cmd.OutOrStdout(), classifyOutput{
				Risk:            assessment.Level,
				Assessment:      assessment,
				Classifications: tags.Sorted(),
			})
		},
	}
	cmd.Flags().StringSliceVar(&allow, "allow-domain", nil, "egress allowlist domain (repeatable)")
	cmd.Flags().StringVar(&workspace, "workspace", envOrDefault("CHARTER_WORKSPACE", ""), "workspace root for path checks")
	return cmd
}

func decisionFmt(d policy.Decision) string {
	switch d {
	case policy.Allow:
		return okFmt(strings.ToUpper(d.String()))
	case policy.Confirm:
		return warnFmt(strings.ToUpper(d.String()))
	default:
		return failFmt(strings.ToUpper(d.String()))
	}
}

func newEngine(store *policy.Store, workspace string) *policy.Engine {
	return policy.NewEngine(store, policy.EngineConfig{Workspace: workspace, Risk: risk.DefaultConfig()})
}

func newEvaluateCmd() *cobra.Command {
	var cf constitutionFlags
	var workspace string
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "evaluate <call.json|->",
		Short: "Evaluate a tool call against a signed constitution",
		Args:  exactArgs(1, "<call.json|->"),
		RunE: func(cmd *cobra.Command, args []string) error {
			call, err := readCall(cmd, args[0])
			if err != nil {
				return err
			}
			store, err := cf.load()
			if err != nil {
				return err
			}
			res := newEngine(store, workspace).Evaluate(call).Result
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cf.register(cmd)
	cmd.Flags().StringVar(&workspace, "workspace", envOrDefault("CHARTER_WORKSPACE", ""), "workspace root substituted for ${WORKSPACE}")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the full result as JSON")
	return cmd
}

func printResult(w io.Writer, res policy.Result) {
	fmt.Fprintf(w, "%s reason=%s risk=%s\n", decisionFmt(res.Decision), res.ReasonCode, res.Risk)
	if res.Reason != "" {
		fmt.Fprintf(w, "  %s\n", res.Reason)
	}
	fmt.Fprintf(w, "  classifications: %s\n", listOrNone(res.Classifications))
	fmt.Fprintf(w, "  matched rules:   %s\n", listOrNone(res.MatchedRules))
	ob := res.Obligations
	if ob.Logging.Enabled {
		fmt.Fprintf(w, "  logging: include_args=%t include_result=%t tamper_evident=%t\n",
			ob.Logging.IncludeArgs, ob.Logging.IncludeResult, ob.Logging.TamperEvident)
	}
	if ob.Disclosure.Set() {
		fmt.Fprintf(w, "  disclosure: %s %q\n", ob.Disclosure.Mode, ob.Disclosure.Text)
	}
	if ob.Reflection.Required {
		fmt.Fprintf(w, "  reflection: %s\n", listOrNone(ob.Reflection.Fields))
	}
	if res.Override != nil {
		fmt.Fprintf(w, "  override: %s/%s scope_hash=%s\n", res.Override.Mode, res.Override.Scope, res.Override.ScopeHash)
	}
	for _, c := range res.Conflicts {
		fmt.Fprintf(w, "  %s %+v\n", dimFmt("conflict:"), c)
	}
	for _, d := range res.Diagnostics {
		fmt.Fprintf(w, "  %s %+v\n", dimFmt("diagnostic:"), d)
	}
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func newDiscloseCmd() *cobra.Command {
	var cf constitutionFlags
	var ruleID, callPath, workspace string
	cmd := &cobra.Command{
		Use:   "disclose [text]",
		Short: "Apply the disclosure a rule or a tool call requires to outbound text",
		Long: `disclose appends the required disclosure unless it is already present.
Text comes from the argument or stdin. Pick the disclosure with --rule, or
with --call to use the merged obligations of evaluating that call.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (ruleID == "") == (callPath == "") {
				return usageError{errors.New("exactly one of --rule or --call is required")}
			}
			var text string
			if len(args) == 1 {
				text = args[0]
			} else {
				raw, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				text = strings.TrimRight(string(raw), "\n")
			}

			store, err := cf.load()
			if err != nil {
				return err
			}
			var out string
			if ruleID != "" {
				d, ok := disclosure.Lookup(store.Current().Document(), ruleID)
				if !ok {
					return fmt.Errorf("rule %q requires no disclosure", ruleID)
				}
				out = disclosure.ApplyDisclosure(text, d)
			} else {
				call, err := readCall(cmd, callPath)
				if err != nil {
					return err
				}
				res := newEngine(store, workspace).Evaluate(call).Result
				out = disclosure.Apply(text, res.Obligations)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cf.register(cmd)
	cmd.Flags().StringVar(&ruleID, "rule", "", "rule id whose disclosure applies")
	cmd.Flags().StringVar(&callPath, "call", "", "tool call JSON whose evaluation decides the disclosure")
	cmd.Flags().StringVar(&workspace, "workspace", envOrDefault("CHARTER_WORKSPACE", ""), "workspace root substituted for ${WORKSPACE}")
	return cmd
}
