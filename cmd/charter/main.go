package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "0.1.0"

func main() {
	exitFn(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

var exitFn = os.Exit

// usageError marks a bad invocation; run exits 2 for it.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// failedError is a command that ran but reports a negative result, such as
// a signature that does not verify. It exits 1 without extra output.
type failedError struct{ msg string }

func (e failedError) Error() string { return e.msg }

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err == nil {
		return 0
	}
	var fe failedError
	if errors.As(err, &fe) {
		return 1
	}
	fmt.Fprintf(stderr, "%s %v\n", color.New(color.FgRed, color.Bold).Sprint("error:"), err)
	var ue usageError
	if errors.As(err, &ue) {
		return 2
	}
	return 1
}

func newRootCmd() *cobra.Command {
	var noColor bool
	root := &cobra.Command{
		Use:   "charter",
		Short: "Author, sign and evaluate agent constitutions",
		Long: `charter works with constitutions: signed rule documents that decide
whether an agent tool call is allowed, needs confirmation, or is denied.

Authoring:  canon, hash, stamp, keygen, sign, verify, lint
Evaluation: classify, evaluate, disclose
Evidence:   attest validate, receipt verify, receipt get`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	root.AddCommand(
		newCanonCmd(),
		newHashCmd(),
		newStampCmd(),
		newKeygenCmd(),
		newSignCmd(),
		newVerifyCmd(),
		newLintCmd(),
		newClassifyCmd(),
		newEvaluateCmd(),
		newDiscloseCmd(),
		newAttestCmd(),
		newReceiptCmd(),
	)
	return root
}

// exactArgs is cobra.ExactArgs reporting a usage error.
func exactArgs(n int, names ...string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usageError{fmt.Errorf("%s requires %s", cmd.CommandPath(), strings.Join(names, " "))}
		}
		return nil
	}
}

// readInput reads path, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	// #nosec G304 -- path is supplied by the operator.
	return os.ReadFile(path)
}

func envOrDefault(key string, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

var (
	okFmt   = color.New(color.FgGreen, color.Bold).SprintFunc()
	warnFmt = color.New(color.FgYellow, color.Bold).SprintFunc()
	failFmt = color.New(color.FgRed, color.Bold).SprintFunc()
	dimFmt  = color.New(color.Faint).SprintFunc()
)
