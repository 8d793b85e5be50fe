package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sentinel/internal/config"
	"github.com/ppiankov/sentinel/internal/contract"
	"github.com/ppiankov/sentinel/internal/reason"
)

var (
	evalFormat string
	evalStrict bool
)

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().StringVarP(&evalFormat, "format", "f", "auto", "Input format (json|yaml|auto)")
	evaluateCmd.Flags().BoolVar(&evalStrict, "strict", false, "Treat WARN as a stop (exit 77)")
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate [request-file]",
	Short: "Evaluate a contract v3 request",
	Long: "Reads a contract v3 request (JSON or YAML) from a file or stdin and\n" +
		"prints the response JSON on stdout.\n\n" +
		"Exit code 0 for ALLOW and WARN, 77 for BLOCK and ERROR.\n" +
		"With --strict, WARN also exits 77.",
	Args: cobra.MaximumNArgs(1),
	RunE: runEvaluate,
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(newLogger())
	if err != nil {
		return err
	}
	defer rt.Close()

	var resp contract.Response
	raw, err := readDocument(argOrStdin(args), evalFormat, cmd.InOrStdin())
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "input rejected: %v\n", err)
		resp = rt.Reject("", reason.InvalidRequest, "unreadable input", config.SourceCLI)
	} else {
		resp = rt.Evaluate(raw, config.SourceCLI)
	}

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return decisionExit(resp.Decision, evalStrict)
}

func argOrStdin(args []string) string {
	if len(args) == 0 {
		return "-"
	}
	return args[0]
}

// decisionExit maps a decision to the command's exit status.
func decisionExit(d contract.Decision, strict bool) error {
	switch d {
	case contract.Allow:
		return nil
	case contract.Warn:
		if !strict {
			return nil
		}
	}
	return &exitError{code: exitStopped, msg: fmt.Sprintf("decision: %s", d)}
}
