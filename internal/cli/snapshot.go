package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sentinel/internal/config"
	"github.com/ppiankov/sentinel/internal/contract"
	"github.com/ppiankov/sentinel/internal/gate"
)

var snapshotFormat string

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.Flags().StringVarP(&snapshotFormat, "format", "f", "auto", "Input format (json|yaml|auto)")
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot [telemetry-file]",
	Short: "Score flat telemetry and print the legacy status triple",
	Long: "Wraps flat telemetry in a contract v3 request and prints\n" +
		"{status, risk_score, details}. Any failure prints the ERROR triple.\n\n" +
		"Exit code 0 for OK and WARN, 77 for BLOCK and ERROR.",
	Args: cobra.MaximumNArgs(1),
	RunE: runSnapshot,
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(newLogger())
	if err != nil {
		return err
	}
	defer rt.Close()

	result := gate.ToResult(contract.Response{Decision: contract.Error})
	raw, err := readDocument(argOrStdin(args), snapshotFormat, cmd.InOrStdin())
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "input rejected: %v\n", err)
	} else if telemetry, ok := raw.(map[string]any); ok {
		result = rt.Snapshot(telemetry, config.SourceCLI)
	} else {
		fmt.Fprintln(cmd.ErrOrStderr(), "input rejected: telemetry must be an object")
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return decisionExit(gate.DecisionFor(result.Status), false)
}
