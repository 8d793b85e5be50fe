package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sentinel/internal/scoremodel"
)

func init() {
	rootCmd.AddCommand(modelCmd)
	modelCmd.AddCommand(modelHashCmd)
	modelCmd.AddCommand(modelVerifyCmd)
}

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Scoring model artifact operations",
}

var modelHashCmd = &cobra.Command{
	Use:   "hash <path>",
	Short: "Print the SHA3-256 digest of a model artifact",
	Long:  "Prints the lowercase hex digest to pin as model.sha3_256 in the config.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		digest, err := scoremodel.DigestFile(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), digest)
		return nil
	},
}

var modelVerifyCmd = &cobra.Command{
	Use:   "verify <path> <sha3-256>",
	Short: "Load a model artifact and check its digest",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := scoremodel.Load(args[0], args[1])
		if err != nil {
			return &exitError{code: exitFailure, msg: fmt.Sprintf("FAILED: %v", err)}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "OK: %s (%s)\n", m.Name(), m.Digest())
		return nil
	},
}
