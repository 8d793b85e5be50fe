package cli

import (
	"github.com/spf13/cobra"

	"github.com/ppiankov/sentinel/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP tool server on stdio",
	Long: "Exposes sentinel_evaluate and sentinel_snapshot as MCP tools over\n" +
		"stdio for agent integration. Logs go to stderr.",
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(newLogger())
	if err != nil {
		return err
	}
	defer rt.Close()

	return mcp.New(rt, Version).Run(cmd.Context())
}
