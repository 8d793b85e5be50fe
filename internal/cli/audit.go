package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sentinel/internal/audit"
	"github.com/ppiankov/sentinel/internal/config"
)

var (
	tailLines      int
	replayFrom     string
	replayTo       string
	replayRequest  string
	replayDecision string
	replayFormat   string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditCmd.AddCommand(auditReplayCmd)
	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")
	auditReplayCmd.Flags().StringVar(&replayFrom, "from", "", "Start time (RFC3339)")
	auditReplayCmd.Flags().StringVar(&replayTo, "to", "", "End time (RFC3339)")
	auditReplayCmd.Flags().StringVar(&replayRequest, "request-id", "", "Only this request ID")
	auditReplayCmd.Flags().StringVar(&replayDecision, "decision", "", "Only this decision (ALLOW|WARN|BLOCK|ERROR)")
	auditReplayCmd.Flags().StringVar(&replayFormat, "format", "text", "Output format (text|json)")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Decision audit log operations",
	Long: "Commands for verifying and inspecting the hash-chained decision log.\n" +
		"The path defaults to audit_log from the config.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify hash chain integrity of the decision log",
	Long: "Walks the JSONL decision log and checks that every entry's prev_hash\n" +
		"matches the SHA-256 of the previous line. Exits 0 if intact, 1 if not.",
	Args: cobra.MaximumNArgs(1),
	RunE: runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail [path]",
	Short: "Show the most recent decisions",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditTail,
}

var auditReplayCmd = &cobra.Command{
	Use:   "replay [path]",
	Short: "Reconstruct a decision timeline",
	Long: "Filters the decision log by time range, request ID or decision and\n" +
		"prints a timeline with a summary.",
	Args: cobra.MaximumNArgs(1),
	RunE: runAuditReplay,
}

// auditPath resolves the log from the argument or the config.
func auditPath(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", err
	}
	if cfg.AuditLog == "" {
		return "", errors.New("no audit log: pass a path or set audit_log in the config")
	}
	return cfg.AuditLog, nil
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	path, err := auditPath(args)
	if err != nil {
		return err
	}
	result := audit.Verify(path)
	if result.Valid {
		fmt.Fprintf(cmd.OutOrStdout(), "OK: %d entries verified\n", result.Lines)
		return nil
	}
	return &exitError{
		code: exitFailure,
		msg:  fmt.Sprintf("FAILED at line %d: %s", result.ErrorLine, result.Error),
	}
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	path, err := auditPath(args)
	if err != nil {
		return err
	}
	result, err := audit.Replay(path, audit.Filter{Limit: tailLines})
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), audit.FormatTimeline(result))
	return nil
}

func runAuditReplay(cmd *cobra.Command, args []string) error {
	path, err := auditPath(args)
	if err != nil {
		return err
	}

	filter := audit.Filter{RequestID: replayRequest, Decision: replayDecision}
	if filter.From, err = parseTimeFlag("from", replayFrom); err != nil {
		return err
	}
	if filter.To, err = parseTimeFlag("to", replayTo); err != nil {
		return err
	}

	result, err := audit.Replay(path, filter)
	if err != nil {
		return err
	}

	switch replayFormat {
	case "json":
		out, err := audit.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
	case "text":
		fmt.Fprint(cmd.OutOrStdout(), audit.FormatTimeline(result))
	default:
		return fmt.Errorf("unknown format %q (text|json)", replayFormat)
	}
	return nil
}

func parseTimeFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s time (use RFC3339, e.g. 2026-01-02T15:04:05Z): %w", name, err)
	}
	return t, nil
}
