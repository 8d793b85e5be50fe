// Package cli implements the sentinel command tree.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sentinel/internal/config"
)

// Exit codes.
const (
	exitFailure = 1
	exitStopped = 77 // BLOCK, ERROR, or WARN under --strict
	exitConfig  = 78 // EX_CONFIG
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Fail-closed telemetry decision gate",
	Long: "Scores chain telemetry against threat models and circuit breakers and\n" +
		"returns a contract v3 decision: ALLOW, WARN, BLOCK or ERROR.\n" +
		"Anything malformed, oversized or unexpected is an ERROR, never an ALLOW.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML (default ~/.sentinel/config.yaml)")
}

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.msg != "" {
				fmt.Fprintln(os.Stderr, ee.msg)
			}
			os.Exit(ee.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitFailure)
	}
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, nil))
}

// openRuntime loads --config and builds the runtime. Configuration
// problems exit with EX_CONFIG.
func openRuntime(logger *slog.Logger) (*config.Runtime, error) {
	rt, err := config.Open(configPath, logger)
	if err != nil {
		return nil, &exitError{code: exitConfig, msg: fmt.Sprintf("FATAL: %v", err)}
	}
	return rt, nil
}
