package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sentinel/internal/audit"
	"github.com/ppiankov/sentinel/internal/config"
	"github.com/ppiankov/sentinel/internal/events"
	"github.com/ppiankov/sentinel/internal/scoremodel"
)

func init() {
	rootCmd.AddCommand(doctorCmd)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, model artifact, decision log and ledger",
	RunE:  runDoctor,
}

type checkResult struct {
	label  string
	ok     bool
	detail string
	fix    string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	var checks []checkResult

	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, hash, err := config.LoadWithHash(path)
	switch {
	case err != nil:
		checks = append(checks, checkResult{label: "config", detail: err.Error(), fix: "fix the YAML or run sentinel init-config --force"})
	case fileExists(path):
		checks = append(checks, checkResult{label: "config", ok: true, detail: fmt.Sprintf("%s (%s)", path, hash)})
	default:
		checks = append(checks, checkResult{label: "config", ok: true, detail: "built-in defaults", fix: "sentinel init-config"})
	}

	if cfg != nil {
		checks = append(checks, modelCheck(cfg.Model))
		checks = append(checks, auditCheck(cfg.AuditLog))
		checks = append(checks, ledgerCheck(cfg.Ledger.Path))
	}

	out := cmd.OutOrStdout()
	hasFailures := false
	for _, c := range checks {
		mark := "✓"
		if !c.ok {
			mark = "✗"
			hasFailures = true
		}
		line := fmt.Sprintf("%s %-14s %s", mark, c.label+":", c.detail)
		if !c.ok && c.fix != "" {
			line += fmt.Sprintf("  ->  %s", c.fix)
		}
		fmt.Fprintln(out, line)
	}

	fmt.Fprintln(out)
	if hasFailures {
		fmt.Fprintln(out, "Some checks failed. Run the suggested commands to fix.")
		return errors.New("doctor found issues")
	}
	fmt.Fprintln(out, "All checks passed.")
	return nil
}

func modelCheck(m config.Model) checkResult {
	if m.Path == "" {
		return checkResult{label: "model", ok: true, detail: "not configured (threat bank only)"}
	}
	loaded, err := scoremodel.Load(m.Path, m.SHA3_256)
	if err != nil {
		return checkResult{label: "model", detail: err.Error(), fix: "sentinel model hash " + m.Path}
	}
	if m.SHA3_256 == "" {
		return checkResult{
			label:  "model",
			detail: fmt.Sprintf("%s loaded without a sha3_256 pin (sha3-256:%s)", loaded.Name(), loaded.Digest()),
			fix:    "set model.sha3_256 to the output of sentinel model hash " + m.Path,
		}
	}
	return checkResult{label: "model", ok: true, detail: fmt.Sprintf("%s sha3-256:%s", loaded.Name(), loaded.Digest())}
}

func auditCheck(path string) checkResult {
	if path == "" {
		return checkResult{label: "decision log", ok: true, detail: "disabled"}
	}
	if !fileExists(path) {
		return checkResult{label: "decision log", ok: true, detail: path + " (not yet written)"}
	}
	v := audit.Verify(path)
	if !v.Valid {
		return checkResult{label: "decision log", detail: fmt.Sprintf("chain broken at line %d: %s", v.ErrorLine, v.Error)}
	}
	return checkResult{label: "decision log", ok: true, detail: fmt.Sprintf("%s (%d entries)", path, v.Lines)}
}

func ledgerCheck(path string) checkResult {
	if path == "" {
		return checkResult{label: "event ledger", ok: true, detail: "disabled"}
	}
	l, err := events.OpenLedger(path)
	if err != nil {
		return checkResult{label: "event ledger", detail: err.Error()}
	}
	l.Close()
	return checkResult{label: "event ledger", ok: true, detail: path}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
