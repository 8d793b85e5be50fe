package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sentinel/internal/config"
	"github.com/ppiankov/sentinel/internal/events"
)

var (
	eventsLimit int
	eventsJSON  bool
)

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsListCmd)
	eventsCmd.AddCommand(eventsFeedbackCmd)
	eventsListCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 20, "Number of events to show")
	eventsListCmd.Flags().BoolVar(&eventsJSON, "json", false, "Print JSON instead of a table")
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Anomaly event ledger operations",
	Long:  "Inspect and label events recorded in the ledger.path SQLite database.",
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent anomaly events",
	RunE:  runEventsList,
}

var eventsFeedbackCmd = &cobra.Command{
	Use:   "feedback <event-id> <TRUE_POSITIVE|FALSE_POSITIVE|MISSED_ATTACK>",
	Short: "Label an event",
	Args:  cobra.ExactArgs(2),
	RunE:  runEventsFeedback,
}

func openLedger() (*events.Ledger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Ledger.Path == "" {
		return nil, errors.New("no event ledger: set ledger.path in the config")
	}
	return events.OpenLedger(cfg.Ledger.Path)
}

func runEventsList(cmd *cobra.Command, args []string) error {
	ledger, err := openLedger()
	if err != nil {
		return err
	}
	defer ledger.Close()

	list, err := ledger.Recent(cmd.Context(), eventsLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if eventsJSON {
		if list == nil {
			list = []events.Event{}
		}
		data, err := json.MarshalIndent(list, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	if len(list) == 0 {
		fmt.Fprintln(out, "No events recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tTYPE\tDECISION\tSEVERITY\tDETAILS")
	for _, e := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\t%s\n",
			e.ID, e.CreatedAt.Format("2006-01-02 15:04:05"), e.AnomalyType, e.Decision, e.Severity, e.Details)
	}
	return tw.Flush()
}

func runEventsFeedback(cmd *cobra.Command, args []string) error {
	ledger, err := openLedger()
	if err != nil {
		return err
	}
	defer ledger.Close()

	if err := ledger.Feedback(cmd.Context(), args[0], args[1]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Labelled %s\n", args[0])
	return nil
}
