package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sentinel/internal/rpc"
	"github.com/ppiankov/sentinel/internal/stall"
)

var (
	watchURL  string
	watchOnce bool
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchURL, "rpc-url", "", "Node JSON-RPC URL (overrides rpc.url)")
	watchCmd.Flags().BoolVar(&watchOnce, "once", false, "Check once and exit")
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll a chain node and report stalls",
	Long: "Polls getblockcount every rpc.poll_interval and prints one status line\n" +
		"per check. A height that stays flat past rpc.stall_threshold is a stall\n" +
		"and emits a chain_stall event to the configured sinks.",
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	rt, err := openRuntime(logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	cfg := rt.Config().RPC
	url := cfg.URL
	if watchURL != "" {
		url = watchURL
	}
	if url == "" {
		return errors.New("no node configured: set rpc.url or --rpc-url")
	}

	opts := []stall.Option{stall.WithLogger(logger)}
	if sink := rt.Sink(); sink != nil {
		opts = append(opts, stall.WithSink(sink))
	}
	mon := stall.New(rpc.New(url, cfg.User, cfg.Password), cfg.StallThreshold, opts...)

	enc := json.NewEncoder(cmd.OutOrStdout())
	if watchOnce {
		st, err := mon.Check(cmd.Context())
		if err != nil {
			return err
		}
		return enc.Encode(st)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err = mon.Run(ctx, cfg.PollInterval, func(st stall.Status) {
		if err := enc.Encode(st); err != nil {
			logger.Warn("write status", "error", err)
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	return nil
}
