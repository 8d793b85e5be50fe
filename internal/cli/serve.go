package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sentinel/internal/api"
	"github.com/ppiankov/sentinel/internal/config"
	"github.com/ppiankov/sentinel/internal/ratelimit"
	"github.com/ppiankov/sentinel/internal/server"
)

var (
	serveHTTPAddr string
	serveGRPCPort int
	serveNoReload bool
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHTTPAddr, "http", "", "HTTP listen address (overrides server.http_addr, \"off\" disables)")
	serveCmd.Flags().IntVar(&serveGRPCPort, "grpc-port", 0, "gRPC listen port (overrides server.grpc_port, -1 disables)")
	serveCmd.Flags().BoolVar(&serveNoReload, "no-reload", false, "Do not watch the config file for changes")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the gate over HTTP and gRPC",
	Long: "Starts the HTTP adapter (/v3/evaluate, /evaluate, /status, /health)\n" +
		"and the gRPC service sentinel.v1.Gate. The config file is watched and\n" +
		"reloaded on change; a bad config keeps the previous gate.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	rt, err := openRuntime(logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	cfg := rt.Config()
	httpAddr := cfg.Server.HTTPAddr
	if serveHTTPAddr != "" {
		httpAddr = serveHTTPAddr
	}
	grpcPort := cfg.Server.GRPCPort
	if serveGRPCPort != 0 {
		grpcPort = serveGRPCPort
	}
	if (httpAddr == "" || httpAddr == "off") && grpcPort <= 0 {
		return errors.New("nothing to serve: HTTP and gRPC are both disabled")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 3)
	spawn := func(fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				errCh <- err
				cancel()
			}
		}()
	}

	if httpAddr != "" && httpAddr != "off" {
		srv := api.New(rt, api.WithLogger(logger), api.WithRateLimit(ratelimit.New(cfg.Server.RateLimit)))
		spawn(func() error {
			logger.Info("http listening", "addr", httpAddr)
			return srv.ListenAndServe(ctx, httpAddr)
		})
	}

	if grpcPort > 0 {
		gs := server.New(rt, logger)
		spawn(func() error {
			logger.Info("grpc listening", "port", grpcPort)
			if err := gs.Serve(grpcPort); err != nil {
				return fmt.Errorf("grpc: %w", err)
			}
			return nil
		})
		spawn(func() error {
			<-ctx.Done()
			gs.GracefulStop()
			return nil
		})
	}

	if !serveNoReload {
		path := rt.Path()
		if path == "" {
			path = config.DefaultPath()
		}
		if path != "" {
			reloader, err := server.NewReloader(rt, []string{path}, logger)
			if err != nil {
				logger.Warn("config hot reload disabled", "error", err)
			} else {
				spawn(func() error {
					if err := reloader.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						return err
					}
					return nil
				})
			}
		}
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "sentinel serving (config %s)\n", rt.ConfigHash())
	<-ctx.Done()
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}
