package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tadeval/internal/api"
	"tadeval/internal/metrics"
	"tadeval/internal/runstore"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve run history and results over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			if strings.TrimSpace(bind) == "" {
				bind = cfg.Paths.APIBind
			}
			return ctx.withStore(func(store *runstore.Store) error {
				srv, err := api.NewServer(api.ServerConfig{
					Bind:    bind,
					Runs:    api.NewRunService(store),
					Results: api.NewResultService(cfg.ResultPath()),
					Metrics: metrics.New(),
					Logger:  logger,
				})
				if err != nil {
					return fmt.Errorf("start api: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Serving on http://%s\n", srv.Addr())

				sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				errCh := make(chan error, 1)
				go func() { errCh <- srv.Serve() }()

				select {
				case err := <-errCh:
					return err
				case <-sigCtx.Done():
				}
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					return err
				}
				return <-errCh
			})
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "Listen address (defaults to paths.api_bind)")
	return cmd
}
