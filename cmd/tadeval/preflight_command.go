package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tadeval/internal/preflight"
)

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	var checkBind bool
	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Check inputs and paths before a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)
			if checkBind {
				results = append(results, preflight.CheckBind(cfg.Paths.APIBind))
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader("Preflight", colorize) {
				fmt.Fprintln(out, line)
			}
			for _, line := range preflightLines(results, colorize) {
				fmt.Fprintln(out, line)
			}
			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d preflight check(s) failed", len(failed))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&checkBind, "bind", false, "Also check that paths.api_bind can be bound")
	return cmd
}
