package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tadeval/internal/api"
	"tadeval/internal/runstore"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and manage evaluation run history",
	}
	runsCmd.AddCommand(newRunsListCommand(ctx))
	runsCmd.AddCommand(newRunsShowCommand(ctx))
	runsCmd.AddCommand(newRunsRemoveCommand(ctx))
	runsCmd.AddCommand(newRunsPruneCommand(ctx))
	return runsCmd
}

func newRunsListCommand(ctx *commandContext) *cobra.Command {
	var (
		limit  int
		status string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := api.ParseStatuses(status)
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *runstore.Store) error {
				runs, err := store.List(cmd.Context(), limit, statuses...)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.FromRuns(runs))
				}
				out := cmd.OutOrStdout()
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs recorded")
					return nil
				}
				fmt.Fprintln(out, renderRunTable(runs))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs to list (0 lists all)")
	cmd.Flags().StringVar(&status, "status", "", "Comma separated status filter")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func renderRunTable(runs []*runstore.Run) string {
	headers := []string{"ID", "Status", "Epoch", "World", "Videos", "Detections", "Warnings", "Created", "Duration"}
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			shortID(run.ID),
			string(run.Status),
			strconv.Itoa(run.Epoch),
			strconv.Itoa(run.WorldSize),
			strconv.Itoa(run.Videos),
			strconv.Itoa(run.Detections),
			strconv.Itoa(len(run.Warnings)),
			formatTime(run.CreatedAt),
			formatDuration(run.Duration()),
		})
	}
	aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft, alignRight}
	return renderTable(headers, rows, aligns)
}

func newRunsShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one run with its per-video counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *runstore.Store) error {
				run, err := resolveRun(cmd.Context(), store, args[0])
				if err != nil {
					return err
				}
				counts, err := store.VideoCounts(cmd.Context(), run.ID)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.FromRunDetail(run, counts))
				}
				printRunDetail(cmd, run, counts)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func printRunDetail(cmd *cobra.Command, run *runstore.Run, counts []runstore.VideoCount) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	for _, line := range renderSectionHeader("Run "+run.ID, colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("Status", runStatusKind(run.Status), string(run.Status), colorize))
	fmt.Fprintln(out, renderStatusLine("Epoch", statusInfo, strconv.Itoa(run.Epoch), colorize))
	fmt.Fprintln(out, renderStatusLine("World size", statusInfo, strconv.Itoa(run.WorldSize), colorize))
	fmt.Fprintln(out, renderStatusLine("Shadow weights", statusInfo, yesNo(run.EMA), colorize))
	if run.ConfigPath != "" {
		fmt.Fprintln(out, renderStatusLine("Config", statusInfo, run.ConfigPath, colorize))
	}
	if run.ResultPath != "" {
		fmt.Fprintln(out, renderStatusLine("Results", statusInfo, run.ResultPath, colorize))
		fmt.Fprintln(out, renderStatusLine("SHA-256", statusInfo, run.ResultSHA256, colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Detections", statusInfo,
		fmt.Sprintf("%d across %d videos (%d suppressed, %d dropped)", run.Detections, run.Videos, run.Suppressed, run.Dropped), colorize))
	fmt.Fprintln(out, renderStatusLine("Created", statusInfo, formatTime(run.CreatedAt), colorize))
	fmt.Fprintln(out, renderStatusLine("Duration", statusInfo, formatDuration(run.Duration()), colorize))
	if run.ErrorMessage != "" {
		fmt.Fprintln(out, renderStatusLine("Error", statusError, run.ErrorMessage, colorize))
	}
	printWarnings(out, run.Warnings)

	if len(counts) > 0 {
		rows := make([][]string, 0, len(counts))
		for _, c := range counts {
			rows = append(rows, []string{c.VideoKey, strconv.Itoa(c.Detections)})
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderTable([]string{"Video", "Detections"}, rows, []columnAlignment{alignLeft, alignRight}))
	}
}

func runStatusKind(status runstore.Status) statusKind {
	switch status {
	case runstore.StatusCompleted:
		return statusOK
	case runstore.StatusFailed:
		return statusError
	case runstore.StatusRunning:
		return statusWarn
	default:
		return statusInfo
	}
}

// resolveRun accepts a full run ID or a unique prefix of one.
func resolveRun(ctx context.Context, store *runstore.Store, ref string) (*runstore.Run, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, errors.New("run id is required")
	}
	run, err := store.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if run != nil {
		return run, nil
	}
	runs, err := store.List(ctx, 0)
	if err != nil {
		return nil, err
	}
	var match *runstore.Run
	for _, candidate := range runs {
		if !strings.HasPrefix(candidate.ID, ref) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("run prefix %q is ambiguous", ref)
		}
		match = candidate
	}
	if match == nil {
		return nil, fmt.Errorf("run %q not found", ref)
	}
	return match, nil
}

func newRunsRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete a run from history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *runstore.Store) error {
				run, err := resolveRun(cmd.Context(), store, args[0])
				if err != nil {
					return err
				}
				if !run.Status.Terminal() {
					return fmt.Errorf("run %s is %s; only finished runs can be removed", shortID(run.ID), run.Status)
				}
				if _, err := store.Remove(cmd.Context(), run.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed run %s\n", run.ID)
				return nil
			})
		},
	}
}

func newRunsPruneCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete finished runs older than a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}
			return ctx.withStore(func(store *runstore.Store) error {
				removed, err := store.PruneFinished(cmd.Context(), time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d run(s)\n", removed)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Age of the oldest finished run to keep")
	return cmd
}
