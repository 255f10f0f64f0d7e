package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tadeval/internal/api"
	"tadeval/internal/config"
	"tadeval/internal/evaluation"
	"tadeval/internal/gather"
	"tadeval/internal/logging"
	"tadeval/internal/metrics"
	"tadeval/internal/preflight"
	"tadeval/internal/runstore"
)

type evaluateFlags struct {
	localWorkers  int
	rank          int
	worldSize     int
	noEval        bool
	skipPreflight bool
	serve         bool
	asJSON        bool
}

func newEvaluateCommand(ctx *commandContext) *cobra.Command {
	var flags evaluateFlags
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Run one evaluation pass",
		Long: `Runs the configured detector over the evaluation subset, gathers every
worker's detections, suppresses overlaps and persists the merged results.

With --local-workers N all N ranks run in this process. Otherwise this process
is one rank of a job started once per rank; rank 0 hosts the gather socket.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			if err := applyEvaluateFlags(cmd, cfg, &flags); err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !flags.skipPreflight {
				if err := preflight.Error(preflight.RunAll(runCtx, cfg)); err != nil {
					return err
				}
			}
			return runEvaluation(runCtx, cmd.OutOrStdout(), cfg, ctx.configPath, flags, logger)
		},
	}
	cmd.Flags().IntVar(&flags.localWorkers, "local-workers", 0, "Run this many ranks as goroutines in one process")
	cmd.Flags().IntVar(&flags.rank, "rank", 0, "Rank of this process (overrides distributed.rank)")
	cmd.Flags().IntVar(&flags.worldSize, "world-size", 0, "Number of ranks in the job (overrides distributed.world_size)")
	cmd.Flags().BoolVar(&flags.noEval, "no-eval", false, "Persist results without running the evaluator")
	cmd.Flags().BoolVar(&flags.skipPreflight, "skip-preflight", false, "Skip input checks before the run")
	cmd.Flags().BoolVar(&flags.serve, "serve", false, "Serve the HTTP API while the run is in progress")
	cmd.Flags().BoolVar(&flags.asJSON, "json", false, "Print the run record as JSON")
	return cmd
}

func applyEvaluateFlags(cmd *cobra.Command, cfg *config.Config, flags *evaluateFlags) error {
	if flags.localWorkers > 0 {
		if cmd.Flags().Changed("rank") || cmd.Flags().Changed("world-size") {
			return errors.New("--local-workers cannot be combined with --rank or --world-size")
		}
		cfg.Distributed.WorldSize = flags.localWorkers
		cfg.Distributed.Rank = 0
	}
	if cmd.Flags().Changed("world-size") {
		cfg.Distributed.WorldSize = flags.worldSize
	}
	if cmd.Flags().Changed("rank") {
		cfg.Distributed.Rank = flags.rank
	}
	if cfg.Distributed.WorldSize <= 0 {
		return fmt.Errorf("world size must be positive, got %d", cfg.Distributed.WorldSize)
	}
	if cfg.Distributed.Rank < 0 || cfg.Distributed.Rank >= cfg.Distributed.WorldSize {
		return fmt.Errorf("rank %d outside [0, %d)", cfg.Distributed.Rank, cfg.Distributed.WorldSize)
	}
	return nil
}

func runEvaluation(ctx context.Context, out io.Writer, cfg *config.Config, configPath string, flags evaluateFlags, logger *slog.Logger) error {
	comps, err := evaluation.LoadComponents(cfg)
	if err != nil {
		return err
	}
	m := metrics.New()
	rank := cfg.Distributed.Rank
	local := flags.localWorkers > 0

	// Remote ranks do not touch the run store; rank 0 records the job.
	if rank != 0 {
		ctx = logging.WithRank(ctx, rank)
		client := gather.NewClient(cfg.Distributed.Socket, cfg.Distributed.WorldSize, logger)
		result, err := runWorker(ctx, comps, cfg, rank, client, flags.noEval, logger, m)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Rank %d: %d windows, %d detections sent to rank 0\n", rank, result.Windows, result.Recorded)
		printWarnings(out, result.Warnings())
		return nil
	}

	store, err := runstore.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	run, err := store.Create(ctx, runstore.Spec{
		Epoch:      cfg.Evaluation.Epoch,
		WorldSize:  cfg.Distributed.WorldSize,
		EMA:        cfg.Evaluation.EMA,
		ConfigPath: configPath,
	})
	if err != nil {
		return err
	}
	ctx = logging.WithRunID(ctx, run.ID)
	logger = logging.WithContext(ctx, logger)

	if flags.serve {
		srv, err := api.NewServer(api.ServerConfig{
			Bind:    cfg.Paths.APIBind,
			Runs:    api.NewRunService(store),
			Results: api.NewResultService(cfg.ResultPath()),
			Metrics: m,
			Logger:  logger,
			RunID:   run.ID,
		})
		if err != nil {
			return fmt.Errorf("start api: %w", err)
		}
		go func() {
			if err := srv.Serve(); err != nil {
				logging.WarnWithContext(logger, "api server stopped", "api_serve_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "run progress is not observable over HTTP"))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		fmt.Fprintf(out, "API listening on http://%s\n", srv.Addr())
	}

	if err := store.Start(ctx, run.ID); err != nil {
		return err
	}

	var results []*evaluation.Result
	if local {
		results, err = runLocalWorkers(ctx, comps, cfg, flags.noEval, logger, m)
	} else {
		results, err = runCoordinator(ctx, comps, cfg, flags.noEval, logger, m)
	}
	if err != nil {
		m.RunFinished(string(runstore.StatusFailed))
		if failErr := store.Fail(context.WithoutCancel(ctx), run.ID, err); failErr != nil {
			logging.WarnWithContext(logger, "failed to record run failure", "run_store_failed",
				logging.Error(failErr),
				logging.String(logging.FieldImpact, "run history shows the run as still running"))
		}
		return fmt.Errorf("run %s: %w", shortID(run.ID), err)
	}

	summary, err := summarize(results)
	if err != nil {
		return err
	}
	if err := store.Complete(ctx, run.ID, summary); err != nil {
		return err
	}
	m.RunFinished(string(runstore.StatusCompleted))

	finished, err := store.Get(ctx, run.ID)
	if err != nil {
		return err
	}
	if flags.asJSON {
		return writeJSONTo(out, api.FromRun(finished))
	}
	printRunResult(out, finished, results[0].Report)
	return nil
}

// summarize builds the run record from rank 0's result. Per-rank counters
// from the other ranks are added when they ran in this process.
func summarize(results []*evaluation.Result) (runstore.Summary, error) {
	summary, err := results[0].Summary()
	if err != nil {
		return runstore.Summary{}, err
	}
	for _, r := range results[1:] {
		summary.Dropped += r.Dropped
		summary.Suppressed += r.Suppressed
		summary.Warnings = append(summary.Warnings, r.Warnings()...)
	}
	return summary, nil
}

func runWorker(ctx context.Context, comps *evaluation.Components, cfg *config.Config, rank int, collective gather.Collective, noEval bool, logger *slog.Logger, m *metrics.Metrics) (*evaluation.Result, error) {
	opts, err := comps.WorkerOptions(cfg, rank, collective, noEval, logger, m)
	if err != nil {
		return nil, err
	}
	engine, err := evaluation.NewEngine(opts)
	if err != nil {
		return nil, err
	}
	return engine.EvalOneEpoch(ctx)
}

// runLocalWorkers runs every rank as a goroutine. The first failure cancels
// the others so no rank waits at the gather for a peer that is gone.
func runLocalWorkers(ctx context.Context, comps *evaluation.Components, cfg *config.Config, noEval bool, logger *slog.Logger, m *metrics.Metrics) ([]*evaluation.Result, error) {
	worldSize := cfg.Distributed.WorldSize
	group, err := gather.NewLocalGroup(worldSize)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	results := make([]*evaluation.Result, worldSize)
	errs := make([]error, worldSize)
	var wg sync.WaitGroup
	for rank := range worldSize {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[rank], errs[rank] = runWorker(ctx, comps, cfg, rank, group, noEval, logger, m)
			if errs[rank] != nil {
				cancel(fmt.Errorf("rank %d: %w", rank, errs[rank]))
			}
		}()
	}
	wg.Wait()

	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return nil, cause
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return results, nil
}

// runCoordinator runs rank 0 of a multi-process job. A world of one needs no
// socket.
func runCoordinator(ctx context.Context, comps *evaluation.Components, cfg *config.Config, noEval bool, logger *slog.Logger, m *metrics.Metrics) ([]*evaluation.Result, error) {
	var collective gather.Collective
	if cfg.Distributed.WorldSize == 1 {
		group, err := gather.NewLocalGroup(1)
		if err != nil {
			return nil, err
		}
		collective = group
	} else {
		coord, err := gather.NewCoordinator(ctx, cfg.Distributed.Socket, cfg.Distributed.WorldSize, logger)
		if err != nil {
			return nil, err
		}
		coord.Serve()
		defer coord.Close()
		collective = coord
	}
	result, err := runWorker(ctx, comps, cfg, 0, collective, noEval, logger, m)
	if err != nil {
		return nil, err
	}
	return []*evaluation.Result{result}, nil
}

func printRunResult(out io.Writer, run *runstore.Run, report *evaluation.Report) {
	colorize := shouldColorize(out)
	for _, line := range renderSectionHeader("Run "+shortID(run.ID), colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("Status", statusOK, string(run.Status), colorize))
	fmt.Fprintln(out, renderStatusLine("World size", statusInfo, strconv.Itoa(run.WorldSize), colorize))
	fmt.Fprintln(out, renderStatusLine("Videos", statusInfo, strconv.Itoa(run.Videos), colorize))
	fmt.Fprintln(out, renderStatusLine("Detections", statusInfo, strconv.Itoa(run.Detections), colorize))
	fmt.Fprintln(out, renderStatusLine("Suppressed", statusInfo, strconv.Itoa(run.Suppressed), colorize))
	if run.ResultPath != "" {
		fmt.Fprintln(out, renderStatusLine("Results", statusInfo, run.ResultPath, colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Duration", statusInfo, formatDuration(run.Duration()), colorize))
	printWarnings(out, run.Warnings)
	if report != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderReport(*report))
	}
}

func printWarnings(out io.Writer, warnings []string) {
	for _, line := range warningLines(warnings, shouldColorize(out)) {
		fmt.Fprintln(out, line)
	}
}

func renderReport(report evaluation.Report) string {
	headers := []string{"Class", "Detections", "Ground truth", "Mean score", "Max score", "Mean duration"}
	rows := make([][]string, 0, len(report.Classes))
	for _, c := range report.Classes {
		rows = append(rows, []string{
			c.Label,
			strconv.Itoa(c.Detections),
			strconv.Itoa(c.GroundTruth),
			formatScore(c.MeanScore),
			formatScore(c.MaxScore),
			formatSeconds(c.MeanDuration) + "s",
		})
	}
	return renderTable(headers, rows, []columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight})
}
