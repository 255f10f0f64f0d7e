package preflight

import (
	"context"
	"fmt"
	"strings"

	"tadeval/internal/config"
)

// Result reports the outcome of a single preflight check. A passed check
// may still carry a warning.
type Result struct {
	Name    string
	Passed  bool
	Warning bool
	Detail  string
}

// RunAll executes all applicable preflight checks for the given config.
// Checks are only run when the corresponding feature is enabled.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	results = append(results, CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir))
	results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	results = append(results, CheckReadableFile("Annotations", cfg.Paths.AnnotationFile))
	results = append(results, CheckReadableFile("Class map", cfg.Paths.ClassMapFile))

	if cfg.Inference.LoadFromRawPredictions {
		results = append(results, CheckRawPredictions(cfg.Paths.RawPredictionDir, cfg.Distributed.WorldSize))
	}
	if cfg.Inference.SaveRawPrediction {
		results = append(results, CheckDirectoryAccess("Raw prediction output", cfg.Paths.RawPredictionOutputDir))
	}
	if cfg.Evaluation.EMA {
		results = append(results, CheckReadableFile("Checkpoint", cfg.Evaluation.Checkpoint))
	}
	if cfg.Distributed.WorldSize > 1 && cfg.Distributed.Rank == 0 {
		results = append(results, CheckGatherSocket(cfg.Distributed.Socket))
	}
	if err := ctx.Err(); err != nil {
		results = append(results, Result{Name: "Preflight", Detail: err.Error()})
	}
	return results
}

// Failed returns the checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

// Error joins failed checks into one error, or returns nil.
func Error(results []Result) error {
	failed := Failed(results)
	if len(failed) == 0 {
		return nil
	}
	parts := make([]string, 0, len(failed))
	for _, r := range failed {
		parts = append(parts, fmt.Sprintf("%s: %s", r.Name, r.Detail))
	}
	return fmt.Errorf("preflight failed: %s", strings.Join(parts, "; "))
}
