package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"tadeval/internal/nms"
	"tadeval/internal/sink"
)

func newNMSCommand(ctx *commandContext) *cobra.Command {
	var (
		input     string
		output    string
		mode      string
		iou       float64
		maxSegNum int
	)
	cmd := &cobra.Command{
		Use:   "nms",
		Short: "Re-run per-video suppression over a results file",
		Long: `Loads a persisted results file, suppresses overlapping detections per video
with the configured NMS settings and writes a new results file. Flags override
the [nms] section for this invocation only.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			if strings.TrimSpace(input) == "" {
				input = cfg.ResultPath()
			}
			if strings.TrimSpace(output) == "" {
				ext := filepath.Ext(input)
				output = strings.TrimSuffix(input, ext) + ".nms" + ext
			}

			nmsCfg := cfg.NMSConfig()
			if cmd.Flags().Changed("mode") {
				m, err := nms.ParseMode(mode)
				if err != nil {
					return err
				}
				nmsCfg.Mode = m
			}
			if cmd.Flags().Changed("iou") {
				nmsCfg.IoUThreshold = iou
			}
			if cmd.Flags().Changed("max-seg-num") {
				nmsCfg.MaxSegNum = maxSegNum
			}

			doc, err := sink.Load(input)
			if err != nil {
				return err
			}
			suppressed, removed, err := nms.SuppressMapping(doc.Mapping(), nmsCfg)
			if err != nil {
				return err
			}
			outcome, err := sink.New(sink.Options{
				Save:     true,
				Path:     output,
				LockPath: cfg.ResultLockPath(),
				Logger:   logger,
			}).Persist(cmd.Context(), suppressed)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Suppressed %d of %d detections across %d videos\n", removed, doc.Total(), doc.Len())
			fmt.Fprintf(out, "Wrote %d detections to %s\n", outcome.Document.Total(), outcome.Path)
			colorize := shouldColorize(out)
			if len(outcome.Warnings) > 0 {
				for _, line := range warningLines([]string{fmt.Sprintf("%d result field(s) omitted during serialization", len(outcome.Warnings))}, colorize) {
					fmt.Fprintln(out, line)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "file", "f", "", "Results file to read (defaults to the work directory's result_detection.json)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file (defaults to <file>.nms.json)")
	cmd.Flags().StringVar(&mode, "mode", "", "Suppression mode: hard or soft")
	cmd.Flags().Float64Var(&iou, "iou", 0, "IoU threshold")
	cmd.Flags().IntVar(&maxSegNum, "max-seg-num", 0, "Maximum detections kept per video")
	return cmd
}
