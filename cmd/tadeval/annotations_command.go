package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"tadeval/internal/annotations"
	"tadeval/internal/config"
	"tadeval/internal/detection"
)

func newAnnotationsCommand(ctx *commandContext) *cobra.Command {
	annCmd := &cobra.Command{
		Use:   "annotations",
		Short: "Prepare annotation databases",
	}
	annCmd.AddCommand(newAnnotationsInitCommand(ctx))
	return annCmd
}

func newAnnotationsInitCommand(ctx *commandContext) *cobra.Command {
	var (
		output   string
		name     string
		duration float64
		frames   int
		fps      float64
		subset   string
		appendTo bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write an annotation entry for a video without ground truth",
		Long: `Creates (or with --append extends) an annotation database with one video
entry and no ground-truth annotations, for running inference on new footage.
Give the duration in seconds and the frame count; the frame rate defaults to
frames / duration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			target := resolveOutput(output, cfg.Paths.AnnotationFile, filepath.Join(cfg.Paths.WorkDir, "annotations.json"))
			if strings.TrimSpace(name) == "" {
				return errors.New("--video is required")
			}
			if duration <= 0 && fps > 0 && frames > 0 {
				duration = float64(frames) / fps
			}
			if duration <= 0 || frames <= 0 {
				return errors.New("--duration (or --fps) and --frames must be positive")
			}

			db := annotations.NewDatabase()
			if appendTo {
				if _, err := os.Stat(target); err == nil {
					if db, err = annotations.LoadDatabase(target); err != nil {
						return err
					}
				}
			} else if _, err := os.Stat(target); err == nil {
				return fmt.Errorf("annotation file already exists at %s (use --append to add a video)", target)
			}

			video := annotations.Video{Duration: duration, Frame: frames, Subset: subset}
			if fps > 0 {
				video.FPS = fps
			}
			if err := db.Add(name, video); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create annotation directory: %w", err)
			}
			if err := db.Save(target); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote annotation file %s\n", target)
			fmt.Fprintf(out, "  Video:    %s\n", detection.NewVideoKey(name))
			fmt.Fprintf(out, "  Duration: %.2fs (%s)\n", duration, formatClock(duration))
			fmt.Fprintf(out, "  Frames:   %d\n", frames)
			fmt.Fprintf(out, "  FPS:      %.2f\n", video.FrameRate())
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Annotation file (defaults to paths.annotation_file)")
	cmd.Flags().StringVar(&name, "video", "", "Video name used as the result key")
	cmd.Flags().Float64Var(&duration, "duration", 0, "Video duration in seconds")
	cmd.Flags().IntVar(&frames, "frames", 0, "Total frame count")
	cmd.Flags().Float64Var(&fps, "fps", 0, "Frame rate, when it differs from frames / duration")
	cmd.Flags().StringVar(&subset, "subset", "test", "Subset the video belongs to")
	cmd.Flags().BoolVar(&appendTo, "append", false, "Add the video to an existing file")
	return cmd
}

func newClassMapCommand(ctx *commandContext) *cobra.Command {
	classCmd := &cobra.Command{
		Use:   "classmap",
		Short: "Prepare class map files",
	}
	classCmd.AddCommand(newClassMapBuildCommand(ctx))
	return classCmd
}

func newClassMapBuildCommand(ctx *commandContext) *cobra.Command {
	var (
		from   string
		output string
		preset string
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Write a class map from annotation labels or a preset",
		Long: `Writes one class label per line. Labels are the sorted unique labels of the
annotation file, or a named preset (thumos14) when the annotations carry no
ground truth.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			target := resolveOutput(output, cfg.Paths.ClassMapFile, filepath.Join(cfg.Paths.WorkDir, "category_idx.txt"))

			var classes []string
			switch strings.ToLower(strings.TrimSpace(preset)) {
			case "":
				source := resolveOutput(from, cfg.Paths.AnnotationFile, "")
				if source == "" {
					return errors.New("no annotation file: pass --from or set paths.annotation_file")
				}
				db, err := annotations.LoadDatabase(source)
				if err != nil {
					return err
				}
				classes = db.Classes()
				if len(classes) == 0 {
					return fmt.Errorf("%s has no labelled annotations; use --preset thumos14", source)
				}
			case "thumos14":
				classes = annotations.Thumos14Classes
			default:
				return fmt.Errorf("unknown preset %q", preset)
			}

			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create class map directory: %w", err)
			}
			if err := annotations.WriteClassMap(target, classes); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d classes to %s\n", len(classes), target)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Annotation file to read labels from (defaults to paths.annotation_file)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Class map file (defaults to paths.class_map_file)")
	cmd.Flags().StringVar(&preset, "preset", "", "Use a built-in class list instead of annotation labels")
	return cmd
}

// resolveOutput returns the expanded flag value, else the configured path,
// else fallback.
func resolveOutput(flag, configured, fallback string) string {
	if v := strings.TrimSpace(flag); v != "" {
		if expanded, err := config.ExpandPath(v); err == nil {
			return expanded
		}
		return v
	}
	if strings.TrimSpace(configured) != "" {
		return configured
	}
	return fallback
}
