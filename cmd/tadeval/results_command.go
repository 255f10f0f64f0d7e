package main

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tadeval/internal/annotations"
	"tadeval/internal/config"
	"tadeval/internal/detection"
	"tadeval/internal/sink"
)

func newResultsCommand(ctx *commandContext) *cobra.Command {
	resultsCmd := &cobra.Command{
		Use:   "results",
		Short: "Inspect persisted detection results",
	}
	resultsCmd.AddCommand(newResultsShowCommand(ctx))
	return resultsCmd
}

func newResultsShowCommand(ctx *commandContext) *cobra.Command {
	var (
		path     string
		top      int
		video    string
		asJSON   bool
		minScore float64
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Summarize a results file and list its top detections",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(path) == "" {
				path = cfg.ResultPath()
			}
			doc, err := sink.Load(path)
			if err != nil {
				return err
			}
			if video != "" {
				records, ok := doc.Get(detection.NewVideoKey(video))
				if !ok {
					return fmt.Errorf("video %q not in %s", video, path)
				}
				doc = sink.Document{Videos: []sink.VideoRecords{{Key: detection.NewVideoKey(video), Records: records}}}
			}
			rows := topDetections(doc, top, minScore)
			if asJSON {
				return writeJSON(cmd, rows)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Results: %s\n", path)
			fmt.Fprintf(out, "Videos: %d  Detections: %d\n\n", doc.Len(), doc.Total())
			fmt.Fprintln(out, renderVideoSummary(doc))
			if len(rows) == 0 {
				fmt.Fprintln(out, "No detections found.")
				return nil
			}
			fmt.Fprintf(out, "\nTop %d detections:\n", len(rows))
			fmt.Fprintln(out, renderTopDetections(rows, frameRates(cfg)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", "", "Results file (defaults to the work directory's result_detection.json)")
	cmd.Flags().IntVarP(&top, "top", "n", 10, "Number of detections to list")
	cmd.Flags().StringVar(&video, "video", "", "Only show this video")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "Hide detections scoring below this value")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the top detections as JSON")
	return cmd
}

type rankedDetection struct {
	Video    string  `json:"video"`
	Label    string  `json:"label"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Duration float64 `json:"duration"`
	Score    float64 `json:"score"`
}

// topDetections ranks every complete record by score. Records with an
// omitted field cannot be placed on a timeline and are skipped.
func topDetections(doc sink.Document, n int, minScore float64) []rankedDetection {
	var rows []rankedDetection
	for _, v := range doc.Videos {
		for _, r := range v.Records {
			if r.Segment == nil || r.Score == nil || *r.Score < minScore {
				continue
			}
			rows = append(rows, rankedDetection{
				Video:    string(v.Key),
				Label:    r.Label,
				Start:    r.Segment[0],
				End:      r.Segment[1],
				Duration: r.Segment[1] - r.Segment[0],
				Score:    *r.Score,
			})
		}
	}
	slices.SortStableFunc(rows, func(a, b rankedDetection) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if n > 0 && len(rows) > n {
		rows = rows[:n]
	}
	return rows
}

func renderVideoSummary(doc sink.Document) string {
	headers := []string{"Video", "Detections", "Top label", "Top score"}
	rows := make([][]string, 0, doc.Len())
	for _, v := range doc.Videos {
		label, score := "-", "-"
		best := -1.0
		for _, r := range v.Records {
			if r.Score != nil && *r.Score > best {
				best = *r.Score
				label = r.Label
				score = formatScore(best)
			}
		}
		rows = append(rows, []string{string(v.Key), strconv.Itoa(len(v.Records)), label, score})
	}
	return renderTable(headers, rows, []columnAlignment{alignLeft, alignRight, alignLeft, alignRight})
}

func renderTopDetections(rows []rankedDetection, fps map[string]float64) string {
	headers := []string{"#", "Video", "Label", "Time", "Seconds", "Frames", "Duration", "Score"}
	body := make([][]string, 0, len(rows))
	for i, r := range rows {
		rate := fps[r.Video]
		body = append(body, []string{
			strconv.Itoa(i + 1),
			r.Video,
			r.Label,
			formatClock(r.Start) + " - " + formatClock(r.End),
			formatSeconds(r.Start) + "s - " + formatSeconds(r.End) + "s",
			frameIndex(r.Start, rate) + " - " + frameIndex(r.End, rate),
			formatSeconds(r.Duration) + "s",
			formatScore(r.Score),
		})
	}
	aligns := []columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight}
	return renderTable(headers, body, aligns)
}

// frameRates reads per-video fps from the annotation file when one is
// configured. Frame columns show "-" otherwise.
func frameRates(cfg *config.Config) map[string]float64 {
	rates := make(map[string]float64)
	if cfg == nil || strings.TrimSpace(cfg.Paths.AnnotationFile) == "" {
		return rates
	}
	db, err := annotations.LoadDatabase(cfg.Paths.AnnotationFile)
	if err != nil {
		return rates
	}
	for name, video := range db.Videos {
		rates[name] = video.FrameRate()
	}
	return rates
}
