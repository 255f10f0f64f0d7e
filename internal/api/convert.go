package api

import (
	"sort"

	"tadeval/internal/runstore"
	"tadeval/internal/sink"
)

// FromRun converts a run record to its API representation.
func FromRun(run *runstore.Run) Run {
	if run == nil {
		return Run{}
	}
	dto := Run{
		ID:                    run.ID,
		Status:                string(run.Status),
		Epoch:                 run.Epoch,
		WorldSize:             run.WorldSize,
		EMA:                   run.EMA,
		ConfigPath:            run.ConfigPath,
		ResultPath:            run.ResultPath,
		ResultSHA256:          run.ResultSHA256,
		Videos:                run.Videos,
		Detections:            run.Detections,
		Dropped:               run.Dropped,
		Suppressed:            run.Suppressed,
		SerializationWarnings: run.SerializationWarnings,
		Warnings:              append([]string{}, run.Warnings...),
		ErrorMessage:          run.ErrorMessage,
	}
	if !run.CreatedAt.IsZero() {
		dto.CreatedAt = run.CreatedAt.UTC().Format(dateTimeFormat)
	}
	if !run.UpdatedAt.IsZero() {
		dto.UpdatedAt = run.UpdatedAt.UTC().Format(dateTimeFormat)
	}
	if run.FinishedAt != nil {
		dto.FinishedAt = run.FinishedAt.UTC().Format(dateTimeFormat)
		dto.DurationSeconds = run.Duration().Seconds()
	}
	return dto
}

// FromRuns converts a slice of run records.
func FromRuns(runs []*runstore.Run) []Run {
	out := make([]Run, 0, len(runs))
	for _, run := range runs {
		if run == nil {
			continue
		}
		out = append(out, FromRun(run))
	}
	return out
}

// FromRunDetail combines a run with its per-video counts.
func FromRunDetail(run *runstore.Run, counts []runstore.VideoCount) RunDetail {
	detail := RunDetail{Run: FromRun(run), Report: run.Report, PerVideo: make([]VideoCount, 0, len(counts))}
	for _, c := range counts {
		detail.PerVideo = append(detail.PerVideo, VideoCount{VideoKey: c.VideoKey, Detections: c.Detections})
	}
	return detail
}

// FromDocument summarizes a results document. Videos are ordered by
// detection count, busiest first, then by key.
func FromDocument(path string, doc sink.Document) ResultSummary {
	summary := ResultSummary{Path: path, Videos: doc.Len(), Detections: doc.Total()}
	summary.PerVideo = make([]VideoSummary, 0, doc.Len())
	for _, video := range doc.Videos {
		row := VideoSummary{VideoKey: string(video.Key), Detections: len(video.Records)}
		for _, rec := range video.Records {
			if rec.Score != nil && (row.TopLabel == "" || *rec.Score > row.TopScore) {
				row.TopScore = *rec.Score
				row.TopLabel = rec.Label
			}
		}
		summary.PerVideo = append(summary.PerVideo, row)
	}
	sort.SliceStable(summary.PerVideo, func(i, j int) bool {
		a, b := summary.PerVideo[i], summary.PerVideo[j]
		if a.Detections != b.Detections {
			return a.Detections > b.Detections
		}
		return a.VideoKey < b.VideoKey
	})
	return summary
}

// FromRecords converts one video's persisted records.
func FromRecords(key string, records []sink.Record) VideoResults {
	out := VideoResults{VideoKey: key, Detections: make([]Detection, 0, len(records))}
	for _, rec := range records {
		out.Detections = append(out.Detections, Detection{Segment: rec.Segment, Label: rec.Label, Score: rec.Score})
	}
	return out
}
