// Package api serves run history and persisted results over HTTP.
//
// # Routes
//
// GET /health reports liveness and, while an evaluation is running in the
// same process, its run ID.
//
// GET /metrics exposes the pipeline's Prometheus registry.
//
// GET /runs lists runs newest first. It accepts limit and a comma separated
// status filter. GET /runs/{id} adds the evaluator report and per-video
// detection counts.
//
// GET /results summarizes result_detection.json per video. GET
// /results/{video} returns one video's records exactly as persisted, so
// fields omitted during serialization stay omitted.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds.
// The results document is re-read on every request; the file is replaced
// atomically, so a reader never sees a partial write.
package api
