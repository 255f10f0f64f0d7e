// Command tadeval runs temporal action detection evaluation passes and
// inspects their results.
//
// Commands:
//   - evaluate: run one evaluation pass, either with every worker as a
//     goroutine (--local-workers) or as one rank of a multi-process job
//     (--rank, --world-size)
//   - nms: re-run suppression over a persisted results file
//   - results show: per-video summary and top detections
//   - runs list/show: run history from the SQLite store
//   - annotations init, classmap build: prepare dataset inputs
//   - config init/show: sample config and effective values
//   - serve: read-only HTTP API
//   - preflight: check inputs before a run
//   - logs: tail the log file
package main
