// Package sink builds and persists the final results document,
// {"results": {video_key: [{segment, label, score}, ...]}}.
//
// Values are rounded for output. A field that cannot be encoded is left out
// of its record and reported as a warning so one bad value never costs the
// whole run. Writes take an exclusive file lock and replace the target
// atomically.
package sink
