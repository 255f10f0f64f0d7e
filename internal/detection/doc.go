// Package detection holds the data model shared by every evaluation stage:
// segments, scored detections, per-window metadata, and the ordered per-video
// ResultMapping.
//
// A ResultMapping is append-only while workers accumulate. Post-processing
// never edits one in place; Replace returns a fresh mapping so a merged
// result can be handed to NMS while the gathered inputs stay intact.
package detection
