package gather

import (
	"context"

	"tadeval/internal/detection"
)

// Collective merges every rank's mapping. AllGather is a barrier: no rank
// returns a merged mapping until all ranks have contributed.
type Collective interface {
	AllGather(ctx context.Context, rank int, mapping *detection.ResultMapping) (*detection.ResultMapping, error)
}

// Merge concatenates per-video detections in worker-index order and, within
// a worker, in append order. Video keys appear in first-seen order. Inputs
// are not modified and nil entries count as empty workers.
func Merge(workers []*detection.ResultMapping) *detection.ResultMapping {
	merged := detection.NewResultMapping()
	for _, worker := range workers {
		for _, entry := range worker.Entries() {
			merged.Append(entry.Key, entry.Detections...)
		}
	}
	return merged
}
