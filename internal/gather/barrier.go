package gather

import (
	"context"
	"fmt"
	"sync"

	"tadeval/internal/detection"
	"tadeval/internal/evalerr"
)

// barrier collects exactly one contribution per rank and releases every
// waiter with the merged result once the last rank arrives.
type barrier struct {
	worldSize int

	mu      sync.Mutex
	parts   []*detection.ResultMapping
	seen    []bool
	arrived int
	merged  *detection.ResultMapping
	done    chan struct{}
}

func newBarrier(worldSize int) *barrier {
	return &barrier{
		worldSize: worldSize,
		parts:     make([]*detection.ResultMapping, worldSize),
		seen:      make([]bool, worldSize),
		done:      make(chan struct{}),
	}
}

func (b *barrier) contribute(ctx context.Context, rank int, mapping *detection.ResultMapping) (*detection.ResultMapping, error) {
	if err := b.add(rank, mapping); err != nil {
		return nil, err
	}
	select {
	case <-b.done:
		return b.merged.Clone(), nil
	case <-ctx.Done():
		return nil, &evalerr.GatherTimeoutError{
			Rank:      rank,
			Arrived:   b.count(),
			WorldSize: b.worldSize,
			Err:       ctx.Err(),
		}
	}
}

func (b *barrier) add(rank int, mapping *detection.ResultMapping) error {
	if rank < 0 || rank >= b.worldSize {
		return fmt.Errorf("gather: rank %d outside [0, %d)", rank, b.worldSize)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.seen[rank] {
		return fmt.Errorf("gather: rank %d already contributed", rank)
	}
	b.seen[rank] = true
	b.parts[rank] = mapping.Clone()
	b.arrived++
	if b.arrived == b.worldSize {
		b.merged = Merge(b.parts)
		b.parts = nil
		close(b.done)
	}
	return nil
}

func (b *barrier) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.arrived
}

// LocalGroup is an in-process collective for workers running as goroutines.
// A group serves a single gather.
type LocalGroup struct {
	b *barrier
}

// NewLocalGroup returns a group expecting worldSize contributions.
func NewLocalGroup(worldSize int) (*LocalGroup, error) {
	if worldSize <= 0 {
		return nil, fmt.Errorf("gather: world size must be positive, got %d", worldSize)
	}
	return &LocalGroup{b: newBarrier(worldSize)}, nil
}

// AllGather contributes mapping for rank and blocks until every rank has
// contributed or ctx ends.
func (g *LocalGroup) AllGather(ctx context.Context, rank int, mapping *detection.ResultMapping) (*detection.ResultMapping, error) {
	return g.b.contribute(ctx, rank, mapping)
}
