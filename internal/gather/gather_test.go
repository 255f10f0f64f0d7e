package gather_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"tadeval/internal/detection"
	"tadeval/internal/evalerr"
	"tadeval/internal/gather"
	"tadeval/internal/logging"
)

func det(start float64, label string) detection.Detection {
	return detection.Detection{Segment: detection.Segment{Start: start, End: start + 1}, Score: 0.5, Label: label}
}

func TestMergeConcatenatesInWorkerOrder(t *testing.T) {
	a := detection.NewResultMapping()
	a.Append("vid1", det(1, "A"))
	b := detection.NewResultMapping()
	b.Append("vid1", det(2, "B"))

	merged := gather.Merge([]*detection.ResultMapping{a, b})
	got, _ := merged.Get("vid1")
	if len(got) != 2 || got[0].Label != "A" || got[1].Label != "B" {
		t.Fatalf("expected [A B], got %+v", got)
	}
}

func TestMergeConservesEveryDetection(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	videos := []detection.VideoKey{"v0", "v1", "v2", "v3", "v4"}
	for trial := 0; trial < 20; trial++ {
		world := 1 + rng.Intn(6)
		workers := make([]*detection.ResultMapping, world)
		for i := range workers {
			workers[i] = detection.NewResultMapping()
		}
		want := map[detection.VideoKey]int{}
		for i := 0; i < 200; i++ {
			key := videos[rng.Intn(len(videos))]
			workers[rng.Intn(world)].Append(key, det(float64(i), "x"))
			want[key]++
		}

		merged := gather.Merge(workers)
		for key, n := range want {
			got, _ := merged.Get(key)
			if len(got) != n {
				t.Fatalf("trial %d video %s: merged %d detections, workers held %d", trial, key, len(got), n)
			}
		}
		if merged.Total() != 200 {
			t.Fatalf("trial %d: merged total %d", trial, merged.Total())
		}
	}
}

func TestMergeKeepsFirstSeenKeyOrder(t *testing.T) {
	a := detection.NewResultMapping()
	a.Append("b", det(0, "x"))
	b := detection.NewResultMapping()
	b.Append("a", det(0, "x"))
	b.Append("b", det(1, "x"))

	merged := gather.Merge([]*detection.ResultMapping{a, nil, b})
	if keys := merged.Keys(); !reflect.DeepEqual(keys, []detection.VideoKey{"b", "a"}) {
		t.Fatalf("unexpected key order %v", keys)
	}
}

func TestLocalGroupReleasesAllRanks(t *testing.T) {
	const world = 4
	group, err := gather.NewLocalGroup(world)
	if err != nil {
		t.Fatal(err)
	}

	results := make([]*detection.ResultMapping, world)
	errs := make([]error, world)
	var wg sync.WaitGroup
	for rank := 0; rank < world; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			m := detection.NewResultMapping()
			m.Append("shared", det(float64(rank), fmt.Sprint(rank)))
			results[rank], errs[rank] = group.AllGather(context.Background(), rank, m)
		}(rank)
	}
	wg.Wait()

	for rank := 0; rank < world; rank++ {
		if errs[rank] != nil {
			t.Fatalf("rank %d: %v", rank, errs[rank])
		}
		got, _ := results[rank].Get("shared")
		if len(got) != world {
			t.Fatalf("rank %d saw %d detections", rank, len(got))
		}
		for i, d := range got {
			if d.Label != fmt.Sprint(i) {
				t.Fatalf("rank %d: position %d holds rank %s", rank, i, d.Label)
			}
		}
	}
}

func TestLocalGroupTimesOutWhenPeerMissing(t *testing.T) {
	group, err := gather.NewLocalGroup(3)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	go func() { _, _ = group.AllGather(ctx, 1, detection.NewResultMapping()) }()
	_, err = group.AllGather(ctx, 0, detection.NewResultMapping())

	var timeout *evalerr.GatherTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected GatherTimeoutError, got %v", err)
	}
	if timeout.WorldSize != 3 || timeout.Rank != 0 {
		t.Fatalf("unexpected timeout details %+v", timeout)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected wrapped deadline, got %v", err)
	}
	if !evalerr.Fatal(err) {
		t.Fatal("gather timeout must be fatal")
	}
}

func TestLocalGroupRejectsBadRanks(t *testing.T) {
	group, err := gather.NewLocalGroup(2)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := group.AllGather(ctx, 2, detection.NewResultMapping()); err == nil || !strings.Contains(err.Error(), "outside") {
		t.Fatalf("expected out-of-range error, got %v", err)
	}

	short, cancelShort := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancelShort()
	if _, err := group.AllGather(short, 0, detection.NewResultMapping()); !errors.Is(err, evalerr.ErrGatherTimeout) {
		t.Fatalf("expected rank 0 to time out alone, got %v", err)
	}
	if _, err := group.AllGather(ctx, 0, detection.NewResultMapping()); err == nil || !strings.Contains(err.Error(), "already contributed") {
		t.Fatalf("expected duplicate rank error, got %v", err)
	}
	if _, err := group.AllGather(ctx, 1, detection.NewResultMapping()); err != nil {
		t.Fatalf("rank 1: %v", err)
	}
}

func TestCoordinatorGathersAcrossSockets(t *testing.T) {
	const world = 3
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	socket := filepath.Join(t.TempDir(), "gather.sock")
	coord, err := gather.NewCoordinator(ctx, socket, world, logging.NewNop())
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping socket test: %v", err)
		}
		t.Fatalf("NewCoordinator: %v", err)
	}
	coord.Serve()
	t.Cleanup(coord.Close)

	results := make([]*detection.ResultMapping, world)
	errs := make([]error, world)
	var wg sync.WaitGroup
	for rank := 1; rank < world; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			m := detection.NewResultMapping()
			m.Append("vid1", det(float64(rank), fmt.Sprint(rank)))
			m.Append(detection.VideoKey(fmt.Sprintf("only%d", rank)), det(0, "solo"))
			results[rank], errs[rank] = gather.NewClient(socket, world, logging.NewNop()).AllGather(ctx, rank, m)
		}(rank)
	}
	own := detection.NewResultMapping()
	own.Append("vid1", det(0, "0"))
	results[0], errs[0] = coord.AllGather(ctx, 0, own)
	wg.Wait()
	if coord.Arrived() != world {
		t.Fatalf("coordinator counted %d arrivals, want %d", coord.Arrived(), world)
	}

	for rank := 0; rank < world; rank++ {
		if errs[rank] != nil {
			t.Fatalf("rank %d: %v", rank, errs[rank])
		}
		got, _ := results[rank].Get("vid1")
		if len(got) != world || got[0].Label != "0" || got[2].Label != "2" {
			t.Fatalf("rank %d: unexpected vid1 detections %+v", rank, got)
		}
		if results[rank].Total() != world+2 {
			t.Fatalf("rank %d: expected %d detections, got %d", rank, world+2, results[rank].Total())
		}
	}
}

func TestClientTimesOutWithoutCoordinator(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	client := gather.NewClient(filepath.Join(t.TempDir(), "missing.sock"), 2, logging.NewNop())
	client.RetryInterval = 10 * time.Millisecond
	_, err := client.AllGather(ctx, 1, detection.NewResultMapping())
	if !errors.Is(err, evalerr.ErrGatherTimeout) {
		t.Fatalf("expected gather timeout, got %v", err)
	}
}
