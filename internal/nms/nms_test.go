package nms_test

import (
	"errors"
	"math"
	"math/rand"
	"reflect"
	"testing"

	"tadeval/internal/detection"
	"tadeval/internal/evalerr"
	"tadeval/internal/nms"
)

func det(start, end, score float64, label string) detection.Detection {
	return detection.Detection{Segment: detection.Segment{Start: start, End: end}, Score: score, Label: label}
}

func hardConfig(threshold float64) nms.Config {
	cfg := nms.DefaultConfig()
	cfg.Mode = nms.ModeHard
	cfg.IoUThreshold = threshold
	cfg.VotingThresh = 0
	return cfg
}

func TestIoU(t *testing.T) {
	cases := []struct {
		name string
		a, b detection.Segment
		want float64
	}{
		{"nested", detection.Segment{Start: 10, End: 30}, detection.Segment{Start: 12, End: 28}, 0.8},
		{"disjoint", detection.Segment{Start: 10, End: 30}, detection.Segment{Start: 60, End: 80}, 0},
		{"touching", detection.Segment{Start: 0, End: 1}, detection.Segment{Start: 1, End: 2}, 0},
		{"identical points", detection.Segment{Start: 3, End: 3}, detection.Segment{Start: 3, End: 3}, 1},
		{"distinct points", detection.Segment{Start: 3, End: 3}, detection.Segment{Start: 4, End: 4}, 0},
		{"half", detection.Segment{Start: 0, End: 10}, detection.Segment{Start: 0, End: 5}, 0.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := nms.IoU(tc.a, tc.b); math.Abs(got-tc.want) > 1e-12 {
				t.Fatalf("IoU = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestHardSuppressionKeepsDisjointSegments(t *testing.T) {
	in := []detection.Detection{
		det(10, 30, 0.9, "run"),
		det(12, 28, 0.85, "run"),
		det(60, 80, 0.7, "jump"),
	}
	got, err := nms.Suppress(in, hardConfig(0.5))
	if err != nil {
		t.Fatalf("Suppress: %v", err)
	}
	want := []detection.Detection{det(10, 30, 0.9, "run"), det(60, 80, 0.7, "jump")}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if len(in) != 3 || in[1].Score != 0.85 {
		t.Fatalf("input mutated: %+v", in)
	}
}

func TestHardSuppressionIsFixedPoint(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	in := randomDetections(rng, 120)
	cfg := hardConfig(0.3)

	once, err := nms.Suppress(in, cfg)
	if err != nil {
		t.Fatal(err)
	}
	twice, err := nms.Suppress(once, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("second pass changed output: %d vs %d detections", len(once), len(twice))
	}
}

func TestThresholdBoundaryIsStrict(t *testing.T) {
	const threshold = 0.5
	const eps = 1e-3
	cases := []struct {
		name     string
		otherEnd float64
		kept     bool
	}{
		{"below", 10 * (threshold - eps), true},
		{"exact", 10 * threshold, true},
		{"above", 10 * (threshold + eps), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := []detection.Detection{det(0, 10, 0.9, "a"), det(0, tc.otherEnd, 0.8, "a")}
			got, err := nms.Suppress(in, hardConfig(threshold))
			if err != nil {
				t.Fatal(err)
			}
			if kept := len(got) == 2; kept != tc.kept {
				t.Fatalf("IoU %v: kept=%v, want %v", nms.IoU(in[0].Segment, in[1].Segment), kept, tc.kept)
			}
		})
	}
}

func TestSoftSuppressionDecaysScores(t *testing.T) {
	cfg := nms.DefaultConfig()
	cfg.Sigma = 0.5
	cfg.VotingThresh = 0
	in := []detection.Detection{det(0, 5, 0.8, "a"), det(0, 10, 0.9, "a")}

	got, err := nms.Suppress(in, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected both detections kept, got %+v", got)
	}
	if got[0].Score != 0.9 || got[0].Segment.End != 10 {
		t.Fatalf("unexpected top detection %+v", got[0])
	}
	want := 0.8 * math.Exp(-0.25/0.5)
	if math.Abs(got[1].Score-want) > 1e-12 {
		t.Fatalf("decayed score = %v, want %v", got[1].Score, want)
	}
}

func TestSoftSuppressionDropsBelowMinScore(t *testing.T) {
	cfg := nms.DefaultConfig()
	cfg.Sigma = 0.1
	cfg.VotingThresh = 0
	cfg.MinScore = 0.05
	in := []detection.Detection{det(0, 10, 0.9, "a"), det(0, 10, 0.5, "a")}

	got, err := nms.Suppress(in, cfg)
	if err != nil {
		t.Fatal(err)
	}
	// exp(-1/0.1) * 0.5 is far below MinScore.
	if len(got) != 1 {
		t.Fatalf("expected decayed duplicate dropped, got %+v", got)
	}
}

func TestVotingRefinesKeptBoundaries(t *testing.T) {
	cfg := hardConfig(0.5)
	cfg.VotingThresh = 0.7
	in := []detection.Detection{det(10, 30, 0.9, "run"), det(12, 28, 0.6, "run")}

	got, err := nms.Suppress(in, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one detection, got %+v", got)
	}
	if math.Abs(got[0].Segment.Start-10.8) > 1e-9 || math.Abs(got[0].Segment.End-29.2) > 1e-9 {
		t.Fatalf("voted segment = %+v, want [10.8, 29.2]", got[0].Segment)
	}
	if got[0].Score != 0.9 {
		t.Fatalf("voting must not change score, got %v", got[0].Score)
	}
}

func TestClassAwareSuppression(t *testing.T) {
	in := []detection.Detection{det(0, 10, 0.9, "run"), det(0, 10, 0.8, "jump")}

	agnostic, err := nms.Suppress(in, hardConfig(0.5))
	if err != nil {
		t.Fatal(err)
	}
	if len(agnostic) != 1 {
		t.Fatalf("class-agnostic run should suppress across labels, got %+v", agnostic)
	}

	cfg := hardConfig(0.5)
	cfg.ClassAware = true
	aware, err := nms.Suppress(in, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(aware) != 2 {
		t.Fatalf("class-aware run should keep both labels, got %+v", aware)
	}
}

func TestSuppressIsPermutationInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	in := randomDetections(rng, 80)
	// Duplicate scores exercise the tie-break.
	in = append(in, det(5, 9, in[0].Score, "z"), det(5, 9, in[0].Score, "a"))

	cfg := nms.DefaultConfig()
	want, err := nms.Suppress(in, cfg)
	if err != nil {
		t.Fatal(err)
	}
	for trial := 0; trial < 10; trial++ {
		shuffled := append([]detection.Detection(nil), in...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got, err := nms.Suppress(shuffled, cfg)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("trial %d: output depends on input order", trial)
		}
	}
}

func TestSuppressTruncatesToMaxSegNum(t *testing.T) {
	cfg := hardConfig(0.5)
	cfg.MaxSegNum = 2
	in := []detection.Detection{
		det(0, 1, 0.3, "a"),
		det(10, 11, 0.9, "a"),
		det(20, 21, 0.6, "a"),
	}
	got, err := nms.Suppress(in, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Score != 0.9 || got[1].Score != 0.6 {
		t.Fatalf("unexpected truncated output %+v", got)
	}
}

func TestSuppressRejectsInvalidConfig(t *testing.T) {
	cfg := nms.DefaultConfig()
	cfg.Sigma = 0
	if _, err := nms.Suppress([]detection.Detection{det(0, 1, 0.5, "a")}, cfg); !errors.Is(err, evalerr.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestCandidatesFlattensScoreMatrix(t *testing.T) {
	p := nms.Proposals{
		Segments: []detection.Segment{{Start: 0, End: 1}, {Start: 2, End: 3}, {Start: 4, End: 5}},
		Scores:   [][]float64{{0.9, 0.05}, {0.5, 0.5}, {0.2, 0.7}},
		Classes:  []string{"a", "b"},
	}
	cfg := nms.DefaultConfig()
	cfg.PreNMSScoreThreshold = 0.1
	cfg.PreNMSTopK = 3

	got, err := nms.Candidates(p, cfg)
	if err != nil {
		t.Fatal(err)
	}
	want := []detection.Detection{det(0, 1, 0.9, "a"), det(4, 5, 0.7, "b"), det(2, 3, 0.5, "a")}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("multiclass candidates = %+v, want %+v", got, want)
	}

	cfg.Multiclass = false
	got, err = nms.Candidates(p, cfg)
	if err != nil {
		t.Fatal(err)
	}
	want = []detection.Detection{det(0, 1, 0.9, "a"), det(4, 5, 0.7, "b"), det(2, 3, 0.5, "a")}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("arg-max candidates = %+v, want %+v", got, want)
	}
}

func TestCandidatesArgMaxSkipsNaNScores(t *testing.T) {
	p := nms.Proposals{
		Segments: []detection.Segment{{Start: 0, End: 1}, {Start: 2, End: 3}},
		Scores:   [][]float64{{math.NaN(), 0.4, 0.8}, {math.NaN(), math.NaN(), math.NaN()}},
		Classes:  []string{"a", "b", "c"},
	}
	cfg := nms.DefaultConfig()
	cfg.Multiclass = false
	cfg.PreNMSScoreThreshold = 0.1

	got, err := nms.Candidates(p, cfg)
	if err != nil {
		t.Fatal(err)
	}
	want := []detection.Detection{det(0, 1, 0.8, "c")}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("arg-max candidates = %+v, want %+v", got, want)
	}
}

func TestCandidatesRejectsRaggedScores(t *testing.T) {
	p := nms.Proposals{
		Segments: []detection.Segment{{Start: 0, End: 1}, {Start: 2, End: 3}},
		Scores:   [][]float64{{0.9, 0.1}, {0.5}},
	}
	if _, err := nms.Candidates(p, nms.DefaultConfig()); err == nil {
		t.Fatal("expected error for ragged score matrix")
	}
}

func TestSuppressMappingReturnsNewMapping(t *testing.T) {
	m := detection.NewResultMapping()
	m.Append("v1", det(10, 30, 0.9, "run"), det(12, 28, 0.85, "run"))
	m.Append("v2", det(0, 1, 0.5, "jump"))

	out, removed, err := nms.SuppressMapping(m, hardConfig(0.5))
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if m.Total() != 3 {
		t.Fatalf("source mapping changed: %d detections", m.Total())
	}
	if out.Total() != 2 || !reflect.DeepEqual(out.Keys(), m.Keys()) {
		t.Fatalf("unexpected result mapping keys=%v total=%d", out.Keys(), out.Total())
	}
}

func TestSuppressMappingReportsConfigErrors(t *testing.T) {
	m := detection.NewResultMapping()
	m.Append("v1", det(0, 1, 0.5, "run"))
	cfg := hardConfig(0.5)
	cfg.MaxSegNum = 0

	out, removed, err := nms.SuppressMapping(m, cfg)
	if !errors.Is(err, evalerr.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if out != nil || removed != 0 {
		t.Fatalf("expected no mapping on error, got %v removed=%d", out, removed)
	}
}

func randomDetections(rng *rand.Rand, n int) []detection.Detection {
	labels := []string{"run", "jump", "throw"}
	out := make([]detection.Detection, n)
	for i := range out {
		start := rng.Float64() * 100
		out[i] = det(start, start+1+rng.Float64()*10, math.Round(rng.Float64()*1000)/1000, labels[rng.Intn(len(labels))])
	}
	return out
}
