package detection_test

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"tadeval/internal/detection"
	"tadeval/internal/evalerr"
)

func TestValidateRejectsMalformedDetections(t *testing.T) {
	cases := []struct {
		name  string
		det   detection.Detection
		valid bool
	}{
		{"ok", detection.Detection{Segment: detection.Segment{Start: 1, End: 2}, Score: 0.5}, true},
		{"point", detection.Detection{Segment: detection.Segment{Start: 2, End: 2}, Score: 1}, true},
		{"inverted", detection.Detection{Segment: detection.Segment{Start: 3, End: 2}, Score: 0.5}, false},
		{"negative start", detection.Detection{Segment: detection.Segment{Start: -1, End: 2}, Score: 0.5}, false},
		{"score above one", detection.Detection{Segment: detection.Segment{Start: 0, End: 2}, Score: 1.2}, false},
		{"score negative", detection.Detection{Segment: detection.Segment{Start: 0, End: 2}, Score: -0.1}, false},
		{"end infinite", detection.Detection{Segment: detection.Segment{Start: 1, End: math.Inf(1)}, Score: 0.5}, false},
		{"start infinite", detection.Detection{Segment: detection.Segment{Start: math.Inf(-1), End: 2}, Score: 0.5}, false},
		{"both infinite", detection.Detection{Segment: detection.Segment{Start: math.Inf(1), End: math.Inf(1)}, Score: 0.5}, false},
		{"score NaN", detection.Detection{Segment: detection.Segment{Start: 0, End: 2}, Score: math.NaN()}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.det.Validate()
			if tc.valid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.valid {
				if err == nil {
					t.Fatal("expected validation error")
				}
				if !errors.Is(err, evalerr.ErrValidation) {
					t.Fatalf("expected ErrValidation, got %v", err)
				}
			}
		})
	}
}

func TestResultMappingKeepsInsertionOrder(t *testing.T) {
	m := detection.NewResultMapping()
	m.Append("zeta", detection.Detection{Segment: detection.Segment{Start: 0, End: 1}, Score: 0.1, Label: "a"})
	m.Append("alpha", detection.Detection{Segment: detection.Segment{Start: 1, End: 2}, Score: 0.2, Label: "b"})
	m.Append("zeta", detection.Detection{Segment: detection.Segment{Start: 2, End: 3}, Score: 0.3, Label: "c"})

	keys := m.Keys()
	if len(keys) != 2 || keys[0] != "zeta" || keys[1] != "alpha" {
		t.Fatalf("unexpected key order: %v", keys)
	}
	if m.Total() != 3 {
		t.Fatalf("expected 3 detections, got %d", m.Total())
	}

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.HasPrefix(string(data), `{"zeta":[`) {
		t.Fatalf("expected zeta first, got %s", data)
	}

	var decoded detection.ResultMapping
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got := decoded.Keys()
	if len(got) != 2 || got[0] != "zeta" || got[1] != "alpha" {
		t.Fatalf("decoded key order changed: %v", got)
	}
	dets, _ := decoded.Get("zeta")
	if len(dets) != 2 || dets[1].Segment.End != 3 || dets[1].Label != "c" {
		t.Fatalf("unexpected decoded detections: %+v", dets)
	}
}

func TestReplaceLeavesSourceUntouched(t *testing.T) {
	m := detection.NewResultMapping()
	m.Append("v", detection.Detection{Segment: detection.Segment{Start: 0, End: 1}, Score: 0.5},
		detection.Detection{Segment: detection.Segment{Start: 0, End: 1}, Score: 0.4})

	replaced := m.Replace(func(_ detection.VideoKey, dets []detection.Detection) []detection.Detection {
		dets[0].Score = 0.9
		return dets[:1]
	})

	orig, _ := m.Get("v")
	if len(orig) != 2 || orig[0].Score != 0.5 {
		t.Fatalf("source mapping mutated: %+v", orig)
	}
	out, _ := replaced.Get("v")
	if len(out) != 1 || out[0].Score != 0.9 {
		t.Fatalf("unexpected replaced detections: %+v", out)
	}
}

func TestNewVideoKeyNormalizesUnicode(t *testing.T) {
	composed := detection.NewVideoKey("caf\u00e9.mp4")
	decomposed := detection.NewVideoKey(" cafe\u0301.mp4 ")
	if composed != decomposed {
		t.Fatalf("expected NFC keys to match: %q vs %q", composed, decomposed)
	}
}

func TestUnmarshalKeepsWhitespaceDistinctKeys(t *testing.T) {
	var m detection.ResultMapping
	data := `{"v ":[{"segment":[0,1],"score":0.5,"label":"a"}],"v":[{"segment":[2,3],"score":0.4,"label":"a"}],"cafe\u0301":[]}`
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		t.Fatal(err)
	}
	keys := m.Keys()
	if len(keys) != 3 || keys[0] != "v " || keys[1] != "v" || keys[2] != "caf\u00e9" {
		t.Fatalf("unexpected keys %q", keys)
	}
	if m.Total() != 2 {
		t.Fatalf("expected 2 detections, got %d", m.Total())
	}
}
