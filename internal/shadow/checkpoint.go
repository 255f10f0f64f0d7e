package shadow

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// legacyQuantSuffixes mark quantization metadata in checkpoints written
// before parameters carried an explicit kind.
var legacyQuantSuffixes = []string{
	".absmax",
	".quant_map",
	".nested_absmax",
	".nested_quant_map",
	".quant_state.bitsandbytes__fp4",
	".quant_state.bitsandbytes__fp8",
}

// Checkpoint holds the live and shadow parameters read from disk.
type Checkpoint struct {
	Epoch  int
	Live   Snapshot
	Shadow Snapshot
}

// HasShadow reports whether the checkpoint carries shadow parameters.
func (c *Checkpoint) HasShadow() bool {
	return c != nil && len(c.Shadow) > 0
}

type checkpointFile struct {
	Epoch        int                        `json:"epoch"`
	StateDict    map[string]checkpointParam `json:"state_dict"`
	EMAStateDict map[string]checkpointParam `json:"ema_state_dict"`
}

type checkpointParam struct {
	Kind   string    `json:"kind"`
	Shape  []int     `json:"shape"`
	Values []float64 `json:"values"`
}

// LoadCheckpoint reads a JSON checkpoint. Parameters without a declared kind
// are classified by name.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var file checkpointFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	if len(file.StateDict) == 0 {
		return nil, fmt.Errorf("checkpoint %s has no state_dict", path)
	}

	live, err := toSnapshot(file.StateDict)
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s state_dict: %w", path, err)
	}
	var shadow Snapshot
	if len(file.EMAStateDict) > 0 {
		shadow, err = toSnapshot(file.EMAStateDict)
		if err != nil {
			return nil, fmt.Errorf("checkpoint %s ema_state_dict: %w", path, err)
		}
	}
	return &Checkpoint{Epoch: file.Epoch, Live: live, Shadow: shadow}, nil
}

func toSnapshot(raw map[string]checkpointParam) (Snapshot, error) {
	snap := make(Snapshot, len(raw))
	for name, p := range raw {
		kind := ClassifyLegacy(name)
		if strings.TrimSpace(p.Kind) != "" {
			parsed, err := ParseParamKind(p.Kind)
			if err != nil {
				return nil, fmt.Errorf("parameter %q: %w", name, err)
			}
			kind = parsed
		}
		snap[name] = Parameter{Name: name, Kind: kind, Shape: p.Shape, Values: p.Values}
	}
	if err := snap.Check(); err != nil {
		return nil, err
	}
	return snap, nil
}

// ClassifyLegacy infers a kind from a parameter name.
func ClassifyLegacy(name string) ParamKind {
	for _, suffix := range legacyQuantSuffixes {
		if strings.HasSuffix(name, suffix) {
			return KindQuantState
		}
	}
	return KindWeight
}
