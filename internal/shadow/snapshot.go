package shadow

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// ParamKind declares what a parameter holds. Transferability between the live
// and shadow models derives from the kind, never from the parameter name.
type ParamKind string

const (
	KindWeight        ParamKind = "weight"
	KindBuffer        ParamKind = "buffer"
	KindQuantState    ParamKind = "quant_state"
	KindAdapterBuffer ParamKind = "adapter_buffer"
)

// ParseParamKind normalizes a declared kind. An empty value means weight.
func ParseParamKind(value string) (ParamKind, error) {
	switch kind := ParamKind(strings.ToLower(strings.TrimSpace(value))); kind {
	case "":
		return KindWeight, nil
	case KindWeight, KindBuffer, KindQuantState, KindAdapterBuffer:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown parameter kind %q", value)
	}
}

// Transferable reports whether values of this kind may be swapped between
// models. Quantization metadata and adapter-internal buffers stay with the
// model that owns them.
func (k ParamKind) Transferable() bool {
	return k == KindWeight || k == KindBuffer
}

// Parameter is one named tensor, flattened row-major.
type Parameter struct {
	Name   string    `json:"name"`
	Kind   ParamKind `json:"kind"`
	Shape  []int     `json:"shape"`
	Values []float64 `json:"values"`
}

// Size is the element count implied by Shape. A scalar has size 1.
func (p Parameter) Size() int {
	n := 1
	for _, dim := range p.Shape {
		n *= dim
	}
	return n
}

// Check verifies that the shape is non-negative and matches the value count.
func (p Parameter) Check() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("parameter name is empty")
	}
	for _, dim := range p.Shape {
		if dim < 0 {
			return fmt.Errorf("parameter %q has negative dimension in shape %v", p.Name, p.Shape)
		}
	}
	if got, want := len(p.Values), p.Size(); got != want {
		return fmt.Errorf("parameter %q holds %d values but shape %v needs %d", p.Name, got, p.Shape, want)
	}
	return nil
}

// Clone deep-copies the parameter.
func (p Parameter) Clone() Parameter {
	p.Shape = slices.Clone(p.Shape)
	p.Values = slices.Clone(p.Values)
	return p
}

// Snapshot is a set of parameters keyed by name.
type Snapshot map[string]Parameter

// Names returns the parameter names in sorted order.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Clone deep-copies every parameter so the result never aliases s.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for name, p := range s {
		out[name] = p.Clone()
	}
	return out
}

// Transferable returns the parameters whose kind allows swapping.
func (s Snapshot) Transferable() Snapshot {
	out := make(Snapshot, len(s))
	for name, p := range s {
		if p.Kind.Transferable() {
			out[name] = p
		}
	}
	return out
}

// Check validates every parameter.
func (s Snapshot) Check() error {
	for _, name := range s.Names() {
		p := s[name]
		if p.Name != name {
			return fmt.Errorf("parameter stored under %q is named %q", name, p.Name)
		}
		if err := p.Check(); err != nil {
			return err
		}
	}
	return nil
}

// Equal reports whether both snapshots hold bit-identical parameters.
func (s Snapshot) Equal(other Snapshot) bool {
	if len(s) != len(other) {
		return false
	}
	for name, p := range s {
		q, ok := other[name]
		if !ok || p.Kind != q.Kind || !slices.Equal(p.Shape, q.Shape) || !sameBits(p.Values, q.Values) {
			return false
		}
	}
	return true
}

func sameBits(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Float64bits(a[i]) != math.Float64bits(b[i]) {
			return false
		}
	}
	return true
}
