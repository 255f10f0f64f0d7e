package shadow

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Model exposes a model's parameters for swapping.
type Model interface {
	// Snapshot returns a deep copy of every parameter.
	Snapshot() Snapshot
	// Load writes the given values into the model.
	Load(snap Snapshot, opts LoadOptions) error
}

// LoadOptions controls how Load treats keys that are not shared.
type LoadOptions struct {
	// Strict rejects a snapshot whose key set differs from the model's.
	// Otherwise keys present in both are overwritten, model-only keys keep
	// their value and snapshot-only keys are ignored.
	Strict bool
}

// ParameterStore is an in-memory Model.
type ParameterStore struct {
	mu     sync.RWMutex
	params Snapshot
}

// NewParameterStore validates snap and stores a private copy of it.
func NewParameterStore(snap Snapshot) (*ParameterStore, error) {
	if err := snap.Check(); err != nil {
		return nil, err
	}
	clone := snap.Clone()
	if clone == nil {
		clone = Snapshot{}
	}
	return &ParameterStore{params: clone}, nil
}

// Snapshot returns a deep copy of the stored parameters.
func (s *ParameterStore) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params.Clone()
}

// Get returns a copy of one parameter.
func (s *ParameterStore) Get(name string) (Parameter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.params[name]
	if !ok {
		return Parameter{}, false
	}
	return p.Clone(), true
}

// Set replaces the values of an existing parameter in place, as an optimizer
// step would.
func (s *ParameterStore) Set(name string, values []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.params[name]
	if !ok {
		return fmt.Errorf("unknown parameter %q", name)
	}
	if len(values) != p.Size() {
		return fmt.Errorf("parameter %q needs %d values, got %d", name, p.Size(), len(values))
	}
	p.Values = slices.Clone(values)
	s.params[name] = p
	return nil
}

// Load copies values from snap. Shapes of shared keys must match; kinds stay
// as the store declares them.
func (s *ParameterStore) Load(snap Snapshot, opts LoadOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if opts.Strict {
		var missing, unexpected []string
		for name := range s.params {
			if _, ok := snap[name]; !ok {
				missing = append(missing, name)
			}
		}
		for name := range snap {
			if _, ok := s.params[name]; !ok {
				unexpected = append(unexpected, name)
			}
		}
		if len(missing) > 0 || len(unexpected) > 0 {
			slices.Sort(missing)
			slices.Sort(unexpected)
			return fmt.Errorf("strict load: missing [%s] unexpected [%s]",
				strings.Join(missing, ", "), strings.Join(unexpected, ", "))
		}
	}

	for _, name := range snap.Names() {
		current, ok := s.params[name]
		if !ok {
			continue
		}
		incoming := snap[name]
		if !slices.Equal(current.Shape, incoming.Shape) || len(incoming.Values) != current.Size() {
			return fmt.Errorf("load %q: shape %v does not fit %v", name, incoming.Shape, current.Shape)
		}
	}
	for name, incoming := range snap {
		current, ok := s.params[name]
		if !ok {
			continue
		}
		current.Values = slices.Clone(incoming.Values)
		s.params[name] = current
	}
	return nil
}
