package detection

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ResultMapping is an insertion-ordered map from video key to detections.
// The zero value is ready to use.
type ResultMapping struct {
	order   []VideoKey
	entries map[VideoKey][]Detection
}

// Entry is one video's detections, used on the wire and for iteration.
type Entry struct {
	Key        VideoKey    `json:"video_key"`
	Detections []Detection `json:"detections"`
}

// NewResultMapping returns an empty mapping.
func NewResultMapping() *ResultMapping {
	return &ResultMapping{entries: make(map[VideoKey][]Detection)}
}

// FromEntries rebuilds a mapping from entries, appending repeated keys in
// order.
func FromEntries(entries []Entry) *ResultMapping {
	m := NewResultMapping()
	for _, e := range entries {
		m.Append(e.Key, e.Detections...)
	}
	return m
}

// Append adds detections under key, creating the entry if absent. An Append
// with no detections still registers the key.
func (m *ResultMapping) Append(key VideoKey, dets ...Detection) {
	if m.entries == nil {
		m.entries = make(map[VideoKey][]Detection)
	}
	existing, ok := m.entries[key]
	if !ok {
		m.order = append(m.order, key)
		existing = make([]Detection, 0, len(dets))
	}
	m.entries[key] = append(existing, dets...)
}

// Get returns a copy of the detections stored under key.
func (m *ResultMapping) Get(key VideoKey) ([]Detection, bool) {
	if m == nil || m.entries == nil {
		return nil, false
	}
	dets, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	return append([]Detection(nil), dets...), true
}

// Keys returns video keys in insertion order.
func (m *ResultMapping) Keys() []VideoKey {
	if m == nil {
		return nil
	}
	return append([]VideoKey(nil), m.order...)
}

// Len returns the number of videos.
func (m *ResultMapping) Len() int {
	if m == nil {
		return 0
	}
	return len(m.order)
}

// Total returns the number of detections across all videos.
func (m *ResultMapping) Total() int {
	if m == nil {
		return 0
	}
	total := 0
	for _, dets := range m.entries {
		total += len(dets)
	}
	return total
}

// Entries returns a deep copy of the mapping in key order.
func (m *ResultMapping) Entries() []Entry {
	if m == nil {
		return nil
	}
	out := make([]Entry, 0, len(m.order))
	for _, key := range m.order {
		out = append(out, Entry{Key: key, Detections: append([]Detection(nil), m.entries[key]...)})
	}
	return out
}

// Clone returns a deep copy.
func (m *ResultMapping) Clone() *ResultMapping {
	return FromEntries(m.Entries())
}

// Replace returns a new mapping in which every video's detections are the
// result of fn. The receiver is left untouched.
func (m *ResultMapping) Replace(fn func(key VideoKey, dets []Detection) []Detection) *ResultMapping {
	out := NewResultMapping()
	for _, e := range m.Entries() {
		out.Append(e.Key, fn(e.Key, e.Detections)...)
	}
	return out
}

// MarshalJSON encodes the mapping as an object whose keys appear in
// insertion order.
func (m *ResultMapping) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range m.Entries() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(string(e.Key))
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		dets := e.Detections
		if dets == nil {
			dets = []Detection{}
		}
		value, err := json.Marshal(dets)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", e.Key, err)
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object, keeping the document's key order.
func (m *ResultMapping) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decode result mapping: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("decode result mapping: expected object")
	}
	*m = ResultMapping{entries: make(map[VideoKey][]Detection)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decode result mapping: %w", err)
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("decode result mapping: unexpected token %v", tok)
		}
		var dets []Detection
		if err := dec.Decode(&dets); err != nil {
			return fmt.Errorf("decode result mapping %q: %w", name, err)
		}
		m.Append(DecodeVideoKey(name), dets...)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("decode result mapping: %w", err)
	}
	return nil
}
