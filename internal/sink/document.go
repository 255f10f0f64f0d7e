package sink

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"tadeval/internal/detection"
	"tadeval/internal/evalerr"
)

// Record is one persisted detection. Segment or Score is nil when the value
// could not be represented in JSON.
type Record struct {
	Segment *[2]float64 `json:"segment,omitempty"`
	Label   string      `json:"label"`
	Score   *float64    `json:"score,omitempty"`
}

// VideoRecords holds the records of one video.
type VideoRecords struct {
	Key     detection.VideoKey
	Records []Record
}

// Document is the persisted result set. Videos keep the order of the mapping
// they were built from.
type Document struct {
	Videos []VideoRecords
}

// Build converts mapping into a Document. Segment bounds are rounded to two
// decimals and scores to four. Non-finite values are dropped from their
// record and reported as SerializationErrors; the rest of the document is
// unaffected.
func Build(mapping *detection.ResultMapping) (Document, []error) {
	var (
		doc      Document
		warnings []error
	)
	for _, entry := range mapping.Entries() {
		records := make([]Record, 0, len(entry.Detections))
		for i, d := range entry.Detections {
			rec := Record{Label: d.Label}

			start, end := round(d.Segment.Start, 2), round(d.Segment.End, 2)
			if finite(start) && finite(end) {
				rec.Segment = &[2]float64{start, end}
			} else {
				warnings = append(warnings, &evalerr.SerializationError{
					VideoKey: string(entry.Key),
					Index:    i,
					Field:    "segment",
					Reason:   fmt.Sprintf("non-finite bounds [%g, %g]", d.Segment.Start, d.Segment.End),
				})
			}

			if score := round(d.Score, 4); finite(score) {
				rec.Score = &score
			} else {
				warnings = append(warnings, &evalerr.SerializationError{
					VideoKey: string(entry.Key),
					Index:    i,
					Field:    "score",
					Reason:   fmt.Sprintf("non-finite score %g", d.Score),
				})
			}
			records = append(records, rec)
		}
		doc.Videos = append(doc.Videos, VideoRecords{Key: entry.Key, Records: records})
	}
	return doc, warnings
}

func round(v float64, places int) float64 {
	if !finite(v) {
		return v
	}
	scale := math.Pow10(places)
	return math.Round(v*scale) / scale
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Len returns the number of videos.
func (d Document) Len() int { return len(d.Videos) }

// Total returns the number of records across every video.
func (d Document) Total() int {
	n := 0
	for _, v := range d.Videos {
		n += len(v.Records)
	}
	return n
}

// Get returns the records for key.
func (d Document) Get(key detection.VideoKey) ([]Record, bool) {
	for _, v := range d.Videos {
		if v.Key == key {
			return v.Records, true
		}
	}
	return nil, false
}

// Mapping converts the document back into detections. Records missing a
// segment or score are skipped.
func (d Document) Mapping() *detection.ResultMapping {
	out := detection.NewResultMapping()
	for _, v := range d.Videos {
		dets := make([]detection.Detection, 0, len(v.Records))
		for _, rec := range v.Records {
			if rec.Segment == nil || rec.Score == nil {
				continue
			}
			dets = append(dets, detection.Detection{
				Segment: detection.Segment{Start: rec.Segment[0], End: rec.Segment[1]},
				Score:   *rec.Score,
				Label:   rec.Label,
			})
		}
		out.Append(v.Key, dets...)
	}
	return out
}

// MarshalJSON writes {"results": {video_key: [...]}} with videos in order.
func (d Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"results":{`)
	for i, v := range d.Videos {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(string(v.Key))
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		records := v.Records
		if records == nil {
			records = []Record{}
		}
		value, err := json.Marshal(records)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", v.Key, err)
		}
		buf.Write(value)
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a results document, keeping video order.
func (d *Document) UnmarshalJSON(data []byte) error {
	var outer struct {
		Results json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(data, &outer); err != nil {
		return fmt.Errorf("decode results document: %w", err)
	}
	if len(outer.Results) == 0 {
		return errors.New(`decode results document: missing "results"`)
	}

	dec := json.NewDecoder(bytes.NewReader(outer.Results))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decode results: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("decode results: expected object")
	}
	videos := make([]VideoRecords, 0)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decode results: %w", err)
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("decode results: unexpected token %v", tok)
		}
		var records []Record
		if err := dec.Decode(&records); err != nil {
			return fmt.Errorf("decode results %q: %w", name, err)
		}
		videos = append(videos, VideoRecords{Key: detection.DecodeVideoKey(name), Records: records})
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("decode results: %w", err)
	}
	d.Videos = videos
	return nil
}
