package formula

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// SeriesSet maps series identifiers (meloIds) to their samples and remembers
// the order in which identifiers were first added.
type SeriesSet struct {
	ids    []string
	series map[string][]Interval
}

// NewSeriesSet returns an empty set.
func NewSeriesSet() *SeriesSet {
	return &SeriesSet{series: make(map[string][]Interval)}
}

// Set stores samples under id. Replacing an existing id keeps its position.
func (s *SeriesSet) Set(id string, samples []Interval) {
	if s.series == nil {
		s.series = make(map[string][]Interval)
	}
	if _, ok := s.series[id]; !ok {
		s.ids = append(s.ids, id)
	}
	s.series[id] = samples
}

// Get returns the samples stored under id.
func (s *SeriesSet) Get(id string) ([]Interval, bool) {
	if s == nil {
		return nil, false
	}
	samples, ok := s.series[id]
	return samples, ok
}

// Len returns the number of series in the set.
func (s *SeriesSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ids)
}

// IDs returns the identifiers in insertion order.
func (s *SeriesSet) IDs() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.ids...)
}

// UnmarshalJSON decodes an object of id -> intervals keeping key order.
func (s *SeriesSet) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*s = SeriesSet{}
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("series set must be an object, got %v", tok)
	}

	*s = *NewSeriesSet()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		id, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected series key %v", tok)
		}
		var samples []Interval
		if err := dec.Decode(&samples); err != nil {
			return fmt.Errorf("series %s: %w", id, err)
		}
		s.Set(id, samples)
	}

	_, err = dec.Token()
	return err
}

// MarshalJSON encodes the set as an object in insertion order.
func (s SeriesSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range s.ids {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		samples, err := json.Marshal(s.series[id])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(samples)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Alignment selects the reference series whose length and timestamps drive
// the output. Samples are always paired by position, never by timestamp.
type Alignment int

const (
	// AlignFirstSeries uses the first series added to the set.
	AlignFirstSeries Alignment = iota
	// AlignLongestSeries uses the series with the most samples; ties go to
	// the earlier series.
	AlignLongestSeries
)

func (a Alignment) String() string {
	switch a {
	case AlignLongestSeries:
		return "longest"
	default:
		return "first"
	}
}

// ParseAlignment maps a config value onto an Alignment. Empty means first.
func ParseAlignment(s string) (Alignment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first":
		return AlignFirstSeries, nil
	case "longest":
		return AlignLongestSeries, nil
	default:
		return AlignFirstSeries, fmt.Errorf("unknown alignment %q", s)
	}
}

// Calculator evaluates a time slice over every sample position.
type Calculator struct {
	Alignment Alignment
}

// Compute returns one interval per sample of the reference series. An empty
// set yields an empty result.
func (c Calculator) Compute(ts *TimeSlice, series *SeriesSet) []Interval {
	reference, ok := c.reference(series)
	if !ok || ts == nil {
		return []Interval{}
	}

	quality := ts.Quality
	if quality == "" {
		quality = DefaultQuality
	}

	out := make([]Interval, len(reference))
	for i, sample := range reference {
		out[i] = Interval{
			Position: i + 1,
			Start:    sample.Start,
			End:      sample.End,
			Quantity: FormatQuantity(EvaluateFormula(&ts.Formula, series, i)),
			Quality:  quality,
		}
	}
	return out
}

func (c Calculator) reference(series *SeriesSet) ([]Interval, bool) {
	if series.Len() == 0 {
		return nil, false
	}

	ids := series.IDs()
	ref, _ := series.Get(ids[0])
	if c.Alignment == AlignLongestSeries {
		for _, id := range ids[1:] {
			if samples, _ := series.Get(id); len(samples) > len(ref) {
				ref = samples
			}
		}
	}
	return ref, true
}

// ComputeTimeSlice runs the default calculator.
func ComputeTimeSlice(ts *TimeSlice, series *SeriesSet) []Interval {
	return Calculator{}.Compute(ts, series)
}
