package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Calculation lifecycle states.
const (
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// ErrorCodeCalculation tags a failure raised while evaluating a formula.
const ErrorCodeCalculation = "CALCULATION_ERROR"

// CalculationError describes why a calculation failed.
type CalculationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Calculation is one execution of a stored time slice.
type Calculation struct {
	CalculationID       string             `json:"calculationId"`
	LocationID          string             `json:"locationId"`
	TimeSliceID         int                `json:"timeSliceId"`
	Status              string             `json:"status"`
	AcceptedAt          string             `json:"acceptedAt"`
	OutputTimeSeriesID  string             `json:"outputTimeSeriesId,omitempty"`
	CompletedAt         string             `json:"completedAt,omitempty"`
	IntervalsCalculated *int               `json:"intervalsCalculated,omitempty"`
	Errors              []CalculationError `json:"errors,omitempty"`
}

// Clone returns a deep copy of c.
func (c Calculation) Clone() Calculation {
	out := c
	if c.IntervalsCalculated != nil {
		n := *c.IntervalsCalculated
		out.IntervalsCalculated = &n
	}
	if c.Errors != nil {
		out.Errors = append([]CalculationError(nil), c.Errors...)
	}
	return out
}

// CalculationRequest asks for a stored time slice to be evaluated against
// previously submitted series.
type CalculationRequest struct {
	CalculationID      string        `json:"calculationId,omitempty"`
	MaloID             string        `json:"maloId,omitempty"`
	NeloID             string        `json:"neloId,omitempty"`
	TimeSliceID        int           `json:"timeSliceId"`
	InputTimeSeries    InputBindings `json:"inputTimeSeries"`
	Period             *Period       `json:"period,omitempty"`
	OutputTimeSeriesID string        `json:"outputTimeSeriesId,omitempty"`
}

// LocationID returns the maloId, falling back to the neloId.
func (r CalculationRequest) LocationID() string {
	if r.MaloID != "" {
		return r.MaloID
	}
	return r.NeloID
}

// InputBinding maps a meloId used in the formula to a stored series.
type InputBinding struct {
	MeloID       string
	TimeSeriesID string
}

// InputBindings is the inputTimeSeries object. Order of the JSON keys is
// kept, since the first bound series drives the output length.
type InputBindings []InputBinding

// UnmarshalJSON implements json.Unmarshaler.
func (b *InputBindings) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*b = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("inputTimeSeries must be an object")
	}

	var out InputBindings
	for dec.More() {
		key, err := dec.Token()
		if err != nil {
			return err
		}
		var id string
		if err := dec.Decode(&id); err != nil {
			return fmt.Errorf("inputTimeSeries.%v: %w", key, err)
		}
		out = append(out, InputBinding{MeloID: key.(string), TimeSeriesID: id})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*b = out
	return nil
}

// MarshalJSON implements json.Marshaler.
func (b InputBindings) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, binding := range b {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(binding.MeloID)
		val, _ := json.Marshal(binding.TimeSeriesID)
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
