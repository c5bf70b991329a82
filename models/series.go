package models

import "formulaflow/internal/formula"

// MeasurementCalculated marks series produced by a calculation.
const MeasurementCalculated = "CALCULATED"

// Period is the covered time range of a series. Both ends are optional.
type Period struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// TimeSeries is a metered or calculated energy series.
type TimeSeries struct {
	TimeSeriesID      string             `json:"timeSeriesId"`
	MarketLocationID  string             `json:"marketLocationId,omitempty"`
	MeterLocationID   string             `json:"meterLocationId,omitempty"`
	NetworkLocationID string             `json:"networkLocationId,omitempty"`
	MeasurementType   string             `json:"measurementType,omitempty"`
	Unit              string             `json:"unit,omitempty"`
	Resolution        string             `json:"resolution,omitempty"`
	Period            *Period            `json:"period,omitempty"`
	Intervals         []formula.Interval `json:"intervals"`
	Metadata          *SeriesMetadata    `json:"metadata,omitempty"`
}

// SeriesMetadata records where a calculated series came from.
type SeriesMetadata struct {
	CalculatedBy  string `json:"calculatedBy"`
	TimeSliceID   int    `json:"timeSliceId"`
	CalculationID string `json:"calculationId"`
	CalculatedAt  string `json:"calculatedAt"`
}

// Clone returns a deep copy of s.
func (s TimeSeries) Clone() TimeSeries {
	out := s
	if s.Intervals != nil {
		out.Intervals = append([]formula.Interval(nil), s.Intervals...)
	}
	if s.Period != nil {
		p := *s.Period
		out.Period = &p
	}
	if s.Metadata != nil {
		m := *s.Metadata
		out.Metadata = &m
	}
	return out
}

// SeriesFilter selects series by location. Empty fields match everything.
type SeriesFilter struct {
	MarketLocationID string
	MeterLocationID  string
}

// Match reports whether s passes the filter.
func (f SeriesFilter) Match(s TimeSeries) bool {
	if f.MarketLocationID != "" && s.MarketLocationID != f.MarketLocationID {
		return false
	}
	if f.MeterLocationID != "" && s.MeterLocationID != f.MeterLocationID {
		return false
	}
	return true
}
