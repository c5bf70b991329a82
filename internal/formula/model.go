package formula

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// EnergyDirection of a metered operand. It is carried through evaluation but
// does not change the operand's value.
type EnergyDirection string

const (
	Consumption EnergyDirection = "consumption"
	Production  EnergyDirection = "production"
)

// Time slice quality literals.
const (
	QualityValid  = "Gültige Daten"
	QualityNoData = "Keine Daten"
)

// DefaultQuality is stamped on computed intervals when the time slice carries
// no quality of its own.
const DefaultQuality = QualityValid

// Decimal is a decimal literal kept in its textual form. It accepts both JSON
// strings and JSON numbers and always marshals back as a string.
type Decimal string

// UnmarshalJSON implements json.Unmarshaler.
func (d *Decimal) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*d = Decimal(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decimal must be a string or number: %w", err)
	}
	*d = Decimal(n.String())
	return nil
}

// Float returns the numeric value of d. Unparseable or empty literals yield 0.
func (d Decimal) Float() float64 {
	if d == "" {
		return 0
	}
	v, err := decimal.NewFromString(string(d))
	if err != nil {
		return 0
	}
	return v.InexactFloat64()
}

// FormatQuantity renders v with six fractional digits. Overflowed results are
// spelled inf, -inf and nan.
func FormatQuantity(v float64) Decimal {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return Decimal(strconv.FormatFloat(v, 'f', 6, 64))
}

// decodeExact decodes each listed key of a JSON object into its target. Keys
// match byte for byte; encoding/json on its own folds case.
func decodeExact(data []byte, fields map[string]any) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	for key, dst := range fields {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// Percent is a factor in [0, 1]. The range is enforced by the validator only.
type Percent struct {
	PercentValue float64 `json:"percentvalue"`
}

// UnmarshalJSON accepts percentvalue as a number or as a decimal string.
func (p *Percent) UnmarshalJSON(data []byte) error {
	var value Decimal
	if err := decodeExact(data, map[string]any{"percentvalue": &value}); err != nil {
		return err
	}
	p.PercentValue = value.Float()
	return nil
}

// MeloOperand reads a metered series and scales it by loss and distribution
// factors.
type MeloOperand struct {
	MeloID                           string          `json:"meloId"`
	EnergyDirection                  EnergyDirection `json:"energyDirection"`
	LossFactorTransformer            *Percent        `json:"lossFactorTransformer,omitempty"`
	LossFactorConduction             *Percent        `json:"lossFactorConduction,omitempty"`
	DistributionFactorEnergyQuantity *Percent        `json:"distributionFactorEnergyQuantity,omitempty"`
}

func (m *MeloOperand) UnmarshalJSON(data []byte) error {
	*m = MeloOperand{}
	return decodeExact(data, map[string]any{
		"meloId":                           &m.MeloID,
		"energyDirection":                  &m.EnergyDirection,
		"lossFactorTransformer":            &m.LossFactorTransformer,
		"lossFactorConduction":             &m.LossFactorConduction,
		"distributionFactorEnergyQuantity": &m.DistributionFactorEnergyQuantity,
	})
}

// Operand is a formula leaf or a nested formula. Exactly one field is set in a
// valid document.
type Operand struct {
	MeloOperand        *MeloOperand        `json:"meloOperand,omitempty"`
	Const              *Decimal            `json:"const,omitempty"`
	FormulaVar         *string             `json:"formulaVar,omitempty"`
	CalculationFormula *CalculationFormula `json:"calculationFormula,omitempty"`
}

func (o *Operand) UnmarshalJSON(data []byte) error {
	*o = Operand{}
	return decodeExact(data, map[string]any{
		string(KindMeloOperand):        &o.MeloOperand,
		string(KindConst):              &o.Const,
		string(KindFormulaVar):         &o.FormulaVar,
		string(KindCalculationFormula): &o.CalculationFormula,
	})
}

// Sub is the binary subtraction minuend - subtrahend.
type Sub struct {
	Minuend    *Operand `json:"minuend"`
	Subtrahend *Operand `json:"subtrahend"`
}

func (s *Sub) UnmarshalJSON(data []byte) error {
	*s = Sub{}
	return decodeExact(data, map[string]any{"minuend": &s.Minuend, "subtrahend": &s.Subtrahend})
}

// CalculationFormula is an operation node. A list operation counts as present
// whenever its slice is non-nil, including the empty list.
type CalculationFormula struct {
	Add     []Operand `json:"add"`
	Sub     *Sub      `json:"sub"`
	Mul     []Operand `json:"mul"`
	Div     []Operand `json:"div"`
	Pos     *Operand  `json:"pos"`
	Operand *Operand  `json:"operand"`
}

func (f *CalculationFormula) UnmarshalJSON(data []byte) error {
	*f = CalculationFormula{}
	return decodeExact(data, map[string]any{
		string(OpAdd):     &f.Add,
		string(OpSub):     &f.Sub,
		string(OpMul):     &f.Mul,
		string(OpDiv):     &f.Div,
		string(OpPos):     &f.Pos,
		string(OpOperand): &f.Operand,
	})
}

// MarshalJSON emits only the populated operations so that an empty Add stays
// distinguishable from an absent one.
func (f CalculationFormula) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 1)
	for _, v := range f.Variants() {
		switch v {
		case OpAdd:
			out[string(v)] = f.Add
		case OpSub:
			out[string(v)] = f.Sub
		case OpMul:
			out[string(v)] = f.Mul
		case OpDiv:
			out[string(v)] = f.Div
		case OpPos:
			out[string(v)] = f.Pos
		case OpOperand:
			out[string(v)] = f.Operand
		}
	}
	return json.Marshal(out)
}

// TimeSlice pairs a formula with its validity window and quality.
type TimeSlice struct {
	TimeSliceID     int                `json:"timeSliceId"`
	Quality         string             `json:"timeSliceQuality"`
	PeriodOfUseFrom string             `json:"periodOfUseFrom"`
	PeriodOfUseTo   string             `json:"periodOfUseTo"`
	Formula         CalculationFormula `json:"calculationFormula"`
}

func (t *TimeSlice) UnmarshalJSON(data []byte) error {
	*t = TimeSlice{}
	return decodeExact(data, map[string]any{
		"timeSliceId":        &t.TimeSliceID,
		"timeSliceQuality":   &t.Quality,
		"periodOfUseFrom":    &t.PeriodOfUseFrom,
		"periodOfUseTo":      &t.PeriodOfUseTo,
		"calculationFormula": &t.Formula,
	})
}

// FormulaLocation is the submitted document: a market or network location and
// its time slices.
type FormulaLocation struct {
	MaloID     string      `json:"maloId,omitempty"`
	NeloID     string      `json:"neloId,omitempty"`
	TimeSlices []TimeSlice `json:"calculationFormulaTimeSlices"`
}

// UnmarshalJSON decodes the location with exact key matching throughout the
// tree, so the typed model holds the same nodes the validator checked.
func (l *FormulaLocation) UnmarshalJSON(data []byte) error {
	*l = FormulaLocation{}
	return decodeExact(data, map[string]any{
		"maloId":                       &l.MaloID,
		"neloId":                       &l.NeloID,
		"calculationFormulaTimeSlices": &l.TimeSlices,
	})
}

// LocationID returns the maloId, falling back to the neloId.
func (l *FormulaLocation) LocationID() string {
	if l.MaloID != "" {
		return l.MaloID
	}
	return l.NeloID
}

// LocationType names the key the location id was submitted under.
func (l *FormulaLocation) LocationType() string {
	if l.MaloID != "" {
		return "maloId"
	}
	return "neloId"
}

// TimeSlice returns the first slice with the given id.
func (l *FormulaLocation) TimeSlice(id int) (*TimeSlice, bool) {
	for i := range l.TimeSlices {
		if l.TimeSlices[i].TimeSliceID == id {
			return &l.TimeSlices[i], true
		}
	}
	return nil, false
}

// Interval is one sample of a series.
type Interval struct {
	Position int     `json:"position"`
	Start    string  `json:"start"`
	End      string  `json:"end"`
	Quantity Decimal `json:"quantity"`
	Quality  string  `json:"quality,omitempty"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses an ISO 8601 timestamp, with or without zone offset.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid ISO 8601 timestamp %q", s)
}
