package models

import (
	"encoding/json"
	"regexp"
	"testing"
	"time"
)

func TestInputBindingsKeepOrder(t *testing.T) {
	var req CalculationRequest
	body := `{"maloId": "12345678901", "timeSliceId": 2,
		"inputTimeSeries": {"DEz": "TS-2", "DEa": "TS-1"}}`
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(req.InputTimeSeries) != 2 {
		t.Fatalf("expected 2 bindings, got %d", len(req.InputTimeSeries))
	}
	if req.InputTimeSeries[0].MeloID != "DEz" || req.InputTimeSeries[1].TimeSeriesID != "TS-1" {
		t.Fatalf("bindings out of order: %+v", req.InputTimeSeries)
	}
	if req.LocationID() != "12345678901" || req.TimeSliceID != 2 {
		t.Fatalf("unexpected request: %+v", req)
	}

	data, err := json.Marshal(req.InputTimeSeries)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"DEz":"TS-2","DEa":"TS-1"}` {
		t.Fatalf("unexpected encoding: %s", data)
	}
}

func TestInputBindingsRejectNonObject(t *testing.T) {
	var b InputBindings
	if err := json.Unmarshal([]byte(`["a"]`), &b); err == nil {
		t.Fatal("expected error for array input")
	}
	if err := json.Unmarshal([]byte(`{"a": 1}`), &b); err == nil {
		t.Fatal("expected error for non-string series id")
	}
}

func TestGenerateID(t *testing.T) {
	re := regexp.MustCompile(`^TS-CALC-[0-9a-f]{8}$`)
	a, b := GenerateID("TS-CALC"), GenerateID("TS-CALC")
	if !re.MatchString(a) {
		t.Fatalf("unexpected id format: %s", a)
	}
	if a == b {
		t.Fatalf("ids should differ: %s", a)
	}
}

func TestTimestamp(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 1000, time.FixedZone("CET", 3600))
	if got := Timestamp(ts); got != "2024-03-01T11:30:00.000001Z" {
		t.Fatalf("unexpected timestamp: %s", got)
	}
}

func TestNewStoredFormula(t *testing.T) {
	raw := []byte(`{"neloId": "E1234ABCDE5", "calculationFormulaTimeSlices": [
		{"timeSliceId": 1, "timeSliceQuality": "Keine Daten", "periodOfUseFrom": "2024-01-01",
		 "periodOfUseTo": "2024-12-31", "calculationFormula": {"operand": {"const": "1"}}}]}`)

	f, err := NewStoredFormula(raw, "tx", "2024-01-01T00:00:00Z", time.Unix(0, 0))
	if err != nil {
		t.Fatalf("NewStoredFormula: %v", err)
	}
	if f.LocationID != "E1234ABCDE5" || f.LocationType != "neloId" {
		t.Fatalf("unexpected location: %s %s", f.LocationID, f.LocationType)
	}
	summary := f.Summary()
	if summary.TimeSliceCount != 1 || summary.TransactionID != "tx" {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	raw[0] = ' '
	if string(f.Raw[:1]) != "{" {
		t.Fatal("raw document must be copied")
	}
}

func TestCloneIsDeep(t *testing.T) {
	n := 3
	c := Calculation{IntervalsCalculated: &n, Errors: []CalculationError{{Code: ErrorCodeCalculation}}}
	cp := c.Clone()
	*cp.IntervalsCalculated = 4
	cp.Errors[0].Code = "x"
	if *c.IntervalsCalculated != 3 || c.Errors[0].Code != ErrorCodeCalculation {
		t.Fatalf("clone shares state: %+v", c)
	}

	s := TimeSeries{Period: &Period{Start: "a"}}
	sc := s.Clone()
	sc.Period.Start = "b"
	if s.Period.Start != "a" {
		t.Fatal("series clone shares period")
	}
}

func TestSeriesFilter(t *testing.T) {
	s := TimeSeries{MarketLocationID: "m", MeterLocationID: "x"}
	if !(SeriesFilter{}).Match(s) {
		t.Fatal("empty filter should match")
	}
	if !(SeriesFilter{MarketLocationID: "m", MeterLocationID: "x"}).Match(s) {
		t.Fatal("full filter should match")
	}
	if (SeriesFilter{MeterLocationID: "y"}).Match(s) {
		t.Fatal("meter filter should not match")
	}
}
