package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"formulaflow/internal/formula"
)

// StoredFormula is an accepted FormulaLocation together with its submission
// metadata. Raw holds the document exactly as submitted.
type StoredFormula struct {
	LocationID       string
	LocationType     string
	Raw              json.RawMessage
	Location         formula.FormulaLocation
	TransactionID    string
	CreationDateTime string
	AcceptedAt       string
}

// FormulaSummary is the list view of a stored formula.
type FormulaSummary struct {
	LocationID     string `json:"locationId"`
	LocationType   string `json:"locationType"`
	TimeSliceCount int    `json:"timeSliceCount"`
	TransactionID  string `json:"transactionId"`
	AcceptedAt     string `json:"acceptedAt"`
}

// Summary returns the list view of f.
func (f StoredFormula) Summary() FormulaSummary {
	return FormulaSummary{
		LocationID:     f.LocationID,
		LocationType:   f.LocationType,
		TimeSliceCount: len(f.Location.TimeSlices),
		TransactionID:  f.TransactionID,
		AcceptedAt:     f.AcceptedAt,
	}
}

// NewStoredFormula decodes an already validated document.
func NewStoredFormula(raw []byte, transactionID, creationDateTime string, acceptedAt time.Time) (StoredFormula, error) {
	var loc formula.FormulaLocation
	if err := json.Unmarshal(raw, &loc); err != nil {
		return StoredFormula{}, fmt.Errorf("decode formula location: %w", err)
	}
	return StoredFormula{
		LocationID:       loc.LocationID(),
		LocationType:     loc.LocationType(),
		Raw:              append(json.RawMessage(nil), raw...),
		Location:         loc,
		TransactionID:    transactionID,
		CreationDateTime: creationDateTime,
		AcceptedAt:       Timestamp(acceptedAt),
	}, nil
}

// TransactionRecord is the cached outcome of a formula submission, replayed
// verbatim when a retry names it as initialTransactionId.
type TransactionRecord struct {
	TransactionID string
	StatusCode    int
	Response      json.RawMessage
}

// Timestamp renders t in UTC ISO 8601 with a Z suffix.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z")
}

// GenerateID returns prefix-xxxxxxxx with eight random hex digits.
func GenerateID(prefix string) string {
	id := uuid.New()
	return fmt.Sprintf("%s-%x", prefix, id[:4])
}
