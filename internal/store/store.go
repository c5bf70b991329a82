// Package store keeps formulas, series, calculations and submission
// transactions. Every repository hands out copies so callers can evaluate on
// a stable snapshot while writers keep going.
package store

import (
	"context"
	"errors"

	"formulaflow/models"
)

// ErrNotFound is returned when no record exists under the requested key.
var ErrNotFound = errors.New("not found")

// FormulaRepository stores accepted formulas keyed by maloId or neloId. A
// second Put under the same location replaces the first.
type FormulaRepository interface {
	PutFormula(ctx context.Context, f models.StoredFormula) error
	GetFormula(ctx context.Context, locationID string) (models.StoredFormula, error)
	ListFormulas(ctx context.Context) ([]models.StoredFormula, error)
}

// SeriesRepository stores time series keyed by timeSeriesId.
type SeriesRepository interface {
	PutSeries(ctx context.Context, s models.TimeSeries) error
	GetSeries(ctx context.Context, id string) (models.TimeSeries, error)
	QuerySeries(ctx context.Context, filter models.SeriesFilter) ([]models.TimeSeries, error)
}

// CalculationRepository stores calculations keyed by calculationId.
type CalculationRepository interface {
	PutCalculation(ctx context.Context, c models.Calculation) error
	GetCalculation(ctx context.Context, id string) (models.Calculation, error)
}

// TransactionCache remembers submission responses for replay.
type TransactionCache interface {
	PutTransaction(ctx context.Context, r models.TransactionRecord) error
	GetTransaction(ctx context.Context, transactionID string) (models.TransactionRecord, error)
}

// Stats counts the records held by a store.
type Stats struct {
	Formulas     int `json:"formulas"`
	TimeSeries   int `json:"timeSeries"`
	Calculations int `json:"calculations"`
	Transactions int `json:"transactions"`
}
