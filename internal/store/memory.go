package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"formulaflow/internal/formula"
	"formulaflow/models"
)

// ordered is a map that remembers first insertion order.
type ordered[T any] struct {
	keys  []string
	items map[string]T
}

func newOrdered[T any]() ordered[T] {
	return ordered[T]{items: make(map[string]T)}
}

func (o *ordered[T]) put(key string, v T) {
	if _, ok := o.items[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.items[key] = v
}

func (o *ordered[T]) get(key string) (T, bool) {
	v, ok := o.items[key]
	return v, ok
}

func (o *ordered[T]) each(fn func(T)) {
	for _, k := range o.keys {
		fn(o.items[k])
	}
}

// Memory implements every repository in process memory.
type Memory struct {
	mu           sync.RWMutex
	formulas     ordered[models.StoredFormula]
	series       ordered[models.TimeSeries]
	calculations ordered[models.Calculation]
	transactions ordered[models.TransactionRecord]
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		formulas:     newOrdered[models.StoredFormula](),
		series:       newOrdered[models.TimeSeries](),
		calculations: newOrdered[models.Calculation](),
		transactions: newOrdered[models.TransactionRecord](),
	}
}

var (
	_ FormulaRepository     = (*Memory)(nil)
	_ SeriesRepository      = (*Memory)(nil)
	_ CalculationRepository = (*Memory)(nil)
	_ TransactionCache      = (*Memory)(nil)
)

func (m *Memory) PutFormula(ctx context.Context, f models.StoredFormula) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.LocationID == "" {
		return fmt.Errorf("formula without location id")
	}
	m.mu.Lock()
	m.formulas.put(f.LocationID, cloneFormula(f))
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetFormula(ctx context.Context, locationID string) (models.StoredFormula, error) {
	if err := ctx.Err(); err != nil {
		return models.StoredFormula{}, err
	}
	m.mu.RLock()
	f, ok := m.formulas.get(locationID)
	m.mu.RUnlock()
	if !ok {
		return models.StoredFormula{}, fmt.Errorf("formula %s: %w", locationID, ErrNotFound)
	}
	return cloneFormula(f), nil
}

func (m *Memory) ListFormulas(ctx context.Context) ([]models.StoredFormula, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.StoredFormula, 0, len(m.formulas.keys))
	m.formulas.each(func(f models.StoredFormula) {
		out = append(out, cloneFormula(f))
	})
	return out, nil
}

func (m *Memory) PutSeries(ctx context.Context, s models.TimeSeries) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.TimeSeriesID == "" {
		return fmt.Errorf("series without timeSeriesId")
	}
	m.mu.Lock()
	m.series.put(s.TimeSeriesID, s.Clone())
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetSeries(ctx context.Context, id string) (models.TimeSeries, error) {
	if err := ctx.Err(); err != nil {
		return models.TimeSeries{}, err
	}
	m.mu.RLock()
	s, ok := m.series.get(id)
	m.mu.RUnlock()
	if !ok {
		return models.TimeSeries{}, fmt.Errorf("series %s: %w", id, ErrNotFound)
	}
	return s.Clone(), nil
}

func (m *Memory) QuerySeries(ctx context.Context, filter models.SeriesFilter) ([]models.TimeSeries, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.TimeSeries{}
	m.series.each(func(s models.TimeSeries) {
		if filter.Match(s) {
			out = append(out, s.Clone())
		}
	})
	return out, nil
}

func (m *Memory) PutCalculation(ctx context.Context, c models.Calculation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.calculations.put(c.CalculationID, c.Clone())
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetCalculation(ctx context.Context, id string) (models.Calculation, error) {
	if err := ctx.Err(); err != nil {
		return models.Calculation{}, err
	}
	m.mu.RLock()
	c, ok := m.calculations.get(id)
	m.mu.RUnlock()
	if !ok {
		return models.Calculation{}, fmt.Errorf("calculation %s: %w", id, ErrNotFound)
	}
	return c.Clone(), nil
}

func (m *Memory) PutTransaction(ctx context.Context, r models.TransactionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.Response = append(json.RawMessage(nil), r.Response...)
	m.mu.Lock()
	m.transactions.put(r.TransactionID, r)
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetTransaction(ctx context.Context, transactionID string) (models.TransactionRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.TransactionRecord{}, err
	}
	m.mu.RLock()
	r, ok := m.transactions.get(transactionID)
	m.mu.RUnlock()
	if !ok {
		return models.TransactionRecord{}, fmt.Errorf("transaction %s: %w", transactionID, ErrNotFound)
	}
	r.Response = append(json.RawMessage(nil), r.Response...)
	return r, nil
}

// Stats returns the current record counts.
func (m *Memory) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		Formulas:     len(m.formulas.keys),
		TimeSeries:   len(m.series.keys),
		Calculations: len(m.calculations.keys),
		Transactions: len(m.transactions.keys),
	}
}

// cloneFormula copies the raw document and re-decodes the parsed tree so no
// pointer inside the formula is shared between snapshots.
func cloneFormula(f models.StoredFormula) models.StoredFormula {
	out := f
	out.Raw = append(json.RawMessage(nil), f.Raw...)
	if len(f.Raw) > 0 {
		var loc formula.FormulaLocation
		if err := json.Unmarshal(f.Raw, &loc); err == nil {
			out.Location = loc
		}
	}
	return out
}
