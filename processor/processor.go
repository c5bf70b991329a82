package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	appconfig "formulaflow/config"
	"formulaflow/internal/formula"
	"formulaflow/internal/metrics"
	"formulaflow/internal/store"
	"formulaflow/logger"
	"formulaflow/models"
)

var (
	ErrFormulaNotFound   = errors.New("formula not found")
	ErrTimeSliceNotFound = errors.New("time slice not found")
)

// Repository is the storage the processor reads formulas and series from
// and writes calculations, series and transactions to.
type Repository interface {
	store.FormulaRepository
	store.SeriesRepository
	store.CalculationRepository
	store.TransactionCache
}

// Notifier receives every stored calculation state.
type Notifier interface {
	CalculationUpdated(models.Calculation)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(models.Calculation)

func (f NotifierFunc) CalculationUpdated(c models.Calculation) { f(c) }

// Processor accepts formula submissions and executes calculations against
// stored formulas and series.
type Processor struct {
	config   *appconfig.Config
	repo     Repository
	calc     formula.Calculator
	notifier Notifier
	exportMu sync.RWMutex
	exportCh chan<- models.TimeSeries
	log      *logger.Log

	now   func() time.Time
	newID func(prefix string) string
}

func NewProcessor(cfg *appconfig.Config, repo Repository) (*Processor, error) {
	if cfg == nil {
		cfg = appconfig.Default()
	}
	align, err := formula.ParseAlignment(cfg.Calculation.Alignment)
	if err != nil {
		return nil, fmt.Errorf("calculation alignment: %w", err)
	}
	return &Processor{
		config: cfg,
		repo:   repo,
		calc:   formula.Calculator{Alignment: align},
		log:    logger.GetLogger(),
		now:    time.Now,
		newID:  models.GenerateID,
	}, nil
}

// SetNotifier registers n to receive calculation updates.
func (p *Processor) SetNotifier(n Notifier) {
	p.notifier = n
}

// SetExport hands completed output series to ch. Sends never block; a full
// channel drops the series. SetExport(nil) detaches the channel and returns
// once no send is in flight, after which the caller may close it.
func (p *Processor) SetExport(ch chan<- models.TimeSeries) {
	p.exportMu.Lock()
	p.exportCh = ch
	p.exportMu.Unlock()
}

// Execute runs one time slice of a stored formula. A missing formula or time
// slice is returned as an error and nothing is stored; evaluation failures
// produce a FAILED calculation instead.
func (p *Processor) Execute(ctx context.Context, req models.CalculationRequest) (models.Calculation, error) {
	start := time.Now()
	locationID := req.LocationID()
	log := p.log.WithComponent("calculation_processor").WithFields(logger.Fields{
		"location_id":   locationID,
		"time_slice_id": req.TimeSliceID,
	})

	stored, err := p.repo.GetFormula(ctx, locationID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Calculation{}, fmt.Errorf("%w: %s", ErrFormulaNotFound, locationID)
	}
	if err != nil {
		return models.Calculation{}, fmt.Errorf("load formula: %w", err)
	}

	slice, ok := stored.Location.TimeSlice(req.TimeSliceID)
	if !ok {
		return models.Calculation{}, fmt.Errorf("%w: %d", ErrTimeSliceNotFound, req.TimeSliceID)
	}

	calculationID := req.CalculationID
	if calculationID == "" {
		calculationID = p.newID("CALC")
	}
	outputID := req.OutputTimeSeriesID
	if outputID == "" {
		outputID = p.newID("TS-CALC")
	}
	log = log.WithFields(logger.Fields{"calculation_id": calculationID})

	series, err := p.inputSeries(ctx, req.InputTimeSeries)
	if err != nil {
		return models.Calculation{}, err
	}

	calc := models.Calculation{
		CalculationID: calculationID,
		LocationID:    locationID,
		TimeSliceID:   req.TimeSliceID,
		Status:        models.StatusProcessing,
		AcceptedAt:    models.Timestamp(p.now()),
	}
	if err := p.store(ctx, calc); err != nil {
		return models.Calculation{}, err
	}

	intervals, evalErr := p.compute(slice, series)
	if evalErr != nil {
		calc.Status = models.StatusFailed
		calc.Errors = []models.CalculationError{{Code: models.ErrorCodeCalculation, Message: evalErr.Error()}}
		log.WithError(evalErr).Error("calculation failed")
	} else {
		output := p.outputSeries(outputID, locationID, calculationID, req, intervals)
		if err := p.repo.PutSeries(ctx, output); err != nil {
			return models.Calculation{}, fmt.Errorf("store output series: %w", err)
		}
		n := len(intervals)
		calc.Status = models.StatusCompleted
		calc.OutputTimeSeriesID = outputID
		calc.CompletedAt = models.Timestamp(p.now())
		calc.IntervalsCalculated = &n
		p.export(log, output)
	}

	if err := p.store(ctx, calc); err != nil {
		return models.Calculation{}, err
	}

	duration := time.Since(start)
	intervalsCalculated := 0
	if calc.IntervalsCalculated != nil {
		intervalsCalculated = *calc.IntervalsCalculated
	}
	logger.LogPerformanceEntry(log, "calculation_processor", "execute_calculation", duration, logger.Fields{
		"status":    calc.Status,
		"intervals": intervalsCalculated,
		"inputs":    series.Len(),
	})
	metrics.IncrementCalculation(calc.Status, intervalsCalculated)
	metrics.EmitMetric(p.log, "processor", "calculation_duration_ms", float64(duration.Microseconds())/1000, "gauge", logger.Fields{"unit": "milliseconds"})
	if calc.Status == models.StatusCompleted {
		metrics.EmitMetric(p.log, "processor", "calculation_completed", 1, "counter", logger.Fields{"unit": "count"})
	} else {
		metrics.EmitMetric(p.log, "processor", "calculation_failed", 1, "counter", logger.Fields{"unit": "count"})
	}

	return calc.Clone(), nil
}

// inputSeries resolves the meloId bindings in request order. Bindings to
// unknown series are skipped and evaluate as unbound.
func (p *Processor) inputSeries(ctx context.Context, bindings models.InputBindings) (*formula.SeriesSet, error) {
	set := formula.NewSeriesSet()
	for _, b := range bindings {
		ts, err := p.repo.GetSeries(ctx, b.TimeSeriesID)
		if errors.Is(err, store.ErrNotFound) {
			p.log.WithComponent("calculation_processor").WithFields(logger.Fields{
				"melo_id":        b.MeloID,
				"time_series_id": b.TimeSeriesID,
			}).Debug("input series not found; skipping")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load input series %s: %w", b.TimeSeriesID, err)
		}
		set.Set(b.MeloID, ts.Intervals)
	}
	return set, nil
}

func (p *Processor) compute(slice *formula.TimeSlice, series *formula.SeriesSet) (out []formula.Interval, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return p.calc.Compute(slice, series), nil
}

func (p *Processor) outputSeries(outputID, locationID, calculationID string, req models.CalculationRequest, intervals []formula.Interval) models.TimeSeries {
	period := &models.Period{}
	if req.Period != nil {
		*period = *req.Period
	}

	out := models.TimeSeries{
		TimeSeriesID:    outputID,
		MeasurementType: models.MeasurementCalculated,
		Unit:            p.config.Calculation.Unit,
		Resolution:      p.config.Calculation.Resolution,
		Period:          period,
		Intervals:       intervals,
		Metadata: &models.SeriesMetadata{
			CalculatedBy:  locationID,
			TimeSliceID:   req.TimeSliceID,
			CalculationID: calculationID,
			CalculatedAt:  models.Timestamp(p.now()),
		},
	}
	if formula.ValidMaloID(locationID) {
		out.MarketLocationID = locationID
	}
	if formula.ValidNeloID(locationID) {
		out.NetworkLocationID = locationID
	}
	return out
}

func (p *Processor) store(ctx context.Context, calc models.Calculation) error {
	if err := p.repo.PutCalculation(ctx, calc); err != nil {
		return fmt.Errorf("store calculation %s: %w", calc.CalculationID, err)
	}
	if p.notifier != nil {
		p.notifier.CalculationUpdated(calc.Clone())
	}
	return nil
}

func (p *Processor) export(log *logger.Entry, output models.TimeSeries) {
	p.exportMu.RLock()
	defer p.exportMu.RUnlock()
	if p.exportCh == nil {
		return
	}
	select {
	case p.exportCh <- output.Clone():
		logger.LogDataFlowEntry(log, "calculation_processor", "series_writer", len(output.Intervals), "calculated_series")
	default:
		log.WithFields(logger.Fields{"time_series_id": output.TimeSeriesID}).Warn("export buffer full; dropping calculated series")
		metrics.EmitDropMetric(p.log, metrics.DropMetricExport, output.Metadata.CalculatedBy)
	}
}
