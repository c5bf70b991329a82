package writer

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	appconfig "formulaflow/config"
	"formulaflow/internal/metrics"
	"formulaflow/logger"
	"formulaflow/models"
)

// SeriesWriter exports calculated series as parquet files, one file per
// location and flush.
type SeriesWriter struct {
	config      *appconfig.Config
	in          <-chan models.TimeSeries
	sink        sink
	ctx         context.Context
	wg          *sync.WaitGroup
	mu          sync.Mutex
	running     bool
	log         *logger.Log
	buffer      map[string][]models.TimeSeries
	flushTicker *time.Ticker
	now         func() time.Time

	seriesWritten int64
	filesWritten  int64
	bytesWritten  int64
	errorsCount   int64
}

// NewSeriesWriter picks the S3 sink when storage.s3 is enabled and the local
// directory sink otherwise.
func NewSeriesWriter(cfg *appconfig.Config, in <-chan models.TimeSeries) (*SeriesWriter, error) {
	log := logger.GetLogger()

	var s sink
	switch {
	case cfg.Storage.S3.Enabled:
		s3s, err := newS3Sink(context.Background(), cfg)
		if err != nil {
			log.WithComponent("series_writer").WithError(err).Warn("failed to initialise S3 sink")
			return nil, err
		}
		s = s3s
	case cfg.Writer.LocalDir != "":
		s = &localSink{dir: cfg.Writer.LocalDir}
	default:
		return nil, fmt.Errorf("no export sink configured: enable storage.s3 or set writer.local_dir")
	}

	log.WithComponent("series_writer").WithFields(logger.Fields{
		"sink":        s.name(),
		"time_format": cfg.Writer.Partitioning.TimeFormat,
	}).Info("series writer initialized")

	return newSeriesWriter(cfg, in, s), nil
}

func newSeriesWriter(cfg *appconfig.Config, in <-chan models.TimeSeries, s sink) *SeriesWriter {
	return &SeriesWriter{
		config: cfg,
		in:     in,
		sink:   s,
		wg:     &sync.WaitGroup{},
		log:    logger.GetLogger(),
		buffer: make(map[string][]models.TimeSeries),
		now:    time.Now,
	}
}

func (w *SeriesWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("series writer already running")
	}
	w.running = true
	w.ctx = ctx
	w.mu.Unlock()

	log := w.log.WithComponent("series_writer").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting series writer")

	interval := w.config.Writer.FlushInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	w.flushTicker = time.NewTicker(interval)

	numWorkers := w.config.Writer.MaxWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}
	log.WithFields(logger.Fields{"workers": numWorkers}).Info("starting series writer workers")

	for i := 0; i < numWorkers; i++ {
		w.wg.Add(1)
		go w.worker(i)
	}

	w.wg.Add(1)
	go w.flushWorker()

	return nil
}

// Stop waits for the workers to finish and writes whatever is still buffered.
// The context passed to Start must be cancelled first.
func (w *SeriesWriter) Stop() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	w.log.WithComponent("series_writer").Info("stopping series writer")
	w.wg.Wait()
	w.drain()
	w.flushBuffers("shutdown")
	w.log.WithComponent("series_writer").Info("series writer stopped")
}

// Stats returns the writer counters.
func (w *SeriesWriter) Stats() metrics.WriterStats {
	return metrics.WriterStats{
		SeriesWritten: atomic.LoadInt64(&w.seriesWritten),
		FilesWritten:  atomic.LoadInt64(&w.filesWritten),
		BytesWritten:  atomic.LoadInt64(&w.bytesWritten),
		ErrorsCount:   atomic.LoadInt64(&w.errorsCount),
		QueueLen:      len(w.in),
		QueueCap:      cap(w.in),
	}
}

func (w *SeriesWriter) worker(workerID int) {
	defer w.wg.Done()

	log := w.log.WithComponent("series_writer").WithFields(logger.Fields{
		"worker_id": workerID,
		"worker":    "series_writer",
	})

	for {
		select {
		case <-w.ctx.Done():
			w.drain()
			log.Info("worker stopped due to context cancellation")
			return
		case ts, ok := <-w.in:
			if !ok {
				log.Info("series channel closed, worker stopping")
				return
			}
			w.addSeries(ts)
		}
	}
}

// drain buffers series already queued so shutdown does not lose them.
func (w *SeriesWriter) drain() {
	for {
		select {
		case ts, ok := <-w.in:
			if !ok {
				return
			}
			w.addSeries(ts)
		default:
			return
		}
	}
}

func (w *SeriesWriter) flushWorker() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flushBuffers("interval")
		}
	}
}

func (w *SeriesWriter) addSeries(ts models.TimeSeries) {
	key := locationOf(ts)
	w.mu.Lock()
	w.buffer[key] = append(w.buffer[key], ts)
	w.mu.Unlock()
}

func (w *SeriesWriter) flushBuffers(reason string) {
	w.mu.Lock()
	buffers := w.buffer
	w.buffer = make(map[string][]models.TimeSeries)
	w.mu.Unlock()

	if len(buffers) == 0 {
		return
	}

	w.log.WithComponent("series_writer").WithFields(logger.Fields{
		"flushed_buffers": len(buffers),
		"reason":          reason,
	}).Info("flushing buffers")

	locations := make([]string, 0, len(buffers))
	for loc := range buffers {
		locations = append(locations, loc)
	}
	sort.Strings(locations)

	for _, loc := range locations {
		w.writeLocation(loc, buffers[loc])
	}

	metrics.ReportWriter(w.log, "series_writer", w.Stats())
}

func (w *SeriesWriter) writeLocation(locationID string, series []models.TimeSeries) {
	records := toRecords(locationID, series)
	if len(records) == 0 {
		return
	}

	key := w.objectKey(locationID, w.now())
	log := w.log.WithComponent("series_writer").WithFields(logger.Fields{
		"location_id":  locationID,
		"key":          key,
		"series_count": len(series),
		"record_count": len(records),
	})

	ctx := context.Background()
	if w.ctx != nil {
		ctx = context.WithoutCancel(w.ctx)
	}

	start := time.Now()
	size, err := w.sink.write(ctx, key, records)
	if err != nil {
		atomic.AddInt64(&w.errorsCount, 1)
		log.WithError(err).WithEnv("S3_BUCKET").Error("failed to export series")
		return
	}

	atomic.AddInt64(&w.seriesWritten, int64(len(series)))
	atomic.AddInt64(&w.filesWritten, 1)
	atomic.AddInt64(&w.bytesWritten, size)
	metrics.IncrementExportFile()

	logger.LogPerformanceEntry(log, "series_writer", "write_parquet", time.Since(start), logger.Fields{"file_size": size})
}

// objectKey renders location=<id>/<time partition>/<id>_calc_<yyyymmddhhmmss>.parquet,
// below the configured S3 prefix when one is set.
func (w *SeriesWriter) objectKey(locationID string, ts time.Time) string {
	ts = ts.UTC()
	parts := make([]string, 0, 4)
	if prefix := strings.Trim(w.config.Storage.S3.Prefix, "/"); prefix != "" {
		parts = append(parts, prefix)
	}
	parts = append(parts, "location="+locationID)
	if layout := w.config.Writer.Partitioning.TimeFormat; layout != "" {
		parts = append(parts, ts.Format(layout))
	}
	parts = append(parts, fmt.Sprintf("%s_calc_%s.parquet", locationID, ts.Format("20060102150405")))
	return path.Join(parts...)
}

func locationOf(ts models.TimeSeries) string {
	switch {
	case ts.Metadata != nil && ts.Metadata.CalculatedBy != "":
		return ts.Metadata.CalculatedBy
	case ts.MarketLocationID != "":
		return ts.MarketLocationID
	case ts.NetworkLocationID != "":
		return ts.NetworkLocationID
	default:
		return "unknown"
	}
}

func toRecords(locationID string, series []models.TimeSeries) []SeriesRecord {
	var records []SeriesRecord
	for _, ts := range series {
		var calculationID string
		var sliceID int64
		if ts.Metadata != nil {
			calculationID = ts.Metadata.CalculationID
			sliceID = int64(ts.Metadata.TimeSliceID)
		}
		for _, iv := range ts.Intervals {
			records = append(records, SeriesRecord{
				TimeSeriesID:  ts.TimeSeriesID,
				LocationID:    locationID,
				CalculationID: calculationID,
				TimeSliceID:   sliceID,
				Position:      int64(iv.Position),
				Start:         iv.Start,
				End:           iv.End,
				Quantity:      iv.Quantity.Float(),
				Quality:       iv.Quality,
			})
		}
	}
	return records
}
