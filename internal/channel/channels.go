// Package channel owns the buffered queue between the calculation processor
// and the series export writer.
package channel

import (
	"context"
	"sync"
	"time"

	"formulaflow/internal/metrics"
	"formulaflow/logger"
	"formulaflow/models"
)

// Export is the calculated-series queue.
type Export struct {
	ch  chan models.TimeSeries
	log *logger.Log

	closeOnce sync.Once
}

func NewExport(bufferSize int) *Export {
	if bufferSize < 1 {
		bufferSize = 1
	}
	log := logger.GetLogger()

	e := &Export{ch: make(chan models.TimeSeries, bufferSize), log: log}

	log.WithComponent("channels").WithFields(logger.Fields{
		"export_buffer_size": bufferSize,
	}).Info("export channel initialized")

	return e
}

// Writer is the side handed to the processor.
func (e *Export) Writer() chan<- models.TimeSeries {
	return e.ch
}

// Reader is the side handed to the series writer.
func (e *Export) Reader() <-chan models.TimeSeries {
	return e.ch
}

// StartMetricsReporting logs queue depth every interval until ctx is done.
func (e *Export) StartMetricsReporting(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.logStats()
			}
		}
	}()
}

func (e *Export) logStats() {
	length, capacity := len(e.ch), cap(e.ch)

	entry := e.log.WithComponent("channels").WithFields(logger.Fields{
		"export_channel_len": length,
		"export_channel_cap": capacity,
	})
	if length == capacity {
		entry.Warn("export channel full")
	} else {
		entry.Debug("channel statistics")
	}

	metrics.EmitMetric(e.log, "export", "export_channel_len", length, "gauge", logger.Fields{"unit": "Count"})
}

// Close closes the queue. Producers must have stopped sending.
func (e *Export) Close() {
	e.closeOnce.Do(func() {
		close(e.ch)
		e.log.WithComponent("channels").Info("export channel closed")
	})
}
