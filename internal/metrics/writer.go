package metrics

import "formulaflow/logger"

// WriterStats holds metrics for the series exporter.
type WriterStats struct {
	SeriesWritten int64
	FilesWritten  int64
	BytesWritten  int64
	ErrorsCount   int64
	QueueLen      int
	QueueCap      int
}

// ReportWriter emits exporter metrics using the provided logger and component name.
func ReportWriter(log *logger.Log, component string, stats WriterStats) {
	if log == nil {
		log = logger.GetLogger()
	}
	l := log.WithComponent(component)

	errorRate := float64(0)
	if stats.SeriesWritten+stats.ErrorsCount > 0 {
		errorRate = float64(stats.ErrorsCount) / float64(stats.SeriesWritten+stats.ErrorsCount)
	}

	avgBytesPerFile := float64(0)
	if stats.FilesWritten > 0 {
		avgBytesPerFile = float64(stats.BytesWritten) / float64(stats.FilesWritten)
	}

	EmitMetric(log, component, "export_series_written", stats.SeriesWritten, "counter", logger.Fields{"unit": "count"})
	EmitMetric(log, component, "export_files_written", stats.FilesWritten, "counter", logger.Fields{"unit": "count"})
	EmitMetric(log, component, "export_bytes_written", stats.BytesWritten, "counter", logger.Fields{"unit": "bytes"})
	EmitMetric(log, component, "export_errors", stats.ErrorsCount, "counter", logger.Fields{"unit": "count"})
	EmitMetric(log, component, "export_queue_len", stats.QueueLen, "gauge", logger.Fields{"unit": "count"})

	entry := l.WithFields(logger.Fields{
		"series_written":     stats.SeriesWritten,
		"files_written":      stats.FilesWritten,
		"bytes_written":      stats.BytesWritten,
		"errors_count":       stats.ErrorsCount,
		"error_rate":         errorRate,
		"avg_bytes_per_file": avgBytesPerFile,
		"queue_len":          stats.QueueLen,
		"queue_cap":          stats.QueueCap,
	})

	if stats.ErrorsCount > 0 {
		entry.Warn(component + " metrics")
		return
	}

	entry.Info(component + " metrics")
}
