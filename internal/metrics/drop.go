package metrics

import "formulaflow/logger"

// DropMetric identifies the metric name emitted when work is dropped.
type DropMetric string

const (
	// DropMetricExport records calculated series not handed to the exporter.
	DropMetricExport DropMetric = "export_dropped"
	// DropMetricNotify records calculation events a websocket client was too slow to take.
	DropMetricNotify DropMetric = "notify_dropped"
)

// EmitDropMetric logs and emits one dropped item. Callers invoke it once per
// drop; the location id is attached when known.
func EmitDropMetric(log *logger.Log, metric DropMetric, locationID string) {
	fields := logger.Fields{"unit": "count"}
	if locationID != "" {
		fields["location_id"] = locationID
	}

	if metric == DropMetricExport {
		incrementExportDropped()
	}

	EmitMetric(log, "drops", string(metric), 1, "counter", fields)
}
