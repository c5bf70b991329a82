// Registers:
//
//	#formulaflow_formula_submissions_total{result}
//	#formulaflow_calculations_total{status}
//	#formulaflow_intervals_computed_total
//	#formulaflow_export_files_total
//	#formulaflow_export_dropped_total
//	#go_* and process_* system metrics
//
// Exposes them through Handler, mounted by the API on /metrics.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once     sync.Once
	registry = prometheus.NewRegistry()

	formulaSubmissions *prometheus.CounterVec
	calculations       *prometheus.CounterVec
	intervalsComputed  prometheus.Counter
	exportFiles        prometheus.Counter
	exportDropped      prometheus.Counter
)

func Init() {
	once.Do(func() {
		formulaSubmissions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "formulaflow_formula_submissions_total",
				Help: "Formula submissions by result (accepted, rejected, replayed)",
			},
			[]string{"result"},
		)

		calculations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "formulaflow_calculations_total",
				Help: "Finished calculations by final status",
			},
			[]string{"status"},
		)

		intervalsComputed = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formulaflow_intervals_computed_total",
			Help: "Output intervals produced by calculations",
		})

		exportFiles = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formulaflow_export_files_total",
			Help: "Parquet files written by the series exporter",
		})

		exportDropped = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formulaflow_export_dropped_total",
			Help: "Calculated series not exported because the buffer was full",
		})

		registry.MustRegister(formulaSubmissions, calculations, intervalsComputed, exportFiles, exportDropped)
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// IncrementSubmission counts a formula submission outcome.
func IncrementSubmission(result string) {
	if formulaSubmissions != nil {
		formulaSubmissions.WithLabelValues(result).Inc()
	}
}

// IncrementCalculation counts a finished calculation and its intervals.
func IncrementCalculation(status string, intervals int) {
	if !IsFeatureEnabled(FeatureCalculation) {
		return
	}
	if calculations != nil {
		calculations.WithLabelValues(status).Inc()
	}
	if intervalsComputed != nil && intervals > 0 {
		intervalsComputed.Add(float64(intervals))
	}
}

// IncrementExportFile counts an exported parquet file.
func IncrementExportFile() {
	if exportFiles != nil && IsFeatureEnabled(FeatureExport) {
		exportFiles.Inc()
	}
}

func incrementExportDropped() {
	if exportDropped != nil {
		exportDropped.Inc()
	}
}
