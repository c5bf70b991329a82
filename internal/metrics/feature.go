package metrics

import (
	"strings"
	"sync/atomic"

	"formulaflow/config"
)

// Feature groups metrics that can be switched off from config.
type Feature string

const (
	FeatureCalculation Feature = "calculation"
	FeatureExport      Feature = "export"
)

var (
	calculationEnabled atomic.Bool
	exportEnabled      atomic.Bool
)

func init() {
	calculationEnabled.Store(true)
	exportEnabled.Store(true)
}

// Configure applies the metrics section of the configuration.
func Configure(cfg config.MetricsConfig) {
	calculationEnabled.Store(cfg.Calculation)
	exportEnabled.Store(cfg.Export)
}

// IsFeatureEnabled reports whether metrics of feature f are emitted.
func IsFeatureEnabled(f Feature) bool {
	switch f {
	case FeatureCalculation:
		return calculationEnabled.Load()
	case FeatureExport:
		return exportEnabled.Load()
	default:
		return true
	}
}

// featureForMetric maps a metric name onto its feature by prefix.
func featureForMetric(name string) (Feature, bool) {
	switch {
	case strings.HasPrefix(name, "calculation_"), strings.HasPrefix(name, "intervals_"):
		return FeatureCalculation, true
	case strings.HasPrefix(name, "export_"):
		return FeatureExport, true
	default:
		return "", false
	}
}
