package analytics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/inferloop/tsforecast/pkg/models"
)

// DetectAnomalies scores each observation against the mean and standard
// deviation of the trailing window before it. The first AnomalyMinHistory
// points have too little history for that, so each is scored against the
// other points of the leading window instead.
func (e *Engine) DetectAnomalies(series *models.MetricSeries) []models.AnomalyRecord {
	values := series.Values()
	anomalies := make([]models.AnomalyRecord, 0)

	for i := range values {
		baseline := e.baseline(values, i)
		if len(baseline) < e.config.AnomalyMinHistory {
			continue
		}
		expected, std := stat.PopMeanStdDev(baseline, nil)

		// a flat window would otherwise make any deviation infinitely severe
		floor := math.Max(e.config.AnomalyStdFloorRatio*math.Abs(expected), 1e-9)
		if std < floor {
			std = floor
		}

		z := math.Abs(values[i]-expected) / std
		if z <= e.config.AnomalyThreshold {
			continue
		}

		severity := e.severity(z)
		anomalies = append(anomalies, models.AnomalyRecord{
			Timestamp:     series.Observations[i].Timestamp,
			Metric:        series.MetricName,
			Severity:      severity,
			ObservedValue: values[i],
			ExpectedValue: expected,
			ZScore:        z,
			Bucket:        SeverityBucket(severity),
			Index:         i,
		})
	}

	return anomalies
}

// baseline returns the reference values point i is scored against
func (e *Engine) baseline(values []float64, i int) []float64 {
	if i >= e.config.AnomalyMinHistory {
		start := i - e.config.AnomalyWindow
		if start < 0 {
			start = 0
		}
		return values[start:i]
	}

	end := e.config.AnomalyWindow + 1
	if end > len(values) {
		end = len(values)
	}
	others := make([]float64, 0, end-1)
	others = append(others, values[:i]...)
	return append(others, values[i+1:end]...)
}

// severity maps a z-score past the threshold onto the 0-10 scale.
// It is non-decreasing in z.
func (e *Engine) severity(z float64) float64 {
	s := (z - e.config.AnomalyThreshold) * e.config.SeverityScale
	return math.Max(0, math.Min(10, s))
}

// SeverityBucket classifies a severity score
func SeverityBucket(severity float64) string {
	switch {
	case severity >= 8:
		return models.SeverityCritical
	case severity >= 6:
		return models.SeverityHigh
	case severity >= 4:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// BuildAnomalyReport pools anomalies from every metric, sorted by severity
// descending with ties broken by timestamp then metric.
func BuildAnomalyReport(anomalies []models.AnomalyRecord) *models.AnomalyReport {
	all := make([]models.AnomalyRecord, len(anomalies))
	copy(all, anomalies)
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Severity != all[j].Severity {
			return all[i].Severity > all[j].Severity
		}
		if !all[i].Timestamp.Equal(all[j].Timestamp) {
			return all[i].Timestamp.Before(all[j].Timestamp)
		}
		return all[i].Metric < all[j].Metric
	})

	report := &models.AnomalyReport{
		Total:      len(all),
		All:        all,
		BySeverity: make(map[string][]models.AnomalyRecord, len(models.SeverityBuckets)),
		ByMetric:   make(map[string][]models.AnomalyRecord),
	}
	for _, bucket := range models.SeverityBuckets {
		report.BySeverity[bucket] = []models.AnomalyRecord{}
	}
	for _, a := range all {
		report.BySeverity[a.Bucket] = append(report.BySeverity[a.Bucket], a)
		report.ByMetric[a.Metric] = append(report.ByMetric[a.Metric], a)
	}
	return report
}
