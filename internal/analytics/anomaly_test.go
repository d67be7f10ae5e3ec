package analytics

import (
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tsforecast/pkg/models"
)

func TestDetectAnomaliesFlatSeries(t *testing.T) {
	engine := NewEngine(nil, logrus.New())

	anomalies := engine.DetectAnomalies(createSeries("revenue", constantValues(60, 100)))
	assert.NotNil(t, anomalies)
	assert.Empty(t, anomalies)
}

func TestDetectAnomaliesLinearSeries(t *testing.T) {
	engine := NewEngine(nil, logrus.New())

	anomalies := engine.DetectAnomalies(createSeries("revenue", linearValues(90, 100, 5)))
	assert.Empty(t, anomalies)
}

func TestDetectAnomaliesSpike(t *testing.T) {
	engine := NewEngine(nil, logrus.New())

	values := constantValues(40, 100)
	values[30] = 500
	anomalies := engine.DetectAnomalies(createSeries("revenue", values))

	require.Len(t, anomalies, 1)
	a := anomalies[0]
	assert.Equal(t, 30, a.Index)
	assert.Equal(t, "revenue", a.Metric)
	assert.Equal(t, baseTime.AddDate(0, 0, 30), a.Timestamp)
	assert.Equal(t, 500.0, a.ObservedValue)
	assert.Equal(t, 100.0, a.ExpectedValue)
	assert.Equal(t, 10.0, a.Severity)
	assert.Equal(t, models.SeverityCritical, a.Bucket)
	assert.Greater(t, a.ZScore, engine.Config().AnomalyThreshold)
}

func TestDetectAnomaliesSpikePosition(t *testing.T) {
	engine := NewEngine(nil, logrus.New())

	for _, idx := range []int{0, 1, 2, 3, 30, 59} {
		t.Run(fmt.Sprintf("index %d", idx), func(t *testing.T) {
			values := constantValues(60, 100)
			values[idx] = 500

			anomalies := engine.DetectAnomalies(createSeries("revenue", values))
			require.Len(t, anomalies, 1)
			assert.Equal(t, idx, anomalies[0].Index)
			assert.Equal(t, 500.0, anomalies[0].ObservedValue)
			assert.Equal(t, 100.0, anomalies[0].ExpectedValue)
			assert.Equal(t, models.SeverityCritical, anomalies[0].Bucket)
		})
	}
}

func TestDetectAnomaliesLeadingDip(t *testing.T) {
	engine := NewEngine(nil, logrus.New())

	values := constantValues(20, 100)
	values[1] = 0
	anomalies := engine.DetectAnomalies(createSeries("revenue", values))
	require.Len(t, anomalies, 1)
	assert.Equal(t, 1, anomalies[0].Index)
	assert.Equal(t, baseTime.AddDate(0, 0, 1), anomalies[0].Timestamp)
}

func TestDetectAnomaliesTooFewPoints(t *testing.T) {
	engine := NewEngine(nil, logrus.New())

	assert.Empty(t, engine.DetectAnomalies(createSeries("revenue", []float64{1, 1000})))
	assert.Empty(t, engine.DetectAnomalies(createSeries("revenue", []float64{1000})))
	assert.Empty(t, engine.DetectAnomalies(createSeries("revenue", nil)))
}

func TestSeverityIsMonotonic(t *testing.T) {
	engine := NewEngine(nil, logrus.New())

	prev := -1.0
	for z := 0.0; z < 12; z += 0.25 {
		s := engine.severity(z)
		assert.GreaterOrEqual(t, s, prev)
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 10.0)
		prev = s
	}
}

func TestSeverityBucket(t *testing.T) {
	tests := []struct {
		severity float64
		expected string
	}{
		{0, models.SeverityLow},
		{3.99, models.SeverityLow},
		{4, models.SeverityMedium},
		{5.99, models.SeverityMedium},
		{6, models.SeverityHigh},
		{7.99, models.SeverityHigh},
		{8, models.SeverityCritical},
		{10, models.SeverityCritical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, SeverityBucket(tt.severity), "severity %v", tt.severity)
	}
}

func TestBuildAnomalyReport(t *testing.T) {
	day := func(d int) time.Time { return baseTime.AddDate(0, 0, d) }
	anomalies := []models.AnomalyRecord{
		{Metric: "revenue", Timestamp: day(5), Severity: 2, Bucket: models.SeverityLow},
		{Metric: "orders", Timestamp: day(3), Severity: 9, Bucket: models.SeverityCritical},
		{Metric: "revenue", Timestamp: day(3), Severity: 9, Bucket: models.SeverityCritical},
		{Metric: "customers", Timestamp: day(1), Severity: 9, Bucket: models.SeverityCritical},
		{Metric: "orders", Timestamp: day(8), Severity: 6.5, Bucket: models.SeverityHigh},
	}

	report := BuildAnomalyReport(anomalies)

	assert.Equal(t, 5, report.Total)
	require.Len(t, report.All, 5)
	assert.Equal(t, "customers", report.All[0].Metric)
	assert.Equal(t, "orders", report.All[1].Metric)
	assert.Equal(t, "revenue", report.All[2].Metric)
	assert.Equal(t, 6.5, report.All[3].Severity)
	assert.Equal(t, 2.0, report.All[4].Severity)

	assert.Len(t, report.BySeverity[models.SeverityCritical], 3)
	assert.Len(t, report.BySeverity[models.SeverityHigh], 1)
	assert.Empty(t, report.BySeverity[models.SeverityMedium])
	assert.NotNil(t, report.BySeverity[models.SeverityMedium])
	assert.Len(t, report.BySeverity[models.SeverityLow], 1)

	assert.Len(t, report.ByMetric["orders"], 2)
	assert.Len(t, report.ByMetric["revenue"], 2)
	assert.Len(t, report.ByMetric["customers"], 1)

	// input order is left untouched
	assert.Equal(t, "revenue", anomalies[0].Metric)
}

func TestBuildAnomalyReportEmpty(t *testing.T) {
	report := BuildAnomalyReport(nil)

	assert.Equal(t, 0, report.Total)
	assert.Empty(t, report.All)
	assert.Len(t, report.BySeverity, len(models.SeverityBuckets))
	assert.Empty(t, report.ByMetric)
}
