package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Time
	}{
		{"2024-01-15", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"2024-01-15T10:30:00", time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)},
		{"2024-01-15 10:30:00", time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)},
		{"2024-01-15T10:30:00Z", time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)},
		{"2024-01-15T12:30:00+02:00", time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)},
		{"2024-01-15T10:30:00.125Z", time.Date(2024, 1, 15, 10, 30, 0, 125000000, time.UTC)},
		{"  2024-01-15  ", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			ts, err := ParseTimestamp(tt.input)
			require.NoError(t, err)
			assert.True(t, tt.expected.Equal(ts), "got %s", ts)
			assert.Equal(t, time.UTC, ts.Location())
		})
	}

	for _, bad := range []string{"", "15/01/2024", "yesterday", "2024-13-01"} {
		_, err := ParseTimestamp(bad)
		assert.Error(t, err, bad)
	}
}

func TestObservationUnmarshalJSON(t *testing.T) {
	var observations []Observation
	err := json.Unmarshal([]byte(`[
		{"timestamp": "2024-01-01", "value": 1250.5, "category": "Revenue"},
		{"timestamp": "2024-01-02T00:00:00Z", "value": 98, "category": "orders"}
	]`), &observations)
	require.NoError(t, err)
	require.Len(t, observations, 2)

	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), observations[0].Timestamp)
	assert.Equal(t, 1250.5, observations[0].Value)
	assert.Equal(t, "Revenue", observations[0].Category)
	assert.Equal(t, 98.0, observations[1].Value)

	var bad Observation
	assert.Error(t, json.Unmarshal([]byte(`{"timestamp": "not a date", "value": 1}`), &bad))
}

func TestMetricSeriesAccessors(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	series := &MetricSeries{
		MetricName: "revenue",
		Observations: []Observation{
			{Timestamp: base, Value: 1},
			{Timestamp: base.AddDate(0, 0, 1), Value: 2},
			{Timestamp: base.AddDate(0, 0, 2), Value: 3},
		},
	}

	assert.Equal(t, 3, series.Len())
	assert.Equal(t, []float64{1, 2, 3}, series.Values())
	assert.Equal(t, base.AddDate(0, 0, 2), series.Timestamps()[2])

	tail := series.Slice(1, 3)
	assert.Equal(t, "revenue", tail.MetricName)
	assert.Equal(t, []float64{2, 3}, tail.Values())
}

func TestModelFlagsDefaultToEnabled(t *testing.T) {
	var flags ModelFlags
	assert.True(t, flags.ArimaEnabled())
	assert.True(t, flags.EnsembleEnabled())

	require.NoError(t, json.Unmarshal([]byte(`{"arima": false, "anomalyDetection": true}`), &flags))
	assert.False(t, flags.ArimaEnabled())
	assert.True(t, flags.ExponentialEnabled())
	assert.True(t, flags.AnomalyDetectionEnabled())
}
