package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Observation is a single timestamped reading of a business quantity.
// Category carries the source label used to route the reading to a metric.
type Observation struct {
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Value     float64   `json:"value" yaml:"value"`
	Category  string    `json:"category" yaml:"category"`
}

// MetricSeries groups the observations matched to one metric, in ascending
// timestamp order. Duplicate timestamps are kept.
type MetricSeries struct {
	MetricName   string        `json:"metric_name" yaml:"metric_name"`
	Observations []Observation `json:"observations" yaml:"observations"`
}

// Len returns the number of observations
func (ms *MetricSeries) Len() int {
	return len(ms.Observations)
}

// Values returns the observation values in series order
func (ms *MetricSeries) Values() []float64 {
	values := make([]float64, len(ms.Observations))
	for i, obs := range ms.Observations {
		values[i] = obs.Value
	}
	return values
}

// Timestamps returns the observation timestamps in series order
func (ms *MetricSeries) Timestamps() []time.Time {
	timestamps := make([]time.Time, len(ms.Observations))
	for i, obs := range ms.Observations {
		timestamps[i] = obs.Timestamp
	}
	return timestamps
}

// Slice returns a series over observations [from, to)
func (ms *MetricSeries) Slice(from, to int) *MetricSeries {
	return &MetricSeries{
		MetricName:   ms.MetricName,
		Observations: ms.Observations[from:to],
	}
}

// observationJSON accepts ISO-8601 timestamps in the forms upstream
// exporters produce, including bare dates.
type observationJSON struct {
	Timestamp string  `json:"timestamp"`
	Value     float64 `json:"value"`
	Category  string  `json:"category"`
}

// UnmarshalJSON implements json.Unmarshaler
func (o *Observation) UnmarshalJSON(data []byte) error {
	var raw observationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ts, err := ParseTimestamp(raw.Timestamp)
	if err != nil {
		return err
	}
	o.Timestamp = ts
	o.Value = raw.Value
	o.Category = raw.Category
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 timestamp or date. Values without a
// zone are interpreted as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q: expected ISO-8601", s)
}
