package analytics

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/models"
)

// BuildSeries routes observations to the requested metrics by case-insensitive
// substring match of the category against the metric name. Each series is
// sorted by timestamp with duplicates kept in input order. Metrics with no
// matching observations are omitted. Non-finite values are rejected.
func BuildSeries(observations []models.Observation, metrics []string) ([]models.MetricSeries, error) {
	if err := validateObservations(observations); err != nil {
		return nil, err
	}

	lowered := make([]string, len(observations))
	for i, obs := range observations {
		lowered[i] = strings.ToLower(obs.Category)
	}

	series := make([]models.MetricSeries, 0, len(metrics))
	seen := make(map[string]bool, len(metrics))
	for _, metric := range metrics {
		name := strings.TrimSpace(metric)
		key := strings.ToLower(name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		matched := make([]models.Observation, 0)
		for i, obs := range observations {
			if strings.Contains(lowered[i], key) {
				matched = append(matched, obs)
			}
		}
		if len(matched) == 0 {
			continue
		}

		sort.SliceStable(matched, func(a, b int) bool {
			return matched[a].Timestamp.Before(matched[b].Timestamp)
		})
		series = append(series, models.MetricSeries{
			MetricName:   name,
			Observations: matched,
		})
	}

	return series, nil
}

// FilterRange keeps observations inside the inclusive range. A nil range
// keeps everything.
func FilterRange(observations []models.Observation, tr *models.TimeRange) []models.Observation {
	if tr == nil {
		return observations
	}
	filtered := make([]models.Observation, 0, len(observations))
	for _, obs := range observations {
		if tr.Contains(obs.Timestamp) {
			filtered = append(filtered, obs)
		}
	}
	return filtered
}

func validateObservations(observations []models.Observation) error {
	for i, obs := range observations {
		if math.IsNaN(obs.Value) || math.IsInf(obs.Value, 0) {
			return errors.NewFieldValidationError(
				fmt.Sprintf("observations[%d].value", i), "finite", obs.Value, "finite number",
			)
		}
		if obs.Timestamp.IsZero() {
			return errors.NewFieldValidationError(
				fmt.Sprintf("observations[%d].timestamp", i), "required", nil, "ISO-8601 timestamp",
			)
		}
	}
	return nil
}
