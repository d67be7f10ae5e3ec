package codec

import (
	"strings"

	"github.com/inferloop/tsforecast/pkg/interfaces"
	"github.com/inferloop/tsforecast/pkg/models"
)

// MatchesMetric reports whether a category routes to any of the metrics,
// using the same case-insensitive substring rule as series building.
func MatchesMetric(category string, metrics []string) bool {
	if len(metrics) == 0 {
		return true
	}
	lowered := strings.ToLower(category)
	for _, metric := range metrics {
		key := strings.ToLower(strings.TrimSpace(metric))
		if key != "" && strings.Contains(lowered, key) {
			return true
		}
	}
	return false
}

// ApplyQuery filters decoded observations for backends that cannot push
// the query down. A zero time range matches everything.
func ApplyQuery(observations []models.Observation, query *interfaces.ObservationQuery) []models.Observation {
	if query == nil {
		return observations
	}

	filtered := make([]models.Observation, 0, len(observations))
	for _, obs := range observations {
		if !MatchesMetric(obs.Category, query.Metrics) {
			continue
		}
		if !query.TimeRange.Start.IsZero() || !query.TimeRange.End.IsZero() {
			if !query.TimeRange.Start.IsZero() && obs.Timestamp.Before(query.TimeRange.Start) {
				continue
			}
			if !query.TimeRange.End.IsZero() && obs.Timestamp.After(query.TimeRange.End) {
				continue
			}
		}
		filtered = append(filtered, obs)
		if query.Limit > 0 && len(filtered) >= query.Limit {
			break
		}
	}
	return filtered
}
