package influxdb

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/interfaces"
	"github.com/inferloop/tsforecast/pkg/models"
)

// InfluxDBConfig contains configuration for InfluxDB storage
type InfluxDBConfig struct {
	URL          string        `json:"url" yaml:"url"`
	Token        string        `json:"token" yaml:"token"`
	Organization string        `json:"organization" yaml:"organization"`
	Bucket       string        `json:"bucket" yaml:"bucket"`
	Measurement  string        `json:"measurement" yaml:"measurement"`
	Field        string        `json:"field" yaml:"field"`
	CategoryTag  string        `json:"category_tag" yaml:"category_tag"`
	Timeout      time.Duration `json:"timeout" yaml:"timeout"`
	UseGZip      bool          `json:"use_gzip" yaml:"use_gzip"`
}

// InfluxDBStorage reads business observations from an InfluxDB 2.x bucket.
// Each point of the measurement is one observation: the category comes from
// a tag and the value from a single field.
type InfluxDBStorage struct {
	config    *InfluxDBConfig
	client    influxdb2.Client
	queryAPI  api.QueryAPI
	logger    *logrus.Logger
	mu        sync.RWMutex
	connected bool
}

// NewInfluxDBStorage creates a new InfluxDB storage instance
func NewInfluxDBStorage(config *InfluxDBConfig, logger *logrus.Logger) (*InfluxDBStorage, error) {
	if config == nil {
		return nil, errors.NewConfigurationError(errors.CodeInvalidConfig, "InfluxDB config cannot be nil")
	}

	if config.URL == "" || config.Bucket == "" {
		return nil, errors.NewConfigurationError(errors.CodeInvalidConfig, "InfluxDB URL and bucket are required")
	}

	if logger == nil {
		logger = logrus.New()
	}

	// Set defaults
	if config.Timeout == 0 {
		config.Timeout = constants.DefaultStorageTimeout
	}
	if config.Measurement == "" {
		config.Measurement = "business_metrics"
	}
	if config.Field == "" {
		config.Field = "value"
	}
	if config.CategoryTag == "" {
		config.CategoryTag = "category"
	}

	return &InfluxDBStorage{
		config: config,
		logger: logger,
	}, nil
}

// Name returns the backend type
func (s *InfluxDBStorage) Name() string {
	return constants.StorageTypeInfluxDB
}

// Connect establishes connection to InfluxDB
func (s *InfluxDBStorage) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}

	options := influxdb2.DefaultOptions()
	options.SetUseGZip(s.config.UseGZip)
	options.SetHTTPRequestTimeout(uint(s.config.Timeout / time.Second))

	client := influxdb2.NewClientWithOptions(s.config.URL, s.config.Token, options)

	ok, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return errors.WrapStorageError(err, "connect", s.Name()).WithTarget(s.config.URL)
	}
	if !ok {
		client.Close()
		return errors.WrapStorageError(fmt.Errorf("ping returned not ready"), "connect", s.Name()).WithTarget(s.config.URL)
	}

	s.client = client
	s.queryAPI = client.QueryAPI(s.config.Organization)
	s.connected = true

	s.logger.WithFields(logrus.Fields{
		"url":          s.config.URL,
		"organization": s.config.Organization,
		"bucket":       s.config.Bucket,
		"measurement":  s.config.Measurement,
	}).Info("Connected to InfluxDB")

	return nil
}

// Close closes the connection to InfluxDB
func (s *InfluxDBStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil
	}

	s.client.Close()
	s.client = nil
	s.queryAPI = nil
	s.connected = false
	s.logger.Info("Disconnected from InfluxDB")

	return nil
}

// Ping checks server readiness
func (s *InfluxDBStorage) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return errors.NewStorageError("NOT_CONNECTED", "Not connected to InfluxDB")
	}

	ok, err := s.client.Ping(ctx)
	if err != nil {
		return errors.WrapStorageError(err, "connect", s.Name()).WithTarget(s.config.URL)
	}
	if !ok {
		return errors.WrapStorageError(fmt.Errorf("ping returned not ready"), "connect", s.Name()).WithTarget(s.config.URL)
	}
	return nil
}

// Fetch runs a Flux query for the requested metrics and time range
func (s *InfluxDBStorage) Fetch(ctx context.Context, query *interfaces.ObservationQuery) ([]models.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return nil, errors.NewStorageError("NOT_CONNECTED", "Not connected to InfluxDB")
	}

	if query == nil {
		query = &interfaces.ObservationQuery{}
	}

	start := time.Now()
	fluxQuery := s.buildFluxQuery(query)

	s.logger.WithFields(logrus.Fields{
		"query": fluxQuery,
	}).Debug("Executing InfluxDB query")

	result, err := s.queryAPI.Query(ctx, fluxQuery)
	if err != nil {
		return nil, errors.WrapStorageError(err, "fetch", s.Name()).
			WithTarget(s.config.Bucket).
			WithDuration(time.Since(start))
	}
	defer result.Close()

	observations := make([]models.Observation, 0)
	for result.Next() {
		record := result.Record()

		value, ok := numericValue(record.Value())
		if !ok {
			continue
		}

		category, _ := record.ValueByKey(s.config.CategoryTag).(string)
		observations = append(observations, models.Observation{
			Timestamp: record.Time().UTC(),
			Value:     value,
			Category:  category,
		})
	}

	if result.Err() != nil {
		return nil, errors.WrapStorageError(result.Err(), "fetch", s.Name()).
			WithTarget(s.config.Bucket).
			WithDuration(time.Since(start))
	}

	s.logger.WithFields(logrus.Fields{
		"observations": len(observations),
		"duration":     time.Since(start),
	}).Debug("Fetched observations from InfluxDB")

	return observations, nil
}

// buildFluxQuery builds a Flux query from an ObservationQuery
func (s *InfluxDBStorage) buildFluxQuery(query *interfaces.ObservationQuery) string {
	fluxQuery := fmt.Sprintf(`from(bucket: "%s")`, s.config.Bucket)

	// Add time range
	switch {
	case !query.TimeRange.Start.IsZero() && !query.TimeRange.End.IsZero():
		// stop is exclusive in Flux
		fluxQuery += fmt.Sprintf(`
	|> range(start: %s, stop: %s)`,
			query.TimeRange.Start.UTC().Format(time.RFC3339),
			query.TimeRange.End.Add(time.Second).UTC().Format(time.RFC3339))
	case !query.TimeRange.Start.IsZero():
		fluxQuery += fmt.Sprintf(`
	|> range(start: %s)`,
			query.TimeRange.Start.UTC().Format(time.RFC3339))
	default:
		fluxQuery += fmt.Sprintf(`
	|> range(start: -%dd)`, constants.DefaultLookbackDays)
	}

	fluxQuery += fmt.Sprintf(`
	|> filter(fn: (r) => r._measurement == "%s" and r._field == "%s")`,
		s.config.Measurement, s.config.Field)

	if pattern := categoryPattern(query.Metrics); pattern != "" {
		fluxQuery += fmt.Sprintf(`
	|> filter(fn: (r) => r.%s =~ /%s/)`, s.config.CategoryTag, pattern)
	}

	fluxQuery += `
	|> group()
	|> sort(columns: ["_time"])`

	if query.Limit > 0 {
		fluxQuery += fmt.Sprintf(`
	|> limit(n: %d)`, query.Limit)
	}

	return fluxQuery
}

// categoryPattern matches any category containing one of the metrics,
// ignoring case.
func categoryPattern(metrics []string) string {
	parts := make([]string, 0, len(metrics))
	for _, metric := range metrics {
		metric = strings.TrimSpace(metric)
		if metric == "" {
			continue
		}
		quoted := regexp.QuoteMeta(strings.ToLower(metric))
		parts = append(parts, strings.ReplaceAll(quoted, "/", `\/`))
	}
	if len(parts) == 0 {
		return ""
	}
	return "(?i)" + strings.Join(parts, "|")
}

func numericValue(v interface{}) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case int64:
		return float64(value), true
	case uint64:
		return float64(value), true
	default:
		return 0, false
	}
}
