package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/inferloop/tsforecast/internal/analytics"
	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/models"
)

type WorkerConfig struct {
	WorkerID     string        `mapstructure:"worker_id"`
	Concurrency  int           `mapstructure:"concurrency"`
	QueueSize    int           `mapstructure:"queue_size"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
	JobTimeout   time.Duration `mapstructure:"job_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	RunOnce      bool          `mapstructure:"run_once"`
	Schedules    []Schedule    `mapstructure:"schedules"`
}

// Schedule is a recurring analysis. Each run covers the lookback window
// ending at the time the run is enqueued.
type Schedule struct {
	Name            string        `mapstructure:"name"`
	Interval        time.Duration `mapstructure:"interval"`
	Action          string        `mapstructure:"action"`
	Metrics         []string      `mapstructure:"metrics"`
	HorizonDays     int           `mapstructure:"horizon_days"`
	ConfidenceLevel float64       `mapstructure:"confidence_level"`
	TrainTestSplit  float64       `mapstructure:"train_test_split"`
	LookbackDays    int           `mapstructure:"lookback_days"`
}

func NewDefaultWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		WorkerID:     generateWorkerID(),
		Concurrency:  2,
		QueueSize:    16,
		TickInterval: 10 * time.Second,
		JobTimeout:   constants.DefaultRequestTimeout,
		MaxRetries:   3,
		RetryBackoff: 2 * time.Second,
	}
}

// LoadWorkerConfig reads the worker section and schedules from the same
// file the server configuration is loaded from.
func LoadWorkerConfig(path string) (*WorkerConfig, error) {
	config := NewDefaultWorkerConfig()

	v := viper.New()
	v.SetDefault("worker.worker_id", config.WorkerID)
	v.SetDefault("worker.concurrency", config.Concurrency)
	v.SetDefault("worker.queue_size", config.QueueSize)
	v.SetDefault("worker.tick_interval", config.TickInterval)
	v.SetDefault("worker.job_timeout", config.JobTimeout)
	v.SetDefault("worker.max_retries", config.MaxRetries)
	v.SetDefault("worker.retry_backoff", config.RetryBackoff)
	v.SetDefault("worker.run_once", config.RunOnce)

	v.SetEnvPrefix(constants.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.UnmarshalKey("worker", config); err != nil {
		return nil, fmt.Errorf("error unmarshaling worker config: %w", err)
	}
	if err := v.UnmarshalKey("schedules", &config.Schedules); err != nil {
		return nil, fmt.Errorf("error unmarshaling schedules: %w", err)
	}

	return config, nil
}

func (c *WorkerConfig) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue size must be positive")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if len(c.Schedules) == 0 {
		return fmt.Errorf("no schedules configured")
	}

	seen := make(map[string]bool)
	for i := range c.Schedules {
		s := &c.Schedules[i]
		if s.Name == "" {
			return fmt.Errorf("schedule %d has no name", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate schedule name: %s", s.Name)
		}
		seen[s.Name] = true

		if s.Interval < time.Minute {
			return fmt.Errorf("schedule %s: interval must be at least 1m", s.Name)
		}
		if s.LookbackDays < 0 {
			return fmt.Errorf("schedule %s: lookback_days cannot be negative", s.Name)
		}

		req := s.Request(time.Now())
		analytics.ApplyDefaults(req)
		if err := analytics.ValidateRequest(req); err != nil {
			return fmt.Errorf("schedule %s: %w", s.Name, err)
		}
	}
	return nil
}

// Request builds the analysis request for a run at now. Without a lookback
// the source's default window applies.
func (s *Schedule) Request(now time.Time) *models.AnalysisRequest {
	req := &models.AnalysisRequest{
		Action:          s.Action,
		Metrics:         append([]string(nil), s.Metrics...),
		HorizonDays:     s.HorizonDays,
		ConfidenceLevel: s.ConfidenceLevel,
		Validation: models.ValidationOptions{
			TrainTestSplit: s.TrainTestSplit,
		},
	}
	if s.LookbackDays > 0 {
		end := now.UTC()
		req.StartDate = end.AddDate(0, 0, -s.LookbackDays).Format("2006-01-02")
		req.EndDate = end.Format("2006-01-02")
	}
	return req
}
