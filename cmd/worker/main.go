package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/internal/analytics"
	"github.com/inferloop/tsforecast/internal/api"
	"github.com/inferloop/tsforecast/internal/observability/metrics"
	"github.com/inferloop/tsforecast/internal/server"
	"github.com/inferloop/tsforecast/internal/storage"
)

type workerFlags struct {
	ConfigFile  string
	WorkerID    string
	Concurrency int
	MetricsPort int
	RunOnce     bool
	LogLevel    string
	LogFormat   string
}

var logger *logrus.Logger

func main() {
	flags := parseFlags()

	serverConfig, err := server.LoadConfig(flags.ConfigFile)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	config, err := LoadWorkerConfig(flags.ConfigFile)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load worker configuration")
	}
	applyFlags(flags, config, serverConfig)

	logger = setupLogger(serverConfig.Logging.Level, serverConfig.Logging.Format)

	if err := config.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid worker configuration")
	}
	if err := serverConfig.Analytics.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid analytics configuration")
	}

	logger.WithFields(logrus.Fields{
		"workerID":    config.WorkerID,
		"concurrency": config.Concurrency,
		"schedules":   len(config.Schedules),
	}).Info("Starting Time Series Forecasting Worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	service, cleanup, err := newAnalyzer(ctx, serverConfig)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize analysis service")
	}
	defer cleanup()

	scheduler := NewScheduler(config, logger)
	processor := NewJobProcessor(config, service, logger)
	processor.SetScheduler(scheduler)

	go scheduler.Start(ctx)

	done := make(chan struct{})
	go func() {
		processor.Start(ctx)
		close(done)
	}()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logger.WithFields(logrus.Fields{
					"activeJobs":    processor.ActiveJobs(),
					"completedJobs": processor.CompletedJobs(),
					"failedJobs":    processor.FailedJobs(),
					"retriedJobs":   processor.RetriedJobs(),
				}).Debug("Worker health check")
			}
		}
	}()

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received")
	case <-done:
		logger.Info("All scheduled jobs processed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverConfig.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := gracefulShutdown(shutdownCtx, scheduler, done); err != nil {
		logger.WithError(err).Error("Worker shutdown failed")
		cancel()
	}

	logger.WithFields(logrus.Fields{
		"completedJobs": processor.CompletedJobs(),
		"failedJobs":    processor.FailedJobs(),
	}).Info("Worker stopped")

	if config.RunOnce && processor.FailedJobs() > 0 {
		cleanup()
		os.Exit(1)
	}
}

// newAnalyzer connects the configured source and sink and builds the
// analysis service on top of them
func newAnalyzer(ctx context.Context, config *server.Config) (*api.AnalysisService, func(), error) {
	factory := storage.NewFactory(logger)
	var closers []func() error
	cleanup := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.WithError(err).Warn("Failed to close storage")
			}
		}
		closers = nil
	}

	source, err := factory.CreateSource(config.Source)
	if err != nil {
		return nil, cleanup, fmt.Errorf("observation source: %w", err)
	}
	if source != nil {
		if err := source.Connect(ctx); err != nil {
			return nil, cleanup, fmt.Errorf("failed to connect observation source: %w", err)
		}
		closers = append(closers, source.Close)
	}

	sink, err := factory.CreateSink(config.Sink)
	if err != nil {
		return nil, cleanup, fmt.Errorf("result sink: %w", err)
	}
	if sink != nil {
		if err := sink.Connect(ctx); err != nil {
			logger.WithError(err).Warn("Result sink unavailable, results will not be published")
			sink = nil
		} else {
			closers = append(closers, sink.Close)
		}
	}

	var pm *metrics.PrometheusMetrics
	if config.Metrics != nil && config.Metrics.Enabled {
		m, err := metrics.NewPrometheusMetrics(config.Metrics, logger)
		if err != nil {
			return nil, cleanup, fmt.Errorf("failed to create metrics: %w", err)
		}
		if err := m.Start(ctx); err != nil {
			return nil, cleanup, fmt.Errorf("failed to start metrics server: %w", err)
		}
		closers = append(closers, func() error { return m.Stop(context.Background()) })
		pm = m
	}

	service, err := api.NewAnalysisService(&api.ServiceConfig{
		Engine:  analytics.NewEngine(config.Analytics, logger),
		Source:  source,
		Sink:    sink,
		Metrics: pm,
		Logger:  logger,
	})
	if err != nil {
		return nil, cleanup, err
	}
	return service, cleanup, nil
}

func parseFlags() *workerFlags {
	flags := &workerFlags{}

	flag.StringVar(&flags.ConfigFile, "config", "", "Configuration file path (server settings plus worker and schedules)")
	flag.StringVar(&flags.WorkerID, "worker-id", "", "Unique worker ID")
	flag.IntVar(&flags.Concurrency, "concurrency", 0, "Number of concurrent jobs")
	flag.IntVar(&flags.MetricsPort, "metrics-port", 0, "Metrics server port")
	flag.BoolVar(&flags.RunOnce, "run-once", false, "Run every schedule once and exit")
	flag.StringVar(&flags.LogLevel, "log-level", "", "Log level")
	flag.StringVar(&flags.LogFormat, "log-format", "", "Log format")

	flag.Parse()

	return flags
}

// applyFlags overrides configuration with flags that were given non-zero
// values
func applyFlags(flags *workerFlags, config *WorkerConfig, serverConfig *server.Config) {
	if flags.WorkerID != "" {
		config.WorkerID = flags.WorkerID
	}
	if flags.Concurrency > 0 {
		config.Concurrency = flags.Concurrency
	}
	if flags.RunOnce {
		config.RunOnce = true
	}
	if flags.MetricsPort > 0 && serverConfig.Metrics != nil {
		serverConfig.Metrics.Port = flags.MetricsPort
	}
	if flags.LogLevel != "" {
		serverConfig.Logging.Level = flags.LogLevel
	}
	if flags.LogFormat != "" {
		serverConfig.Logging.Format = flags.LogFormat
	}
}

func setupLogger(level, format string) *logrus.Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

func generateWorkerID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

// gracefulShutdown stops scheduling and waits for in-flight jobs to drain
func gracefulShutdown(ctx context.Context, scheduler *Scheduler, done <-chan struct{}) error {
	logger.Info("Starting graceful shutdown")

	scheduler.Stop()

	select {
	case <-done:
		logger.Info("All jobs completed")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout exceeded")
	}
}
