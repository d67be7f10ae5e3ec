package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/internal/analytics"
	"github.com/inferloop/tsforecast/internal/api"
	"github.com/inferloop/tsforecast/internal/observability/health"
	"github.com/inferloop/tsforecast/internal/observability/metrics"
	"github.com/inferloop/tsforecast/internal/storage"
	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/interfaces"
)

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	logger     *logrus.Logger
	config     *Config
	metrics    *metrics.PrometheusMetrics
	source     interfaces.ObservationSource
	sink       interfaces.ResultSink
	handlers   *api.Handlers
}

// NewServer wires storage, the analytics engine, metrics and the API router.
// Backends are created here and connected by Start.
func NewServer(config *Config, logger *logrus.Logger, version api.VersionInfo) (*Server, error) {
	if config == nil {
		config = NewDefaultConfig()
	}

	if logger == nil {
		logger = logrus.New()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	pm, err := metrics.NewPrometheusMetrics(config.Metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	factory := storage.NewFactory(logger)
	source, err := factory.CreateSource(config.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to create observation source: %w", err)
	}
	sink, err := factory.CreateSink(config.Sink)
	if err != nil {
		return nil, fmt.Errorf("failed to create result sink: %w", err)
	}

	service, err := api.NewAnalysisService(&api.ServiceConfig{
		Engine:  analytics.NewEngine(config.Analytics, logger),
		Source:  source,
		Sink:    sink,
		Metrics: pm,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create analysis service: %w", err)
	}

	handlers, err := api.NewHandlers(&api.HandlerConfig{
		Service: service,
		Health:  health.NewHealthMonitor(&health.HealthConfig{Timeout: config.Health.Timeout}, logger),
		Metrics: pm,
		Version: version,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create API handlers: %w", err)
	}

	router := api.NewRouter(handlers, &api.MiddlewareConfig{
		MaxRequestSize: config.Server.MaxRequestSize,
		EnableCORS:     config.Server.EnableCORS,
		Metrics:        pm,
		Logger:         logger,
	})

	server := &Server{
		router:   router,
		logger:   logger,
		config:   config,
		metrics:  pm,
		source:   source,
		sink:     sink,
		handlers: handlers,
	}

	server.httpServer = &http.Server{
		Addr:         config.GetAddress(),
		Handler:      withRequestTimeout(router, config.Server.RequestTimeout),
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  config.Server.IdleTimeout,
	}

	return server, nil
}

// Start connects the storage backends, starts the metrics server and
// serves HTTP until Stop is called. A source that cannot be reached is
// fatal; an unreachable sink only disables result publishing.
func (s *Server) Start(ctx context.Context) error {
	if err := s.connectStorage(ctx); err != nil {
		return err
	}

	if s.config.Metrics != nil && s.config.Metrics.Enabled {
		if err := s.metrics.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"address": s.config.GetAddress(),
		"source":  backendName(s.source),
		"sink":    backendName(s.sink),
	}).Info("Starting HTTP server")

	var err error
	if s.config.Server.TLSCertFile != "" && s.config.Server.TLSKeyFile != "" {
		err = s.httpServer.ListenAndServeTLS(s.config.Server.TLSCertFile, s.config.Server.TLSKeyFile)
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server and releases the backends
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.metrics.Stop(shutdownCtx); err != nil {
		s.logger.WithError(err).Error("Error shutting down metrics server")
	}

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.WithError(err).Error("Error shutting down HTTP server")
		return err
	}

	if s.source != nil {
		if err := s.source.Close(); err != nil {
			s.logger.WithError(err).Warn("Error closing observation source")
		}
	}
	if s.sink != nil {
		if err := s.sink.Close(); err != nil {
			s.logger.WithError(err).Warn("Error closing result sink")
		}
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) connectStorage(ctx context.Context) error {
	if s.source != nil {
		connectCtx, cancel := context.WithTimeout(ctx, storageTimeout(s.config.Source))
		err := s.source.Connect(connectCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect observation source: %w", err)
		}
	}

	if s.sink != nil {
		connectCtx, cancel := context.WithTimeout(ctx, storageTimeout(s.config.Sink))
		err := s.sink.Connect(connectCtx)
		cancel()
		if err != nil {
			s.logger.WithError(err).WithField("sink", s.sink.Name()).
				Warn("Result sink unavailable, results will not be published")
		}
	}

	return nil
}

// Handler returns the HTTP handler including the request timeout
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// GetRouter returns the HTTP router
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// GetConfig returns the server configuration
func (s *Server) GetConfig() *Config {
	return s.config
}

// withRequestTimeout bounds every request context. Analyses observe the
// deadline between metrics.
func withRequestTimeout(next http.Handler, timeout time.Duration) http.Handler {
	if timeout <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func storageTimeout(config interfaces.StorageConfig) time.Duration {
	if config.Timeout > 0 {
		return config.Timeout
	}
	return constants.DefaultStorageTimeout
}

func backendName(s interfaces.Storage) string {
	if s == nil {
		return "none"
	}
	return s.Name()
}
