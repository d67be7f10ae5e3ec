package api

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/internal/observability/health"
	"github.com/inferloop/tsforecast/internal/observability/metrics"
	"github.com/inferloop/tsforecast/internal/storage/codec"
	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/models"
)

// VersionInfo is served by the version endpoint
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// HandlerConfig contains configuration for handlers
type HandlerConfig struct {
	Service *AnalysisService
	Health  *health.HealthMonitor
	Metrics *metrics.PrometheusMetrics
	Version VersionInfo
	Logger  *logrus.Logger
}

// Handlers serves the analytics, result, health and version endpoints
type Handlers struct {
	service   *AnalysisService
	health    *health.HealthMonitor
	metrics   *metrics.PrometheusMetrics
	version   VersionInfo
	logger    *logrus.Logger
	startTime time.Time
}

// NewHandlers creates the HTTP handlers. Source and sink health checks are
// registered on the monitor.
func NewHandlers(config *HandlerConfig) (*Handlers, error) {
	if config == nil || config.Service == nil {
		return nil, errors.NewConfigurationError(errors.CodeInvalidConfig, "Handler config requires an analysis service")
	}

	logger := config.Logger
	if logger == nil {
		logger = logrus.New()
	}

	monitor := config.Health
	if monitor == nil {
		monitor = health.NewHealthMonitor(nil, logger)
	}
	config.Service.RegisterHealthChecks(monitor)

	version := config.Version
	if version.Version == "" {
		version.Version = constants.AppVersion
	}
	if version.GoVersion == "" {
		version.GoVersion = runtime.Version()
	}
	if version.Platform == "" {
		version.Platform = fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)
	}

	return &Handlers{
		service:   config.Service,
		health:    monitor,
		metrics:   config.Metrics,
		version:   version,
		logger:    logger,
		startTime: time.Now(),
	}, nil
}

// Analyze handles POST /analytics and POST /analytics/{action}. The path
// action, when present, overrides the body.
func (h *Handlers) Analyze(w http.ResponseWriter, r *http.Request) {
	pathAction := mux.Vars(r)["action"]

	req, err := decodeRequest(r)
	if err != nil {
		writeError(w, r, pathAction, err)
		return
	}
	if pathAction != "" {
		req.Action = pathAction
	}

	result, err := h.service.Analyze(r.Context(), RequestIDFromContext(r.Context()), req)
	if err != nil {
		writeError(w, r, req.Action, err)
		return
	}

	writeSuccess(w, r, req.Action, result)
}

// GetResult handles GET /analytics/results/{id}
func (h *Handlers) GetResult(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if strings.TrimSpace(id) == "" {
		writeError(w, r, "", errors.NewValidationError(errors.CodeMissingField, "result id is required"))
		return
	}

	stored, err := h.service.LoadResult(r.Context(), id)
	if err != nil {
		writeError(w, r, "", err)
		return
	}

	writeJSON(w, http.StatusOK, &models.AnalysisResponse{
		Success:   true,
		Action:    stored.Action,
		RequestID: stored.RequestID,
		Data:      json.RawMessage(stored.Payload),
		Timestamp: stored.CreatedAt,
	})
}

// GetHealth handles GET /health. It reports liveness only.
func (h *Handlers) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    health.StatusHealthy,
		"service":   constants.AppName,
		"version":   h.version.Version,
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
	})
}

// GetReadiness handles GET /health/ready by probing the configured source
// and sink. Only an unhealthy status is reported as 503.
func (h *Handlers) GetReadiness(w http.ResponseWriter, r *http.Request) {
	status := h.health.Check(r.Context())

	if h.metrics != nil {
		for name, result := range status.CheckResults {
			value := 0.0
			if result.Status == health.StatusHealthy {
				value = 1.0
			}
			h.metrics.SetHealthStatus(name, string(result.Status), value)
		}
	}

	code := http.StatusOK
	if status.OverallStatus == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// GetVersion handles GET /version
func (h *Handlers) GetVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.version)
}

// NotFound renders unknown routes in the response envelope
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, &models.AnalysisResponse{
		Success:   false,
		Error:     fmt.Sprintf("route %s %s not found", r.Method, r.URL.Path),
		Timestamp: time.Now().UTC(),
	})
}

// decodeRequest reads a JSON request body, or a CSV body of observations
// with the options taken from query parameters. An empty body is an empty
// request.
func decodeRequest(r *http.Request) (*models.AnalysisRequest, error) {
	mediaType := constants.ContentTypeJSON
	if contentType := r.Header.Get(constants.HeaderContentType); contentType != "" {
		parsed, _, err := mime.ParseMediaType(contentType)
		if err != nil {
			return nil, errors.ErrValidationUnsupportedFormat
		}
		mediaType = parsed
	}

	switch mediaType {
	case constants.ContentTypeJSON:
		req := &models.AnalysisRequest{}
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			if stderrors.Is(err, io.EOF) {
				return req, nil
			}
			return nil, bodyError(err)
		}
		return req, nil

	case constants.ContentTypeCSV:
		observations, err := codec.DecodeObservations(r.Body, constants.OutputFormatCSV)
		if err != nil {
			return nil, bodyError(err)
		}
		req, err := requestFromQuery(r)
		if err != nil {
			return nil, err
		}
		req.Observations = observations
		return req, nil

	default:
		return nil, errors.ErrValidationUnsupportedFormat
	}
}

// requestFromQuery builds a request from URL parameters
func requestFromQuery(r *http.Request) (*models.AnalysisRequest, error) {
	query := r.URL.Query()
	req := &models.AnalysisRequest{
		Action:    query.Get("action"),
		StartDate: query.Get("startDate"),
		EndDate:   query.Get("endDate"),
	}

	if list := query.Get("metrics"); list != "" {
		for _, metric := range strings.Split(list, ",") {
			if metric = strings.TrimSpace(metric); metric != "" {
				req.Metrics = append(req.Metrics, metric)
			}
		}
	}

	if horizon := query.Get("horizonDays"); horizon != "" {
		value, err := strconv.Atoi(horizon)
		if err != nil {
			return nil, errors.NewValidationError(errors.CodeInvalidFormat, "horizonDays must be an integer")
		}
		req.HorizonDays = value
	}

	if confidence := query.Get("confidenceLevel"); confidence != "" {
		value, err := strconv.ParseFloat(confidence, 64)
		if err != nil {
			return nil, errors.NewValidationError(errors.CodeInvalidFormat, "confidenceLevel must be a number")
		}
		req.ConfidenceLevel = value
	}

	if split := query.Get("trainTestSplit"); split != "" {
		value, err := strconv.ParseFloat(split, 64)
		if err != nil {
			return nil, errors.NewValidationError(errors.CodeInvalidFormat, "trainTestSplit must be a number")
		}
		req.Validation.TrainTestSplit = value
	}

	return req, nil
}

func bodyError(err error) error {
	var maxBytes *http.MaxBytesError
	if stderrors.As(err, &maxBytes) {
		return errRequestTooLarge(maxBytes.Limit)
	}
	if errors.IsAppError(err) {
		return err
	}
	return errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidFormat, "Request body is not valid")
}

func errRequestTooLarge(limit int64) error {
	err := errors.NewAppError(errors.ErrorTypeValidation, "REQUEST_TOO_LARGE",
		fmt.Sprintf("Request body exceeds %d bytes", limit))
	err.HTTPStatus = http.StatusRequestEntityTooLarge
	return err
}
