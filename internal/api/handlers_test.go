package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tsforecast/internal/observability/health"
	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/interfaces"
	"github.com/inferloop/tsforecast/pkg/models"
)

func TestNewHandlersRequiresService(t *testing.T) {
	_, err := NewHandlers(nil)
	assert.Error(t, err)

	_, err = NewHandlers(&HandlerConfig{})
	assert.Error(t, err)
}

func TestForecastEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, nil, newFileStorage(t, t.TempDir()))

	body := map[string]interface{}{
		"metrics":      []string{"revenue"},
		"horizonDays":  10,
		"observations": createObservations("revenue", linearValues(60, 100, 5)),
	}
	rec := doJSON(t, router, http.MethodPost, "/api/v1/analytics/forecast", body, "req-forecast")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-forecast", rec.Header().Get(constants.HeaderRequestID))

	var response struct {
		Success   bool                  `json:"success"`
		Action    string                `json:"action"`
		RequestID string                `json:"requestId"`
		Data      models.ForecastReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.True(t, response.Success)
	assert.Equal(t, constants.ActionForecast, response.Action)
	assert.Equal(t, "req-forecast", response.RequestID)
	require.Len(t, response.Data.Forecasts, 1)
	assert.Len(t, response.Data.Forecasts[0].Forecasts, 10)

	// the published result is served back by request ID
	rec = doJSON(t, router, http.MethodGet, "/api/v1/analytics/results/req-forecast", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stored struct {
		Success bool                  `json:"success"`
		Action  string                `json:"action"`
		Data    models.ForecastReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stored))
	assert.True(t, stored.Success)
	assert.Equal(t, constants.ActionForecast, stored.Action)
	assert.Equal(t, "revenue", stored.Data.Forecasts[0].Metric)
}

func TestGenericEndpointUsesBodyAction(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil)

	body := map[string]interface{}{
		"action":       constants.ActionStatistics,
		"metrics":      []string{"orders"},
		"observations": createObservations("orders", linearValues(40, 10, 1)),
	}
	rec := doJSON(t, router, http.MethodPost, "/api/v1/analytics", body, "")

	require.Equal(t, http.StatusOK, rec.Code)
	response := decodeResponse(t, rec)
	assert.Equal(t, constants.ActionStatistics, response.Action)
	assert.NotEmpty(t, rec.Header().Get(constants.HeaderRequestID))
	assert.Equal(t, rec.Header().Get(constants.HeaderRequestID), response.RequestID)
}

func TestPathActionOverridesBody(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil)

	body := map[string]interface{}{
		"action":       constants.ActionForecast,
		"metrics":      []string{"revenue"},
		"observations": createObservations("revenue", spikeValues(40, 100, 25, 400)),
	}
	rec := doJSON(t, router, http.MethodPost, "/api/v1/analytics/anomalies", body, "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, constants.ActionAnomalies, decodeResponse(t, rec).Action)
}

func TestAnalyzeEndpointErrors(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil)

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "malformed json",
			path:       "/api/v1/analytics/forecast",
			body:       `{"metrics": [`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_FORMAT",
		},
		{
			name:       "invalid action",
			path:       "/api/v1/analytics",
			body:       `{"action": "explain", "observations": [{"timestamp": "2024-01-01", "value": 1, "category": "revenue"}]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "horizon out of range",
			path:       "/api/v1/analytics/forecast",
			body:       `{"horizonDays": 500}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "insufficient history for backtest",
			path:       "/api/v1/analytics/backtest",
			body:       observationsBody(t, "revenue", 30),
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "INSUFFICIENT_DATA",
		},
		{
			name:       "no observations and no source",
			path:       "/api/v1/analytics/forecast",
			body:       "",
			wantStatus: http.StatusBadRequest,
			wantCode:   "MISSING_FIELD",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body))
			req.Header.Set(constants.HeaderContentType, constants.ContentTypeJSON)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)

			var response struct {
				Success bool         `json:"success"`
				Error   string       `json:"error"`
				Details ErrorDetails `json:"details"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
			assert.False(t, response.Success)
			assert.NotEmpty(t, response.Error)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, response.Details.Code)
			}
		})
	}
}

func TestValidationErrorListsFields(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analytics/forecast",
		strings.NewReader(`{"horizonDays": 500, "confidenceLevel": 0.2}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var response struct {
		Details ErrorDetails `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Contains(t, response.Details.FieldErrors, "horizonDays")
	assert.Contains(t, response.Details.FieldErrors, "confidenceLevel")
}

func TestCSVBody(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil)

	var csv strings.Builder
	csv.WriteString("timestamp,value,category\n")
	for _, obs := range createObservations("revenue", linearValues(30, 100, 5)) {
		fmt.Fprintf(&csv, "%s,%g,revenue\n", obs.Timestamp.Format("2006-01-02"), obs.Value)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analytics/forecast?metrics=revenue&horizonDays=5",
		strings.NewReader(csv.String()))
	req.Header.Set(constants.HeaderContentType, "text/csv; charset=utf-8")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var response struct {
		Data models.ForecastReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Len(t, response.Data.Forecasts, 1)
	assert.Len(t, response.Data.Forecasts[0].Forecasts, 5)
}

func TestUnsupportedContentType(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analytics/forecast", strings.NewReader("<xml/>"))
	req.Header.Set(constants.HeaderContentType, "application/xml")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestTooLarge(t *testing.T) {
	service := newTestService(t, nil, nil, nil)
	handlers, err := NewHandlers(&HandlerConfig{Service: service, Logger: logrus.New()})
	require.NoError(t, err)
	router := NewRouter(handlers, &MiddlewareConfig{MaxRequestSize: 16, Logger: logrus.New()})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analytics/forecast",
		strings.NewReader(`{"metrics": ["revenue", "orders", "customers"]}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestGetResultNotFound(t *testing.T) {
	router, _ := newTestRouter(t, nil, newFileStorage(t, t.TempDir()))

	rec := doJSON(t, router, http.MethodGet, "/api/v1/analytics/results/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, decodeResponse(t, rec).Success)
}

func TestHealthEndpoints(t *testing.T) {
	router, _ := newTestRouter(t, newFileStorage(t, t.TempDir()), nil)

	rec := doJSON(t, router, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	rec = doJSON(t, router, http.MethodGet, "/health/ready", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status health.SystemStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, health.StatusHealthy, status.OverallStatus)
	assert.Contains(t, status.CheckResults, "source:file")
}

func TestReadinessFailsWhenSourceIsDown(t *testing.T) {
	source := newFileStorage(t, t.TempDir())
	router, _ := newTestRouter(t, source, nil)
	require.NoError(t, source.Close())

	rec := doJSON(t, router, http.MethodGet, "/health/ready", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestVersionEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil)

	rec := doJSON(t, router, http.MethodGet, "/version", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var info VersionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "1.2.3", info.Version)
	assert.NotEmpty(t, info.GoVersion)
}

func TestUnknownRoute(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/analytics/explain", map[string]string{}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	r := mux.NewRouter()
	ApplyMiddleware(r, &MiddlewareConfig{Logger: logrus.New()})
	r.HandleFunc("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}

func TestAnalyzePanicResponse(t *testing.T) {
	router, _ := newTestRouter(t, &panickingSource{}, nil)

	body := map[string]interface{}{"metrics": []string{"revenue"}}
	rec := doJSON(t, router, http.MethodPost, "/api/v1/analytics/statistics", body, "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	response := decodeResponse(t, rec)
	assert.False(t, response.Success)
	assert.Equal(t, "analysis failed", response.Error)
	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestCORSPreflight(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil)

	rec := doJSON(t, router, http.MethodOptions, "/api/v1/analytics/forecast", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5", getClientIP(req))
}

func newTestRouter(t *testing.T, source interfaces.ObservationSource, sink interfaces.ResultSink) (*mux.Router, *Handlers) {
	t.Helper()
	pm := newTestMetrics(t)
	service := newTestService(t, source, sink, pm)
	handlers, err := NewHandlers(&HandlerConfig{
		Service: service,
		Metrics: pm,
		Version: VersionInfo{Version: "1.2.3"},
		Logger:  logrus.New(),
	})
	require.NoError(t, err)

	config := DefaultMiddlewareConfig()
	config.Metrics = pm
	config.Logger = logrus.New()
	return NewRouter(handlers, config), handlers
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}, requestID string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(constants.HeaderContentType, constants.ContentTypeJSON)
	if requestID != "" {
		req.Header.Set(constants.HeaderRequestID, requestID)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) models.AnalysisResponse {
	t.Helper()
	var response models.AnalysisResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	return response
}

func observationsBody(t *testing.T, metric string, n int) string {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{
		"metrics":      []string{metric},
		"observations": createObservations(metric, linearValues(n, 100, 5)),
	})
	require.NoError(t, err)
	return string(data)
}
