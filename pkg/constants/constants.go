package constants

import "time"

// Application constants
const (
	// Application metadata
	AppName        = "tsforecast-server"
	AppDescription = "Business Metric Forecasting and Anomaly Detection Service"
	AppVersion     = "0.1.0"

	// API constants
	APIVersion = "v1"
	APIPrefix  = "/api/v1"

	// Default configuration values
	DefaultPort            = 8080
	DefaultMetricsPort     = 9090
	DefaultHost            = "0.0.0.0"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultRequestTimeout  = 30 * time.Second

	// Storage defaults
	DefaultStorageTimeout    = 30 * time.Second
	DefaultConnectionTimeout = 10 * time.Second
	DefaultResultTTL         = 24 * time.Hour
	DefaultResultKeyPrefix   = "tsforecast:result:"

	// Request limits
	MaxRequestBodySize = 32 * 1024 * 1024 // 32MB
	MaxObservations    = 1000000

	// Env prefix used by viper for both binaries
	EnvPrefix = "TSFORECAST"
)

// Analysis defaults
const (
	DefaultHorizonDays          = 30
	MinHorizonDays              = 1
	MaxHorizonDays              = 365
	DefaultConfidenceLevel      = 0.95
	MinConfidenceLevel          = 0.80
	MaxConfidenceLevel          = 0.99
	DefaultTrainTestSplit       = 0.8
	MinTrainTestSplit           = 0.5
	MaxTrainTestSplit           = 0.9
	DefaultCrossValidationFolds = 5
	MinCrossValidationFolds     = 3
	MaxCrossValidationFolds     = 10
	DefaultLookbackDays         = 30
)

// DefaultMetrics is used when a request names no metrics.
var DefaultMetrics = []string{"revenue", "customers", "orders"}

// Analysis actions
const (
	ActionForecast   = "forecast"
	ActionInsights   = "insights"
	ActionAnomalies  = "anomalies"
	ActionBacktest   = "backtest"
	ActionStatistics = "statistics"
)

// Sub-model names
const (
	ModelArima       = "arima"
	ModelExponential = "exponential"
	ModelLinear      = "linear"
	ModelPolynomial  = "polynomial"
)

// HTTP headers
const (
	HeaderContentType = "Content-Type"
	HeaderRequestID   = "X-Request-ID"
)

// Content types
const (
	ContentTypeJSON = "application/json"
	ContentTypeCSV  = "text/csv"
)

// Log levels
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Log formats
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Storage backends
const (
	StorageTypeInfluxDB    = "influxdb"
	StorageTypeTimescaleDB = "timescaledb"
	StorageTypeS3          = "s3"
	StorageTypeFile        = "file"
	StorageTypeRedis       = "redis"
	StorageTypeNone        = "none"
)

// Output formats
const (
	OutputFormatJSON = "json"
	OutputFormatYAML = "yaml"
	OutputFormatText = "text"
	OutputFormatCSV  = "csv"
)
