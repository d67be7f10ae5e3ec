package server

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/inferloop/tsforecast/internal/analytics"
	"github.com/inferloop/tsforecast/internal/observability/metrics"
	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/interfaces"
)

// Config contains the configuration for the forecasting server
type Config struct {
	Server    ServerConfig              `json:"server" yaml:"server" mapstructure:"server"`
	Logging   LoggingConfig             `json:"logging" yaml:"logging" mapstructure:"logging"`
	Analytics *analytics.EngineConfig   `json:"analytics" yaml:"analytics" mapstructure:"analytics"`
	Source    interfaces.StorageConfig  `json:"source" yaml:"source" mapstructure:"source"`
	Sink      interfaces.StorageConfig  `json:"sink" yaml:"sink" mapstructure:"sink"`
	Metrics   *metrics.PrometheusConfig `json:"metrics" yaml:"metrics" mapstructure:"metrics"`
	Health    HealthConfig              `json:"health" yaml:"health" mapstructure:"health"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host            string        `json:"host" yaml:"host" mapstructure:"host"`
	Port            int           `json:"port" yaml:"port" mapstructure:"port"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout" yaml:"idle_timeout" mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `json:"request_timeout" yaml:"request_timeout" mapstructure:"request_timeout"`
	MaxRequestSize  int64         `json:"max_request_size" yaml:"max_request_size" mapstructure:"max_request_size"`
	EnableCORS      bool          `json:"enable_cors" yaml:"enable_cors" mapstructure:"enable_cors"`
	TLSCertFile     string        `json:"tls_cert_file,omitempty" yaml:"tls_cert_file,omitempty" mapstructure:"tls_cert_file"`
	TLSKeyFile      string        `json:"tls_key_file,omitempty" yaml:"tls_key_file,omitempty" mapstructure:"tls_key_file"`
}

// LoggingConfig contains logger settings
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" mapstructure:"level"`
	Format string `json:"format" yaml:"format" mapstructure:"format"`
}

// HealthConfig contains readiness probe settings
type HealthConfig struct {
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
}

// NewDefaultConfig creates a default server configuration. No source or
// sink is configured; requests must then carry their observations.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            constants.DefaultHost,
			Port:            constants.DefaultPort,
			ReadTimeout:     constants.DefaultReadTimeout,
			WriteTimeout:    constants.DefaultWriteTimeout,
			IdleTimeout:     constants.DefaultIdleTimeout,
			ShutdownTimeout: constants.DefaultShutdownTimeout,
			RequestTimeout:  constants.DefaultRequestTimeout,
			MaxRequestSize:  constants.MaxRequestBodySize,
			EnableCORS:      true,
		},
		Logging: LoggingConfig{
			Level:  constants.DefaultLogLevel,
			Format: constants.DefaultLogFormat,
		},
		Analytics: analytics.NewDefaultEngineConfig(),
		Source: interfaces.StorageConfig{
			Type:    constants.StorageTypeNone,
			Timeout: constants.DefaultStorageTimeout,
		},
		Sink: interfaces.StorageConfig{
			Type:      constants.StorageTypeNone,
			Timeout:   constants.DefaultStorageTimeout,
			TTL:       constants.DefaultResultTTL,
			KeyPrefix: constants.DefaultResultKeyPrefix,
		},
		Metrics: metrics.DefaultPrometheusConfig(),
		Health: HealthConfig{
			Timeout: 5 * time.Second,
		},
	}
}

// LoadConfig reads configuration from an optional .env file, an optional
// YAML file and TSFORECAST_* environment variables, in increasing order of
// precedence over the defaults. An empty path searches the working
// directory and /etc/tsforecast for tsforecast.yaml.
func LoadConfig(path string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := NewDefaultConfig()
	v := viper.New()
	setDefaults(v, config)

	v.SetEnvPrefix(constants.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tsforecast")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tsforecast")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return config, nil
}

// setDefaults registers every scalar key so environment variables can
// override it.
func setDefaults(v *viper.Viper, config *Config) {
	v.SetDefault("server.host", config.Server.Host)
	v.SetDefault("server.port", config.Server.Port)
	v.SetDefault("server.read_timeout", config.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", config.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", config.Server.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", config.Server.ShutdownTimeout)
	v.SetDefault("server.request_timeout", config.Server.RequestTimeout)
	v.SetDefault("server.max_request_size", config.Server.MaxRequestSize)
	v.SetDefault("server.enable_cors", config.Server.EnableCORS)
	v.SetDefault("server.tls_cert_file", "")
	v.SetDefault("server.tls_key_file", "")

	v.SetDefault("logging.level", config.Logging.Level)
	v.SetDefault("logging.format", config.Logging.Format)

	v.SetDefault("analytics.default_lookback_days", config.Analytics.DefaultLookbackDays)
	v.SetDefault("analytics.min_forecast_points", config.Analytics.MinForecastPoints)
	v.SetDefault("analytics.min_backtest_points", config.Analytics.MinBacktestPoints)
	v.SetDefault("analytics.anomaly_threshold", config.Analytics.AnomalyThreshold)
	v.SetDefault("analytics.anomaly_window", config.Analytics.AnomalyWindow)

	for _, prefix := range []string{"source", "sink"} {
		storage := config.Source
		if prefix == "sink" {
			storage = config.Sink
		}
		v.SetDefault(prefix+".type", storage.Type)
		v.SetDefault(prefix+".connection_string", storage.ConnectionString)
		v.SetDefault(prefix+".database", storage.Database)
		v.SetDefault(prefix+".table", storage.Table)
		v.SetDefault(prefix+".username", storage.Username)
		v.SetDefault(prefix+".password", storage.Password)
		v.SetDefault(prefix+".timeout", storage.Timeout)
		v.SetDefault(prefix+".max_connections", storage.MaxConnections)
		v.SetDefault(prefix+".ttl", storage.TTL)
		v.SetDefault(prefix+".key_prefix", storage.KeyPrefix)
	}

	v.SetDefault("metrics.enabled", config.Metrics.Enabled)
	v.SetDefault("metrics.port", config.Metrics.Port)
	v.SetDefault("metrics.path", config.Metrics.Path)
	v.SetDefault("metrics.namespace", config.Metrics.Namespace)
	v.SetDefault("metrics.subsystem", config.Metrics.Subsystem)

	v.SetDefault("health.timeout", config.Health.Timeout)
}

// Validate validates the server configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}

	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}

	if c.Server.MaxRequestSize <= 0 {
		return fmt.Errorf("max request size must be positive")
	}

	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		return fmt.Errorf("tls_cert_file and tls_key_file must be set together")
	}

	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.Format != constants.LogFormatJSON && c.Logging.Format != constants.LogFormatText {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Analytics == nil {
		return fmt.Errorf("analytics configuration is required")
	}
	if err := c.Analytics.Validate(); err != nil {
		return fmt.Errorf("invalid analytics configuration: %w", err)
	}

	if c.Metrics != nil && c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
		}
		if c.Metrics.Port == c.Server.Port {
			return fmt.Errorf("metrics port must differ from the server port")
		}
	}

	return nil
}

// GetAddress returns the server address
func (c *Config) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
