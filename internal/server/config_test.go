package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tsforecast/pkg/constants"
)

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	require.NoError(t, config.Validate())
	assert.Equal(t, constants.DefaultPort, config.Server.Port)
	assert.Equal(t, constants.StorageTypeNone, config.Source.Type)
	assert.Equal(t, constants.StorageTypeNone, config.Sink.Type)
	assert.Equal(t, constants.DefaultResultKeyPrefix, config.Sink.KeyPrefix)
	assert.Equal(t, "0.0.0.0:8080", config.GetAddress())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "invalid port",
			modify: func(c *Config) { c.Server.Port = 70000 },
			errMsg: "invalid port",
		},
		{
			name:   "zero read timeout",
			modify: func(c *Config) { c.Server.ReadTimeout = 0 },
			errMsg: "read timeout",
		},
		{
			name:   "zero max request size",
			modify: func(c *Config) { c.Server.MaxRequestSize = 0 },
			errMsg: "max request size",
		},
		{
			name:   "tls cert without key",
			modify: func(c *Config) { c.Server.TLSCertFile = "server.crt" },
			errMsg: "tls_cert_file",
		},
		{
			name:   "unknown log level",
			modify: func(c *Config) { c.Logging.Level = "verbose" },
			errMsg: "invalid log level",
		},
		{
			name:   "unknown log format",
			modify: func(c *Config) { c.Logging.Format = "xml" },
			errMsg: "invalid log format",
		},
		{
			name:   "missing analytics",
			modify: func(c *Config) { c.Analytics = nil },
			errMsg: "analytics configuration",
		},
		{
			name:   "invalid analytics",
			modify: func(c *Config) { c.Analytics.SmoothingAlpha = 1.5 },
			errMsg: "smoothing_alpha",
		},
		{
			name:   "metrics port collision",
			modify: func(c *Config) { c.Metrics.Port = c.Server.Port },
			errMsg: "metrics port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewDefaultConfig()
			tt.modify(config)

			err := config.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestConfigValidateMetricsDisabled(t *testing.T) {
	config := NewDefaultConfig()
	config.Metrics.Enabled = false
	config.Metrics.Port = config.Server.Port

	assert.NoError(t, config.Validate())
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tsforecast.yaml")
	content := `
server:
  port: 8181
  request_timeout: 45s
logging:
  level: debug
  format: text
analytics:
  min_forecast_points: 25
  min_backtest_points: 70
source:
  type: file
  connection_string: /var/lib/tsforecast/exports
sink:
  type: redis
  connection_string: localhost:6379
  ttl: 1h
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, config.Validate())

	assert.Equal(t, 8181, config.Server.Port)
	assert.Equal(t, 45*time.Second, config.Server.RequestTimeout)
	assert.Equal(t, constants.DefaultReadTimeout, config.Server.ReadTimeout)
	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, "text", config.Logging.Format)

	assert.Equal(t, 25, config.Analytics.MinForecastPoints)
	assert.Equal(t, 70, config.Analytics.MinBacktestPoints)
	assert.Equal(t, constants.DefaultLookbackDays, config.Analytics.DefaultLookbackDays)

	assert.Equal(t, constants.StorageTypeFile, config.Source.Type)
	assert.Equal(t, "/var/lib/tsforecast/exports", config.Source.ConnectionString)
	assert.Equal(t, constants.StorageTypeRedis, config.Sink.Type)
	assert.Equal(t, time.Hour, config.Sink.TTL)
	assert.Equal(t, constants.DefaultResultKeyPrefix, config.Sink.KeyPrefix)
}

func TestLoadConfigEnvironmentOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tsforecast.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8181\n"), 0644))

	t.Setenv("TSFORECAST_SERVER_PORT", "8282")
	t.Setenv("TSFORECAST_LOGGING_LEVEL", "warn")

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8282, config.Server.Port)
	assert.Equal(t, "warn", config.Logging.Level)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}
