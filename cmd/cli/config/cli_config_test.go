package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tsforecast/pkg/constants"
)

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server_url: http://forecast.internal:8080
default_format: yaml
timeout: 10s
analytics:
  anomaly_threshold: 3.0
source:
  type: file
  connection_string: /data/exports
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "http://forecast.internal:8080", config.ServerURL)
	assert.Equal(t, constants.OutputFormatYAML, config.DefaultFormat)
	assert.Equal(t, 10*time.Second, config.Timeout)
	assert.Equal(t, 3.0, config.Analytics.AnomalyThreshold)
	assert.Equal(t, 20, config.Analytics.MinForecastPoints)
	assert.Equal(t, constants.StorageTypeFile, config.Source.Type)
	assert.Equal(t, "/data/exports", config.Source.ConnectionString)
	assert.Equal(t, "UTC", config.Preferences.TimeZone)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigRejectsInvalidAnalytics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("analytics:\n  smoothing_alpha: 2\n"), 0644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smoothing_alpha")
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	config := NewDefaultConfig()
	config.ServerURL = "http://localhost:9000"
	config.DefaultFormat = constants.OutputFormatJSON
	config.Source.Type = constants.StorageTypeFile
	config.Source.ConnectionString = "/tmp/exports"

	require.NoError(t, SaveConfig(config, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, config.ServerURL, loaded.ServerURL)
	assert.Equal(t, config.DefaultFormat, loaded.DefaultFormat)
	assert.Equal(t, config.Timeout, loaded.Timeout)
	assert.Equal(t, config.Source.ConnectionString, loaded.Source.ConnectionString)
}
