package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/interfaces"
	"github.com/inferloop/tsforecast/pkg/models"
)

func TestNewFileStorageInvalidConfig(t *testing.T) {
	_, err := NewFileStorage(nil, logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be nil")

	_, err = NewFileStorage(&FileStorageConfig{}, logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BasePath is required")
}

func TestFileStorageFetchDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "revenue.json", `[
		{"timestamp": "2024-01-01", "value": 100, "category": "revenue"},
		{"timestamp": "2024-01-02", "value": 110, "category": "revenue"}
	]`)
	writeFile(t, dir, "orders.csv", "timestamp,value,category\n2024-01-01,10,orders\n2024-01-05,12,orders\n")
	writeFile(t, dir, "notes.txt", "ignored")

	storage := connectedStorage(t, &FileStorageConfig{BasePath: dir})
	ctx := context.Background()

	all, err := storage.Fetch(ctx, &interfaces.ObservationQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	orders, err := storage.Fetch(ctx, &interfaces.ObservationQuery{
		Metrics: []string{"orders"},
		TimeRange: models.TimeRange{
			Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
		},
	})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, 10.0, orders[0].Value)
}

func TestFileStorageFetchSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "export.csv", "timestamp,value,category\n2024-01-01,10,orders\n")

	storage := connectedStorage(t, &FileStorageConfig{BasePath: path})

	observations, err := storage.Fetch(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, observations, 1)
}

func TestFileStorageFetchMalformed(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.json", `{"observations": [`)

	storage := connectedStorage(t, &FileStorageConfig{BasePath: dir})

	_, err := storage.Fetch(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrStorageReadFailed)
}

func TestFileStorageStoreAndLoad(t *testing.T) {
	dir := t.TempDir()
	storage := connectedStorage(t, &FileStorageConfig{BasePath: filepath.Join(dir, "data"), CreateDirs: true})
	ctx := context.Background()

	result := &interfaces.StoredResult{
		RequestID: "req-1",
		Action:    "forecast",
		Metrics:   []string{"revenue"},
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Payload:   []byte(`{"forecasts":[]}`),
	}
	require.NoError(t, storage.Store(ctx, "tsforecast:result:req-1", result))
	assert.FileExists(t, filepath.Join(dir, "data", "results", "tsforecast_result_req-1.json"))

	loaded, err := storage.Load(ctx, "tsforecast:result:req-1")
	require.NoError(t, err)
	assert.Equal(t, result, loaded)

	// stored results are not read back as observations
	observations, err := storage.Fetch(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, observations)

	_, err = storage.Load(ctx, "missing")
	require.Error(t, err)
	appErr, ok := errors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, "NOT_FOUND", appErr.Code)
}

func TestFileStorageDisconnected(t *testing.T) {
	storage, err := NewFileStorage(&FileStorageConfig{BasePath: t.TempDir()}, logrus.New())
	require.NoError(t, err)
	ctx := context.Background()

	assert.Error(t, storage.Ping(ctx))
	_, err = storage.Fetch(ctx, nil)
	assert.Error(t, err)
	assert.Error(t, storage.Store(ctx, "k", &interfaces.StoredResult{}))
}

func TestFileStorageConnectMissingPath(t *testing.T) {
	storage, err := NewFileStorage(&FileStorageConfig{BasePath: filepath.Join(t.TempDir(), "missing")}, logrus.New())
	require.NoError(t, err)

	err = storage.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrStorageConnectionFailed)
}

func connectedStorage(t *testing.T, config *FileStorageConfig) *FileStorage {
	t.Helper()
	storage, err := NewFileStorage(config, logrus.New())
	require.NoError(t, err)
	require.NoError(t, storage.Connect(context.Background()))
	require.NoError(t, storage.Ping(context.Background()))
	t.Cleanup(func() { storage.Close() })
	return storage
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}
