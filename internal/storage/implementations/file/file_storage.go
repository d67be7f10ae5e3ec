package file

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/internal/storage/codec"
	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/interfaces"
	"github.com/inferloop/tsforecast/pkg/models"
)

const resultsDir = "results"

// FileStorageConfig contains configuration for file-based storage
type FileStorageConfig struct {
	BasePath   string `json:"base_path" yaml:"base_path"`     // a single export or a directory of exports
	Format     string `json:"format" yaml:"format"`           // "csv", "json"; inferred from extension when empty
	CreateDirs bool   `json:"create_dirs" yaml:"create_dirs"` // auto-create directories
}

// FileStorage reads observation exports from disk and writes results next
// to them. It serves as both an observation source and a result sink.
type FileStorage struct {
	config    *FileStorageConfig
	logger    *logrus.Logger
	mu        sync.RWMutex
	connected bool
	isDir     bool
}

// NewFileStorage creates a new file storage instance
func NewFileStorage(config *FileStorageConfig, logger *logrus.Logger) (*FileStorage, error) {
	if config == nil {
		return nil, errors.NewConfigurationError(errors.CodeInvalidConfig, "FileStorageConfig cannot be nil")
	}

	if config.BasePath == "" {
		return nil, errors.NewConfigurationError(errors.CodeInvalidConfig, "BasePath is required")
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &FileStorage{
		config: config,
		logger: logger,
	}, nil
}

// Name returns the backend type
func (fs *FileStorage) Name() string {
	return constants.StorageTypeFile
}

// Connect verifies the base path
func (fs *FileStorage) Connect(ctx context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.connected {
		return nil
	}

	if fs.config.CreateDirs {
		if err := os.MkdirAll(fs.config.BasePath, 0755); err != nil {
			return errors.WrapStorageError(err, "connect", fs.Name()).WithTarget(fs.config.BasePath)
		}
	}

	info, err := os.Stat(fs.config.BasePath)
	if err != nil {
		return errors.WrapStorageError(err, "connect", fs.Name()).WithTarget(fs.config.BasePath)
	}
	fs.isDir = info.IsDir()
	fs.connected = true

	fs.logger.WithFields(logrus.Fields{
		"base_path": fs.config.BasePath,
		"directory": fs.isDir,
	}).Info("File storage connected")

	return nil
}

// Close releases the storage
func (fs *FileStorage) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.connected = false
	return nil
}

// Ping verifies the base path is still accessible
func (fs *FileStorage) Ping(ctx context.Context) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if !fs.connected {
		return errors.NewStorageError("NOT_CONNECTED", "File storage is not connected")
	}

	if _, err := os.Stat(fs.config.BasePath); err != nil {
		return errors.WrapStorageError(err, "connect", fs.Name()).WithTarget(fs.config.BasePath)
	}

	return nil
}

// Fetch decodes every export under the base path and applies the query
func (fs *FileStorage) Fetch(ctx context.Context, query *interfaces.ObservationQuery) ([]models.Observation, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if !fs.connected {
		return nil, errors.NewStorageError("NOT_CONNECTED", "File storage is not connected")
	}

	files, err := fs.exportFiles()
	if err != nil {
		return nil, err
	}

	var observations []models.Observation
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		decoded, err := fs.readFile(path)
		if err != nil {
			return nil, errors.WrapStorageError(err, "fetch", fs.Name()).WithTarget(path)
		}
		observations = append(observations, decoded...)
	}

	filtered := codec.ApplyQuery(observations, query)

	fs.logger.WithFields(logrus.Fields{
		"files":        len(files),
		"observations": len(filtered),
	}).Debug("Fetched observations from files")

	return filtered, nil
}

// Store writes a result as JSON under the results directory
func (fs *FileStorage) Store(ctx context.Context, key string, result *interfaces.StoredResult) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if !fs.connected {
		return errors.NewStorageError("NOT_CONNECTED", "File storage is not connected")
	}

	path := fs.resultPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.WrapStorageError(err, "store", fs.Name()).WithTarget(path)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return errors.WrapStorageError(err, "store", fs.Name()).WithTarget(path)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.WrapStorageError(err, "store", fs.Name()).WithTarget(path)
	}

	fs.logger.WithField("path", path).Debug("Stored result")
	return nil
}

// Load reads a result written by Store
func (fs *FileStorage) Load(ctx context.Context, key string) (*interfaces.StoredResult, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if !fs.connected {
		return nil, errors.NewStorageError("NOT_CONNECTED", "File storage is not connected")
	}

	path := fs.resultPath(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewStorageError("NOT_FOUND", fmt.Sprintf("Result '%s' not found", key))
		}
		return nil, errors.WrapStorageError(err, "fetch", fs.Name()).WithTarget(path)
	}

	var result interfaces.StoredResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, errors.WrapStorageError(err, "fetch", fs.Name()).WithTarget(path)
	}
	return &result, nil
}

// exportFiles lists the JSON and CSV exports to read. Stored results are
// skipped.
func (fs *FileStorage) exportFiles() ([]string, error) {
	if !fs.isDir {
		return []string{fs.config.BasePath}, nil
	}

	entries, err := os.ReadDir(fs.config.BasePath)
	if err != nil {
		return nil, errors.WrapStorageError(err, "fetch", fs.Name()).WithTarget(fs.config.BasePath)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".json", ".csv":
			files = append(files, filepath.Join(fs.config.BasePath, entry.Name()))
		}
	}
	return files, nil
}

func (fs *FileStorage) readFile(path string) ([]models.Observation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	format := fs.config.Format
	if format == "" {
		format = codec.FormatFromPath(path)
	}
	return codec.DecodeObservations(bytes.NewReader(data), format)
}

// resultPath maps a sink key to a file name. Separators in keys become
// underscores.
func (fs *FileStorage) resultPath(key string) string {
	base := fs.config.BasePath
	if !fs.isDir {
		base = filepath.Dir(base)
	}
	name := strings.NewReplacer(":", "_", "/", "_", "\\", "_").Replace(key)
	return filepath.Join(base, resultsDir, fmt.Sprintf("%s.json", name))
}
