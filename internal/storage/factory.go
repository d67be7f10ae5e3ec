package storage

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/internal/storage/implementations/file"
	"github.com/inferloop/tsforecast/internal/storage/implementations/influxdb"
	"github.com/inferloop/tsforecast/internal/storage/implementations/redis"
	"github.com/inferloop/tsforecast/internal/storage/implementations/s3"
	"github.com/inferloop/tsforecast/internal/storage/implementations/timescaledb"
	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/interfaces"
)

// SourceCreateFunc builds an observation source from generic config
type SourceCreateFunc func(config interfaces.StorageConfig, logger *logrus.Logger) (interfaces.ObservationSource, error)

// SinkCreateFunc builds a result sink from generic config
type SinkCreateFunc func(config interfaces.StorageConfig, logger *logrus.Logger) (interfaces.ResultSink, error)

// Factory implements the StorageFactory interface
type Factory struct {
	sources map[string]SourceCreateFunc
	sinks   map[string]SinkCreateFunc
	mu      sync.RWMutex
	logger  *logrus.Logger
}

// NewFactory creates a new storage factory
func NewFactory(logger *logrus.Logger) *Factory {
	if logger == nil {
		logger = logrus.New()
	}

	factory := &Factory{
		sources: make(map[string]SourceCreateFunc),
		sinks:   make(map[string]SinkCreateFunc),
		logger:  logger,
	}

	// Register default storage types
	factory.registerDefaults()

	return factory
}

// CreateSource creates an observation source. The "none" type and an empty
// type yield a nil source with no error.
func (f *Factory) CreateSource(config interfaces.StorageConfig) (interfaces.ObservationSource, error) {
	if config.Type == "" || config.Type == constants.StorageTypeNone {
		return nil, nil
	}

	f.mu.RLock()
	createFunc, exists := f.sources[config.Type]
	f.mu.RUnlock()

	if !exists {
		return nil, errors.NewUnknownBackendError(config.Type)
	}

	source, err := createFunc(config, f.logger)
	if err != nil {
		return nil, err
	}

	f.logger.WithFields(logrus.Fields{
		"storage_type": config.Type,
	}).Info("Created observation source")

	return source, nil
}

// CreateSink creates a result sink. The "none" type and an empty type
// yield a nil sink with no error.
func (f *Factory) CreateSink(config interfaces.StorageConfig) (interfaces.ResultSink, error) {
	if config.Type == "" || config.Type == constants.StorageTypeNone {
		return nil, nil
	}

	f.mu.RLock()
	createFunc, exists := f.sinks[config.Type]
	f.mu.RUnlock()

	if !exists {
		return nil, errors.NewUnknownBackendError(config.Type)
	}

	sink, err := createFunc(config, f.logger)
	if err != nil {
		return nil, err
	}

	f.logger.WithFields(logrus.Fields{
		"storage_type": config.Type,
	}).Info("Created result sink")

	return sink, nil
}

// GetSupportedTypes returns every type usable as a source or a sink
func (f *Factory) GetSupportedTypes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	seen := make(map[string]bool)
	for storageType := range f.sources {
		seen[storageType] = true
	}
	for storageType := range f.sinks {
		seen[storageType] = true
	}

	types := make([]string, 0, len(seen))
	for storageType := range seen {
		types = append(types, storageType)
	}
	sort.Strings(types)

	return types
}

// IsSupported checks if a storage type is supported
func (f *Factory) IsSupported(storageType string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	_, source := f.sources[storageType]
	_, sink := f.sinks[storageType]
	return source || sink
}

// RegisterSource registers an observation source type
func (f *Factory) RegisterSource(storageType string, createFunc SourceCreateFunc) error {
	if storageType == "" {
		return errors.NewValidationError("INVALID_TYPE", "Storage type cannot be empty")
	}

	if createFunc == nil {
		return errors.NewValidationError("INVALID_CREATOR", "Storage create function cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.sources[storageType] = createFunc
	return nil
}

// RegisterSink registers a result sink type
func (f *Factory) RegisterSink(storageType string, createFunc SinkCreateFunc) error {
	if storageType == "" {
		return errors.NewValidationError("INVALID_TYPE", "Storage type cannot be empty")
	}

	if createFunc == nil {
		return errors.NewValidationError("INVALID_CREATOR", "Storage create function cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.sinks[storageType] = createFunc
	return nil
}

// registerDefaults registers the built-in backends
func (f *Factory) registerDefaults() {
	f.RegisterSource(constants.StorageTypeFile, func(config interfaces.StorageConfig, logger *logrus.Logger) (interfaces.ObservationSource, error) {
		return newFileStorage(config, logger)
	})
	f.RegisterSink(constants.StorageTypeFile, func(config interfaces.StorageConfig, logger *logrus.Logger) (interfaces.ResultSink, error) {
		return newFileStorage(config, logger)
	})

	f.RegisterSource(constants.StorageTypeInfluxDB, func(config interfaces.StorageConfig, logger *logrus.Logger) (interfaces.ObservationSource, error) {
		return influxdb.NewInfluxDBStorage(&influxdb.InfluxDBConfig{
			URL:          config.ConnectionString,
			Token:        config.Password,
			Organization: metadataString(config.Metadata, "organization"),
			Bucket:       config.Database,
			Measurement:  config.Table,
			Field:        metadataString(config.Metadata, "field"),
			CategoryTag:  metadataString(config.Metadata, "category_tag"),
			Timeout:      config.Timeout,
			UseGZip:      metadataBool(config.Metadata, "use_gzip"),
		}, logger)
	})

	f.RegisterSource(constants.StorageTypeTimescaleDB, func(config interfaces.StorageConfig, logger *logrus.Logger) (interfaces.ObservationSource, error) {
		return newTimescaleDBStorage(config, logger)
	})
	f.RegisterSink(constants.StorageTypeTimescaleDB, func(config interfaces.StorageConfig, logger *logrus.Logger) (interfaces.ResultSink, error) {
		return newTimescaleDBStorage(config, logger)
	})

	f.RegisterSource(constants.StorageTypeS3, func(config interfaces.StorageConfig, logger *logrus.Logger) (interfaces.ObservationSource, error) {
		return newS3Storage(config, logger)
	})
	f.RegisterSink(constants.StorageTypeS3, func(config interfaces.StorageConfig, logger *logrus.Logger) (interfaces.ResultSink, error) {
		return newS3Storage(config, logger)
	})

	f.RegisterSink(constants.StorageTypeRedis, func(config interfaces.StorageConfig, logger *logrus.Logger) (interfaces.ResultSink, error) {
		keyPrefix := config.KeyPrefix
		if keyPrefix == "" {
			keyPrefix = constants.DefaultResultKeyPrefix
		}
		ttl := config.TTL
		if ttl == 0 {
			ttl = constants.DefaultResultTTL
		}
		return redis.NewRedisStorage(&redis.RedisConfig{
			Addr:         config.ConnectionString,
			Password:     config.Password,
			DB:           metadataInt(config.Metadata, "db"),
			DialTimeout:  config.Timeout,
			ReadTimeout:  config.Timeout,
			WriteTimeout: config.Timeout,
			PoolSize:     config.MaxConnections,
			TTL:          ttl,
			KeyPrefix:    keyPrefix,
		}, logger)
	})
}

func newFileStorage(config interfaces.StorageConfig, logger *logrus.Logger) (*file.FileStorage, error) {
	return file.NewFileStorage(&file.FileStorageConfig{
		BasePath:   config.ConnectionString,
		Format:     metadataString(config.Metadata, "format"),
		CreateDirs: metadataBool(config.Metadata, "create_dirs"),
	}, logger)
}

func newTimescaleDBStorage(config interfaces.StorageConfig, logger *logrus.Logger) (*timescaledb.TimescaleDBStorage, error) {
	return timescaledb.NewTimescaleDBStorage(&timescaledb.TimescaleDBConfig{
		DSN:               config.ConnectionString,
		Host:              metadataString(config.Metadata, "host"),
		Port:              metadataInt(config.Metadata, "port"),
		Database:          config.Database,
		Username:          config.Username,
		Password:          config.Password,
		SSLMode:           metadataString(config.Metadata, "ssl_mode"),
		QueryTimeout:      config.Timeout,
		MaxConnections:    config.MaxConnections,
		ObservationsTable: config.Table,
		ResultsTable:      metadataString(config.Metadata, "results_table"),
		AutoMigrate:       metadataBool(config.Metadata, "auto_migrate"),
	}, logger)
}

func newS3Storage(config interfaces.StorageConfig, logger *logrus.Logger) (*s3.S3Storage, error) {
	return s3.NewS3Storage(&s3.S3Config{
		Region:          metadataString(config.Metadata, "region"),
		Bucket:          config.Database,
		AccessKeyID:     config.Username,
		SecretAccessKey: config.Password,
		Endpoint:        config.ConnectionString,
		ForcePathStyle:  metadataBool(config.Metadata, "force_path_style"),
		DisableSSL:      metadataBool(config.Metadata, "disable_ssl"),
		Prefix:          config.KeyPrefix,
		Timeout:         config.Timeout,
		UseCompression:  metadataBool(config.Metadata, "use_compression"),
	}, logger)
}

// Metadata values arrive as native types from YAML and as strings from
// environment variables.

func metadataString(metadata map[string]interface{}, key string) string {
	value, ok := metadata[key]
	if !ok || value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", value)
}

func metadataBool(metadata map[string]interface{}, key string) bool {
	switch value := metadata[key].(type) {
	case bool:
		return value
	case string:
		b, _ := strconv.ParseBool(value)
		return b
	default:
		return false
	}
}

func metadataInt(metadata map[string]interface{}, key string) int {
	switch value := metadata[key].(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	case string:
		i, _ := strconv.Atoi(value)
		return i
	default:
		return 0
	}
}
