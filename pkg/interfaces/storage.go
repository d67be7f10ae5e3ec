package interfaces

import (
	"context"
	"time"

	"github.com/inferloop/tsforecast/pkg/models"
)

// Storage defines the lifecycle shared by every storage backend
type Storage interface {
	// Connect establishes connection to the storage backend
	Connect(ctx context.Context) error

	// Close closes the connection and cleans up resources
	Close() error

	// Ping tests the connection
	Ping(ctx context.Context) error

	// Name returns the backend type, e.g. "influxdb"
	Name() string
}

// StatsReporter is implemented by backends that count their operations
type StatsReporter interface {
	Stats() map[string]interface{}
}

// ObservationSource supplies raw observations for analysis
type ObservationSource interface {
	Storage

	// Fetch returns observations for the queried metrics inside the time
	// range, in any order. Routing to metrics happens after the fetch.
	Fetch(ctx context.Context, query *ObservationQuery) ([]models.Observation, error)
}

// ResultSink persists analysis results
type ResultSink interface {
	Storage

	// Store writes the encoded result under key
	Store(ctx context.Context, key string, result *StoredResult) error

	// Load returns a previously stored result
	Load(ctx context.Context, key string) (*StoredResult, error)
}

// ObservationQuery selects observations from a source
type ObservationQuery struct {
	Metrics   []string         `json:"metrics"`
	TimeRange models.TimeRange `json:"time_range"`
	Limit     int              `json:"limit,omitempty"`
}

// StoredResult is the envelope written to a result sink
type StoredResult struct {
	RequestID string    `json:"request_id"`
	Action    string    `json:"action"`
	Metrics   []string  `json:"metrics"`
	CreatedAt time.Time `json:"created_at"`
	Payload   []byte    `json:"payload"`
}

// StorageFactory creates storage instances
type StorageFactory interface {
	// CreateSource creates an observation source of the given type
	CreateSource(config StorageConfig) (ObservationSource, error)

	// CreateSink creates a result sink of the given type
	CreateSink(config StorageConfig) (ResultSink, error)

	// GetSupportedTypes returns supported storage types
	GetSupportedTypes() []string

	// IsSupported checks if a storage type is supported
	IsSupported(storageType string) bool
}

// StorageConfig contains storage configuration
type StorageConfig struct {
	Type             string                 `json:"type" yaml:"type" mapstructure:"type"`
	ConnectionString string                 `json:"connection_string" yaml:"connection_string" mapstructure:"connection_string"`
	Database         string                 `json:"database,omitempty" yaml:"database,omitempty" mapstructure:"database"`
	Table            string                 `json:"table,omitempty" yaml:"table,omitempty" mapstructure:"table"`
	Username         string                 `json:"username,omitempty" yaml:"username,omitempty" mapstructure:"username"`
	Password         string                 `json:"password,omitempty" yaml:"password,omitempty" mapstructure:"password"`
	Timeout          time.Duration          `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	MaxConnections   int                    `json:"max_connections" yaml:"max_connections" mapstructure:"max_connections"`
	TTL              time.Duration          `json:"ttl,omitempty" yaml:"ttl,omitempty" mapstructure:"ttl"`
	KeyPrefix        string                 `json:"key_prefix,omitempty" yaml:"key_prefix,omitempty" mapstructure:"key_prefix"`
	Metadata         map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty" mapstructure:"metadata"`
}

// HealthStatus represents storage health status
type HealthStatus struct {
	Status    string        `json:"status"` // "healthy", "unhealthy"
	LastCheck time.Time     `json:"last_check"`
	Latency   time.Duration `json:"latency"`
	Errors    []string      `json:"errors,omitempty"`
}
