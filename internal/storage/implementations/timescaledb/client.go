package timescaledb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/interfaces"
	"github.com/inferloop/tsforecast/pkg/models"
)

// TimescaleDBConfig holds configuration for TimescaleDB
type TimescaleDBConfig struct {
	DSN             string        `json:"dsn"` // takes precedence over the discrete fields
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Database        string        `json:"database"`
	Username        string        `json:"username"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	ConnectTimeout  time.Duration `json:"connect_timeout"`
	QueryTimeout    time.Duration `json:"query_timeout"`
	MaxConnections  int           `json:"max_connections"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`

	// ObservationsTable holds (time, category, value) rows.
	ObservationsTable string `json:"observations_table"`
	// ResultsTable receives stored analysis results.
	ResultsTable string `json:"results_table"`
	AutoMigrate  bool   `json:"auto_migrate"`
}

// TimescaleDBStorage reads observations from a hypertable and stores
// analysis results in a JSONB table.
type TimescaleDBStorage struct {
	config  *TimescaleDBConfig
	db      *sql.DB
	logger  *logrus.Logger
	mu      sync.RWMutex
	metrics *storageMetrics
	closed  bool
}

type storageMetrics struct {
	readOps    int64
	writeOps   int64
	errorCount int64
	startTime  time.Time
	mu         sync.RWMutex
}

// NewTimescaleDBStorage creates a new TimescaleDB storage instance
func NewTimescaleDBStorage(config *TimescaleDBConfig, logger *logrus.Logger) (*TimescaleDBStorage, error) {
	if config == nil {
		return nil, errors.NewConfigurationError(errors.CodeInvalidConfig, "TimescaleDB config cannot be nil")
	}

	if config.DSN == "" && config.Host == "" {
		return nil, errors.NewConfigurationError(errors.CodeInvalidConfig, "TimescaleDB DSN or host is required")
	}

	if logger == nil {
		logger = logrus.New()
	}

	if config.Port == 0 {
		config.Port = 5432
	}
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = constants.DefaultConnectionTimeout
	}
	if config.QueryTimeout == 0 {
		config.QueryTimeout = constants.DefaultStorageTimeout
	}
	if config.MaxConnections == 0 {
		config.MaxConnections = 10
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 2
	}
	if config.ObservationsTable == "" {
		config.ObservationsTable = "business_observations"
	}
	if config.ResultsTable == "" {
		config.ResultsTable = "analysis_results"
	}

	storage := &TimescaleDBStorage{
		config: config,
		logger: logger,
		metrics: &storageMetrics{
			startTime: time.Now(),
		},
	}

	return storage, nil
}

// Name returns the backend type
func (ts *TimescaleDBStorage) Name() string {
	return constants.StorageTypeTimescaleDB
}

// Connect establishes connection to TimescaleDB
func (ts *TimescaleDBStorage) Connect(ctx context.Context) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.db != nil {
		return nil // Already connected
	}

	db, err := sql.Open("postgres", ts.connectionString())
	if err != nil {
		return errors.WrapStorageError(err, "connect", ts.Name()).WithTarget(ts.target())
	}

	// Configure connection pool
	db.SetMaxOpenConns(ts.config.MaxConnections)
	db.SetMaxIdleConns(ts.config.MaxIdleConns)
	db.SetConnMaxLifetime(ts.config.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, ts.config.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return errors.WrapStorageError(err, "connect", ts.Name()).WithTarget(ts.target())
	}

	if ts.config.AutoMigrate {
		if err := ts.initializeSchema(pingCtx, db); err != nil {
			db.Close()
			return errors.WrapStorageError(err, "connect", ts.Name()).WithTarget(ts.config.ResultsTable)
		}
	}

	ts.db = db
	ts.closed = false

	ts.logger.WithFields(logrus.Fields{
		"target":   ts.target(),
		"database": ts.config.Database,
	}).Info("Connected to TimescaleDB")

	return nil
}

// Close closes the database connection
func (ts *TimescaleDBStorage) Close() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.closed || ts.db == nil {
		return nil
	}

	err := ts.db.Close()
	ts.db = nil
	ts.closed = true

	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "CLOSE_FAILED", "Failed to close database connection")
	}

	ts.logger.Info("TimescaleDB connection closed")
	return nil
}

// Ping tests the database connection
func (ts *TimescaleDBStorage) Ping(ctx context.Context) error {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	if ts.db == nil {
		return errors.NewStorageError("NOT_CONNECTED", "Database not connected")
	}

	if err := ts.db.PingContext(ctx); err != nil {
		ts.incrementErrorCount()
		return errors.WrapStorageError(err, "connect", ts.Name()).WithTarget(ts.target())
	}

	return nil
}

// Fetch selects observations for the requested metrics and range, ordered
// by time
func (ts *TimescaleDBStorage) Fetch(ctx context.Context, query *interfaces.ObservationQuery) ([]models.Observation, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	if ts.db == nil {
		return nil, errors.NewStorageError("NOT_CONNECTED", "Database not connected")
	}

	if query == nil {
		query = &interfaces.ObservationQuery{}
	}

	ctx, cancel := context.WithTimeout(ctx, ts.config.QueryTimeout)
	defer cancel()

	start := time.Now()
	statement, args := buildSelectQuery(ts.config.ObservationsTable, query)

	rows, err := ts.db.QueryContext(ctx, statement, args...)
	if err != nil {
		ts.incrementErrorCount()
		return nil, errors.WrapStorageError(err, "fetch", ts.Name()).
			WithTarget(ts.config.ObservationsTable).
			WithDuration(time.Since(start))
	}
	defer rows.Close()

	observations := make([]models.Observation, 0)
	for rows.Next() {
		var obs models.Observation
		if err := rows.Scan(&obs.Timestamp, &obs.Category, &obs.Value); err != nil {
			ts.incrementErrorCount()
			return nil, errors.WrapStorageError(err, "fetch", ts.Name()).WithTarget(ts.config.ObservationsTable)
		}
		obs.Timestamp = obs.Timestamp.UTC()
		observations = append(observations, obs)
	}
	if err := rows.Err(); err != nil {
		ts.incrementErrorCount()
		return nil, errors.WrapStorageError(err, "fetch", ts.Name()).WithTarget(ts.config.ObservationsTable)
	}

	ts.incrementReadOps()

	ts.logger.WithFields(logrus.Fields{
		"observations": len(observations),
		"duration":     time.Since(start),
	}).Debug("Fetched observations from TimescaleDB")

	return observations, nil
}

// Store upserts a result row keyed by the sink key
func (ts *TimescaleDBStorage) Store(ctx context.Context, key string, result *interfaces.StoredResult) error {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	if ts.db == nil {
		return errors.NewStorageError("NOT_CONNECTED", "Database not connected")
	}

	ctx, cancel := context.WithTimeout(ctx, ts.config.QueryTimeout)
	defer cancel()

	statement := fmt.Sprintf(`
		INSERT INTO %s (result_key, request_id, action, metrics, created_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (result_key) DO UPDATE SET
			request_id = EXCLUDED.request_id,
			action = EXCLUDED.action,
			metrics = EXCLUDED.metrics,
			created_at = EXCLUDED.created_at,
			payload = EXCLUDED.payload`, pq.QuoteIdentifier(ts.config.ResultsTable))

	_, err := ts.db.ExecContext(ctx, statement,
		key,
		result.RequestID,
		result.Action,
		pq.Array(result.Metrics),
		result.CreatedAt,
		payloadText(result.Payload),
	)
	if err != nil {
		ts.incrementErrorCount()
		return errors.WrapStorageError(err, "store", ts.Name()).WithTarget(ts.config.ResultsTable)
	}

	ts.incrementWriteOps()
	return nil
}

// Load reads a stored result row
func (ts *TimescaleDBStorage) Load(ctx context.Context, key string) (*interfaces.StoredResult, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	if ts.db == nil {
		return nil, errors.NewStorageError("NOT_CONNECTED", "Database not connected")
	}

	ctx, cancel := context.WithTimeout(ctx, ts.config.QueryTimeout)
	defer cancel()

	statement := fmt.Sprintf(`
		SELECT request_id, action, metrics, created_at, payload
		FROM %s WHERE result_key = $1`, pq.QuoteIdentifier(ts.config.ResultsTable))

	var result interfaces.StoredResult
	err := ts.db.QueryRowContext(ctx, statement, key).Scan(
		&result.RequestID,
		&result.Action,
		pq.Array(&result.Metrics),
		&result.CreatedAt,
		&result.Payload,
	)
	if err == sql.ErrNoRows {
		return nil, errors.NewStorageError("NOT_FOUND", fmt.Sprintf("Result '%s' not found", key))
	}
	if err != nil {
		ts.incrementErrorCount()
		return nil, errors.WrapStorageError(err, "fetch", ts.Name()).WithTarget(ts.config.ResultsTable)
	}

	ts.incrementReadOps()
	return &result, nil
}

// Stats returns operation counters
func (ts *TimescaleDBStorage) Stats() map[string]interface{} {
	ts.metrics.mu.RLock()
	defer ts.metrics.mu.RUnlock()

	return map[string]interface{}{
		"read_ops":    ts.metrics.readOps,
		"write_ops":   ts.metrics.writeOps,
		"error_count": ts.metrics.errorCount,
		"uptime":      time.Since(ts.metrics.startTime).String(),
	}
}

// buildSelectQuery renders the observation query. Metrics match categories
// by case-insensitive substring, like series building does.
func buildSelectQuery(table string, query *interfaces.ObservationQuery) (string, []interface{}) {
	var (
		conditions []string
		args       []interface{}
	)

	if !query.TimeRange.Start.IsZero() {
		args = append(args, query.TimeRange.Start)
		conditions = append(conditions, fmt.Sprintf("time >= $%d", len(args)))
	}
	if !query.TimeRange.End.IsZero() {
		args = append(args, query.TimeRange.End)
		conditions = append(conditions, fmt.Sprintf("time <= $%d", len(args)))
	}

	patterns := make([]string, 0, len(query.Metrics))
	for _, metric := range query.Metrics {
		metric = strings.TrimSpace(metric)
		if metric == "" {
			continue
		}
		patterns = append(patterns, "%"+escapeLike(metric)+"%")
	}
	if len(patterns) > 0 {
		args = append(args, pq.Array(patterns))
		conditions = append(conditions, fmt.Sprintf("category ILIKE ANY($%d)", len(args)))
	}

	statement := fmt.Sprintf("SELECT time, category, value FROM %s", pq.QuoteIdentifier(table))
	if len(conditions) > 0 {
		statement += " WHERE " + strings.Join(conditions, " AND ")
	}
	statement += " ORDER BY time ASC"
	if query.Limit > 0 {
		statement += fmt.Sprintf(" LIMIT %d", query.Limit)
	}

	return statement, args
}

// payloadText sends JSON as text; lib/pq would encode []byte as bytea.
func payloadText(payload []byte) string {
	if len(payload) == 0 {
		return "null"
	}
	return string(payload)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (ts *TimescaleDBStorage) connectionString() string {
	if ts.config.DSN != "" {
		return ts.config.DSN
	}

	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		ts.config.Host,
		ts.config.Port,
		ts.config.Username,
		ts.config.Password,
		ts.config.Database,
		ts.config.SSLMode,
		int(ts.config.ConnectTimeout/time.Second),
	)
}

// target identifies the server in logs and errors without credentials
func (ts *TimescaleDBStorage) target() string {
	if ts.config.DSN != "" {
		return "dsn"
	}
	return fmt.Sprintf("%s:%d", ts.config.Host, ts.config.Port)
}

func (ts *TimescaleDBStorage) initializeSchema(ctx context.Context, db *sql.DB) error {
	statement := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			result_key TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			action TEXT NOT NULL,
			metrics TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			payload JSONB NOT NULL
		)`, pq.QuoteIdentifier(ts.config.ResultsTable))

	if _, err := db.ExecContext(ctx, statement); err != nil {
		return err
	}

	ts.logger.WithField("table", ts.config.ResultsTable).Debug("Results table ready")
	return nil
}

// Helper methods for metrics

func (ts *TimescaleDBStorage) incrementReadOps() {
	ts.metrics.mu.Lock()
	ts.metrics.readOps++
	ts.metrics.mu.Unlock()
}

func (ts *TimescaleDBStorage) incrementWriteOps() {
	ts.metrics.mu.Lock()
	ts.metrics.writeOps++
	ts.metrics.mu.Unlock()
}

func (ts *TimescaleDBStorage) incrementErrorCount() {
	ts.metrics.mu.Lock()
	ts.metrics.errorCount++
	ts.metrics.mu.Unlock()
}
