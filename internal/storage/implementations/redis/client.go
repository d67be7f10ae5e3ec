package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/interfaces"
)

// RedisConfig holds configuration for the Redis result sink
type RedisConfig struct {
	Addr         string        `json:"addr"`
	Password     string        `json:"password"`
	DB           int           `json:"db"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	PoolSize     int           `json:"pool_size"`
	MinIdleConns int           `json:"min_idle_conns"`
	MaxRetries   int           `json:"max_retries"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	TTL          time.Duration `json:"ttl"`
	KeyPrefix    string        `json:"key_prefix"`
	IndexMaxLen  int64         `json:"index_max_len"`
}

// RedisStorage stores analysis results as JSON strings with a TTL and keeps
// a sorted-set index of result keys by creation time.
type RedisStorage struct {
	config  *RedisConfig
	client  redis.UniversalClient
	logger  *logrus.Logger
	mu      sync.RWMutex
	metrics *storageMetrics
	closed  bool
}

type storageMetrics struct {
	readOps    int64
	writeOps   int64
	errorCount int64
	hitCount   int64
	missCount  int64
	startTime  time.Time
	mu         sync.RWMutex
}

// NewRedisStorage creates a new Redis storage instance
func NewRedisStorage(config *RedisConfig, logger *logrus.Logger) (*RedisStorage, error) {
	if config == nil {
		return nil, errors.NewConfigurationError(errors.CodeInvalidConfig, "Redis config cannot be nil")
	}

	if config.Addr == "" {
		return nil, errors.NewConfigurationError(errors.CodeInvalidConfig, "Redis address is required")
	}

	if logger == nil {
		logger = logrus.New()
	}

	if config.IndexMaxLen <= 0 {
		config.IndexMaxLen = 10000
	}

	storage := &RedisStorage{
		config: config,
		logger: logger,
		metrics: &storageMetrics{
			startTime: time.Now(),
		},
	}

	return storage, nil
}

// Name returns the backend type
func (r *RedisStorage) Name() string {
	return constants.StorageTypeRedis
}

// Connect establishes connection to Redis
func (r *RedisStorage) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return nil // Already connected
	}

	client := redis.NewClient(&redis.Options{
		Addr:         r.config.Addr,
		Password:     r.config.Password,
		DB:           r.config.DB,
		DialTimeout:  r.config.DialTimeout,
		ReadTimeout:  r.config.ReadTimeout,
		WriteTimeout: r.config.WriteTimeout,
		PoolSize:     r.config.PoolSize,
		MinIdleConns: r.config.MinIdleConns,
		MaxRetries:   r.config.MaxRetries,
		IdleTimeout:  r.config.IdleTimeout,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return errors.WrapStorageError(err, "connect", r.Name()).WithTarget(r.config.Addr)
	}

	r.client = client
	r.closed = false

	r.logger.WithFields(logrus.Fields{
		"addr": r.config.Addr,
		"db":   r.config.DB,
		"ttl":  r.config.TTL,
	}).Info("Connected to Redis")

	return nil
}

// Close closes the Redis connection
func (r *RedisStorage) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	if r.client != nil {
		err := r.client.Close()
		r.client = nil
		r.closed = true

		if err != nil {
			return errors.WrapError(err, errors.ErrorTypeStorage, "CLOSE_FAILED", "Failed to close Redis connection")
		}
	}

	r.logger.Info("Redis connection closed")
	return nil
}

// Ping tests the Redis connection
func (r *RedisStorage) Ping(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed || r.client == nil {
		return errors.NewStorageError("NOT_CONNECTED", "Redis not connected")
	}

	if _, err := r.client.Ping(ctx).Result(); err != nil {
		r.incrementErrorCount()
		return errors.WrapStorageError(err, "connect", r.Name()).WithTarget(r.config.Addr)
	}

	return nil
}

// Store writes the result under the prefixed key with the configured TTL
func (r *RedisStorage) Store(ctx context.Context, key string, result *interfaces.StoredResult) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed || r.client == nil {
		return errors.NewStorageError("NOT_CONNECTED", "Redis not connected")
	}

	start := time.Now()
	defer func() {
		r.incrementWriteOps()
		r.logger.WithField("duration", time.Since(start)).Debug("Store operation completed")
	}()

	data, err := json.Marshal(result)
	if err != nil {
		r.incrementErrorCount()
		return errors.WrapStorageError(err, "store", r.Name()).WithTarget(key)
	}

	resultKey := r.generateResultKey(key)
	indexKey := r.generateIndexKey()

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, resultKey, data, r.config.TTL)
	pipe.ZAdd(ctx, indexKey, &redis.Z{
		Score:  float64(result.CreatedAt.UnixNano()),
		Member: key,
	})
	// keep only the newest IndexMaxLen entries
	pipe.ZRemRangeByRank(ctx, indexKey, 0, -r.config.IndexMaxLen-1)

	if _, err := pipe.Exec(ctx); err != nil {
		r.incrementErrorCount()
		return errors.WrapStorageError(err, "store", r.Name()).
			WithTarget(resultKey).
			WithDuration(time.Since(start))
	}

	return nil
}

// Load reads a stored result. Expired or unknown keys are NOT_FOUND.
func (r *RedisStorage) Load(ctx context.Context, key string) (*interfaces.StoredResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed || r.client == nil {
		return nil, errors.NewStorageError("NOT_CONNECTED", "Redis not connected")
	}

	r.incrementReadOps()

	resultKey := r.generateResultKey(key)
	data, err := r.client.Get(ctx, resultKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			r.incrementMissCount()
			return nil, errors.NewStorageError("NOT_FOUND", fmt.Sprintf("Result '%s' not found", key))
		}
		r.incrementErrorCount()
		return nil, errors.WrapStorageError(err, "fetch", r.Name()).WithTarget(resultKey)
	}

	r.incrementHitCount()

	var result interfaces.StoredResult
	if err := json.Unmarshal(data, &result); err != nil {
		r.incrementErrorCount()
		return nil, errors.WrapStorageError(err, "fetch", r.Name()).WithTarget(resultKey)
	}

	return &result, nil
}

// Recent returns up to limit result keys, newest first. Keys whose result
// has expired are dropped from the index as they are found.
func (r *RedisStorage) Recent(ctx context.Context, limit int) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed || r.client == nil {
		return nil, errors.NewStorageError("NOT_CONNECTED", "Redis not connected")
	}

	if limit <= 0 {
		limit = 10
	}

	keys, err := r.client.ZRevRange(ctx, r.generateIndexKey(), 0, int64(limit-1)).Result()
	if err != nil {
		r.incrementErrorCount()
		return nil, errors.WrapStorageError(err, "fetch", r.Name())
	}

	live := make([]string, 0, len(keys))
	for _, key := range keys {
		exists, err := r.client.Exists(ctx, r.generateResultKey(key)).Result()
		if err != nil {
			return nil, errors.WrapStorageError(err, "fetch", r.Name())
		}
		if exists == 0 {
			r.client.ZRem(ctx, r.generateIndexKey(), key)
			continue
		}
		live = append(live, key)
	}

	return live, nil
}

// Stats returns operation counters
func (r *RedisStorage) Stats() map[string]interface{} {
	r.metrics.mu.RLock()
	defer r.metrics.mu.RUnlock()

	return map[string]interface{}{
		"read_ops":    r.metrics.readOps,
		"write_ops":   r.metrics.writeOps,
		"error_count": r.metrics.errorCount,
		"hit_count":   r.metrics.hitCount,
		"miss_count":  r.metrics.missCount,
		"uptime":      time.Since(r.metrics.startTime).String(),
	}
}

func (r *RedisStorage) generateResultKey(key string) string {
	return r.config.KeyPrefix + key
}

func (r *RedisStorage) generateIndexKey() string {
	return r.config.KeyPrefix + "index"
}

// Helper methods for metrics

func (r *RedisStorage) incrementReadOps() {
	r.metrics.mu.Lock()
	r.metrics.readOps++
	r.metrics.mu.Unlock()
}

func (r *RedisStorage) incrementWriteOps() {
	r.metrics.mu.Lock()
	r.metrics.writeOps++
	r.metrics.mu.Unlock()
}

func (r *RedisStorage) incrementErrorCount() {
	r.metrics.mu.Lock()
	r.metrics.errorCount++
	r.metrics.mu.Unlock()
}

func (r *RedisStorage) incrementHitCount() {
	r.metrics.mu.Lock()
	r.metrics.hitCount++
	r.metrics.mu.Unlock()
}

func (r *RedisStorage) incrementMissCount() {
	r.metrics.mu.Lock()
	r.metrics.missCount++
	r.metrics.mu.Unlock()
}
