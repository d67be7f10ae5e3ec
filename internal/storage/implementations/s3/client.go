package s3

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/internal/storage/codec"
	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/interfaces"
	"github.com/inferloop/tsforecast/pkg/models"
)

const (
	observationsDir = "observations"
	resultsDir      = "results"
)

// S3Config holds configuration for S3 storage
type S3Config struct {
	Region          string        `json:"region"`
	Bucket          string        `json:"bucket"`
	AccessKeyID     string        `json:"access_key_id"`
	SecretAccessKey string        `json:"secret_access_key"`
	SessionToken    string        `json:"session_token,omitempty"`
	Endpoint        string        `json:"endpoint,omitempty"`
	ForcePathStyle  bool          `json:"force_path_style"`
	DisableSSL      bool          `json:"disable_ssl"`
	Prefix          string        `json:"prefix"`
	Timeout         time.Duration `json:"timeout"`
	MaxRetries      int           `json:"max_retries"`
	PartSize        int64         `json:"part_size"`
	UseCompression  bool          `json:"use_compression"`
}

// S3Storage reads observation exports from a bucket prefix and writes
// analysis results as JSON objects.
type S3Storage struct {
	config   *S3Config
	s3Client *s3.S3
	uploader *s3manager.Uploader
	logger   *logrus.Logger
	mu       sync.RWMutex
	metrics  *storageMetrics
	closed   bool
}

type storageMetrics struct {
	readOps      int64
	writeOps     int64
	errorCount   int64
	bytesRead    int64
	bytesWritten int64
	startTime    time.Time
	mu           sync.RWMutex
}

// NewS3Storage creates a new S3 storage instance
func NewS3Storage(config *S3Config, logger *logrus.Logger) (*S3Storage, error) {
	if config == nil {
		return nil, errors.NewConfigurationError(errors.CodeInvalidConfig, "S3 config cannot be nil")
	}

	if config.Bucket == "" {
		return nil, errors.NewConfigurationError(errors.CodeInvalidConfig, "S3 bucket is required")
	}

	if logger == nil {
		logger = logrus.New()
	}

	if config.Region == "" {
		config.Region = "us-east-1"
	}
	if config.Timeout == 0 {
		config.Timeout = constants.DefaultStorageTimeout
	}

	storage := &S3Storage{
		config: config,
		logger: logger,
		metrics: &storageMetrics{
			startTime: time.Now(),
		},
	}

	return storage, nil
}

// Name returns the backend type
func (s *S3Storage) Name() string {
	return constants.StorageTypeS3
}

// Connect establishes connection to S3
func (s *S3Storage) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.s3Client != nil {
		return nil // Already connected
	}

	awsConfig := &aws.Config{
		Region:     aws.String(s.config.Region),
		MaxRetries: aws.Int(s.config.MaxRetries),
	}

	if s.config.AccessKeyID != "" && s.config.SecretAccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			s.config.AccessKeyID,
			s.config.SecretAccessKey,
			s.config.SessionToken,
		)
	}

	// S3-compatible services
	if s.config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(s.config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(s.config.ForcePathStyle)
	}

	if s.config.DisableSSL {
		awsConfig.DisableSSL = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return errors.WrapStorageError(err, "connect", s.Name()).WithTarget(s.config.Bucket)
	}

	client := s3.New(sess)
	uploader := s3manager.NewUploaderWithClient(client)
	if s.config.PartSize > 0 {
		uploader.PartSize = s.config.PartSize
	}

	headCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	if _, err := client.HeadBucketWithContext(headCtx, &s3.HeadBucketInput{
		Bucket: aws.String(s.config.Bucket),
	}); err != nil {
		return errors.WrapStorageError(err, "connect", s.Name()).WithTarget(s.config.Bucket)
	}

	s.s3Client = client
	s.uploader = uploader
	s.closed = false

	s.logger.WithFields(logrus.Fields{
		"region": s.config.Region,
		"bucket": s.config.Bucket,
		"prefix": s.config.Prefix,
	}).Info("Connected to S3")

	return nil
}

// Close closes the S3 connection
func (s *S3Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.s3Client = nil
	s.uploader = nil
	s.closed = true

	s.logger.Info("S3 connection closed")
	return nil
}

// Ping tests the S3 connection
func (s *S3Storage) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.s3Client == nil {
		return errors.NewStorageError("NOT_CONNECTED", "S3 not connected")
	}

	if _, err := s.s3Client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.config.Bucket),
	}); err != nil {
		s.incrementErrorCount()
		return errors.WrapStorageError(err, "connect", s.Name()).WithTarget(s.config.Bucket)
	}

	return nil
}

// Fetch downloads every export under the observations prefix and applies
// the query to the decoded observations
func (s *S3Storage) Fetch(ctx context.Context, query *interfaces.ObservationQuery) ([]models.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.s3Client == nil {
		return nil, errors.NewStorageError("NOT_CONNECTED", "S3 not connected")
	}

	start := time.Now()
	keys, err := s.listExports(ctx)
	if err != nil {
		s.incrementErrorCount()
		return nil, errors.WrapStorageError(err, "fetch", s.Name()).WithTarget(s.generatePrefix(observationsDir))
	}

	var observations []models.Observation
	for _, key := range keys {
		data, err := s.getObject(ctx, key)
		if err != nil {
			s.incrementErrorCount()
			return nil, errors.WrapStorageError(err, "fetch", s.Name()).WithTarget(key)
		}

		decoded, err := codec.DecodeObservations(bytes.NewReader(data), codec.FormatFromPath(strings.TrimSuffix(key, ".gz")))
		if err != nil {
			s.incrementErrorCount()
			return nil, errors.WrapStorageError(err, "fetch", s.Name()).WithTarget(key)
		}
		observations = append(observations, decoded...)
	}

	s.incrementReadOps()
	filtered := codec.ApplyQuery(observations, query)

	s.logger.WithFields(logrus.Fields{
		"objects":      len(keys),
		"observations": len(filtered),
		"duration":     time.Since(start),
	}).Debug("Fetched observations from S3")

	return filtered, nil
}

// Store uploads a result as JSON, gzip-compressed when configured
func (s *S3Storage) Store(ctx context.Context, key string, result *interfaces.StoredResult) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.uploader == nil {
		return errors.NewStorageError("NOT_CONNECTED", "S3 not connected")
	}

	data, err := json.Marshal(result)
	if err != nil {
		return errors.WrapStorageError(err, "store", s.Name()).WithTarget(key)
	}

	objectKey := s.generateResultKey(key)
	input := &s3manager.UploadInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(objectKey),
		ContentType: aws.String(constants.ContentTypeJSON),
		Metadata: map[string]*string{
			"request-id": aws.String(result.RequestID),
			"action":     aws.String(result.Action),
		},
	}

	if s.config.UseCompression {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(data); err != nil {
			return errors.WrapStorageError(err, "store", s.Name()).WithTarget(objectKey)
		}
		if err := gz.Close(); err != nil {
			return errors.WrapStorageError(err, "store", s.Name()).WithTarget(objectKey)
		}
		data = buf.Bytes()
		input.ContentEncoding = aws.String("gzip")
	}
	input.Body = bytes.NewReader(data)

	if _, err := s.uploader.UploadWithContext(ctx, input); err != nil {
		s.incrementErrorCount()
		return errors.WrapStorageError(err, "store", s.Name()).WithTarget(objectKey)
	}

	s.incrementWriteOps()
	s.incrementBytesWritten(int64(len(data)))

	s.logger.WithFields(logrus.Fields{
		"key":  objectKey,
		"size": len(data),
	}).Debug("Stored result in S3")

	return nil
}

// Load downloads a stored result
func (s *S3Storage) Load(ctx context.Context, key string) (*interfaces.StoredResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.s3Client == nil {
		return nil, errors.NewStorageError("NOT_CONNECTED", "S3 not connected")
	}

	objectKey := s.generateResultKey(key)
	data, err := s.getObject(ctx, objectKey)
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, errors.NewStorageError("NOT_FOUND", fmt.Sprintf("Result '%s' not found", key))
		}
		s.incrementErrorCount()
		return nil, errors.WrapStorageError(err, "fetch", s.Name()).WithTarget(objectKey)
	}

	var result interfaces.StoredResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, errors.WrapStorageError(err, "fetch", s.Name()).WithTarget(objectKey)
	}

	s.incrementReadOps()
	return &result, nil
}

// Stats returns operation counters
func (s *S3Storage) Stats() map[string]interface{} {
	s.metrics.mu.RLock()
	defer s.metrics.mu.RUnlock()

	return map[string]interface{}{
		"read_ops":      s.metrics.readOps,
		"write_ops":     s.metrics.writeOps,
		"error_count":   s.metrics.errorCount,
		"bytes_read":    s.metrics.bytesRead,
		"bytes_written": s.metrics.bytesWritten,
		"uptime":        time.Since(s.metrics.startTime).String(),
	}
}

func (s *S3Storage) listExports(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.s3Client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.config.Bucket),
		Prefix: aws.String(s.generatePrefix(observationsDir)),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, object := range page.Contents {
			key := aws.StringValue(object.Key)
			if isExport(key) {
				keys = append(keys, key)
			}
		}
		return true
	})
	return keys, err
}

// getObject downloads an object, transparently gunzipping it
func (s *S3Storage) getObject(ctx context.Context, key string) ([]byte, error) {
	output, err := s.s3Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer output.Body.Close()

	var reader io.Reader = output.Body
	if aws.StringValue(output.ContentEncoding) == "gzip" || strings.HasSuffix(key, ".gz") {
		gz, err := gzip.NewReader(output.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	s.incrementBytesRead(int64(len(data)))
	return data, nil
}

func (s *S3Storage) generatePrefix(dir string) string {
	if s.config.Prefix != "" {
		return path.Join(s.config.Prefix, dir) + "/"
	}
	return dir + "/"
}

func (s *S3Storage) generateResultKey(key string) string {
	name := strings.NewReplacer(":", "_", "/", "_").Replace(key)
	return s.generatePrefix(resultsDir) + name + ".json"
}

func isExport(key string) bool {
	key = strings.ToLower(strings.TrimSuffix(key, ".gz"))
	return strings.HasSuffix(key, ".json") || strings.HasSuffix(key, ".csv")
}

// Helper methods for metrics

func (s *S3Storage) incrementReadOps() {
	s.metrics.mu.Lock()
	s.metrics.readOps++
	s.metrics.mu.Unlock()
}

func (s *S3Storage) incrementWriteOps() {
	s.metrics.mu.Lock()
	s.metrics.writeOps++
	s.metrics.mu.Unlock()
}

func (s *S3Storage) incrementErrorCount() {
	s.metrics.mu.Lock()
	s.metrics.errorCount++
	s.metrics.mu.Unlock()
}

func (s *S3Storage) incrementBytesRead(n int64) {
	s.metrics.mu.Lock()
	s.metrics.bytesRead += n
	s.metrics.mu.Unlock()
}

func (s *S3Storage) incrementBytesWritten(n int64) {
	s.metrics.mu.Lock()
	s.metrics.bytesWritten += n
	s.metrics.mu.Unlock()
}
