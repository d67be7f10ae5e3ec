package main

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/models"
)

// Analyzer runs one analysis and publishes its result under requestID
type Analyzer interface {
	Analyze(ctx context.Context, requestID string, req *models.AnalysisRequest) (interface{}, error)
}

type JobProcessor struct {
	config        *WorkerConfig
	logger        *logrus.Logger
	analyzer      Analyzer
	scheduler     *Scheduler
	activeJobs    int32
	completedJobs int64
	failedJobs    int64
	retriedJobs   int64
	wg            sync.WaitGroup
}

func NewJobProcessor(config *WorkerConfig, analyzer Analyzer, logger *logrus.Logger) *JobProcessor {
	if logger == nil {
		logger = logrus.New()
	}

	return &JobProcessor{
		config:   config,
		logger:   logger,
		analyzer: analyzer,
	}
}

// Start runs the worker pool until the job queue is closed or ctx is done
func (jp *JobProcessor) Start(ctx context.Context) {
	jp.logger.Info("Job processor started")

	for i := 0; i < jp.config.Concurrency; i++ {
		jp.wg.Add(1)
		go jp.worker(ctx, i)
	}

	jp.wg.Wait()
	jp.logger.Info("All workers stopped")
}

func (jp *JobProcessor) SetScheduler(scheduler *Scheduler) {
	jp.scheduler = scheduler
}

func (jp *JobProcessor) worker(ctx context.Context, workerID int) {
	defer jp.wg.Done()

	jp.logger.WithField("workerID", workerID).Debug("Worker started")

	for {
		select {
		case <-ctx.Done():
			jp.logger.WithField("workerID", workerID).Debug("Worker stopping")
			return
		case job, ok := <-jp.scheduler.GetJobQueue():
			if !ok {
				jp.logger.WithField("workerID", workerID).Debug("Job queue closed, worker stopping")
				return
			}

			jp.processJob(ctx, job, workerID)
		}
	}
}

func (jp *JobProcessor) processJob(ctx context.Context, job *Job, workerID int) {
	atomic.AddInt32(&jp.activeJobs, 1)
	defer atomic.AddInt32(&jp.activeJobs, -1)

	startTime := time.Now()
	logger := jp.logger.WithFields(logrus.Fields{
		"jobID":    job.ID,
		"schedule": job.Schedule,
		"action":   job.Request.Action,
		"workerID": workerID,
	})

	job.Status = JobStatusRunning
	logger.Debug("Processing job")

	var err error
	for {
		job.Attempts++
		err = jp.runOnce(ctx, job)
		if err == nil || !shouldRetry(err) || job.Attempts > jp.config.MaxRetries {
			break
		}

		atomic.AddInt64(&jp.retriedJobs, 1)
		logger.WithError(err).WithField("attempt", job.Attempts).Warn("Job failed, retrying")

		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(jp.config.RetryBackoff * time.Duration(job.Attempts)):
			continue
		}
		break
	}

	duration := time.Since(startTime)

	if err != nil {
		job.Status = JobStatusFailed
		job.Error = err.Error()
		atomic.AddInt64(&jp.failedJobs, 1)
		logger.WithError(err).WithFields(logrus.Fields{
			"duration": duration,
			"attempts": job.Attempts,
		}).Error("Job failed")
		return
	}

	job.Status = JobStatusCompleted
	atomic.AddInt64(&jp.completedJobs, 1)
	logger.WithField("duration", duration).Info("Job completed successfully")
}

func (jp *JobProcessor) runOnce(ctx context.Context, job *Job) error {
	if jp.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, jp.config.JobTimeout)
		defer cancel()
	}

	// the service fills defaults in place; each attempt gets a fresh copy
	req := *job.Request
	req.Metrics = append([]string(nil), job.Request.Metrics...)

	_, err := jp.analyzer.Analyze(ctx, job.ID, &req)
	return err
}

// shouldRetry reports whether err came from a backend that may recover.
// Validation and data errors fail the same way on every attempt.
func shouldRetry(err error) bool {
	var storageErr *errors.StorageError
	if stderrors.As(err, &storageErr) {
		return storageErr.ShouldRetry()
	}
	return stderrors.Is(err, context.DeadlineExceeded)
}

func (jp *JobProcessor) ActiveJobs() int32 {
	return atomic.LoadInt32(&jp.activeJobs)
}

func (jp *JobProcessor) CompletedJobs() int64 {
	return atomic.LoadInt64(&jp.completedJobs)
}

func (jp *JobProcessor) FailedJobs() int64 {
	return atomic.LoadInt64(&jp.failedJobs)
}

func (jp *JobProcessor) RetriedJobs() int64 {
	return atomic.LoadInt64(&jp.retriedJobs)
}
