package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/pkg/models"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job is one run of a schedule. The ID doubles as the result key in the sink.
type Job struct {
	ID        string
	Schedule  string
	Status    JobStatus
	Request   *models.AnalysisRequest
	CreatedAt time.Time
	Attempts  int
	Error     string
}

// Scheduler enqueues a job for every schedule whose next run time has passed
type Scheduler struct {
	config   *WorkerConfig
	logger   *logrus.Logger
	jobQueue chan *Job
	nextRun  map[string]time.Time
	now      func() time.Time
	mu       sync.RWMutex
	stopped  bool
	stopOnce sync.Once
}

func NewScheduler(config *WorkerConfig, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}

	return &Scheduler{
		config:   config,
		logger:   logger,
		jobQueue: make(chan *Job, config.QueueSize),
		nextRun:  make(map[string]time.Time),
		now:      time.Now,
	}
}

// Start enqueues every schedule once, then checks due schedules on each
// tick. In run-once mode the queue is closed after the first pass.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.WithField("schedules", len(s.config.Schedules)).Info("Scheduler started")

	s.enqueueDue(s.now())
	if s.config.RunOnce {
		s.Stop()
		return
	}

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopping due to context cancellation")
			s.Stop()
			return
		case <-ticker.C:
			s.mu.RLock()
			stopped := s.stopped
			s.mu.RUnlock()

			if stopped {
				s.logger.Info("Scheduler stopped")
				return
			}

			s.enqueueDue(s.now())
		}
	}
}

// Stop closes the job queue; workers drain what is left and exit
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		s.stopped = true
		close(s.jobQueue)
		s.logger.Info("Scheduler stop requested")
	})
}

func (s *Scheduler) GetJobQueue() <-chan *Job {
	return s.jobQueue
}

// enqueueDue queues the schedules due at now. A schedule whose job does not
// fit in the queue keeps its due time and is retried on the next tick.
// Nothing is queued once the scheduler has stopped.
func (s *Scheduler) enqueueDue(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return 0
	}

	queued := 0
	for i := range s.config.Schedules {
		schedule := &s.config.Schedules[i]
		if next, ok := s.nextRun[schedule.Name]; ok && now.Before(next) {
			continue
		}

		job := &Job{
			ID:        fmt.Sprintf("%s-%s", schedule.Name, uuid.New().String()),
			Schedule:  schedule.Name,
			Status:    JobStatusPending,
			Request:   schedule.Request(now),
			CreatedAt: now,
		}

		select {
		case s.jobQueue <- job:
			s.nextRun[schedule.Name] = now.Add(schedule.Interval)
			queued++
			s.logger.WithFields(logrus.Fields{
				"jobID":    job.ID,
				"schedule": schedule.Name,
				"action":   schedule.Action,
			}).Debug("Job queued")
		default:
			s.logger.WithField("schedule", schedule.Name).Warn("Job queue is full")
			return queued
		}
	}

	if queued > 0 {
		s.logger.WithField("count", queued).Info("Scheduled jobs queued")
	}
	return queued
}

// NextRun returns when the named schedule is next due
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	next, ok := s.nextRun[name]
	return next, ok
}
