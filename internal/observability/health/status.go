package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// HealthStatus represents the health status
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// CheckFunc probes one dependency
type CheckFunc func(ctx context.Context) error

// DetailsFunc reports extra state attached to a check result
type DetailsFunc func() map[string]interface{}

// HealthConfig configures health monitoring
type HealthConfig struct {
	Timeout time.Duration `json:"timeout"`
}

// HealthResult represents the result of a health check
type HealthResult struct {
	Status   HealthStatus           `json:"status"`
	Message  string                 `json:"message,omitempty"`
	Critical bool                   `json:"critical"`
	Duration time.Duration          `json:"duration"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

// SystemStatus represents overall system health
type SystemStatus struct {
	OverallStatus  HealthStatus            `json:"overall_status"`
	CheckResults   map[string]HealthResult `json:"check_results"`
	CriticalIssues []string                `json:"critical_issues,omitempty"`
	LastCheck      time.Time               `json:"last_check"`
	Uptime         time.Duration           `json:"uptime"`
}

type registeredCheck struct {
	check    CheckFunc
	details  DetailsFunc
	critical bool
}

// HealthMonitor runs registered dependency checks on demand. A failing
// critical check makes the system unhealthy, any other failure degrades it.
type HealthMonitor struct {
	logger    *logrus.Logger
	config    *HealthConfig
	mu        sync.RWMutex
	checks    map[string]registeredCheck
	startTime time.Time
}

// NewHealthMonitor creates a new health monitor
func NewHealthMonitor(config *HealthConfig, logger *logrus.Logger) *HealthMonitor {
	if config == nil {
		config = &HealthConfig{Timeout: 5 * time.Second}
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &HealthMonitor{
		logger:    logger,
		config:    config,
		checks:    make(map[string]registeredCheck),
		startTime: time.Now(),
	}
}

// RegisterCheck registers a new health check
func (hm *HealthMonitor) RegisterCheck(name string, critical bool, check CheckFunc) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.checks[name] = registeredCheck{check: check, critical: critical}
	hm.logger.WithField("check", name).Debug("Registered health check")
}

// RegisterCheckWithDetails registers a check whose results also carry the
// output of details
func (hm *HealthMonitor) RegisterCheckWithDetails(name string, critical bool, check CheckFunc, details DetailsFunc) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.checks[name] = registeredCheck{check: check, details: details, critical: critical}
	hm.logger.WithField("check", name).Debug("Registered health check")
}

// Check executes every registered check concurrently
func (hm *HealthMonitor) Check(ctx context.Context) *SystemStatus {
	hm.mu.RLock()
	checks := make(map[string]registeredCheck, len(hm.checks))
	for name, check := range hm.checks {
		checks[name] = check
	}
	hm.mu.RUnlock()

	var (
		wg      sync.WaitGroup
		resMu   sync.Mutex
		results = make(map[string]HealthResult, len(checks))
	)

	for name, check := range checks {
		wg.Add(1)
		go func(name string, check registeredCheck) {
			defer wg.Done()
			result := hm.executeCheck(ctx, name, check)
			resMu.Lock()
			results[name] = result
			resMu.Unlock()
		}(name, check)
	}
	wg.Wait()

	status := &SystemStatus{
		OverallStatus: StatusHealthy,
		CheckResults:  results,
		LastCheck:     time.Now(),
		Uptime:        time.Since(hm.startTime),
	}

	for name, result := range results {
		if result.Status != StatusUnhealthy {
			continue
		}
		if result.Critical {
			status.CriticalIssues = append(status.CriticalIssues, name)
			status.OverallStatus = StatusUnhealthy
		} else if status.OverallStatus == StatusHealthy {
			status.OverallStatus = StatusDegraded
		}
	}
	sort.Strings(status.CriticalIssues)

	return status
}

func (hm *HealthMonitor) executeCheck(ctx context.Context, name string, check registeredCheck) HealthResult {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, hm.config.Timeout)
	defer cancel()

	result := HealthResult{
		Status:   StatusHealthy,
		Critical: check.critical,
	}
	if err := check.check(checkCtx); err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()

		hm.logger.WithFields(logrus.Fields{
			"check":    name,
			"critical": check.critical,
		}).WithError(err).Warn("Health check failed")
	}
	if check.details != nil {
		result.Details = check.details()
	}
	result.Duration = time.Since(start)

	return result
}
