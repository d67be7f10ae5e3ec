package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthMonitorNoChecks(t *testing.T) {
	monitor := NewHealthMonitor(nil, logrus.New())

	status := monitor.Check(context.Background())
	assert.Equal(t, StatusHealthy, status.OverallStatus)
	assert.Empty(t, status.CheckResults)
}

func TestHealthMonitorStatuses(t *testing.T) {
	failing := func(ctx context.Context) error { return errors.New("connection refused") }
	passing := func(ctx context.Context) error { return nil }

	tests := []struct {
		name     string
		critical bool
		check    CheckFunc
		expected HealthStatus
	}{
		{"passing critical", true, passing, StatusHealthy},
		{"failing non-critical", false, failing, StatusDegraded},
		{"failing critical", true, failing, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			monitor := NewHealthMonitor(nil, logrus.New())
			monitor.RegisterCheck("dependency", tt.critical, tt.check)
			monitor.RegisterCheck("engine", true, passing)

			status := monitor.Check(context.Background())
			assert.Equal(t, tt.expected, status.OverallStatus)
			require.Len(t, status.CheckResults, 2)
			if tt.expected == StatusUnhealthy {
				assert.Equal(t, []string{"dependency"}, status.CriticalIssues)
				assert.Equal(t, "connection refused", status.CheckResults["dependency"].Message)
			}
		})
	}
}

func TestHealthMonitorTimeout(t *testing.T) {
	monitor := NewHealthMonitor(&HealthConfig{Timeout: 20 * time.Millisecond}, logrus.New())
	monitor.RegisterCheck("slow", true, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	status := monitor.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, status.OverallStatus)
	assert.Contains(t, status.CheckResults["slow"].Message, "deadline exceeded")
}

func TestHealthMonitorCheckDetails(t *testing.T) {
	monitor := NewHealthMonitor(nil, logrus.New())
	calls := 0
	monitor.RegisterCheckWithDetails("cache", false, func(ctx context.Context) error { return nil },
		func() map[string]interface{} {
			calls++
			return map[string]interface{}{"read_ops": int64(calls)}
		})
	monitor.RegisterCheck("source", true, func(ctx context.Context) error { return nil })

	status := monitor.Check(context.Background())
	assert.Equal(t, map[string]interface{}{"read_ops": int64(1)}, status.CheckResults["cache"].Details)
	assert.Nil(t, status.CheckResults["source"].Details)

	status = monitor.Check(context.Background())
	assert.Equal(t, int64(2), status.CheckResults["cache"].Details["read_ops"])
}
