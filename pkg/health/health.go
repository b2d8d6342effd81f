package health

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/fleet/pkg/apierr"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeTCP  CheckType = "tcp"
	CheckTypeGRPC CheckType = "grpc"
)

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface that all health checkers must implement
type Checker interface {
	// Check performs the health check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of health check
	Type() CheckType
}

// Config controls how long a restarted server is waited for
type Config struct {
	// Interval is the time between health checks
	Interval time.Duration

	// Timeout bounds a single check
	Timeout time.Duration

	// Retries is the number of consecutive failures before giving up
	Retries int

	// StartPeriod is a grace period after a restart during which failures do not count
	StartPeriod time.Duration
}

// DefaultConfig returns the settings used while waiting for a restarted server
func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Second,
		Timeout:     10 * time.Second,
		Retries:     60,
		StartPeriod: 10 * time.Second,
	}
}

// Status tracks the health of one probed server across checks
type Status struct {
	// ConsecutiveFailures tracks the number of consecutive failed checks
	ConsecutiveFailures int

	// ConsecutiveSuccesses tracks the number of consecutive successful checks
	ConsecutiveSuccesses int

	// LastCheck is the timestamp of the last health check
	LastCheck time.Time

	// LastResult is the result of the last health check
	LastResult Result

	// Healthy indicates if the server is currently considered healthy
	Healthy bool

	// StartedAt is when probing started
	StartedAt time.Time
}

// NewStatus creates a Status for a server that is not yet known to be up
func NewStatus() *Status {
	return &Status{
		StartedAt: time.Now(),
	}
}

// Update updates the status based on a new health check result.
// Failures inside the start period are recorded but not counted.
func (s *Status) Update(result Result, config Config) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}

	s.ConsecutiveSuccesses = 0
	s.Healthy = false
	if !s.InStartPeriod(config) {
		s.ConsecutiveFailures++
	}
}

// Exhausted reports whether the failure budget of config is used up
func (s *Status) Exhausted(config Config) bool {
	return s.ConsecutiveFailures >= config.Retries
}

// InStartPeriod returns true if we're still in the startup grace period
func (s *Status) InStartPeriod(config Config) bool {
	if config.StartPeriod == 0 {
		return false
	}
	return time.Since(s.StartedAt) < config.StartPeriod
}

// WaitHealthy checks every config.Interval until checker reports healthy.
// It fails with a Timeout error naming the last result once config.Retries
// consecutive checks have failed, and with a Cancelled error if ctx ends first.
func WaitHealthy(ctx context.Context, checker Checker, config Config) (Result, error) {
	status := NewStatus()
	ticker := time.NewTicker(config.Interval)
	defer ticker.Stop()

	for {
		checkCtx, cancel := context.WithTimeout(ctx, config.Timeout)
		result := checker.Check(checkCtx)
		cancel()

		status.Update(result, config)
		if status.Healthy {
			return result, nil
		}
		if status.Exhausted(config) {
			return result, apierr.Timeoutf("%s check still failing after %d attempts: %s",
				checker.Type(), status.ConsecutiveFailures, result.Message)
		}

		select {
		case <-ctx.Done():
			return result, apierr.Cancelled(ctx.Err(), "waiting for %s check", checker.Type())
		case <-ticker.C:
		}
	}
}

func failed(start time.Time, format string, args ...interface{}) Result {
	return Result{
		Healthy:   false,
		Message:   fmt.Sprintf(format, args...),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}
