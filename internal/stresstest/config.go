package stresstest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/studiowebux/taskload/internal/analytics"
	"github.com/studiowebux/taskload/internal/scenario"
)

const (
	MaxVUs         = 1000
	MaxIterations  = 1000000
	DefaultTimeout = 10 * time.Second

	// DefaultGracefulStop bounds how long in-flight iterations may keep
	// running once the run is cancelled
	DefaultGracefulStop = 30 * time.Second
)

// Run statuses
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// Config represents a load run configuration
type Config struct {
	Name              string
	BaseURL           string
	VUs               int
	Iterations        int // total across VUs, 0 means until the duration elapses
	DurationSec       int
	RampUpSec         int
	RequestTimeoutSec int // Timeout for individual requests (default: 10s)
	GracefulStopSec   int // Time left to in-flight iterations after cancel (default: 30s)
}

// Run represents a load run record
type Run struct {
	ID                  int64
	Name                string
	BaseURL             string
	VUs                 int
	StartedAt           time.Time
	CompletedAt         *time.Time
	Status              string // "running", "completed", "cancelled", "failed"
	IterationsStarted   int
	IterationsCompleted int
	IterationErrors     int
	ChecksPassed        int
	ChecksFailed        int
	AvgDurationMs       float64
	MinDurationMs       int64
	MaxDurationMs       int64
	P50DurationMs       int64
	P95DurationMs       int64
	P99DurationMs       int64
	HTTPRequests        int
	HTTPReqP95Ms        int64

	// Loaded by GetRunDetails and filled on finalize
	Checks     []*CheckAggregate
	Thresholds []*ThresholdResult
	Requests   []*analytics.Stats
}

// IterationMetric is the persisted outcome of one iteration
type IterationMetric struct {
	ID           int64
	RunID        int64
	VU           int
	SequenceNum  int
	Timestamp    time.Time
	ElapsedMs    int64
	DurationMs   int64
	Requests     int
	ChecksPassed int
	ChecksFailed int
	ErrorMessage string
}

// CheckAggregate holds the pass/fail counters of one check for a run
type CheckAggregate struct {
	RunID      int64
	Group      string
	Name       string
	Passes     int
	Fails      int
	LastDetail string
}

// Rate returns the share of passing evaluations
func (c *CheckAggregate) Rate() float64 {
	total := c.Passes + c.Fails
	if total == 0 {
		return 0
	}
	return float64(c.Passes) / float64(total)
}

// Iterator runs one scenario iteration; scenario.Runner implements it
type Iterator interface {
	Iterate(ctx context.Context) *scenario.Iteration
}

// ExecutionConfig contains the runtime configuration for executing a run
type ExecutionConfig struct {
	Runner     Iterator
	Config     *Config
	Thresholds []*Threshold
	Logger     *slog.Logger
}

// Validate validates the run configuration
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("run name is required")
	}
	if c.VUs <= 0 {
		return fmt.Errorf("virtual users must be greater than 0")
	}
	if c.VUs > MaxVUs {
		return fmt.Errorf("virtual users cannot exceed %d", MaxVUs)
	}
	if c.Iterations < 0 {
		return fmt.Errorf("iterations cannot be negative")
	}
	if c.Iterations > MaxIterations {
		return fmt.Errorf("iterations cannot exceed 1,000,000")
	}
	if c.DurationSec < 0 {
		return fmt.Errorf("duration cannot be negative")
	}
	if c.Iterations == 0 && c.DurationSec == 0 {
		return fmt.Errorf("either iterations or duration must be set")
	}
	if c.RampUpSec < 0 {
		return fmt.Errorf("ramp-up duration cannot be negative")
	}
	if c.RequestTimeoutSec < 0 {
		return fmt.Errorf("request timeout cannot be negative")
	}
	if c.GracefulStopSec < 0 {
		return fmt.Errorf("graceful stop cannot be negative")
	}
	return nil
}

// GetRampUpDuration returns the ramp-up duration as time.Duration
func (c *Config) GetRampUpDuration() time.Duration {
	return time.Duration(c.RampUpSec) * time.Second
}

// GetTestDuration returns the run duration, 0 when unlimited
func (c *Config) GetTestDuration() time.Duration {
	if c.DurationSec == 0 {
		return 0
	}
	return time.Duration(c.DurationSec) * time.Second
}

// GetRequestTimeout returns the request timeout as time.Duration
func (c *Config) GetRequestTimeout() time.Duration {
	if c.RequestTimeoutSec == 0 {
		return DefaultTimeout
	}
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// GetGracefulStop returns the graceful stop period as time.Duration
func (c *Config) GetGracefulStop() time.Duration {
	if c.GracefulStopSec == 0 {
		return DefaultGracefulStop
	}
	return time.Duration(c.GracefulStopSec) * time.Second
}

// IsRunning returns true if the run is currently in progress
func (r *Run) IsRunning() bool {
	return r.Status == StatusRunning
}

// IsCompleted returns true if the run has finished
func (r *Run) IsCompleted() bool {
	return r.Status == StatusCompleted || r.Status == StatusCancelled || r.Status == StatusFailed
}

// ThresholdsPassed reports whether every recorded threshold held
func (r *Run) ThresholdsPassed() bool {
	for _, t := range r.Thresholds {
		if !t.Passed {
			return false
		}
	}
	return true
}
