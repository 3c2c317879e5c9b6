package stresstest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/studiowebux/taskload/internal/scenario"
	"golang.org/x/sync/errgroup"
)

// IterationTask represents a single scenario iteration to be executed
type IterationTask struct {
	SequenceNum int
}

// IterationResult represents the result of a single iteration
type IterationResult struct {
	VU          int
	SequenceNum int
	ElapsedMs   int64
	Timestamp   time.Time
	Iteration   *scenario.Iteration
}

// Executor runs the scenario with a pool of virtual users
type Executor struct {
	config      *ExecutionConfig
	manager     *Manager
	run         *Run
	stats       *Stats
	logger      *slog.Logger
	ctx         context.Context
	cancelFunc  context.CancelFunc
	workers     errgroup.Group
	taskChan    chan *IterationTask
	resultChan  chan *IterationResult
	collected   chan struct{}
	closeOnce   sync.Once // Ensures resultChan is only closed once
	finalOnce   sync.Once
	finalErr    error
	testStart   time.Time
	statsMu     sync.Mutex
	started     int   // iterations handed to a VU
	activeVUs   int32 // VUs currently inside an iteration
	durationHit atomic.Bool
	metricsBuf  []*IterationMetric
	bufferSize  int
}

// NewExecutor creates a new executor. manager may be nil, in which case
// nothing is persisted.
func NewExecutor(config *ExecutionConfig, manager *Manager) (*Executor, error) {
	if config.Runner == nil {
		return nil, fmt.Errorf("invalid config: scenario runner is required")
	}
	if err := config.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	run := &Run{
		Name:      config.Config.Name,
		BaseURL:   config.Config.BaseURL,
		VUs:       config.Config.VUs,
		StartedAt: time.Now(),
		Status:    StatusRunning,
	}
	if manager != nil {
		if err := manager.CreateRun(run); err != nil {
			return nil, fmt.Errorf("failed to create run record: %w", err)
		}
	}

	stats := NewStats()
	stats.TotalIterations = config.Config.Iterations

	ctx, cancel := context.WithCancel(context.Background())

	return &Executor{
		config:     config,
		manager:    manager,
		run:        run,
		stats:      stats,
		logger:     logger.With("run", run.Name),
		ctx:        ctx,
		cancelFunc: cancel,
		taskChan:   make(chan *IterationTask, config.Config.VUs*2),
		resultChan: make(chan *IterationResult, config.Config.VUs*2),
		collected:  make(chan struct{}),
		metricsBuf: make([]*IterationMetric, 0, 100),
		bufferSize: 100,
	}, nil
}

// Start launches the virtual users, the scheduler and the collector
func (e *Executor) Start() {
	e.testStart = time.Now()
	e.logger.Info("run started",
		"vus", e.config.Config.VUs,
		"iterations", e.config.Config.Iterations,
		"duration", e.config.Config.GetTestDuration(),
		"base_url", e.config.Config.BaseURL)

	rampUp := e.config.Config.GetRampUpDuration()
	vus := e.config.Config.VUs
	for i := 0; i < vus; i++ {
		vu := i + 1
		// VU n starts after (n-1)/VUs of the ramp-up
		offset := rampUp * time.Duration(i) / time.Duration(vus)
		e.workers.Go(func() error {
			e.worker(vu, offset)
			return nil
		})
	}

	go e.collectResults()
	go e.scheduleIterations()

	if testDuration := e.config.Config.GetTestDuration(); testDuration > 0 {
		go e.durationTimer(testDuration)
	}
}

// durationTimer cancels the run after the specified duration
func (e *Executor) durationTimer(duration time.Duration) {
	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		e.durationHit.Store(true)
		e.cancelFunc()
	case <-e.ctx.Done():
	}
}

// Stop cancels the run and waits for the VUs to return. Iterations already
// running get the graceful stop period to finish.
func (e *Executor) Stop() {
	e.cancelFunc()
	e.workers.Wait()
	e.closeResultChan()
	<-e.collected
	e.finalize(StatusCancelled)
}

// StopWithContext cancels the run with a timeout
// Returns an error if cleanup doesn't complete within the context deadline
func (e *Executor) StopWithContext(ctx context.Context) error {
	e.cancelFunc()

	done := make(chan struct{})
	go func() {
		e.workers.Wait()
		e.closeResultChan()
		<-e.collected
		close(done)
	}()

	select {
	case <-done:
		e.finalize(StatusCancelled)
		return nil
	case <-ctx.Done():
		e.finalize(StatusCancelled)
		return ctx.Err()
	}
}

// closeResultChan safely closes the result channel (only once)
func (e *Executor) closeResultChan() {
	e.closeOnce.Do(func() {
		close(e.resultChan)
	})
}

// Wait blocks until every scheduled iteration finished or the duration
// elapsed, then finalizes the run
func (e *Executor) Wait() error {
	e.workers.Wait()
	e.closeResultChan()
	<-e.collected

	status := StatusCompleted
	e.statsMu.Lock()
	completed := e.stats.CompletedIterations
	e.statsMu.Unlock()

	total := e.config.Config.Iterations
	if total > 0 && completed < total && !e.durationHit.Load() {
		status = StatusCancelled
	}

	e.finalize(status)
	return e.finalErr
}

// GetStats returns a copy of the current statistics (thread-safe)
func (e *Executor) GetStats() *Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	statsCopy := &Stats{
		TotalIterations:     e.config.Config.Iterations,
		CompletedIterations: e.stats.CompletedIterations,
		ErrorCount:          e.stats.ErrorCount,
		FailedCount:         e.stats.FailedCount,
		SuccessCount:        e.stats.SuccessCount,
		ActiveVUs:           int(atomic.LoadInt32(&e.activeVUs)),
		TotalDurationMs:     e.stats.TotalDurationMs,
		MinDurationMs:       e.stats.MinDurationMs,
		MaxDurationMs:       e.stats.MaxDurationMs,
		Durations:           make([]int64, len(e.stats.Durations)),
		HTTPDurations:       make([]int64, len(e.stats.HTTPDurations)),
		Checks:              e.stats.Checks,
		Requests:            e.stats.Requests,
	}
	copy(statsCopy.Durations, e.stats.Durations)
	copy(statsCopy.HTTPDurations, e.stats.HTTPDurations)

	return statsCopy
}

// GetRun returns the current run record
func (e *Executor) GetRun() *Run {
	return e.run
}

// IsExecutionComplete returns true if all iterations have been processed or context cancelled
func (e *Executor) IsExecutionComplete() bool {
	select {
	case <-e.ctx.Done():
		return true
	default:
	}

	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	total := e.config.Config.Iterations
	return total > 0 && e.stats.CompletedIterations >= total
}

// worker is one virtual user: it runs iterations back to back until the
// task channel closes or the run is cancelled
func (e *Executor) worker(vu int, startOffset time.Duration) {
	if startOffset > 0 {
		timer := time.NewTimer(startOffset)
		select {
		case <-e.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	for {
		select {
		case <-e.ctx.Done():
			return
		case task, ok := <-e.taskChan:
			if !ok || e.ctx.Err() != nil {
				return
			}

			e.statsMu.Lock()
			e.started++
			e.statsMu.Unlock()

			atomic.AddInt32(&e.activeVUs, 1)
			iterCtx, cancel := e.iterationContext()
			it := e.config.Runner.Iterate(iterCtx)
			cut := iterCtx.Err() != nil
			cancel()
			elapsed := time.Since(e.testStart)
			atomic.AddInt32(&e.activeVUs, -1)

			// Iterations cut short by the graceful stop are not results
			if it.Err != nil && cut && errors.Is(it.Err, scenario.ErrTransport) {
				return
			}

			result := &IterationResult{
				VU:          vu,
				SequenceNum: task.SequenceNum,
				ElapsedMs:   elapsed.Milliseconds(),
				Timestamp:   time.Now(),
				Iteration:   it,
			}

			// The collector drains until every VU has returned
			e.resultChan <- result
		}
	}
}

// iterationContext detaches an iteration from the run's cancellation so
// that a task type created before the end of the run is still verified and
// deleted. Once the run is cancelled the iteration has the graceful stop
// period left.
func (e *Executor) iterationContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(e.ctx))
	grace := e.config.Config.GetGracefulStop()

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-e.ctx.Done():
		}
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			cancel()
		}
	}()

	return ctx, cancel
}

// scheduleIterations feeds the VUs, forever when only a duration bounds
// the run
func (e *Executor) scheduleIterations() {
	defer close(e.taskChan)

	total := e.config.Config.Iterations
	for i := 0; total == 0 || i < total; i++ {
		select {
		case <-e.ctx.Done():
			return
		case e.taskChan <- &IterationTask{SequenceNum: i}:
		}
	}
}

// collectResults collects and processes iteration results
func (e *Executor) collectResults() {
	defer close(e.collected)

	for result := range e.resultChan {
		it := result.Iteration

		e.statsMu.Lock()
		e.stats.AddIteration(it)
		e.statsMu.Unlock()

		metric := &IterationMetric{
			RunID:       e.run.ID,
			VU:          result.VU,
			SequenceNum: result.SequenceNum,
			Timestamp:   result.Timestamp,
			ElapsedMs:   result.ElapsedMs,
			DurationMs:  it.Duration.Milliseconds(),
			Requests:    len(it.Requests),
		}
		for _, c := range it.Checks {
			if c.Passed {
				metric.ChecksPassed++
			} else {
				metric.ChecksFailed++
			}
		}
		if it.Err != nil {
			metric.ErrorMessage = it.Err.Error()
			e.logger.Warn("iteration aborted", "vu", result.VU, "iteration", result.SequenceNum, "error", it.Err)
		}

		if e.manager == nil {
			continue
		}
		e.metricsBuf = append(e.metricsBuf, metric)
		if len(e.metricsBuf) >= e.bufferSize {
			e.flushMetrics()
		}
	}

	e.flushMetrics()
}

// flushMetrics writes buffered iteration metrics to the database
func (e *Executor) flushMetrics() {
	if len(e.metricsBuf) == 0 {
		return
	}

	if err := e.manager.SaveIterationsBatch(e.metricsBuf); err != nil {
		e.logger.Error("failed to save iteration metrics", "error", err)
	}

	e.metricsBuf = e.metricsBuf[:0]
}

// finalize completes the run record with final statistics, evaluates the
// thresholds and persists everything. Only the first call has an effect.
func (e *Executor) finalize(status string) {
	e.finalOnce.Do(func() {
		e.finalErr = e.doFinalize(status)
	})
}

func (e *Executor) doFinalize(status string) error {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	thresholds := EvaluateThresholds(e.config.Thresholds, e.stats)
	for _, t := range thresholds {
		t.RunID = e.run.ID
		if !t.Passed {
			status = StatusFailed
			e.logger.Warn("threshold failed", "threshold", t.Expression, "error", t.Error)
		}
	}

	passes, fails := e.stats.Checks.Totals()
	counts := e.stats.Checks.Counts()
	checks := make([]*CheckAggregate, 0, len(counts))
	for _, c := range counts {
		checks = append(checks, &CheckAggregate{
			RunID:      e.run.ID,
			Group:      c.Group,
			Name:       c.Name,
			Passes:     c.Passes,
			Fails:      c.Fails,
			LastDetail: c.LastDetail,
		})
	}

	now := time.Now()
	e.run.CompletedAt = &now
	e.run.Status = status
	e.run.IterationsStarted = e.started
	e.run.IterationsCompleted = e.stats.CompletedIterations
	e.run.IterationErrors = e.stats.ErrorCount
	e.run.ChecksPassed = passes
	e.run.ChecksFailed = fails
	e.run.AvgDurationMs = e.stats.AvgDurationMs()
	e.run.MinDurationMs = e.stats.Min()
	e.run.MaxDurationMs = e.stats.Max()
	e.run.P50DurationMs = e.stats.P50()
	e.run.P95DurationMs = e.stats.P95()
	e.run.P99DurationMs = e.stats.P99()
	e.run.HTTPRequests = len(e.stats.HTTPDurations)
	e.run.HTTPReqP95Ms = e.stats.HTTPPercentile(95)
	e.run.Checks = checks
	e.run.Requests = e.stats.Requests.Stats(e.run.ID)
	e.run.Thresholds = thresholds

	e.logger.Info("run finished",
		"status", status,
		"iterations", e.run.IterationsCompleted,
		"iteration_errors", e.run.IterationErrors,
		"checks_passed", passes,
		"checks_failed", fails,
		"elapsed", time.Since(e.testStart).Round(time.Millisecond))

	if e.manager == nil {
		return nil
	}
	if err := e.manager.UpdateRun(e.run); err != nil {
		e.logger.Error("failed to update run record", "error", err)
		return err
	}
	if err := e.manager.SaveChecks(e.run.ID, checks); err != nil {
		e.logger.Error("failed to save check results", "error", err)
		return err
	}
	if err := e.manager.SaveThresholds(e.run.ID, thresholds); err != nil {
		e.logger.Error("failed to save threshold results", "error", err)
		return err
	}
	if err := e.manager.SaveRequestStats(e.run.ID, e.run.Requests); err != nil {
		e.logger.Error("failed to save request stats", "error", err)
		return err
	}
	return nil
}
