/*
Package stresstest drives the task type scenario with concurrent virtual users.

# Overview

The stresstest package implements the load side of taskload:
  - A pool of virtual users (VUs), each running iterations back to back
  - Staggered VU start over a ramp-up window
  - Iteration count and/or duration bounds
  - Per-check pass/fail aggregation and latency percentiles
  - A per-request breakdown (create, get, list, delete) via analytics
  - Thresholds that decide whether the run failed
  - SQLite persistence of runs, iterations, checks and request stats

# Architecture

1. Config (config.go): run configuration and validation
2. Executor (executor.go): VU pool, scheduler and result collector
3. Stats (stats.go): counters and percentiles
4. Thresholds (thresholds.go): expr-lang expressions over the summary
5. Manager (manager.go): database operations

# Executor Design

Every VU is a goroutine in an errgroup. The scheduler feeds iteration
numbers into a channel; a VU takes one, calls Iterator.Iterate and hands
the scenario.Iteration to the collector. The collector updates Stats and
batches iteration rows for the database.

An iteration aborted by a transport or decode failure counts as an
iteration error and never stops the run. An iteration whose requests were
cut by the end of the run is dropped.

# Thresholds

	checks > 0.99
	iteration_p95 < 800
	check("validate page") == 1
	request_p95("create") < 200
	iteration_errors == 0

A run with a failing threshold is marked "failed".

# Example Usage

	manager, err := NewManager(dbPath)
	if err != nil {
		return err
	}
	defer manager.Close()

	thresholds, err := CompileThresholds([]string{"checks == 1"})
	if err != nil {
		return err
	}

	executor, err := NewExecutor(&ExecutionConfig{
		Runner:     runner,
		Config:     &Config{Name: "smoke", VUs: 10, Iterations: 200},
		Thresholds: thresholds,
	}, manager)
	if err != nil {
		return err
	}

	executor.Start()
	err = executor.Wait()

	run := executor.GetRun()
	fmt.Printf("%d iterations, p95 %dms\n", run.IterationsCompleted, run.P95DurationMs)

# Cancellation

Runs end on:
  - All iterations done
  - Duration elapsed (DurationSec)
  - Stop/StopWithContext

Cancelling a run stops new iterations only. Iterations already running are
detached from the cancellation and get GracefulStopSec (default 30s) to
finish, so that the task types they created are deleted. Iterations still
running after that are cut and dropped.
*/
package stresstest
