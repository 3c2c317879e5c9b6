// Package cli wires configuration, the scenario and the load executor
// into the taskload commands.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/studiowebux/taskload/internal/compare"
	"github.com/studiowebux/taskload/internal/config"
	"github.com/studiowebux/taskload/internal/executor"
	"github.com/studiowebux/taskload/internal/logging"
	"github.com/studiowebux/taskload/internal/report"
	"github.com/studiowebux/taskload/internal/scenario"
	"github.com/studiowebux/taskload/internal/stresstest"
	"github.com/studiowebux/taskload/internal/taskapi"
	"github.com/studiowebux/taskload/internal/types"
	"github.com/studiowebux/taskload/internal/version"
	"gopkg.in/yaml.v3"
)

const (
	// ExitThresholdsFailed is the process exit code when a threshold fails
	ExitThresholdsFailed = 99

	stopTimeout      = 5 * time.Second
	progressInterval = 2 * time.Second
)

// ErrThresholdsFailed is returned by Run when the run finished but at least
// one threshold did not hold
var ErrThresholdsFailed = errors.New("some thresholds have failed")

// RunOptions contains what a load run needs besides the configuration
type RunOptions struct {
	Config   *config.Options
	Stdout   io.Writer // run summary
	Stderr   io.Writer // progress lines and logs
	Progress bool
	Logger   *slog.Logger
}

// Run executes the scenario under load until the configured iterations or
// duration are exhausted, or ctx is cancelled. The finished run is returned
// even when thresholds fail.
func Run(ctx context.Context, opts RunOptions) (*stresstest.Run, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logOpts := cfg.Log
		logOpts.Output = opts.Stderr
		logger = logging.New(logOpts)
	}

	runner, err := NewScenarioRunner(cfg, logger)
	if err != nil {
		return nil, err
	}

	thresholds, err := stresstest.CompileThresholds(cfg.Thresholds)
	if err != nil {
		return nil, err
	}

	var manager *stresstest.Manager
	if cfg.Store {
		manager, err = stresstest.NewManager(cfg.ResolveDBPath())
		if err != nil {
			return nil, fmt.Errorf("failed to open run store: %w", err)
		}
		defer manager.Close()
	}

	exec, err := stresstest.NewExecutor(&stresstest.ExecutionConfig{
		Runner: runner,
		Config: &stresstest.Config{
			Name:              cfg.Name,
			BaseURL:           cfg.BaseURL,
			VUs:               cfg.VUs,
			Iterations:        cfg.Iterations,
			DurationSec:       ceilSeconds(cfg.Duration),
			RampUpSec:         ceilSeconds(cfg.RampUp),
			RequestTimeoutSec: ceilSeconds(cfg.Timeout),
			GracefulStopSec:   ceilSeconds(cfg.GracefulStop),
		},
		Thresholds: thresholds,
		Logger:     logger,
	}, manager)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	exec.Start()

	done := make(chan error, 1)
	go func() {
		done <- exec.Wait()
	}()

	var ticker <-chan time.Time
	if opts.Progress && opts.Stderr != nil {
		t := time.NewTicker(progressInterval)
		defer t.Stop()
		ticker = t.C
	}

	var waitErr error
loop:
	for {
		select {
		case waitErr = <-done:
			break loop
		case <-ticker:
			fmt.Fprintln(opts.Stderr, report.Progress(exec.GetStats(), time.Since(start)))
		case <-ctx.Done():
			logger.Warn("run interrupted, stopping virtual users")
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulStop+stopTimeout)
			waitErr = exec.StopWithContext(stopCtx)
			cancel()
			break loop
		}
	}

	run := exec.GetRun()
	if opts.Stdout != nil {
		fmt.Fprintln(opts.Stdout, report.Run(run))
	}
	if waitErr != nil {
		return run, waitErr
	}
	if !run.ThresholdsPassed() {
		return run, ErrThresholdsFailed
	}
	return run, nil
}

// NewScenarioRunner builds the HTTP client, the task manager client and the
// scenario runner from the configuration
func NewScenarioRunner(cfg *config.Options, logger *slog.Logger) (*scenario.Runner, error) {
	cmp, err := compare.ByName(cfg.Compare)
	if err != nil {
		return nil, err
	}

	tlsConfig := cfg.TLS
	var tlsOpt *types.TLSConfig
	if !tlsConfig.IsZero() {
		tlsOpt = &tlsConfig
	}

	client, err := executor.NewClient(executor.Options{
		BaseURL:   cfg.BaseURL,
		Timeout:   cfg.Timeout,
		MaxConns:  cfg.VUs,
		TLS:       tlsOpt,
		UserAgent: version.UserAgent(),
	})
	if err != nil {
		return nil, err
	}

	api, err := taskapi.New(client, cfg.Paths)
	if err != nil {
		return nil, err
	}

	return scenario.NewRunner(api, scenario.Options{
		TaskType:      cfg.TaskTypeInput(),
		Compare:       cmp,
		PagePolicy:    scenario.PagePolicy(cfg.PagePolicy),
		PageLimit:     cfg.PageLimit,
		MaxPages:      cfg.MaxPages,
		VerifyDeleted: cfg.VerifyDeleted,
		Logger:        logger,
	})
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// formatOutput renders v as json, yaml, or with the text renderer
func formatOutput(v any, format string, text func() string) (string, error) {
	switch format {
	case "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal JSON: %w", err)
		}
		return string(data), nil
	case "yaml":
		data, err := yaml.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to marshal YAML: %w", err)
		}
		return string(data), nil
	case "text", "":
		return text(), nil
	default:
		return "", fmt.Errorf("unknown output format %q (use text, json or yaml)", format)
	}
}
