package stresstest

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Threshold is a compiled pass/fail expression over the run summary.
//
// Expressions see:
//
//	checks            overall check pass rate, 0 to 1
//	iterations        finished iterations
//	iteration_errors  aborted iterations
//	iteration_p95     iteration duration P95 in ms
//	http_req_p95      request duration P95 in ms
//	http_reqs         requests sent
//	check("name")     pass rate of one check, by bare or group-qualified name
type Threshold struct {
	Expression string
	program    *vm.Program
}

// ThresholdResult is the evaluated outcome of a threshold
type ThresholdResult struct {
	RunID      int64
	Expression string
	Passed     bool
	Error      string
}

// CompileThreshold parses an expression that must yield a boolean
func CompileThreshold(expression string) (*Threshold, error) {
	program, err := expr.Compile(expression, expr.Env(thresholdEnv(NewStats())), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("invalid threshold %q: %w", expression, err)
	}
	return &Threshold{Expression: expression, program: program}, nil
}

// CompileThresholds compiles every expression, stopping at the first invalid one
func CompileThresholds(expressions []string) ([]*Threshold, error) {
	thresholds := make([]*Threshold, 0, len(expressions))
	for _, expression := range expressions {
		t, err := CompileThreshold(expression)
		if err != nil {
			return nil, err
		}
		thresholds = append(thresholds, t)
	}
	return thresholds, nil
}

// Evaluate runs the threshold against stats. An evaluation error counts as
// a failed threshold.
func (t *Threshold) Evaluate(stats *Stats) *ThresholdResult {
	result := &ThresholdResult{Expression: t.Expression}

	out, err := expr.Run(t.program, thresholdEnv(stats))
	if err != nil {
		result.Error = err.Error()
		return result
	}
	passed, ok := out.(bool)
	if !ok {
		result.Error = fmt.Sprintf("threshold yielded %T, expected bool", out)
		return result
	}
	result.Passed = passed
	return result
}

// EvaluateThresholds evaluates all thresholds in order
func EvaluateThresholds(thresholds []*Threshold, stats *Stats) []*ThresholdResult {
	results := make([]*ThresholdResult, 0, len(thresholds))
	for _, t := range thresholds {
		results = append(results, t.Evaluate(stats))
	}
	return results
}

func thresholdEnv(stats *Stats) map[string]any {
	return map[string]any{
		"checks":           stats.CheckRate(),
		"iterations":       stats.CompletedIterations,
		"iteration_errors": stats.ErrorCount,
		"iteration_p95":    stats.P95(),
		"http_req_p95":     stats.HTTPPercentile(95),
		"http_reqs":        len(stats.HTTPDurations),
		"check": func(name string) float64 {
			rate, _ := stats.Checks.Rate(name)
			return rate
		},
		"request_p95": func(name string) float64 {
			if s, ok := stats.Requests.Get(name); ok {
				return float64(s.P95DurationMs)
			}
			return 0
		},
	}
}
