package stresstest

import (
	"testing"
	"time"
)

func TestCompileThreshold_Invalid(t *testing.T) {
	tests := []string{
		"checks >",
		"unknown_metric > 1",
		"iteration_p95",
	}
	for _, expression := range tests {
		if _, err := CompileThreshold(expression); err == nil {
			t.Errorf("Expected %q to be rejected", expression)
		}
	}
}

func TestThreshold_Evaluate(t *testing.T) {
	s := NewStats()
	for i := 0; i < 4; i++ {
		it := passingIteration()
		it.Duration = time.Duration(100*(i+1)) * time.Millisecond
		if i == 0 {
			it.Checks[1].Passed = false
		}
		s.AddIteration(it)
	}

	tests := []struct {
		expression string
		want       bool
	}{
		{"checks > 0.8", true},
		{"checks == 1", false},
		{`check("created task") == 1`, true},
		{`check("g::deleted task type") == 0.75`, true},
		{`check("never ran") > 0`, false},
		{"iteration_p95 < 500", true},
		{"iteration_p95 < 300", false},
		{"iterations == 4 && iteration_errors == 0", true},
		{"http_reqs == 8 && http_req_p95 <= 2", true},
		{`request_p95("create") == 2`, true},
		{`request_p95("unknown") == 0`, true},
	}

	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			th, err := CompileThreshold(tt.expression)
			if err != nil {
				t.Fatalf("Compile failed: %v", err)
			}
			result := th.Evaluate(s)
			if result.Error != "" {
				t.Fatalf("Unexpected evaluation error: %s", result.Error)
			}
			if result.Passed != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, result.Passed)
			}
		})
	}
}

func TestCompileThresholds_StopsAtFirstError(t *testing.T) {
	if _, err := CompileThresholds([]string{"checks > 0", "checks >"}); err == nil {
		t.Error("Expected error")
	}
	thresholds, err := CompileThresholds(nil)
	if err != nil || len(thresholds) != 0 {
		t.Errorf("Expected empty result, got %v, %v", thresholds, err)
	}
}
