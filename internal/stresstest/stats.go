package stresstest

import (
	"sort"

	"github.com/studiowebux/taskload/internal/analytics"
	"github.com/studiowebux/taskload/internal/check"
	"github.com/studiowebux/taskload/internal/scenario"
)

// Stats holds runtime statistics for a load run
type Stats struct {
	TotalIterations     int // configured total, 0 when bounded by duration only
	CompletedIterations int
	ErrorCount          int // aborted iterations (transport or decode failures)
	FailedCount         int // finished iterations with at least one failing check
	SuccessCount        int
	ActiveVUs           int     // VUs currently inside an iteration
	Durations           []int64 // iteration durations, for percentile calculation
	TotalDurationMs     int64
	MinDurationMs       int64
	MaxDurationMs       int64
	HTTPDurations       []int64
	Checks              *check.Summary
	Requests            *analytics.Collector // per-request breakdown
}

// NewStats creates a new Stats instance
func NewStats() *Stats {
	return &Stats{
		Durations:     make([]int64, 0, 1000),
		HTTPDurations: make([]int64, 0, 4000),
		MinDurationMs: -1,
		MaxDurationMs: -1,
		Checks:        check.NewSummary(),
		Requests:      analytics.NewCollector(),
	}
}

// AddIteration adds an iteration outcome to the statistics
func (s *Stats) AddIteration(it *scenario.Iteration) {
	durationMs := it.Duration.Milliseconds()

	s.CompletedIterations++
	s.TotalDurationMs += durationMs
	s.Durations = append(s.Durations, durationMs)

	for _, req := range it.Requests {
		s.HTTPDurations = append(s.HTTPDurations, req.Duration.Milliseconds())
	}
	s.Checks.Add(it.Checks)
	s.Requests.AddAll(it.Requests)

	if it.Err != nil {
		s.ErrorCount++
	} else if !it.Passed() {
		s.FailedCount++
	} else {
		s.SuccessCount++
	}

	if s.MinDurationMs == -1 || durationMs < s.MinDurationMs {
		s.MinDurationMs = durationMs
	}
	if s.MaxDurationMs == -1 || durationMs > s.MaxDurationMs {
		s.MaxDurationMs = durationMs
	}
}

// AvgDurationMs returns the average iteration duration in milliseconds
func (s *Stats) AvgDurationMs() float64 {
	if s.CompletedIterations == 0 {
		return 0
	}
	return float64(s.TotalDurationMs) / float64(s.CompletedIterations)
}

// Min returns the minimum duration, or 0 if no results
func (s *Stats) Min() int64 {
	if s.MinDurationMs == -1 {
		return 0
	}
	return s.MinDurationMs
}

// Max returns the maximum duration, or 0 if no results
func (s *Stats) Max() int64 {
	if s.MaxDurationMs == -1 {
		return 0
	}
	return s.MaxDurationMs
}

// Percentile calculates the iteration duration percentile (p between 0 and 100)
func (s *Stats) Percentile(p float64) int64 {
	return percentile(s.Durations, p)
}

// P50 returns the 50th percentile (median)
func (s *Stats) P50() int64 {
	return s.Percentile(50)
}

// P95 returns the 95th percentile
func (s *Stats) P95() int64 {
	return s.Percentile(95)
}

// P99 returns the 99th percentile
func (s *Stats) P99() int64 {
	return s.Percentile(99)
}

// HTTPPercentile calculates the request duration percentile across all
// requests of all iterations
func (s *Stats) HTTPPercentile(p float64) int64 {
	return percentile(s.HTTPDurations, p)
}

// CheckRate returns the share of passing checks across all checks
func (s *Stats) CheckRate() float64 {
	passes, fails := s.Checks.Totals()
	if passes+fails == 0 {
		return 0
	}
	return float64(passes) / float64(passes+fails)
}

// SuccessRate returns the share of clean iterations as a percentage
func (s *Stats) SuccessRate() float64 {
	if s.CompletedIterations == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.CompletedIterations) * 100
}

// ErrorRate returns the aborted iteration rate as a percentage
func (s *Stats) ErrorRate() float64 {
	if s.CompletedIterations == 0 {
		return 0
	}
	return float64(s.ErrorCount) / float64(s.CompletedIterations) * 100
}

// Progress returns the completion progress as a percentage, 0 when the run
// is bounded by duration only
func (s *Stats) Progress() float64 {
	if s.TotalIterations == 0 {
		return 0
	}
	return float64(s.CompletedIterations) / float64(s.TotalIterations) * 100
}

func percentile(values []int64, p float64) int64 {
	if len(values) == 0 {
		return 0
	}

	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	index := (p / 100.0) * float64(len(sorted)-1)
	lower := int(index)
	upper := lower + 1

	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	// Linear interpolation between lower and upper
	weight := index - float64(lower)
	return int64(float64(sorted[lower])*(1-weight) + float64(sorted[upper])*weight)
}
