// Package check records soft assertions. A failed check is stored and the
// caller carries on; nothing in this package stops an iteration.
package check

import (
	"strings"
	"sync"
)

// GroupSeparator joins nested group names
const GroupSeparator = "::"

// Result is the outcome of one check
type Result struct {
	Group  string
	Name   string
	Passed bool
	Detail string // why the check failed, empty when it passed
}

// Key identifies a check across iterations
func (r Result) Key() string {
	if r.Group == "" {
		return r.Name
	}
	return r.Group + GroupSeparator + r.Name
}

// Recorder collects check results for a single iteration
type Recorder struct {
	group   []string
	results []Result
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Group runs fn with name appended to the current group path
func (r *Recorder) Group(name string, fn func()) {
	r.group = append(r.group, name)
	defer func() {
		r.group = r.group[:len(r.group)-1]
	}()
	fn()
}

// Check records a named boolean and returns it
func (r *Recorder) Check(name string, passed bool, detail string) bool {
	if passed {
		detail = ""
	}
	r.results = append(r.results, Result{
		Group:  strings.Join(r.group, GroupSeparator),
		Name:   name,
		Passed: passed,
		Detail: detail,
	})
	return passed
}

// Results returns the recorded results in order
func (r *Recorder) Results() []Result {
	out := make([]Result, len(r.results))
	copy(out, r.results)
	return out
}

// Failed returns only the failed results
func (r *Recorder) Failed() []Result {
	var out []Result
	for _, res := range r.results {
		if !res.Passed {
			out = append(out, res)
		}
	}
	return out
}

// Counts holds pass/fail totals for one check
type Counts struct {
	Group      string
	Name       string
	Passes     int
	Fails      int
	LastDetail string
}

// Total returns the number of evaluations
func (c Counts) Total() int {
	return c.Passes + c.Fails
}

// Rate returns the pass rate between 0 and 1
func (c Counts) Rate() float64 {
	if c.Total() == 0 {
		return 0
	}
	return float64(c.Passes) / float64(c.Total())
}

// Summary aggregates results across iterations. Safe for concurrent use.
type Summary struct {
	mu     sync.Mutex
	order  []string
	counts map[string]*Counts
}

// NewSummary creates an empty summary
func NewSummary() *Summary {
	return &Summary{counts: make(map[string]*Counts)}
}

// Add folds results into the summary
func (s *Summary) Add(results []Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, res := range results {
		key := res.Key()
		c, ok := s.counts[key]
		if !ok {
			c = &Counts{Group: res.Group, Name: res.Name}
			s.counts[key] = c
			s.order = append(s.order, key)
		}
		if res.Passed {
			c.Passes++
		} else {
			c.Fails++
			c.LastDetail = res.Detail
		}
	}
}

// Counts returns a copy of the per-check totals in first-seen order
func (s *Summary) Counts() []Counts {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Counts, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, *s.counts[key])
	}
	return out
}

// Rate returns the pass rate of every check named name, whatever its group.
// ok is false when no such check ran.
func (s *Summary) Rate(name string) (rate float64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var passes, total int
	for _, c := range s.counts {
		if c.Name == name || c.Group+GroupSeparator+c.Name == name {
			passes += c.Passes
			total += c.Total()
		}
	}
	if total == 0 {
		return 0, false
	}
	return float64(passes) / float64(total), true
}

// Totals returns overall passes and fails
func (s *Summary) Totals() (passes, fails int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.counts {
		passes += c.Passes
		fails += c.Fails
	}
	return passes, fails
}
