// Package analytics aggregates request timings per scenario request and
// stores the per-run breakdown.
package analytics

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/studiowebux/taskload/internal/executor"
	"github.com/studiowebux/taskload/internal/scenario"
)

// Stats is the breakdown of one scenario request across a run
type Stats struct {
	RunID         int64
	Request       string
	Method        string
	TotalCalls    int
	SuccessCount  int
	ErrorCount    int
	NetworkErrors int // no response at all (status code 0)
	AvgDurationMs float64
	MinDurationMs int64
	MaxDurationMs int64
	P95DurationMs int64
	TotalReqSize  int64
	TotalRespSize int64
	StatusCodes   map[int]int
}

// SuccessRate returns the share of 2xx responses
func (s *Stats) SuccessRate() float64 {
	if s.TotalCalls == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.TotalCalls)
}

type entry struct {
	stats     Stats
	durations []int64
	totalMs   int64
}

// Collector accumulates request timings keyed by request name, keeping the
// order in which requests were first seen
type Collector struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

// NewCollector creates an empty collector
func NewCollector() *Collector {
	return &Collector{entries: make(map[string]*entry)}
}

// Add records one request
func (c *Collector) Add(t scenario.Timing) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[t.Name]
	if !ok {
		e = &entry{stats: Stats{
			Request:       t.Name,
			Method:        t.Method,
			MinDurationMs: -1,
			StatusCodes:   make(map[int]int),
		}}
		c.entries[t.Name] = e
		c.order = append(c.order, t.Name)
	}

	ms := t.Duration.Milliseconds()
	s := &e.stats
	s.TotalCalls++
	s.StatusCodes[t.Status]++
	switch {
	case t.Status == 0:
		s.NetworkErrors++
	case executor.IsSuccessStatus(t.Status):
		s.SuccessCount++
	case executor.IsClientErrorStatus(t.Status), executor.IsServerErrorStatus(t.Status):
		s.ErrorCount++
	}
	s.TotalReqSize += int64(t.RequestSize)
	s.TotalRespSize += int64(t.ResponseSize)
	if s.MinDurationMs == -1 || ms < s.MinDurationMs {
		s.MinDurationMs = ms
	}
	if ms > s.MaxDurationMs {
		s.MaxDurationMs = ms
	}
	e.totalMs += ms
	e.durations = append(e.durations, ms)
}

// AddAll records every request of an iteration
func (c *Collector) AddAll(timings []scenario.Timing) {
	for _, t := range timings {
		c.Add(t)
	}
}

// Stats returns a snapshot of every request, in first-seen order
func (c *Collector) Stats(runID int64) []*Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]*Stats, 0, len(c.order))
	for _, name := range c.order {
		e := c.entries[name]
		s := e.stats
		s.RunID = runID
		s.StatusCodes = make(map[int]int, len(e.stats.StatusCodes))
		for code, n := range e.stats.StatusCodes {
			s.StatusCodes[code] = n
		}
		if s.MinDurationMs == -1 {
			s.MinDurationMs = 0
		}
		if s.TotalCalls > 0 {
			s.AvgDurationMs = float64(e.totalMs) / float64(s.TotalCalls)
		}
		s.P95DurationMs = p95(e.durations)
		result = append(result, &s)
	}
	return result
}

// Get returns the snapshot of one request
func (c *Collector) Get(name string) (*Stats, bool) {
	for _, s := range c.Stats(0) {
		if s.Request == name {
			return s, true
		}
	}
	return nil, false
}

// Len returns the number of distinct requests seen
func (c *Collector) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

func p95(values []int64) int64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	index := 0.95 * float64(len(sorted)-1)
	lower := int(index)
	if lower+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	weight := index - float64(lower)
	return int64(float64(sorted[lower])*(1-weight) + float64(sorted[lower+1])*weight)
}

// Store persists request breakdowns in the request_stats table
type Store struct {
	db *sql.DB
}

// NewStore wraps a migrated database
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save replaces the request breakdown of a run
func (m *Store) Save(runID int64, stats []*Stats) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM request_stats WHERE run_id = ?", runID); err != nil {
		return fmt.Errorf("failed to clear request stats: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO request_stats
		(run_id, request, method, total_calls, success_count, error_count, network_errors,
		 avg_duration_ms, min_duration_ms, max_duration_ms, p95_duration_ms,
		 total_req_size, total_resp_size, status_codes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, s := range stats {
		codes, err := json.Marshal(s.StatusCodes)
		if err != nil {
			return fmt.Errorf("failed to marshal status codes: %w", err)
		}
		_, err = stmt.Exec(runID, s.Request, s.Method, s.TotalCalls, s.SuccessCount, s.ErrorCount, s.NetworkErrors,
			s.AvgDurationMs, s.MinDurationMs, s.MaxDurationMs, s.P95DurationMs,
			s.TotalReqSize, s.TotalRespSize, string(codes))
		if err != nil {
			return fmt.Errorf("failed to save request stats: %w", err)
		}
	}

	return tx.Commit()
}

// Load returns the request breakdown of a run in insertion order
func (m *Store) Load(runID int64) ([]*Stats, error) {
	rows, err := m.db.Query(`
		SELECT run_id, request, method, total_calls, success_count, error_count, network_errors,
		       avg_duration_ms, min_duration_ms, max_duration_ms, p95_duration_ms,
		       total_req_size, total_resp_size, status_codes
		FROM request_stats
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load request stats: %w", err)
	}
	defer rows.Close()

	var statsList []*Stats
	for rows.Next() {
		s := &Stats{}
		var statusCodesJSON string

		err := rows.Scan(
			&s.RunID,
			&s.Request,
			&s.Method,
			&s.TotalCalls,
			&s.SuccessCount,
			&s.ErrorCount,
			&s.NetworkErrors,
			&s.AvgDurationMs,
			&s.MinDurationMs,
			&s.MaxDurationMs,
			&s.P95DurationMs,
			&s.TotalReqSize,
			&s.TotalRespSize,
			&statusCodesJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request stats: %w", err)
		}

		s.StatusCodes = make(map[int]int)
		if err := json.Unmarshal([]byte(statusCodesJSON), &s.StatusCodes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal status codes: %w", err)
		}

		statsList = append(statsList, s)
	}

	return statsList, rows.Err()
}
