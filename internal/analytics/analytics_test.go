package analytics

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/studiowebux/taskload/internal/executor"
	"github.com/studiowebux/taskload/internal/logging"
	"github.com/studiowebux/taskload/internal/migrations"
	"github.com/studiowebux/taskload/internal/scenario"
	"github.com/studiowebux/taskload/internal/taskapi"
)

func timing(name, method string, status int, ms int) scenario.Timing {
	return scenario.Timing{
		Name:         name,
		Method:       method,
		Status:       status,
		Duration:     time.Duration(ms) * time.Millisecond,
		RequestSize:  10,
		ResponseSize: 100,
	}
}

func TestCollector_Aggregates(t *testing.T) {
	c := NewCollector()
	c.AddAll([]scenario.Timing{
		timing("create", "POST", 201, 30),
		timing("get", "GET", 200, 10),
		timing("create", "POST", 500, 50),
		timing("create", "POST", 0, 10),
	})

	stats := c.Stats(7)
	if len(stats) != 2 {
		t.Fatalf("Expected 2 requests, got %d", len(stats))
	}
	if stats[0].Request != "create" || stats[1].Request != "get" {
		t.Errorf("Expected first-seen order, got %s, %s", stats[0].Request, stats[1].Request)
	}

	create := stats[0]
	if create.RunID != 7 || create.Method != "POST" {
		t.Errorf("Unexpected identity: %+v", create)
	}
	if create.TotalCalls != 3 || create.SuccessCount != 1 || create.ErrorCount != 1 || create.NetworkErrors != 1 {
		t.Errorf("Unexpected counters: %+v", create)
	}
	if create.AvgDurationMs != 30 || create.MinDurationMs != 10 || create.MaxDurationMs != 50 {
		t.Errorf("Unexpected durations: avg=%.1f min=%d max=%d", create.AvgDurationMs, create.MinDurationMs, create.MaxDurationMs)
	}
	if create.StatusCodes[201] != 1 || create.StatusCodes[500] != 1 || create.StatusCodes[0] != 1 {
		t.Errorf("Unexpected status codes: %v", create.StatusCodes)
	}
	if create.TotalReqSize != 30 || create.TotalRespSize != 300 {
		t.Errorf("Unexpected sizes: req=%d resp=%d", create.TotalReqSize, create.TotalRespSize)
	}

	// Snapshots do not alias collector state
	create.StatusCodes[201] = 99
	again, _ := c.Get("create")
	if again.StatusCodes[201] != 1 {
		t.Error("Snapshot shares status code map with collector")
	}
}

func TestCollector_P95(t *testing.T) {
	c := NewCollector()
	for i := 1; i <= 100; i++ {
		c.Add(timing("list", "GET", 200, i))
	}
	s, ok := c.Get("list")
	if !ok {
		t.Fatal("Expected list stats")
	}
	if s.P95DurationMs != 95 {
		t.Errorf("Expected p95 of 95ms, got %d", s.P95DurationMs)
	}
	if s.SuccessRate() != 1 {
		t.Errorf("Expected success rate 1, got %f", s.SuccessRate())
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("Expected no stats for unknown request")
	}
}

func TestCollector_Concurrent(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.Add(timing("delete", "DELETE", 204, 1))
			}
		}()
	}
	wg.Wait()

	s, _ := c.Get("delete")
	if s.TotalCalls != 400 {
		t.Errorf("Expected 400 calls, got %d", s.TotalCalls)
	}
	if c.Len() != 1 {
		t.Errorf("Expected 1 request, got %d", c.Len())
	}
}

func TestCollector_CountsUnreachableService(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client, err := executor.NewClient(executor.Options{BaseURL: url, Timeout: time.Second})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	api, err := taskapi.New(client, taskapi.Paths{})
	if err != nil {
		t.Fatalf("Failed to create api: %v", err)
	}
	runner, err := scenario.NewRunner(api, scenario.Options{Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("Failed to create runner: %v", err)
	}

	c := NewCollector()
	c.AddAll(runner.Iterate(context.Background()).Requests)

	create, ok := c.Get(scenario.RequestCreate)
	if !ok {
		t.Fatal("Expected the failed create to be collected")
	}
	if create.NetworkErrors != 1 || create.TotalCalls != 1 {
		t.Errorf("Expected 1 network error out of 1 call, got %d of %d", create.NetworkErrors, create.TotalCalls)
	}
	if create.StatusCodes[0] != 1 {
		t.Errorf("Expected status code 0 to be counted, got %v", create.StatusCodes)
	}
}

func TestStore_SaveAndLoad(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	db.SetMaxOpenConns(1)
	defer db.Close()
	if err := migrations.Run(db); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	c := NewCollector()
	c.Add(timing("create", "POST", 201, 20))
	c.Add(timing("create", "POST", 409, 40))
	c.Add(timing("delete", "DELETE", 204, 5))

	store := NewStore(db)
	if err := store.Save(3, c.Stats(3)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	// Saving again replaces rather than duplicates
	if err := store.Save(3, c.Stats(3)); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	loaded, err := store.Load(3)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(loaded))
	}
	if loaded[0].Request != "create" || loaded[0].TotalCalls != 2 || loaded[0].StatusCodes[409] != 1 {
		t.Errorf("Unexpected create stats: %+v", loaded[0])
	}
	if loaded[1].Method != "DELETE" || loaded[1].AvgDurationMs != 5 {
		t.Errorf("Unexpected delete stats: %+v", loaded[1])
	}

	other, err := store.Load(4)
	if err != nil || len(other) != 0 {
		t.Errorf("Expected no rows for another run, got %d (%v)", len(other), err)
	}
}
