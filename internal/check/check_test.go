package check

import (
	"sync"
	"testing"
)

func TestRecorder_GroupsAndResults(t *testing.T) {
	rec := NewRecorder()
	rec.Group("task manager performance", func() {
		rec.Group("create task type", func() {
			rec.Check("created task", true, "ignored")
			rec.Check("obtain created task", false, "body is null")
		})
		rec.Check("top level", true, "")
	})

	results := rec.Results()
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	if results[0].Group != "task manager performance::create task type" {
		t.Errorf("Unexpected group: %q", results[0].Group)
	}
	if results[0].Detail != "" {
		t.Errorf("Expected detail to be dropped on pass, got %q", results[0].Detail)
	}
	if results[1].Passed || results[1].Detail != "body is null" {
		t.Errorf("Unexpected failed result: %+v", results[1])
	}
	if results[2].Group != "task manager performance" {
		t.Errorf("Expected group to be restored, got %q", results[2].Group)
	}
	if len(rec.Failed()) != 1 {
		t.Errorf("Expected 1 failed check, got %d", len(rec.Failed()))
	}
}

func TestRecorder_CheckReturnsValue(t *testing.T) {
	rec := NewRecorder()
	if rec.Check("a", false, "") {
		t.Error("Expected Check to return false")
	}
	if !rec.Check("b", true, "") {
		t.Error("Expected Check to return true")
	}
}

func TestSummary_Aggregates(t *testing.T) {
	s := NewSummary()
	s.Add([]Result{
		{Group: "g", Name: "created task", Passed: true},
		{Group: "g", Name: "validate page", Passed: false, Detail: "not found"},
	})
	s.Add([]Result{
		{Group: "g", Name: "created task", Passed: true},
		{Group: "g", Name: "validate page", Passed: true},
	})

	counts := s.Counts()
	if len(counts) != 2 {
		t.Fatalf("Expected 2 checks, got %d", len(counts))
	}
	if counts[0].Name != "created task" || counts[0].Passes != 2 {
		t.Errorf("Unexpected counts for first check: %+v", counts[0])
	}
	if counts[1].Fails != 1 || counts[1].LastDetail != "not found" {
		t.Errorf("Unexpected counts for second check: %+v", counts[1])
	}

	rate, ok := s.Rate("validate page")
	if !ok || rate != 0.5 {
		t.Errorf("Expected rate 0.5, got %v (ok=%v)", rate, ok)
	}
	if _, ok := s.Rate("g::validate page"); !ok {
		t.Error("Expected qualified name lookup to work")
	}
	if _, ok := s.Rate("missing"); ok {
		t.Error("Expected unknown check to report ok=false")
	}

	passes, fails := s.Totals()
	if passes != 3 || fails != 1 {
		t.Errorf("Expected 3 passes and 1 fail, got %d/%d", passes, fails)
	}
}

func TestSummary_ConcurrentAdd(t *testing.T) {
	s := NewSummary()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Add([]Result{{Name: "deleted task type", Passed: true}})
		}()
	}
	wg.Wait()

	passes, _ := s.Totals()
	if passes != 20 {
		t.Errorf("Expected 20 passes, got %d", passes)
	}
}
