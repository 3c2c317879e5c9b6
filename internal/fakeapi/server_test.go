package fakeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/studiowebux/taskload/internal/logging"
)

func newTestServer(t *testing.T, config Config) (*Server, *httptest.Server) {
	t.Helper()
	fake := NewServer(config, logging.Discard())
	ts := httptest.NewServer(fake.Handler())
	t.Cleanup(ts.Close)
	return fake, ts
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, url, reader)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestServer_Lifecycle(t *testing.T) {
	fake, ts := newTestServer(t, Config{})

	resp, created := doJSON(t, http.MethodPost, ts.URL+"/tasks", map[string]any{
		"name":         "k6 task type test",
		"transactions": []any{map[string]any{"label": "k6_transaction_label"}},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", resp.StatusCode)
	}
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatalf("Expected generated id, got %v", created)
	}
	if _, ok := created["_creationTs"]; !ok {
		t.Error("Expected _creationTs to be set")
	}

	resp, fetched := doJSON(t, http.MethodGet, ts.URL+"/taskTypes/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if fetched["name"] != "k6 task type test" {
		t.Errorf("Unexpected fetched task type: %v", fetched)
	}

	resp, page := doJSON(t, http.MethodGet, ts.URL+"/tasks", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if page["total"] != float64(1) {
		t.Errorf("Expected total 1, got %v", page["total"])
	}

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/taskTypes/"+id, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", resp.StatusCode)
	}
	if fake.Count() != 0 {
		t.Errorf("Expected empty store, got %d", fake.Count())
	}

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/taskTypes/"+id, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/taskTypes/"+id, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 on second delete, got %d", resp.StatusCode)
	}
}

func TestServer_RejectsBadTaskType(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/tasks", map[string]any{"transactions": []any{}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", resp.StatusCode)
	}
	if body["code"] != "bad_task_type.name" {
		t.Errorf("Unexpected error body: %v", body)
	}
}

func TestServer_Pagination(t *testing.T) {
	fake, ts := newTestServer(t, Config{DefaultLimit: 3})
	fake.Seed(7)

	tests := []struct {
		query   string
		wantLen int
		status  int
	}{
		{"", 3, http.StatusOK},
		{"?offset=3&limit=3", 3, http.StatusOK},
		{"?offset=6&limit=3", 1, http.StatusOK},
		{"?offset=10", 0, http.StatusOK},
		{"?limit=0", 0, http.StatusBadRequest},
		{"?offset=-1", 0, http.StatusBadRequest},
	}

	for _, tt := range tests {
		resp, page := doJSON(t, http.MethodGet, ts.URL+"/tasks"+tt.query, nil)
		if resp.StatusCode != tt.status {
			t.Errorf("%q: expected status %d, got %d", tt.query, tt.status, resp.StatusCode)
			continue
		}
		if tt.status != http.StatusOK {
			continue
		}
		entries, _ := page["taskTypes"].([]any)
		if len(entries) != tt.wantLen {
			t.Errorf("%q: expected %d entries, got %d", tt.query, tt.wantLen, len(entries))
		}
		if page["total"] != float64(7) {
			t.Errorf("%q: expected total 7, got %v", tt.query, page["total"])
		}
	}
}

func TestServer_CreateStatusOverride(t *testing.T) {
	_, ts := newTestServer(t, Config{CreateStatus: http.StatusOK})
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/tasks", map[string]any{"name": "x"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected overridden status 200, got %d", resp.StatusCode)
	}
}

func TestServer_RequestLog(t *testing.T) {
	fake, ts := newTestServer(t, Config{Logging: true})

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/tasks?limit=2", nil)
	req.Header.Set("X-Request-ID", "req-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()

	logs := fake.GetLogs()
	if len(logs) != 1 {
		t.Fatalf("Expected 1 log entry, got %d", len(logs))
	}
	if logs[0].Path != "/tasks?limit=2" || logs[0].RequestID != "req-1" || logs[0].Status != http.StatusOK {
		t.Errorf("Unexpected log entry: %+v", logs[0])
	}

	fake.ClearLogs()
	if len(fake.GetLogs()) != 0 {
		t.Error("Expected logs to be cleared")
	}
}

func TestServer_StartStop(t *testing.T) {
	fake := NewServer(Config{Host: "127.0.0.1"}, logging.Discard())
	probe := httptest.NewServer(http.NotFoundHandler())
	addr := probe.Listener.Addr().String()
	probe.Close()

	_, rawPort, _ := net.SplitHostPort(addr)
	port, err := strconv.Atoi(rawPort)
	if err != nil {
		t.Fatalf("Failed to parse port from %q: %v", addr, err)
	}
	fake.config.Port = port

	if err := fake.Start(); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	resp, err := http.Get(fake.Address() + "/tasks")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := fake.Stop(ctx); err != nil {
		t.Errorf("Failed to stop: %v", err)
	}
}
