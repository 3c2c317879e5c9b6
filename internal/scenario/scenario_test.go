package scenario

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/studiowebux/taskload/internal/check"
	"github.com/studiowebux/taskload/internal/compare"
	"github.com/studiowebux/taskload/internal/executor"
	"github.com/studiowebux/taskload/internal/fakeapi"
	"github.com/studiowebux/taskload/internal/logging"
	"github.com/studiowebux/taskload/internal/taskapi"
)

func newRunner(t *testing.T, baseURL string, opts Options) *Runner {
	t.Helper()
	client, err := executor.NewClient(executor.Options{BaseURL: baseURL, MaxConns: 2})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	api, err := taskapi.New(client, taskapi.Paths{})
	if err != nil {
		t.Fatalf("Failed to create api: %v", err)
	}
	opts.Logger = logging.Discard()
	runner, err := NewRunner(api, opts)
	if err != nil {
		t.Fatalf("Failed to create runner: %v", err)
	}
	return runner
}

func newFake(t *testing.T, config fakeapi.Config) (*fakeapi.Server, *httptest.Server) {
	t.Helper()
	fake := fakeapi.NewServer(config, logging.Discard())
	ts := httptest.NewServer(fake.Handler())
	t.Cleanup(ts.Close)
	return fake, ts
}

func resultsByName(results []check.Result) map[string]check.Result {
	out := make(map[string]check.Result)
	for _, r := range results {
		out[r.Name] = r
	}
	return out
}

func TestIterate_AllChecksPassAgainstFake(t *testing.T) {
	fake, ts := newFake(t, fakeapi.Config{})
	runner := newRunner(t, ts.URL, Options{VerifyDeleted: true})

	it := runner.Iterate(context.Background())
	if it.Err != nil {
		t.Fatalf("Expected no iteration error, got: %v", it.Err)
	}
	if !it.Passed() {
		for _, c := range it.Checks {
			if !c.Passed {
				t.Errorf("Check %s failed: %s", c.Key(), c.Detail)
			}
		}
	}

	wantOrder := []string{
		CheckCreated, CheckObtained, CheckRetrieved, CheckValidated,
		CheckPageRetrieved, CheckPageValidated, CheckDeleted, CheckGone,
	}
	if len(it.Checks) != len(wantOrder) {
		t.Fatalf("Expected %d checks, got %d", len(wantOrder), len(it.Checks))
	}
	for i, name := range wantOrder {
		if it.Checks[i].Name != name {
			t.Errorf("Check %d: expected %q, got %q", i, name, it.Checks[i].Name)
		}
	}
	if it.Checks[0].Group != GroupRoot+check.GroupSeparator+GroupCreate {
		t.Errorf("Unexpected group: %q", it.Checks[0].Group)
	}

	wantRequests := []string{RequestCreate, RequestGet, RequestList, RequestDelete, RequestVerify}
	if len(it.Requests) != len(wantRequests) {
		t.Fatalf("Expected %d requests, got %d", len(wantRequests), len(it.Requests))
	}
	for i, name := range wantRequests {
		if it.Requests[i].Name != name {
			t.Errorf("Request %d: expected %q, got %q", i, name, it.Requests[i].Name)
		}
	}

	if fake.Count() != 0 {
		t.Errorf("Expected task type to be deleted, store has %d", fake.Count())
	}
}

func TestIterate_CharsetComparator(t *testing.T) {
	_, ts := newFake(t, fakeapi.Config{})
	cmp, _ := compare.ByName(compare.NameCharset)
	runner := newRunner(t, ts.URL, Options{Compare: cmp})

	it := runner.Iterate(context.Background())
	if !it.Passed() {
		t.Errorf("Expected charset comparison to pass on a faithful round trip: %+v", it.Checks)
	}
}

func TestIterate_CreateStatusMismatchIsSoft(t *testing.T) {
	_, ts := newFake(t, fakeapi.Config{CreateStatus: http.StatusOK})
	runner := newRunner(t, ts.URL, Options{})

	it := runner.Iterate(context.Background())
	if it.Err != nil {
		t.Fatalf("Expected iteration to continue, got: %v", it.Err)
	}
	results := resultsByName(it.Checks)
	if results[CheckCreated].Passed {
		t.Error("Expected 'created task' to fail on status 200")
	}
	if !strings.Contains(results[CheckCreated].Detail, "expected status 201, got 200 OK") {
		t.Errorf("Unexpected detail: %q", results[CheckCreated].Detail)
	}
	if !results[CheckDeleted].Passed {
		t.Error("Expected later steps to run and pass")
	}
}

func TestIterate_LenientPolicyAcceptsTruncatedPage(t *testing.T) {
	fake, ts := newFake(t, fakeapi.Config{DefaultLimit: 5})
	fake.Seed(12)
	runner := newRunner(t, ts.URL, Options{PagePolicy: PageLenient})

	it := runner.Iterate(context.Background())
	results := resultsByName(it.Checks)
	if !results[CheckPageValidated].Passed {
		t.Errorf("Expected lenient policy to pass on truncated page: %s", results[CheckPageValidated].Detail)
	}
	for _, req := range it.Requests {
		if req.Name == RequestListNext {
			t.Error("Expected lenient policy not to fetch further pages")
		}
	}
}

func TestIterate_ScanPolicyFindsEntryOnLaterPage(t *testing.T) {
	fake, ts := newFake(t, fakeapi.Config{DefaultLimit: 5})
	fake.Seed(12)
	runner := newRunner(t, ts.URL, Options{PagePolicy: PageScan, PageLimit: 5})

	it := runner.Iterate(context.Background())
	results := resultsByName(it.Checks)
	if !results[CheckPageValidated].Passed {
		t.Fatalf("Expected scan policy to find the task type: %s", results[CheckPageValidated].Detail)
	}

	next := 0
	for _, req := range it.Requests {
		if req.Name == RequestListNext {
			next++
		}
	}
	// 13 entries with the created one last: pages at offsets 5 and 10
	if next != 2 {
		t.Errorf("Expected 2 follow-up page requests, got %d", next)
	}
}

// pageServer answers the create and get calls faithfully and serves a fixed
// listing body
func pageServer(t *testing.T, listing string) *httptest.Server {
	t.Helper()
	created := `{"id":"tt-1","name":"k6 task type test","transactions":[{"label":"k6_transaction_label"}]}`
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(created))
		case r.Method == http.MethodGet && r.URL.Path == "/taskTypes/tt-1":
			w.Write([]byte(created))
		case r.Method == http.MethodGet && r.URL.Path == "/tasks":
			w.Write([]byte(listing))
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestPageValidation(t *testing.T) {
	match := `{"id":"tt-1","name":"k6 task type test","transactions":[{"label":"k6_transaction_label"}]}`
	other := `{"id":"tt-2","name":"other","transactions":[]}`

	tests := []struct {
		name    string
		listing string
		policy  PagePolicy
		want    bool
	}{
		{"empty collection fails", `{"total":0,"taskTypes":[]}`, PageLenient, false},
		{"empty collection fails even with entries", `{"total":0,"taskTypes":[` + match + `]}`, PageLenient, false},
		{"lenient truncated passes without the entry", `{"total":50,"taskTypes":[` + other + `]}`, PageLenient, true},
		{"complete page with entry passes", `{"total":2,"taskTypes":[` + other + `,` + match + `]}`, PageLenient, true},
		{"complete page without entry fails", `{"total":1,"taskTypes":[` + other + `]}`, PageLenient, false},
		{"scan complete page with entry passes", `{"total":2,"taskTypes":[` + match + `,` + other + `]}`, PageScan, true},
		{"scan complete page without entry fails", `{"total":1,"taskTypes":[` + other + `]}`, PageScan, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := pageServer(t, tt.listing)
			runner := newRunner(t, ts.URL, Options{PagePolicy: tt.policy})

			it := runner.Iterate(context.Background())
			if it.Err != nil {
				t.Fatalf("Unexpected iteration error: %v", it.Err)
			}
			got := resultsByName(it.Checks)[CheckPageValidated]
			if got.Passed != tt.want {
				t.Errorf("Expected validate page = %v, got %v (%s)", tt.want, got.Passed, got.Detail)
			}
		})
	}
}

func TestPageValidation_ScanStopsOnEmptyPage(t *testing.T) {
	var listCalls int32
	created := `{"id":"tt-1","name":"k6 task type test","transactions":[]}`
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(created))
		case r.URL.Path == "/tasks":
			atomic.AddInt32(&listCalls, 1)
			if r.URL.Query().Get("offset") == "" {
				w.Write([]byte(`{"total":100,"taskTypes":[{"id":"x"}]}`))
				return
			}
			w.Write([]byte(`{"total":100,"taskTypes":[]}`))
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.Write([]byte(created))
		}
	}))
	defer ts.Close()

	runner := newRunner(t, ts.URL, Options{PagePolicy: PageScan})
	it := runner.Iterate(context.Background())

	if resultsByName(it.Checks)[CheckPageValidated].Passed {
		t.Error("Expected scan to fail when the entry never shows up")
	}
	if got := atomic.LoadInt32(&listCalls); got != 2 {
		t.Errorf("Expected scan to stop after the empty page (2 calls), got %d", got)
	}
}

func TestIterate_RetrievedMismatchFailsValidation(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":"tt-1","name":"alpha","description":"omega"}`))
		case r.URL.Path == "/taskTypes/tt-1" && r.Method == http.MethodGet:
			w.Write([]byte(`{"id":"tt-1","name":"omega","description":"alpha"}`))
		case r.URL.Path == "/tasks":
			w.Write([]byte(`{"total":1,"taskTypes":[{"id":"tt-1","name":"omega","description":"alpha"}]}`))
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer ts.Close()

	deep := newRunner(t, ts.URL, Options{})
	results := resultsByName(deep.Iterate(context.Background()).Checks)
	if results[CheckValidated].Passed || results[CheckPageValidated].Passed {
		t.Error("Expected deep comparison to reject swapped values")
	}

	cmp, _ := compare.ByName(compare.NameCharset)
	charset := newRunner(t, ts.URL, Options{Compare: cmp})
	results = resultsByName(charset.Iterate(context.Background()).Checks)
	if !results[CheckValidated].Passed || !results[CheckPageValidated].Passed {
		t.Error("Expected charset comparison to accept swapped values")
	}
}

func TestIterate_NonJSONBodyAbortsIteration(t *testing.T) {
	var deletes int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":"tt-1"}`))
		case http.MethodDelete:
			atomic.AddInt32(&deletes, 1)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`<html>bad gateway</html>`))
		}
	}))
	defer ts.Close()

	runner := newRunner(t, ts.URL, Options{})
	it := runner.Iterate(context.Background())

	if !errors.Is(it.Err, ErrDecode) {
		t.Fatalf("Expected ErrDecode, got %v", it.Err)
	}
	if !errors.Is(it.Err, taskapi.ErrNotJSON) {
		t.Errorf("Expected wrapped ErrNotJSON, got %v", it.Err)
	}
	if got := atomic.LoadInt32(&deletes); got != 1 {
		t.Errorf("Expected the aborted iteration to delete its task type once, got %d deletes", got)
	}
	results := resultsByName(it.Checks)
	if results[CheckRetrieved].Passed {
		t.Error("Expected 'retrieved task type' to be recorded as failed before the abort")
	}
	if _, ok := results[CheckDeleted]; ok {
		t.Error("Expected the cleanup delete not to be checked")
	}
	if last := it.Requests[len(it.Requests)-1]; last.Name != RequestCleanup || last.Status != http.StatusNoContent {
		t.Errorf("Expected a cleanup timing last, got %+v", last)
	}
	if it.Passed() {
		t.Error("Expected aborted iteration not to count as passed")
	}
}

func TestIterate_NullCreateBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`null`))
	}))
	defer ts.Close()

	it := newRunner(t, ts.URL, Options{}).Iterate(context.Background())
	if !errors.Is(it.Err, ErrMissingID) {
		t.Fatalf("Expected ErrMissingID, got %v", it.Err)
	}
	results := resultsByName(it.Checks)
	if !results[CheckCreated].Passed {
		t.Error("Expected 'created task' to pass on 201")
	}
	if results[CheckObtained].Passed {
		t.Error("Expected 'obtain created task' to fail on null body")
	}
}

func TestIterate_TransportFailure(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	it := newRunner(t, url, Options{}).Iterate(context.Background())
	if !errors.Is(it.Err, ErrTransport) {
		t.Fatalf("Expected ErrTransport, got %v", it.Err)
	}
	if len(it.Checks) != 0 {
		t.Errorf("Expected no checks before the transport failure, got %d", len(it.Checks))
	}
	if len(it.Requests) != 1 {
		t.Fatalf("Expected the failed request to be timed, got %d timings", len(it.Requests))
	}
	if req := it.Requests[0]; req.Name != RequestCreate || req.Method != http.MethodPost || req.Status != 0 {
		t.Errorf("Unexpected timing for the failed request: %+v", req)
	}
}

func TestIterate_CancelledIterationStillDeletes(t *testing.T) {
	var deletes int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":"tt-1","name":"alpha"}`))
		case http.MethodDelete:
			atomic.AddInt32(&deletes, 1)
			w.WriteHeader(http.StatusNoContent)
		default:
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	it := newRunner(t, ts.URL, Options{}).Iterate(ctx)
	if !errors.Is(it.Err, ErrTransport) {
		t.Fatalf("Expected ErrTransport, got %v", it.Err)
	}
	if got := atomic.LoadInt32(&deletes); got != 1 {
		t.Errorf("Expected the task type to be deleted after cancellation, got %d deletes", got)
	}

	names := make([]string, 0, len(it.Requests))
	for _, req := range it.Requests {
		names = append(names, req.Name)
	}
	if strings.Join(names, ",") != "create,get,cleanup" {
		t.Errorf("Unexpected request sequence: %v", names)
	}
	if it.Requests[1].Status != 0 {
		t.Errorf("Expected the cancelled request to carry no status, got %d", it.Requests[1].Status)
	}
}

func TestNewRunner_Defaults(t *testing.T) {
	client, _ := executor.NewClient(executor.Options{BaseURL: "http://localhost"})
	api, _ := taskapi.New(client, taskapi.Paths{})

	runner, err := NewRunner(api, Options{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if runner.opts.PagePolicy != PageScan || runner.opts.PageLimit != DefaultPageLimit || runner.opts.MaxPages != DefaultMaxPages {
		t.Errorf("Unexpected defaults: %+v", runner.opts)
	}
	if runner.opts.CleanupTimeout != DefaultCleanupTimeout {
		t.Errorf("Expected default cleanup timeout, got %v", runner.opts.CleanupTimeout)
	}
	if runner.opts.TaskType.Name != "k6 task type test" {
		t.Errorf("Expected default task type, got %+v", runner.opts.TaskType)
	}

	if _, err := NewRunner(api, Options{PagePolicy: "partial"}); err == nil {
		t.Error("Expected error for unknown page policy")
	}
	if _, err := NewRunner(nil, Options{}); err == nil {
		t.Error("Expected error without api client")
	}
}
