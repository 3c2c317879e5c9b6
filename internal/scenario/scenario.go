// Package scenario runs one create/retrieve/delete pass against the task
// manager and records soft checks along the way.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Jeffail/gabs/v2"
	"github.com/studiowebux/taskload/internal/check"
	"github.com/studiowebux/taskload/internal/compare"
	"github.com/studiowebux/taskload/internal/executor"
	"github.com/studiowebux/taskload/internal/taskapi"
	"github.com/studiowebux/taskload/internal/types"
)

// Group names
const (
	GroupRoot     = "task manager performance"
	GroupCreate   = "create task type"
	GroupRetrieve = "retrieve task types"
	GroupDelete   = "delete task type"
)

// Check names
const (
	CheckCreated       = "created task"
	CheckObtained      = "obtain created task"
	CheckRetrieved     = "retrieved task type"
	CheckValidated     = "validate task type"
	CheckPageRetrieved = "retrieved page"
	CheckPageValidated = "validate page"
	CheckDeleted       = "deleted task type"
	CheckGone          = "task type gone"
)

// Request names used in timings
const (
	RequestCreate   = "create"
	RequestGet      = "get"
	RequestList     = "list"
	RequestListNext = "list-next"
	RequestDelete   = "delete"
	RequestVerify   = "verify-deleted"
	RequestCleanup  = "cleanup"
)

// PagePolicy decides how the listing check treats a truncated first page
type PagePolicy string

const (
	// PageLenient passes whenever the collection is larger than the first page
	PageLenient PagePolicy = "lenient"
	// PageScan follows offset/limit until the task type is found or the
	// collection is exhausted
	PageScan PagePolicy = "scan"
)

const (
	DefaultPageLimit = 10
	DefaultMaxPages  = 100

	// DefaultCleanupTimeout bounds the delete issued for a task type whose
	// iteration was aborted
	DefaultCleanupTimeout = 10 * time.Second
)

var (
	// ErrTransport means a request got no response
	ErrTransport = errors.New("request failed")
	// ErrDecode means a body that had to be JSON was not
	ErrDecode = errors.New("decode failed")
	// ErrMissingID means the created task type has no identifier to follow
	ErrMissingID = errors.New("created task type has no id")
)

// Options configures a Runner
type Options struct {
	TaskType       types.TaskTypeInput
	Compare        compare.Func
	PagePolicy     PagePolicy
	PageLimit      int
	MaxPages       int
	VerifyDeleted  bool
	CleanupTimeout time.Duration
	Logger         *slog.Logger
}

// State is what the create step hands to the later steps
type State struct {
	Reference *gabs.Container
	ID        string
	deleted   bool
}

// Timing describes one request of an iteration
type Timing struct {
	Name         string
	Method       string
	Status       int
	Duration     time.Duration
	RequestSize  int
	ResponseSize int
}

// Iteration is the outcome of one scenario pass
type Iteration struct {
	Checks   []check.Result
	Requests []Timing
	Duration time.Duration
	Err      error // non-nil when the iteration was aborted
}

// Passed reports whether the iteration finished and every check passed
func (it *Iteration) Passed() bool {
	if it.Err != nil {
		return false
	}
	for _, c := range it.Checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// Runner executes scenario iterations. A Runner holds no per-iteration
// state and may be shared by all virtual users.
type Runner struct {
	api    *taskapi.Client
	opts   Options
	logger *slog.Logger
}

// NewRunner creates a runner with defaults filled in
func NewRunner(api *taskapi.Client, opts Options) (*Runner, error) {
	if api == nil {
		return nil, fmt.Errorf("task api client is required")
	}
	if opts.TaskType.Name == "" {
		opts.TaskType = types.DefaultTaskType()
	}
	if opts.Compare == nil {
		cmp, err := compare.ByName(compare.NameDeep)
		if err != nil {
			return nil, err
		}
		opts.Compare = cmp
	}
	switch opts.PagePolicy {
	case "":
		opts.PagePolicy = PageScan
	case PageLenient, PageScan:
	default:
		return nil, fmt.Errorf("unknown page policy %q", opts.PagePolicy)
	}
	if opts.PageLimit <= 0 {
		opts.PageLimit = DefaultPageLimit
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}
	if opts.CleanupTimeout <= 0 {
		opts.CleanupTimeout = DefaultCleanupTimeout
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{api: api, opts: opts, logger: logger}, nil
}

// Iterate runs create, retrieve and delete in sequence. Failed checks do
// not stop the iteration; transport and decode failures do. A task type
// created by an aborted iteration is still deleted, outside of any check.
func (r *Runner) Iterate(ctx context.Context) *Iteration {
	it := &Iteration{}
	rec := check.NewRecorder()
	start := time.Now()
	var state *State

	rec.Group(GroupRoot, func() {
		rec.Group(GroupCreate, func() {
			state, it.Err = r.create(ctx, rec, it)
		})
		if it.Err != nil {
			return
		}

		rec.Group(GroupRetrieve, func() {
			it.Err = r.retrieve(ctx, rec, it, state)
		})
		if it.Err != nil {
			return
		}

		rec.Group(GroupDelete, func() {
			it.Err = r.delete(ctx, rec, it, state)
		})
	})

	if state != nil && !state.deleted {
		r.cleanup(ctx, it, state)
	}

	it.Duration = time.Since(start)
	it.Checks = rec.Results()

	for _, failed := range rec.Failed() {
		r.logger.Debug("check failed", "check", failed.Key(), "detail", failed.Detail)
	}
	return it
}

// create posts the task type and captures the decoded response as the
// reference for the following steps
func (r *Runner) create(ctx context.Context, rec *check.Recorder, it *Iteration) (*State, error) {
	resp, err := r.api.CreateTaskType(ctx, r.opts.TaskType)
	it.record(RequestCreate, resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	rec.Check(CheckCreated, resp.Status == http.StatusCreated, unexpectedStatus(resp, http.StatusCreated))

	doc, err := taskapi.DecodeDocument(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	rec.Check(CheckObtained, doc.Data() != nil, "created task type body is null")

	id, ok := r.api.DocumentID(doc)
	if !ok {
		return nil, ErrMissingID
	}
	return &State{Reference: doc, ID: id}, nil
}

// retrieve fetches the task type by id and the listing, comparing both to
// the reference
func (r *Runner) retrieve(ctx context.Context, rec *check.Recorder, it *Iteration, state *State) error {
	resp, err := r.api.GetTaskType(ctx, state.ID)
	it.record(RequestGet, resp)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	rec.Check(CheckRetrieved, resp.Status == http.StatusOK, unexpectedStatus(resp, http.StatusOK))

	retrieved, err := taskapi.DecodeDocument(resp)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	rec.Check(CheckValidated, r.opts.Compare(state.Reference.Data(), retrieved.Data()),
		"retrieved task type differs from the created one")

	pageResp, err := r.api.GetTaskTypesPage(ctx, 0, 0)
	it.record(RequestList, pageResp)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	rec.Check(CheckPageRetrieved, pageResp.Status == http.StatusOK, unexpectedStatus(pageResp, http.StatusOK))

	page, err := r.api.DecodePage(pageResp)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}

	found, detail, err := r.pageContains(ctx, it, page, state.Reference.Data())
	if err != nil {
		return err
	}
	rec.Check(CheckPageValidated, found, detail)
	return nil
}

// pageContains applies the page policy to the first page and, for the scan
// policy, walks the following pages
func (r *Runner) pageContains(ctx context.Context, it *Iteration, first *types.TaskTypePage, reference any) (bool, string, error) {
	if first.Total == 0 {
		return false, "task type collection is empty", nil
	}
	if r.opts.PagePolicy == PageLenient && first.Truncated() {
		return true, "", nil
	}
	if r.containsIn(first, reference) {
		return true, "", nil
	}
	if r.opts.PagePolicy == PageLenient || !first.Truncated() {
		return false, fmt.Sprintf("task type not found among %d entries", first.Len()), nil
	}

	seen := first.Len()
	offset := first.Offset + seen
	for pages := 1; pages < r.opts.MaxPages && offset < first.Total; pages++ {
		resp, err := r.api.GetTaskTypesPage(ctx, offset, r.opts.PageLimit)
		it.record(RequestListNext, resp)
		if err != nil {
			return false, "", fmt.Errorf("%w: %w", ErrTransport, err)
		}

		if resp.Status != http.StatusOK {
			return false, fmt.Sprintf("page at offset %d: %s", offset, unexpectedStatus(resp, http.StatusOK)), nil
		}
		page, err := r.api.DecodePage(resp)
		if err != nil {
			return false, "", fmt.Errorf("%w: %w", ErrDecode, err)
		}
		if page.Len() == 0 {
			break
		}
		if r.containsIn(page, reference) {
			return true, "", nil
		}
		seen += page.Len()
		offset += page.Len()
	}

	return false, fmt.Sprintf("task type not found among %d of %d entries", seen, first.Total), nil
}

func (r *Runner) containsIn(page *types.TaskTypePage, reference any) bool {
	for i := len(page.TaskTypes) - 1; i >= 0; i-- {
		if r.opts.Compare(reference, page.TaskTypes[i]) {
			return true
		}
	}
	return false
}

// delete removes the task type and optionally checks it is gone
func (r *Runner) delete(ctx context.Context, rec *check.Recorder, it *Iteration, state *State) error {
	resp, err := r.api.DeleteTaskType(ctx, state.ID)
	it.record(RequestDelete, resp)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	state.deleted = true

	rec.Check(CheckDeleted, resp.Status == http.StatusNoContent, unexpectedStatus(resp, http.StatusNoContent))

	if !r.opts.VerifyDeleted {
		return nil
	}

	verify, err := r.api.GetTaskType(ctx, state.ID)
	it.record(RequestVerify, verify)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	rec.Check(CheckGone, verify.Status == http.StatusNotFound, unexpectedStatus(verify, http.StatusNotFound))
	return nil
}

// cleanup deletes the task type of an aborted iteration. It runs on its own
// deadline so that a cancelled iteration still releases what it created.
func (r *Runner) cleanup(ctx context.Context, it *Iteration, state *State) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.CleanupTimeout)
	defer cancel()

	resp, err := r.api.DeleteTaskType(ctx, state.ID)
	it.record(RequestCleanup, resp)
	if err != nil {
		r.logger.Warn("failed to delete task type of aborted iteration", "id", state.ID, "error", err)
		return
	}
	if resp.Status != http.StatusNoContent && resp.Status != http.StatusNotFound {
		r.logger.Warn("unexpected status deleting task type of aborted iteration", "id", state.ID, "status", resp.Status)
	}
}

// record appends the timing of a request; resp is nil only when the request
// was never sent
func (it *Iteration) record(name string, resp *executor.Response) {
	if resp == nil {
		return
	}
	it.Requests = append(it.Requests, Timing{
		Name:         name,
		Method:       resp.Method,
		Status:       resp.Status,
		Duration:     resp.Duration,
		RequestSize:  resp.RequestSize,
		ResponseSize: resp.ResponseSize,
	})
}

func unexpectedStatus(resp *executor.Response, want int) string {
	got := resp.StatusText
	if got == "" {
		got = strconv.Itoa(resp.Status)
	}
	return fmt.Sprintf("%s %s: expected status %d, got %s", resp.Method, resp.URL, want, got)
}
