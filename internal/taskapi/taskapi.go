// Package taskapi speaks the task manager's task type endpoints.
package taskapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/Jeffail/gabs/v2"
	"github.com/jmespath/go-jmespath"
	"github.com/mitchellh/mapstructure"
	"github.com/studiowebux/taskload/internal/executor"
	"github.com/studiowebux/taskload/internal/types"
)

const (
	// CreatePath receives new task types
	CreatePath = "/tasks"
	// ListPath returns the paginated task type listing
	ListPath = "/tasks"
	// TaskTypesPath prefixes single task type operations
	TaskTypesPath = "/taskTypes"

	DefaultIDPath    = "id"
	DefaultTotalPath = "total"
	DefaultItemsPath = "taskTypes"
)

var (
	// ErrNotJSON is returned when a body that must be JSON is not
	ErrNotJSON = errors.New("response body is not valid JSON")
	// ErrMalformedPage is returned when a listing lacks its entries
	ErrMalformedPage = errors.New("malformed task type page")
)

// Doer sends one request; executor.Client implements it
type Doer interface {
	Do(ctx context.Context, method, path string, body any) (*executor.Response, error)
}

// Paths locates fields inside responses. ID uses gabs dot notation, Total
// and Items are JMESPath expressions evaluated on the listing body.
type Paths struct {
	ID    string `yaml:"id" default:"id"`
	Total string `yaml:"total" default:"total"`
	Items string `yaml:"items" default:"taskTypes"`
}

// Client wraps a Doer with the task type operations
type Client struct {
	doer      Doer
	idPath    string
	totalExpr *jmespath.JMESPath
	itemsExpr *jmespath.JMESPath
}

// New creates a client. Empty paths fall back to the task manager defaults.
func New(doer Doer, paths Paths) (*Client, error) {
	if paths.ID == "" {
		paths.ID = DefaultIDPath
	}
	if paths.Total == "" {
		paths.Total = DefaultTotalPath
	}
	if paths.Items == "" {
		paths.Items = DefaultItemsPath
	}

	totalExpr, err := jmespath.Compile(paths.Total)
	if err != nil {
		return nil, fmt.Errorf("invalid total path %q: %w", paths.Total, err)
	}
	itemsExpr, err := jmespath.Compile(paths.Items)
	if err != nil {
		return nil, fmt.Errorf("invalid items path %q: %w", paths.Items, err)
	}

	return &Client{
		doer:      doer,
		idPath:    paths.ID,
		totalExpr: totalExpr,
		itemsExpr: itemsExpr,
	}, nil
}

// CreateTaskType posts a new task type
func (c *Client) CreateTaskType(ctx context.Context, input types.TaskTypeInput) (*executor.Response, error) {
	return c.doer.Do(ctx, http.MethodPost, CreatePath, input)
}

// GetTaskType fetches one task type by id
func (c *Client) GetTaskType(ctx context.Context, id string) (*executor.Response, error) {
	return c.doer.Do(ctx, http.MethodGet, taskTypePath(id), nil)
}

// GetTaskTypesPage fetches a page of the listing. With limit <= 0 no paging
// parameters are sent and the service picks its default first page.
func (c *Client) GetTaskTypesPage(ctx context.Context, offset, limit int) (*executor.Response, error) {
	path := ListPath
	if limit > 0 {
		query := url.Values{}
		query.Set("offset", strconv.Itoa(offset))
		query.Set("limit", strconv.Itoa(limit))
		path += "?" + query.Encode()
	}
	return c.doer.Do(ctx, http.MethodGet, path, nil)
}

// DeleteTaskType removes a task type by id
func (c *Client) DeleteTaskType(ctx context.Context, id string) (*executor.Response, error) {
	return c.doer.Do(ctx, http.MethodDelete, taskTypePath(id), nil)
}

func taskTypePath(id string) string {
	return TaskTypesPath + "/" + url.PathEscape(id)
}

// DecodeDocument parses a task type body. A JSON null decodes to a container
// whose Data() is nil.
func DecodeDocument(resp *executor.Response) (*gabs.Container, error) {
	doc, err := gabs.ParseJSON(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrNotJSON, resp.Method, resp.URL, err)
	}
	return doc, nil
}

// DocumentID reads the identifier of a task type document
func (c *Client) DocumentID(doc *gabs.Container) (string, bool) {
	if doc == nil || !doc.ExistsP(c.idPath) {
		return "", false
	}
	switch v := doc.Path(c.idPath).Data().(type) {
	case string:
		return v, v != ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case json.Number:
		return v.String(), true
	default:
		return "", false
	}
}

// DecodePage parses a listing body into a page. A listing without a total
// is treated as complete, so its entries get scanned.
func (c *Client) DecodePage(resp *executor.Response) (*types.TaskTypePage, error) {
	var body any
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrNotJSON, resp.Method, resp.URL, err)
	}

	items, err := c.itemsExpr.Search(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPage, err)
	}
	if _, ok := items.([]any); !ok {
		return nil, fmt.Errorf("%w: entries are missing or not a list", ErrMalformedPage)
	}

	total, err := c.totalExpr.Search(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPage, err)
	}

	raw := map[string]any{"taskTypes": items}
	if total != nil {
		raw["total"] = total
	} else {
		raw["total"] = len(items.([]any))
	}
	if obj, ok := body.(map[string]any); ok {
		if offset, exists := obj["offset"]; exists {
			raw["offset"] = offset
		}
	}

	page := &types.TaskTypePage{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           page,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create page decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPage, err)
	}
	return page, nil
}
