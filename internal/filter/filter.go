// Package filter narrows stored runs and applies JMESPath queries to their
// JSON form.
package filter

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jmespath/go-jmespath"
	"github.com/studiowebux/taskload/internal/stresstest"
)

// Apply applies filter and query expressions to the JSON form of v
// Filter narrows results (e.g., [?Status=='failed'])
// Query transforms/selects fields (e.g., [].Name)
func Apply(v any, filter string, query string) (string, error) {
	data, err := toJSONValue(v)
	if err != nil {
		return "", err
	}

	if filter != "" {
		data, err = search(data, filter)
		if err != nil {
			return "", fmt.Errorf("failed to apply filter: %w", err)
		}
	}
	if query != "" {
		data, err = search(data, query)
		if err != nil {
			return "", fmt.Errorf("failed to apply query: %w", err)
		}
	}

	// Handle null result
	if data == nil {
		return "null", nil
	}

	output, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(output), nil
}

// toJSONValue converts structs into the generic values JMESPath searches
func toJSONValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return data, nil
}

func search(data any, expression string) (any, error) {
	jp, err := jmespath.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid JMESPath expression '%s': %w", expression, err)
	}
	result, err := jp.Search(data)
	if err != nil {
		return nil, fmt.Errorf("JMESPath search failed: %w", err)
	}
	return result, nil
}

// IsValidJMESPath checks if an expression is valid JMESPath syntax
func IsValidJMESPath(expression string) bool {
	_, err := jmespath.Compile(expression)
	return err == nil
}

// Criteria selects stored runs
type Criteria struct {
	Statuses    []string // any of, case-insensitive
	NamePattern string   // filepath.Match glob on the run name
}

// IsZero reports whether the criteria select every run
func (c Criteria) IsZero() bool {
	return len(c.Statuses) == 0 && c.NamePattern == ""
}

// Runs returns the runs matching every criterion
func Runs(runs []*stresstest.Run, criteria Criteria) ([]*stresstest.Run, error) {
	if criteria.NamePattern != "" {
		if _, err := filepath.Match(criteria.NamePattern, ""); err != nil {
			return nil, fmt.Errorf("invalid name pattern %q: %w", criteria.NamePattern, err)
		}
	}

	var filtered []*stresstest.Run
	for _, run := range runs {
		if len(criteria.Statuses) > 0 && !hasAny(run.Status, criteria.Statuses) {
			continue
		}
		if criteria.NamePattern != "" {
			matched, _ := filepath.Match(criteria.NamePattern, run.Name)
			if !matched {
				continue
			}
		}
		filtered = append(filtered, run)
	}
	return filtered, nil
}

// hasAny checks if value equals any of the candidates
func hasAny(value string, candidates []string) bool {
	for _, c := range candidates {
		if strings.EqualFold(value, c) {
			return true
		}
	}
	return false
}
