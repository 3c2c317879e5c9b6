// Package compare decides whether two decoded JSON values describe the same
// task type.
package compare

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const (
	// NameDeep compares decoded values structurally with ordered arrays
	NameDeep = "deep"
	// NameDeepUnordered compares decoded values structurally ignoring array order
	NameDeepUnordered = "deep-unordered"
	// NameCharset compares the sorted characters of the JSON serialisations
	NameCharset = "charset"
)

// Func reports whether candidate is equivalent to reference
type Func func(reference, candidate any) bool

// Options tunes the deep comparison
type Options struct {
	IgnoreArrayOrder bool
}

// ByName returns the comparator registered under name
func ByName(name string) (Func, error) {
	switch strings.ToLower(name) {
	case "", NameDeep:
		return func(a, b any) bool { return Deep(a, b, Options{}) }, nil
	case NameDeepUnordered:
		return func(a, b any) bool { return Deep(a, b, Options{IgnoreArrayOrder: true}) }, nil
	case NameCharset:
		return Charset, nil
	default:
		return nil, fmt.Errorf("unknown comparator %q (expected %s, %s or %s)", name, NameDeep, NameDeepUnordered, NameCharset)
	}
}

// Deep compares two decoded JSON values. Object key order never matters,
// numbers are compared by value whatever their Go type.
func Deep(a, b any, opts Options) bool {
	a, b = normalize(a), normalize(b)

	switch av := a.(type) {
	case nil:
		return b == nil
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for key, aField := range av {
			bField, exists := bv[key]
			if !exists || !Deep(aField, bField, opts) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		if opts.IgnoreArrayOrder {
			return unorderedEqual(av, bv, opts)
		}
		for i := range av {
			if !Deep(av[i], bv[i], opts) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// unorderedEqual matches every element of a with a distinct element of b
func unorderedEqual(a, b []any, opts Options) bool {
	used := make([]bool, len(b))
	for _, item := range a {
		found := false
		for j, candidate := range b {
			if used[j] {
				continue
			}
			if Deep(item, candidate, opts) {
				used[j] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// normalize brings numeric types to float64 and typed slices/maps coming from
// callers to their generic JSON shape
func normalize(v any) any {
	switch n := v.(type) {
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case []map[string]any:
		out := make([]any, len(n))
		for i := range n {
			out[i] = n[i]
		}
		return out
	case []string:
		out := make([]any, len(n))
		for i := range n {
			out[i] = n[i]
		}
		return out
	}
	return v
}

// Charset serialises both values to compact JSON, sorts the characters of
// each serialisation and compares the results. It ignores key and array
// order but is not an equality: distinct values sharing a character
// multiset compare equal.
func Charset(reference, candidate any) bool {
	a, err := SortedChars(reference)
	if err != nil {
		return false
	}
	b, err := SortedChars(candidate)
	if err != nil {
		return false
	}
	return a == b
}

// SortedChars returns the characters of the compact JSON form of v in
// ascending order
func SortedChars(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("failed to serialise value: %w", err)
	}
	chars := []rune(strings.TrimSuffix(buf.String(), "\n"))
	sort.Slice(chars, func(i, j int) bool {
		return chars[i] < chars[j]
	})
	return string(chars), nil
}
