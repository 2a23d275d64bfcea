// Package document implements dot-path access over a JSON-like tree.
//
// A document is a map[string]any whose values are scalars, []any slices or
// nested map[string]any objects. Paths address nested locations with
// "."-separated keys; slices are never indexed through a path, they are only
// mutated wholesale by the operation engine.
package document

import (
	"fmt"
	"reflect"
	"strings"
)

// Doc is the shared mutable tree a session edits.
type Doc = map[string]any

// PathError reports a write that traversed a missing or non-container
// segment.
type PathError struct {
	Path    string
	Segment string
	Reason  string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("document: path %q: segment %q %s", e.Path, e.Segment, e.Reason)
}

// Get walks path through doc and returns the value at the leaf. The second
// return is false when any segment is missing or not a traversable object.
func Get(doc Doc, path string) (any, bool) {
	if doc == nil || path == "" {
		return nil, false
	}

	segments := strings.Split(path, ".")
	current := doc
	for _, seg := range segments[:len(segments)-1] {
		next, ok := current[seg]
		if !ok {
			return nil, false
		}
		child, ok := next.(map[string]any)
		if !ok {
			return nil, false
		}
		current = child
	}

	value, ok := current[segments[len(segments)-1]]
	return value, ok
}

// Set writes value at path, creating or replacing the leaf key. Intermediate
// segments must already exist and be objects; a missing or non-object segment
// yields a *PathError and leaves doc untouched. The stored value is a deep
// copy, so a caller-held alias can never splice a cycle into the tree.
func Set(doc Doc, path string, value any) error {
	if doc == nil {
		return &PathError{Path: path, Reason: "into nil document"}
	}
	if path == "" {
		return &PathError{Path: path, Reason: "is empty"}
	}

	segments := strings.Split(path, ".")
	current := doc
	for _, seg := range segments[:len(segments)-1] {
		next, ok := current[seg]
		if !ok {
			return &PathError{Path: path, Segment: seg, Reason: "does not exist"}
		}
		child, ok := next.(map[string]any)
		if !ok {
			return &PathError{Path: path, Segment: seg, Reason: "is not an object"}
		}
		current = child
	}

	current[segments[len(segments)-1]] = DeepCopy(value)
	return nil
}

// Delete removes the leaf key at path. Paths that traverse a missing or
// non-object segment are a no-op; deletion is only used to reverse writes
// whose target key did not exist, so the containing object is expected to be
// there.
func Delete(doc Doc, path string) {
	if doc == nil || path == "" {
		return
	}

	segments := strings.Split(path, ".")
	current := doc
	for _, seg := range segments[:len(segments)-1] {
		child, ok := current[seg].(map[string]any)
		if !ok {
			return
		}
		current = child
	}
	delete(current, segments[len(segments)-1])
}

// DeepCopy returns a structurally independent copy of a JSON-like value.
// Scalars are returned as-is.
func DeepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = DeepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = DeepCopy(item)
		}
		return out
	default:
		return value
	}
}

// Number coerces the numeric types a decoded JSON tree can hold into a
// float64. Returns false for everything non-numeric.
func Number(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Equal compares two JSON-like values by structure.
func Equal(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
