package config

import (
	"fmt"
	"math"
	"sort"
)

// Map is a single level of the configuration tree.
type Map = map[string]any

// TaskBranches are the top-level branches every task gets its own copy of.
// Renderers and output builders memoize into these, so sharing them across
// concurrent tasks would race.
var TaskBranches = []string{"gal", "psf", "pix", "image", "output"}

// Sub returns the sub-map stored under key, if there is one.
func Sub(m Map, key string) (Map, bool) {
	if m == nil {
		return nil, false
	}
	sub, ok := m[key].(Map)
	return sub, ok
}

// AsList normalizes v into a list. A single item becomes a one-element
// list; nil becomes an empty list.
func AsList(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	case []Map:
		out := make([]any, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out
	default:
		return []any{t}
	}
}

// Keys returns the keys of m in sorted order.
func Keys(m Map) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DeepCopy returns a copy of v in which every map and list is duplicated.
// Scalars and any other values are shared.
func DeepCopy(v any) any {
	switch t := v.(type) {
	case Map:
		out := make(Map, len(t))
		for k, val := range t {
			out[k] = DeepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = DeepCopy(val)
		}
		return out
	default:
		return v
	}
}

// CopyForTask returns a shallow copy of root whose TaskBranches are deep
// copied. The result can be mutated by one task without affecting others.
func CopyForTask(root Map) Map {
	out := make(Map, len(root))
	for k, v := range root {
		out[k] = v
	}
	for _, k := range TaskBranches {
		if v, ok := root[k]; ok {
			out[k] = DeepCopy(v)
		}
	}
	return out
}

// Merge copies the top-level keys of src into dst. A key present in both
// is a validation error; origin names src in the message.
func Merge(dst, src Map, origin string) error {
	for _, k := range Keys(src) {
		if _, exists := dst[k]; exists {
			return &ValidationError{Path: k, Reason: fmt.Sprintf("defined again in %s", origin)}
		}
		dst[k] = src[k]
	}
	return nil
}

// Normalize converts decoded JSON or YAML into tree types: objects become
// Maps and whole floats become ints.
func Normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(Map, len(t))
		for k, e := range t {
			m[k] = Normalize(e)
		}
		return m
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Normalize(e)
		}
		return out
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return int(t)
		}
		return t
	default:
		return v
	}
}
