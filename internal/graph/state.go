// Package graph implements the declarative graph builder and BFS executor
// of the Graph Builder & Executor component: a node/edge DSL over a
// reducer-annotated state record, with retry, loops, conditionals,
// parallel branches, checkpointing, and cancellation.
package graph

import "fmt"

// State is the workflow's typed record. Field values are plain Go values
// (string, float64, []any, map[string]any, ...) matching what a node's
// JSON-producing work naturally yields; the Annotation governs how a
// field-level update is merged into the running state.
type State map[string]any

// Clone returns a shallow copy of s. The executor never mutates a State
// in place; every step produces a new snapshot.
func (s State) Clone() State {
	out := make(State, len(s)+2)
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Reducer merges an incoming field update into the existing value for
// that field. existing is nil on the first update.
type Reducer func(existing, update any) any

// Annotation maps a state field name to the reducer used to merge
// updates into it. Fields absent from the annotation use ReplaceReducer.
type Annotation map[string]Reducer

// ReplaceReducer discards existing and takes update (the default).
func ReplaceReducer(existing, update any) any { return update }

// ConcatReducer appends update's elements to existing's (both []any).
func ConcatReducer(existing, update any) any {
	ex, _ := existing.([]any)
	up, _ := update.([]any)
	out := make([]any, 0, len(ex)+len(up))
	out = append(out, ex...)
	out = append(out, up...)
	return out
}

// MergeByIDReducer upserts elements of update (a []any of map[string]any)
// into existing by matching the idKey field; unmatched existing elements
// are preserved, matched ones are replaced in place (field-by-field merge
// of the element itself), new ids are appended.
func MergeByIDReducer(idKey string) Reducer {
	return func(existing, update any) any {
		ex, _ := existing.([]any)
		up, _ := update.([]any)
		if len(up) == 0 {
			return ex
		}
		byID := make(map[any]int, len(ex))
		out := make([]any, len(ex))
		copy(out, ex)
		for i, item := range out {
			if m, ok := item.(map[string]any); ok {
				byID[m[idKey]] = i
			}
		}
		for _, item := range up {
			m, ok := item.(map[string]any)
			if !ok {
				out = append(out, item)
				continue
			}
			id := m[idKey]
			if idx, found := byID[id]; found {
				merged := make(map[string]any)
				if old, ok := out[idx].(map[string]any); ok {
					for k, v := range old {
						merged[k] = v
					}
				}
				for k, v := range m {
					merged[k] = v
				}
				out[idx] = merged
			} else {
				byID[id] = len(out)
				out = append(out, m)
			}
		}
		return out
	}
}

// MergeReducer shallow-merges update (map[string]any) into existing.
func MergeReducer(existing, update any) any {
	ex, _ := existing.(map[string]any)
	up, _ := update.(map[string]any)
	out := make(map[string]any, len(ex)+len(up))
	for k, v := range ex {
		out[k] = v
	}
	for k, v := range up {
		out[k] = v
	}
	return out
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// SumReducer adds numeric update to numeric existing.
func SumReducer(existing, update any) any {
	e, _ := asFloat(existing)
	u, ok := asFloat(update)
	if !ok {
		return existing
	}
	return e + u
}

// MinReducer keeps the smaller of existing/update.
func MinReducer(existing, update any) any {
	e, eok := asFloat(existing)
	u, uok := asFloat(update)
	if !uok {
		return existing
	}
	if !eok || u < e {
		return u
	}
	return e
}

// MaxReducer keeps the larger of existing/update.
func MaxReducer(existing, update any) any {
	e, eok := asFloat(existing)
	u, uok := asFloat(update)
	if !uok {
		return existing
	}
	if !eok || u > e {
		return u
	}
	return e
}

// AndReducer is boolean AND across existing/update (missing existing
// treated as true, the identity for AND).
func AndReducer(existing, update any) any {
	e, eok := existing.(bool)
	u, _ := update.(bool)
	if !eok {
		e = true
	}
	return e && u
}

// OrReducer is boolean OR across existing/update.
func OrReducer(existing, update any) any {
	e, _ := existing.(bool)
	u, _ := update.(bool)
	return e || u
}

// reducerFor resolves the reducer for field, defaulting to ReplaceReducer.
func (a Annotation) reducerFor(field string) Reducer {
	if r, ok := a[field]; ok && r != nil {
		return r
	}
	return ReplaceReducer
}

// Apply merges update into state field-by-field through ann, returning a
// new State snapshot. No field update ever drops or reorders other
// fields: fields not present in update are carried over unchanged.
func Apply(state State, ann Annotation, update map[string]any) State {
	next := state.Clone()
	for field, val := range update {
		reducer := ann.reducerFor(field)
		next[field] = reducer(state[field], val)
	}
	return next
}

// AsList is a small helper for nodes building []any-typed state fields
// from a typed slice, since State fields are stored as `any`.
func AsList[T any](items []T) []any {
	out := make([]any, len(items))
	for i, v := range items {
		out[i] = v
	}
	return out
}

// GetString fetches a string field, defaulting to "" if absent or of the
// wrong type.
func GetString(s State, key string) string {
	v, _ := s[key].(string)
	return v
}

// GetBool fetches a bool field.
func GetBool(s State, key string) bool {
	v, _ := s[key].(bool)
	return v
}

// GetFloat fetches a numeric field.
func GetFloat(s State, key string) float64 {
	v, _ := asFloat(s[key])
	return v
}

// GetList fetches a []any field.
func GetList(s State, key string) []any {
	v, _ := s[key].([]any)
	return v
}

func fmtNodeID(prefix string, n int) string {
	return fmt.Sprintf("%s_%d", prefix, n)
}
