package contract

import (
	"encoding/json"
	"math"
	"reflect"
	"sort"

	"github.com/ppiankov/sentinel/internal/reason"
)

// frame is one pending node of the telemetry walk. put stores the
// normalized copy of val into its parent.
type frame struct {
	val any
	put func(any)
}

// walk visits every node of the telemetry tree exactly once using an
// explicit stack, so the node ceiling is enforced before any deep
// structure can grow the call stack. It returns a normalized deep copy.
// Map keys are visited in sorted order, which makes the first reported
// violation deterministic.
func walk(root any, maxNodes int) (map[string]any, error) {
	var out map[string]any
	stack := []frame{{val: root, put: func(v any) { out, _ = v.(map[string]any) }}}
	seen := 0

	for len(stack) > 0 {
		seen++
		if seen > maxNodes {
			return nil, reject(reason.TelemetryTooLarge, "telemetry exceeds node limit")
		}

		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch kind(cur.val) {
		case kindMap:
			obj, foreign, _ := Object(cur.val)
			if foreign > 0 {
				return nil, reject(reason.InvalidRequest, "telemetry keys must be strings")
			}
			keys := make([]string, 0, len(obj))
			for k := range obj {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			copied := make(map[string]any, len(obj))
			cur.put(copied)
			for _, k := range keys {
				child := obj[k]
				if !numberOK(child) {
					return nil, reject(reason.BadNumber, "non-finite or boolean value at key "+k)
				}
				key := k
				stack = append(stack, frame{val: child, put: func(v any) { copied[key] = v }})
			}
		case kindList:
			items := list(cur.val)
			copied := make([]any, len(items))
			cur.put(copied)
			for i, child := range items {
				if !numberOK(child) {
					return nil, reject(reason.BadNumber, "non-finite or boolean value in list")
				}
				idx := i
				stack = append(stack, frame{val: child, put: func(v any) { copied[idx] = v }})
			}
		default:
			if !numberOK(cur.val) {
				return nil, reject(reason.BadNumber, "non-finite or boolean value")
			}
			cur.put(cur.val)
		}
	}
	return out, nil
}

type nodeKind int

const (
	kindScalar nodeKind = iota
	kindMap
	kindList
)

func kind(v any) nodeKind {
	switch v.(type) {
	case map[string]any, map[any]any:
		return kindMap
	case []any:
		return kindList
	case nil, string, bool, json.Number, float64, float32, int, int64:
		return kindScalar
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		return kindMap
	case reflect.Slice, reflect.Array:
		return kindList
	}
	return kindScalar
}

func list(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	rv := reflect.ValueOf(v)
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

// numberOK rejects booleans and non-finite numbers. Non-numbers pass.
func numberOK(v any) bool {
	switch t := v.(type) {
	case bool:
		return false
	case float64:
		return !math.IsNaN(t) && !math.IsInf(t, 0)
	case float32:
		f := float64(t)
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	case json.Number:
		f, err := t.Float64()
		return err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	return true
}
