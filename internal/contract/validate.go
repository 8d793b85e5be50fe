package contract

import (
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/ppiankov/sentinel/internal/canonical"
	"github.com/ppiankov/sentinel/internal/reason"
)

// Validator checks raw requests against the contract using fixed Limits.
// It holds no mutable state and is safe for concurrent use.
type Validator struct {
	limits Limits
}

// NewValidator returns a Validator enforcing l. Non-positive fields fall
// back to the production ceilings.
func NewValidator(l Limits) *Validator {
	d := DefaultLimits()
	if l.MaxBytes <= 0 {
		l.MaxBytes = d.MaxBytes
	}
	if l.MaxNodes <= 0 {
		l.MaxNodes = d.MaxNodes
	}
	return &Validator{limits: l}
}

var defaultValidator = NewValidator(DefaultLimits())

// Validate checks raw with the production ceilings.
func Validate(raw any) (*Request, error) {
	return defaultValidator.Validate(raw)
}

// Limits returns the ceilings this validator enforces.
func (v *Validator) Limits() Limits { return v.limits }

// Validate parses raw into a Request or returns a *ValidationError.
//
// Checks run in a fixed order and the first failure wins:
//  1. raw must be a map
//  2. contract_version must be exactly Version
//  3. top-level keys must be in the allowlist
//  4. component must be a string, telemetry must be a map
//  5. canonical telemetry size must not exceed MaxBytes
//  6. bounded walk: node ceiling, string keys, finite non-boolean numbers
//  7. constraints: latency hint coerced, fail_closed forced true
func (v *Validator) Validate(raw any) (*Request, error) {
	top, foreign, ok := Object(raw)
	if !ok {
		return nil, reject(reason.InvalidRequest, "request must be an object")
	}

	if !VersionMatches(top[KeyContractVersion]) {
		return nil, reject(reason.SchemaVersion, "contract_version must be 3")
	}

	if foreign > 0 {
		return nil, reject(reason.UnknownTopLevelKey, "non-string top-level key")
	}
	if unknown := unknownKeys(top); len(unknown) > 0 {
		return nil, reject(reason.UnknownTopLevelKey, "unknown top-level key "+strconv.Quote(unknown[0]))
	}

	component, ok := top[KeyComponent].(string)
	if !ok {
		return nil, reject(reason.InvalidRequest, "component must be a string")
	}

	rawTelemetry, present := top[KeyTelemetry]
	if !present || !isObject(rawTelemetry) {
		return nil, reject(reason.InvalidRequest, "telemetry must be an object")
	}

	if _, err := canonical.MarshalLimit(rawTelemetry, v.limits.MaxBytes); err != nil {
		switch {
		case errors.Is(err, canonical.ErrTooLarge), errors.Is(err, canonical.ErrTooDeep):
			return nil, reject(reason.TelemetryTooLarge, "telemetry exceeds byte limit")
		default:
			return nil, reject(reason.InvalidRequest, "telemetry is not serializable")
		}
	}

	telemetry, err := walk(rawTelemetry, v.limits.MaxNodes)
	if err != nil {
		return nil, err
	}

	constraints, err := parseConstraints(top[KeyConstraints])
	if err != nil {
		return nil, err
	}

	return &Request{
		ContractVersion: Version,
		Component:       component,
		RequestID:       RequestIDOf(top),
		Telemetry:       telemetry,
		Constraints:     constraints,
	}, nil
}

// Object returns a string-keyed view of v when v is a map. foreign counts
// keys that are not strings; they are omitted from the view.
func Object(v any) (m map[string]any, foreign int, ok bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, 0, true
	case map[any]any:
		m = make(map[string]any, len(t))
		for k, vv := range t {
			ks, isStr := k.(string)
			if !isStr {
				foreign++
				continue
			}
			m[ks] = vv
		}
		return m, foreign, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Kind() != reflect.Map {
		return nil, 0, false
	}
	m = make(map[string]any, rv.Len())
	if rv.Type().Key().Kind() != reflect.String {
		return m, rv.Len(), true
	}
	iter := rv.MapRange()
	for iter.Next() {
		m[iter.Key().String()] = iter.Value().Interface()
	}
	return m, 0, true
}

func isObject(v any) bool {
	_, _, ok := Object(v)
	return ok
}

// VersionMatches reports whether v is the integer Version. Strings,
// floats and booleans never match, even when numerically equal.
func VersionMatches(v any) bool {
	switch t := v.(type) {
	case int:
		return t == Version
	case int8:
		return t == Version
	case int16:
		return t == Version
	case int32:
		return t == Version
	case int64:
		return t == Version
	case uint:
		return t == Version
	case uint8:
		return t == Version
	case uint16:
		return t == Version
	case uint32:
		return t == Version
	case uint64:
		return t == Version
	case json.Number:
		s := t.String()
		if strings.ContainsAny(s, ".eE") {
			return false
		}
		n, err := strconv.ParseInt(s, 10, 64)
		return err == nil && n == Version
	default:
		return false
	}
}

// RequestIDOf extracts request_id from a top-level object, defaulting to
// DefaultRequestID and stringifying non-string values.
func RequestIDOf(top map[string]any) string {
	v, ok := top[KeyRequestID]
	if !ok {
		return DefaultRequestID
	}
	return Stringify(v)
}


func unknownKeys(top map[string]any) []string {
	var unknown []string
	for k := range top {
		if !topLevelKeys[k] {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	return unknown
}

func parseConstraints(v any) (Constraints, error) {
	c := Constraints{FailClosed: true, MaxLatencyMS: DefaultMaxLatencyMS}
	if v == nil {
		return c, nil
	}
	obj, _, ok := Object(v)
	if !ok {
		return c, reject(reason.InvalidRequest, "constraints must be an object")
	}
	if raw, present := obj["max_latency_ms"]; present {
		if n, ok := coerceInt(raw); ok {
			c.MaxLatencyMS = n
		}
	}
	// fail_closed is deliberately not read.
	return c, nil
}

// coerceInt converts integer-like values. Floats truncate toward zero,
// numeric strings are parsed, anything else is not coercible.
func coerceInt(v any) (int, bool) {
	switch t := v.(type) {
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case int:
		return t, true
	case int32:
		return int(t), true
	case int64:
		return int(t), true
	case uint64:
		if t > math.MaxInt32 {
			return 0, false
		}
		return int(t), true
	case float64:
		return truncate(t)
	case float32:
		return truncate(float64(t))
	case json.Number:
		if n, err := strconv.Atoi(t.String()); err == nil {
			return n, true
		}
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return truncate(f)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func truncate(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}
