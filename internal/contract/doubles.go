package contract

import "math"

// maxExactInt bounds the doubles that convert to int64 without loss.
const maxExactInt = 1 << 53

// IntegralDoubles rewrites integral float64 values within the exact-integer
// range as int64, in place, and returns v. Transports that carry every
// number as a double (protobuf Struct, plain encoding/json) use it so 3 and
// 3.0 hash the same way they would from a JSON literal 3.
func IntegralDoubles(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = IntegralDoubles(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = IntegralDoubles(item)
		}
		return t
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < maxExactInt {
			return int64(t)
		}
		return t
	default:
		return v
	}
}
