// Package reason holds the closed registry of contract reason codes.
// Codes are published identifiers: callers match on the literal string,
// so a code is never renamed or reused for a different meaning.
package reason

// Code is a contract-facing reason code.
type Code string

const (
	// OK is the single success code: scoring ran and nothing fired.
	OK Code = "SNTL_OK"
	// Signal is the umbrella code for a scored result with at least one trigger.
	Signal Code = "SNTL_V2_SIGNAL"

	InvalidRequest     Code = "SNTL_ERROR_INVALID_REQUEST"
	SchemaVersion      Code = "SNTL_ERROR_SCHEMA_VERSION"
	UnknownTopLevelKey Code = "SNTL_ERROR_UNKNOWN_TOP_LEVEL_KEY"
	BadNumber          Code = "SNTL_ERROR_BAD_NUMBER"
	// TelemetryTooLarge covers both the byte ceiling and the node ceiling.
	TelemetryTooLarge Code = "SNTL_ERROR_TELEMETRY_TOO_LARGE"
	// Internal is the generic fault code. It never carries fault text.
	Internal Code = "SNTL_ERROR_INTERNAL"
)

var all = []Code{
	OK,
	Signal,
	InvalidRequest,
	SchemaVersion,
	UnknownTopLevelKey,
	BadNumber,
	TelemetryTooLarge,
	Internal,
}

// All returns every registered code in registry order.
func All() []Code {
	out := make([]Code, len(all))
	copy(out, all)
	return out
}

// Parse returns the registered code for s.
func Parse(s string) (Code, bool) {
	for _, c := range all {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Valid reports whether c is a registered code.
func (c Code) Valid() bool {
	_, ok := Parse(string(c))
	return ok
}

// IsError reports whether c is one of the error codes.
func (c Code) IsError() bool {
	switch c {
	case InvalidRequest, SchemaVersion, UnknownTopLevelKey, BadNumber, TelemetryTooLarge, Internal:
		return true
	default:
		return false
	}
}

func (c Code) String() string { return string(c) }
