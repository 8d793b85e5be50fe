// Package canonical produces the deterministic serialization used for
// context hashes and telemetry size checks.
//
// The byte format is fixed: map keys sorted by code point at every level,
// no whitespace, "," and ":" separators, non-ASCII emitted as raw UTF-8,
// integers as integers, floats in shortest round-trip form with a trailing
// ".0" when integral and exponent form outside [1e-4, 1e16). Non-finite
// floats render as NaN, Infinity and -Infinity so a size check can run
// before number validation.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxDepth bounds nesting so adversarial input cannot exhaust the stack.
const MaxDepth = 10_000

var (
	// ErrTooLarge is returned by MarshalLimit when output exceeds the limit.
	ErrTooLarge = errors.New("canonical: output exceeds size limit")
	// ErrTooDeep is returned when nesting exceeds MaxDepth.
	ErrTooDeep = errors.New("canonical: nesting exceeds maximum depth")
	// ErrNonStringKey is returned for map keys that are not strings.
	ErrNonStringKey = errors.New("canonical: map key is not a string")
)

// UnsupportedTypeError reports a value with no JSON-like representation.
type UnsupportedTypeError struct {
	Type string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("canonical: unsupported type %s", e.Type)
}

// Marshal returns the canonical encoding of v.
func Marshal(v any) ([]byte, error) {
	return MarshalLimit(v, 0)
}

// MarshalLimit is Marshal with an output ceiling in bytes. It stops as soon
// as the ceiling is crossed and returns ErrTooLarge. A limit <= 0 disables it.
func MarshalLimit(v any, limit int) ([]byte, error) {
	e := &encoder{limit: limit}
	if err := e.encode(v, 0); err != nil {
		return nil, err
	}
	return e.buf.Bytes(), nil
}

// Hash returns the lowercase hex SHA-256 of the canonical encoding of v.
func Hash(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the lowercase hex SHA-256 of b.
func HashBytes(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// DecodeJSON parses a single JSON document keeping numbers as json.Number,
// so integers and floats keep their identity through canonicalization.
// The bare tokens NaN, Infinity and -Infinity are accepted and decode to
// non-finite float64 values, leaving their rejection to number validation.
func DecodeJSON(data []byte) (any, error) {
	v, err := decodeStrict(data)
	if err == nil {
		return v, nil
	}
	marked, marks := markNonFinite(data)
	if marks == nil {
		return nil, err
	}
	v, retryErr := decodeStrict(marked)
	if retryErr != nil {
		return nil, err
	}
	v, ok := restoreNonFinite(v, marks)
	if !ok {
		return nil, err
	}
	return v, nil
}

func decodeStrict(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("canonical: trailing data after JSON document")
	}
	return v, nil
}

var nonFiniteTokens = []struct {
	token string
	value float64
}{
	{"-Infinity", math.Inf(-1)},
	{"Infinity", math.Inf(1)},
	{"NaN", math.NaN()},
}

// markNonFinite replaces bare non-finite tokens outside strings with unique
// string markers. It returns nil marks when there is nothing to replace.
func markNonFinite(data []byte) ([]byte, map[string]float64) {
	prefix := "nonfinite-" + uuid.NewString() + "-"
	var out bytes.Buffer
	var marks map[string]float64
	inString, escaped := false, false

	for i := 0; i < len(data); i++ {
		c := data[i]
		if inString {
			out.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			out.WriteByte(c)
			continue
		}
		matched := false
		if i == 0 || !isWordByte(data[i-1]) {
			for _, nf := range nonFiniteTokens {
				end := i + len(nf.token)
				if end > len(data) || string(data[i:end]) != nf.token {
					continue
				}
				if end < len(data) && isWordByte(data[end]) {
					continue
				}
				if marks == nil {
					marks = make(map[string]float64, len(nonFiniteTokens))
				}
				marker := prefix + nf.token
				marks[marker] = nf.value
				out.WriteString(strconv.Quote(marker))
				i = end - 1
				matched = true
				break
			}
		}
		if !matched {
			out.WriteByte(c)
		}
	}
	return out.Bytes(), marks
}

func isWordByte(c byte) bool {
	return c == '_' || c == '.' || c == '+' || c == '-' ||
		(c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// restoreNonFinite swaps markers back to their values. A marker used as an
// object key was a bare token in key position and fails the document.
func restoreNonFinite(v any, marks map[string]float64) (any, bool) {
	switch t := v.(type) {
	case string:
		if f, ok := marks[t]; ok {
			return f, true
		}
		return t, true
	case map[string]any:
		for k, child := range t {
			if _, ok := marks[k]; ok {
				return nil, false
			}
			restored, ok := restoreNonFinite(child, marks)
			if !ok {
				return nil, false
			}
			t[k] = restored
		}
		return t, true
	case []any:
		for i, child := range t {
			restored, ok := restoreNonFinite(child, marks)
			if !ok {
				return nil, false
			}
			t[i] = restored
		}
		return t, true
	default:
		return v, true
	}
}

// FormatFloat renders f in the canonical float form.
func FormatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		// strconv already uses a signed, at-least-two-digit exponent.
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}

type encoder struct {
	buf   bytes.Buffer
	limit int
}

func (e *encoder) check() error {
	if e.limit > 0 && e.buf.Len() > e.limit {
		return ErrTooLarge
	}
	return nil
}

func (e *encoder) encode(v any, depth int) error {
	if depth > MaxDepth {
		return ErrTooDeep
	}
	switch t := v.(type) {
	case nil:
		e.buf.WriteString("null")
	case bool:
		if t {
			e.buf.WriteString("true")
		} else {
			e.buf.WriteString("false")
		}
	case string:
		writeString(&e.buf, t)
	case json.Number:
		if err := writeNumber(&e.buf, t); err != nil {
			return err
		}
	case float64:
		e.buf.WriteString(FormatFloat(t))
	case float32:
		e.buf.WriteString(FormatFloat(float64(t)))
	case int:
		e.buf.WriteString(strconv.FormatInt(int64(t), 10))
	case int8:
		e.buf.WriteString(strconv.FormatInt(int64(t), 10))
	case int16:
		e.buf.WriteString(strconv.FormatInt(int64(t), 10))
	case int32:
		e.buf.WriteString(strconv.FormatInt(int64(t), 10))
	case int64:
		e.buf.WriteString(strconv.FormatInt(t, 10))
	case uint:
		e.buf.WriteString(strconv.FormatUint(uint64(t), 10))
	case uint8:
		e.buf.WriteString(strconv.FormatUint(uint64(t), 10))
	case uint16:
		e.buf.WriteString(strconv.FormatUint(uint64(t), 10))
	case uint32:
		e.buf.WriteString(strconv.FormatUint(uint64(t), 10))
	case uint64:
		e.buf.WriteString(strconv.FormatUint(t, 10))
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		e.buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				e.buf.WriteByte(',')
			}
			writeString(&e.buf, k)
			e.buf.WriteByte(':')
			if err := e.encode(t[k], depth+1); err != nil {
				return err
			}
		}
		e.buf.WriteByte('}')
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			ks, ok := k.(string)
			if !ok {
				return ErrNonStringKey
			}
			m[ks] = vv
		}
		return e.encode(m, depth)
	case []any:
		e.buf.WriteByte('[')
		for i, vv := range t {
			if i > 0 {
				e.buf.WriteByte(',')
			}
			if err := e.encode(vv, depth+1); err != nil {
				return err
			}
		}
		e.buf.WriteByte(']')
	default:
		return e.encodeReflect(reflect.ValueOf(v), depth)
	}
	return e.check()
}

// encodeReflect handles typed maps, slices and pointers by converting them
// to the generic shapes above.
func (e *encoder) encodeReflect(rv reflect.Value, depth int) error {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return e.encode(nil, depth)
		}
		return e.encode(rv.Elem().Interface(), depth)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return ErrNonStringKey
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return e.encode(m, depth)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return e.encode(nil, depth)
		}
		s := make([]any, rv.Len())
		for i := range s {
			s[i] = rv.Index(i).Interface()
		}
		return e.encode(s, depth)
	case reflect.String:
		return e.encode(rv.String(), depth)
	case reflect.Bool:
		return e.encode(rv.Bool(), depth)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return e.encode(rv.Int(), depth)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return e.encode(rv.Uint(), depth)
	case reflect.Float32, reflect.Float64:
		return e.encode(rv.Float(), depth)
	}
	if !rv.IsValid() {
		return e.encode(nil, depth)
	}
	return &UnsupportedTypeError{Type: rv.Type().String()}
}

func writeNumber(buf *bytes.Buffer, n json.Number) error {
	s := n.String()
	if strings.ContainsAny(s, ".eE") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil && !isRangeErr(err) {
			return fmt.Errorf("canonical: invalid number %q", s)
		}
		buf.WriteString(FormatFloat(f))
		return nil
	}
	i := new(big.Int)
	if _, ok := i.SetString(s, 10); !ok {
		return fmt.Errorf("canonical: invalid number %q", s)
	}
	buf.WriteString(i.String())
	return nil
}

func isRangeErr(err error) bool {
	var ne *strconv.NumError
	return errors.As(err, &ne) && errors.Is(ne.Err, strconv.ErrRange)
}

const hexDigits = "0123456789abcdef"

// writeString quotes s. Only '"', '\\' and control characters are escaped.
func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			switch c {
			case '"':
				buf.WriteString(`\"`)
			case '\\':
				buf.WriteString(`\\`)
			case '\b':
				buf.WriteString(`\b`)
			case '\f':
				buf.WriteString(`\f`)
			case '\n':
				buf.WriteString(`\n`)
			case '\r':
				buf.WriteString(`\r`)
			case '\t':
				buf.WriteString(`\t`)
			default:
				if c < 0x20 {
					buf.WriteString(`\u00`)
					buf.WriteByte(hexDigits[c>>4])
					buf.WriteByte(hexDigits[c&0xF])
				} else {
					buf.WriteByte(c)
				}
			}
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			buf.WriteString("�")
		} else {
			buf.WriteString(s[i : i+size])
		}
		i += size
	}
	buf.WriteByte('"')
}
