package contract

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/ppiankov/sentinel/internal/canonical"
)

// Stringify renders a request id value as Python's str() would: strings
// verbatim, booleans as True/False, null as None, numbers in canonical
// form, lists and objects in repr form ("[1, 'a']", "{'k': None}").
// Object keys are sorted since decoded maps carry no order.
func Stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	var b strings.Builder
	if err := writeRepr(&b, v, 0); err != nil {
		return DefaultRequestID
	}
	return b.String()
}

func writeRepr(b *strings.Builder, v any, depth int) error {
	if depth > canonical.MaxDepth {
		return fmt.Errorf("request id nested deeper than %d", canonical.MaxDepth)
	}
	switch t := v.(type) {
	case nil:
		b.WriteString("None")
	case bool:
		if t {
			b.WriteString("True")
		} else {
			b.WriteString("False")
		}
	case string:
		b.WriteString(quoteRepr(t))
	case float64:
		switch {
		case math.IsNaN(t):
			b.WriteString("nan")
		case math.IsInf(t, 1):
			b.WriteString("inf")
		case math.IsInf(t, -1):
			b.WriteString("-inf")
		default:
			b.WriteString(canonical.FormatFloat(t))
		}
	case []any:
		b.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				b.WriteString(", ")
			}
			if err := writeRepr(b, item, depth+1); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(quoteRepr(k))
			b.WriteString(": ")
			if err := writeRepr(b, t[k], depth+1); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	default:
		out, err := canonical.Marshal(v)
		if err != nil {
			return err
		}
		b.Write(out)
	}
	return nil
}

// quoteRepr quotes s the way Python's repr does: single quotes unless s
// holds a single quote and no double quote.
func quoteRepr(s string) string {
	quote := byte('\'')
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		quote = '"'
	}
	var b strings.Builder
	b.WriteByte(quote)
	for _, r := range s {
		switch {
		case r == rune(quote) || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r == ' ' || unicode.IsPrint(r):
			b.WriteRune(r)
		case r < 0x100:
			fmt.Fprintf(&b, `\x%02x`, r)
		case r < 0x10000:
			fmt.Fprintf(&b, `\u%04x`, r)
		default:
			fmt.Fprintf(&b, `\U%08x`, r)
		}
	}
	b.WriteByte(quote)
	return b.String()
}
