package listing

import (
	"fmt"
	"strconv"
	"strings"
)

// The provider's payloads have no fixed schema: the same field may arrive as
// a string, a number, a bool, or a nested object depending on the listing.
// These helpers flatten that mess without ever dropping information — the
// verbatim payload is kept on the business regardless.

// ToString converts any scalar to a display string; nil and unsupported
// shapes become "".
func ToString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(s)
	case float64:
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	case fmt.Stringer:
		return s.String()
	}
	return ""
}

// ToFloat converts numeric-ish values; ok is false when nothing numeric is
// there.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// ToInt converts numeric-ish values to int.
func ToInt(v any) (int, bool) {
	f, ok := ToFloat(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// FirstString returns the first non-empty string value among the given keys.
func FirstString(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := ToString(fields[k]); s != "" {
			return s
		}
	}
	return ""
}

// NestedString walks a path of object keys and stringifies the leaf.
func NestedString(fields map[string]any, path ...string) string {
	var cur any = fields
	for _, k := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[k]
	}
	return ToString(cur)
}
