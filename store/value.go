package store

import (
	"cmp"
	"time"
)

// Compare orders two column values the way storage engines do: nil first, then
// numbers numerically, strings and byte strings lexically, false before true, and
// times chronologically. ok is false when the values are not comparable.
func Compare(a, b any) (c int, ok bool) {
	switch {
	case a == nil && b == nil:
		return 0, true
	case a == nil:
		return -1, true
	case b == nil:
		return 1, true
	}

	if x, ok := ToID(a); ok && !isText(a) {
		if y, ok := ToID(b); ok && !isText(b) {
			return cmp.Compare(x, y), true
		}
	}
	if x, ok := toFloat(a); ok {
		if y, ok := toFloat(b); ok {
			return cmp.Compare(x, y), true
		}
	}

	switch x := a.(type) {
	case string:
		if y, ok := asText(b); ok {
			return cmp.Compare(x, y), true
		}
	case []byte:
		if y, ok := asText(b); ok {
			return cmp.Compare(string(x), y), true
		}
	case bool:
		if y, ok := b.(bool); ok {
			return cmp.Compare(boolRank(x), boolRank(y)), true
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y), true
		}
	}
	return 0, false
}

func isText(v any) bool {
	_, ok := asText(v)
	return ok
}

func asText(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	}
	return "", false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	if isText(v) {
		return 0, false
	}
	if i, ok := ToID(v); ok {
		return float64(i), true
	}
	return 0, false
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}
