package entity

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jacentio/leanmap/store"
)

// timeLayouts are tried in order when a time property holds text.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// convert turns a non-nil column value into the Go type of kind: int64,
// float64, string, bool or time.Time.
func convert(kind Kind, v any) (any, error) {
	var (
		out any
		ok  bool
	)
	switch kind {
	case KindInt:
		out, ok = toInt(v)
	case KindFloat:
		out, ok = toFloat(v)
	case KindString:
		out, ok = toString(v)
	case KindBool:
		out, ok = toBool(v)
	case KindTime:
		out, ok = toTime(v)
	default:
		return nil, fmt.Errorf("%w: %s is not a basic type", ErrInvalidValue, kind)
	}
	if !ok {
		return nil, fmt.Errorf("%w: cannot convert %v (%T) to %s", ErrInvalidValue, v, v, kind)
	}
	return out, nil
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case float64:
		if math.IsNaN(n) || n >= math.MaxInt64 || n < math.MinInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		return toInt(float64(n))
	case string:
		return parseInt(strings.TrimSpace(n))
	case []byte:
		return parseInt(strings.TrimSpace(string(n)))
	}
	return store.ToID(v)
}

func parseInt(s string) (int64, bool) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return toInt(f)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(n)), 64)
		return f, err == nil
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	if i, ok := store.ToID(v); ok {
		return float64(i), true
	}
	return 0, false
}

func toString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	case bool:
		return strconv.FormatBool(s), true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(s), 'f', -1, 32), true
	case time.Time:
		return s.Format(time.RFC3339Nano), true
	}
	if i, ok := store.ToID(v); ok {
		return strconv.FormatInt(i, 10), true
	}
	return "", false
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		return parseBool(b)
	case []byte:
		return parseBool(string(b))
	case float64:
		return b != 0, true
	case float32:
		return b != 0, true
	}
	if i, ok := store.ToID(v); ok {
		return i != 0, true
	}
	return false, false
}

func parseBool(s string) (bool, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return false, true
	}
	b, err := strconv.ParseBool(s)
	return b, err == nil
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		return parseTime(t)
	case []byte:
		return parseTime(string(t))
	}
	if secs, ok := store.ToID(v); ok {
		return time.Unix(secs, 0).UTC(), true
	}
	return time.Time{}, false
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
