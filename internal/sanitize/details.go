package sanitize

import (
	"fmt"
	"strings"
	"time"
)

const (
	redacted        = "<redacted>"
	maxDetailsDepth = 8
)

var sensitiveKeySubstrings = []string{
	"password",
	"secret",
	"token",
	"apikey",
	"api_key",
	"authorization",
	"cookie",
}

// Details scrubs an audit payload. Strings pass through Text, credentials are
// redacted by key name and nesting deeper than maxDetailsDepth is cut off.
func Details(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	return detailsMap(in, 0)
}

func detailsMap(in map[string]any, depth int) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		key := Text(k)
		if key == "" {
			continue
		}
		if isSensitiveKey(key) {
			out[key] = redacted
			continue
		}
		out[key] = detailsValue(v, depth+1)
	}
	return out
}

func detailsValue(v any, depth int) any {
	if depth > maxDetailsDepth {
		return "<truncated>"
	}
	switch t := v.(type) {
	case nil, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return t
	case string:
		return Text(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case time.Duration:
		return t.String()
	case error:
		return Text(t.Error())
	case map[string]any:
		return detailsMap(t, depth)
	case map[string]string:
		m := make(map[string]any, len(t))
		for k, s := range t {
			m[k] = s
		}
		return detailsMap(m, depth)
	case []any:
		out := make([]any, 0, len(t))
		for _, item := range t {
			out = append(out, detailsValue(item, depth+1))
		}
		return out
	case []string:
		out := make([]any, 0, len(t))
		for _, item := range t {
			out = append(out, Text(item))
		}
		return out
	default:
		return Text(fmt.Sprintf("%v", t))
	}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(strings.TrimSpace(key))
	for _, part := range sensitiveKeySubstrings {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}
