package mapping

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// applyTransform runs the named transform against v. Transforms never fail
// outright: an input that cannot be coerced yields the original value plus
// a warning, matching the field_map "skip rule, don't fail mapping" rule.
func applyTransform(t Transform, v interface{}, warn func(string)) interface{} {
	switch t {
	case "":
		return v
	case TransformUppercase:
		return withString(v, warn, strings.ToUpper)
	case TransformLowercase:
		return withString(v, warn, strings.ToLower)
	case TransformTrim:
		return withString(v, warn, strings.TrimSpace)
	case TransformEmailLower:
		return withString(v, warn, func(s string) string { return strings.ToLower(strings.TrimSpace(s)) })
	case TransformPhoneClean:
		return withString(v, warn, cleanPhone)
	case TransformNumber:
		return toNumber(v, warn)
	case TransformBoolean:
		return toBoolean(v, warn)
	case TransformString:
		return toStringValue(v)
	case TransformDateISO:
		return toISODate(v, warn)
	case TransformJSONParse:
		return jsonParse(v, warn)
	case TransformJSONStringify:
		return jsonStringify(v, warn)
	case TransformArrayFirst:
		return arrayEdge(v, warn, true)
	case TransformArrayLast:
		return arrayEdge(v, warn, false)
	case TransformArrayJoin:
		return arrayJoin(v, warn)
	default:
		warn(fmt.Sprintf("unknown transform %q, value passed through unchanged", t))
		return v
	}
}

func withString(v interface{}, warn func(string), f func(string) string) interface{} {
	s, ok := v.(string)
	if !ok {
		warn(fmt.Sprintf("transform expected string, got %T, left unchanged", v))
		return v
	}
	return f(s)
}

func cleanPhone(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if r == '+' && i == 0 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func toNumber(v interface{}, warn func(string)) interface{} {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			warn(fmt.Sprintf("cannot convert %q to number, left unchanged", n))
			return v
		}
		return f
	case bool:
		if n {
			return float64(1)
		}
		return float64(0)
	default:
		warn(fmt.Sprintf("cannot convert %T to number, left unchanged", v))
		return v
	}
}

func toBoolean(v interface{}, warn func(string)) interface{} {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off", "":
			return false
		default:
			warn(fmt.Sprintf("cannot convert %q to boolean, left unchanged", b))
			return v
		}
	case float64:
		return b != 0
	default:
		warn(fmt.Sprintf("cannot convert %T to boolean, left unchanged", v))
		return v
	}
}

func toStringValue(v interface{}) interface{} {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	case nil:
		return ""
	default:
		b, err := json.Marshal(s)
		if err != nil {
			return fmt.Sprint(s)
		}
		return string(b)
	}
}

var isoDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
}

// unixMillisThreshold separates unix-seconds from unix-millis epoch values:
// seconds for "now" are ~1.7e9, millis are ~1.7e12 — anything past 1e11
// cannot be a plausible seconds timestamp for the foreseeable future.
const unixMillisThreshold = 1e11

// toISODate parses heterogeneous date representations (RFC3339 and other
// common string layouts, unix seconds, unix millis) and emits RFC3339 UTC.
func toISODate(v interface{}, warn func(string)) interface{} {
	switch d := v.(type) {
	case float64:
		return unixEpochToRFC3339(d)
	case string:
		s := strings.TrimSpace(d)
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return unixEpochToRFC3339(n)
		}
		for _, layout := range isoDateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC().Format(time.RFC3339)
			}
		}
		warn(fmt.Sprintf("cannot parse %q as a date, left unchanged", s))
		return v
	default:
		warn(fmt.Sprintf("date_iso expected string or number, got %T, left unchanged", v))
		return v
	}
}

func unixEpochToRFC3339(n float64) string {
	var t time.Time
	if n > unixMillisThreshold || n < -unixMillisThreshold {
		t = time.UnixMilli(int64(n))
	} else {
		t = time.Unix(int64(n), 0)
	}
	return t.UTC().Format(time.RFC3339)
}

func jsonParse(v interface{}, warn func(string)) interface{} {
	s, ok := v.(string)
	if !ok {
		warn(fmt.Sprintf("json_parse expected string, got %T, left unchanged", v))
		return v
	}
	var out interface{}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		warn(fmt.Sprintf("json_parse failed on %q: %v, left unchanged", s, err))
		return v
	}
	return out
}

func jsonStringify(v interface{}, warn func(string)) interface{} {
	b, err := json.Marshal(v)
	if err != nil {
		warn(fmt.Sprintf("json_stringify failed: %v, left unchanged", err))
		return v
	}
	return string(b)
}

func arrayEdge(v interface{}, warn func(string), first bool) interface{} {
	arr, ok := v.([]interface{})
	if !ok {
		warn(fmt.Sprintf("array transform expected array, got %T, left unchanged", v))
		return v
	}
	if len(arr) == 0 {
		return nil
	}
	if first {
		return arr[0]
	}
	return arr[len(arr)-1]
}

func arrayJoin(v interface{}, warn func(string)) interface{} {
	arr, ok := v.([]interface{})
	if !ok {
		warn(fmt.Sprintf("array_join expected array, got %T, left unchanged", v))
		return v
	}
	parts := make([]string, len(arr))
	for i, item := range arr {
		parts[i] = fmt.Sprint(toStringValue(item))
	}
	return strings.Join(parts, ",")
}
