package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// ROW VALUE EXTRACTION UTILITIES
// =============================================================================
//
// Record-source rows arrive as column name -> driver value. Depending on the
// driver a column can surface as any of:
//   - string / []byte: TEXT columns, and numerics some drivers return as text
//   - int64 / int:     INTEGER columns
//   - float64:         REAL columns
//   - time.Time:       DATETIME columns when the driver parses them
//   - bool:            boolean columns
//   - nil:             NULL

// Row is one tabular record keyed by column name.
type Row map[string]interface{}

// Lookup returns the value for name, matching exactly first and then
// case-insensitively. A nil value counts as absent.
func (r Row) Lookup(name string) (interface{}, bool) {
	if v, ok := r[name]; ok && v != nil {
		return v, true
	}
	for k, v := range r {
		if strings.EqualFold(k, name) && v != nil {
			return v, true
		}
	}
	return nil, false
}

// ExtractString extracts a string representation from a row value.
func ExtractString(arg interface{}) string {
	switch v := arg.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.Format(time.RFC3339)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ExtractInt64 extracts an integer. Numeric text is parsed.
// Returns (0, false) if the value is not numeric.
func ExtractInt64(arg interface{}) (int64, bool) {
	switch v := arg.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case float32:
		return int64(v), true
	case string, []byte:
		s := strings.TrimSpace(ExtractString(v))
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f), true
		}
		return 0, false
	default:
		return 0, false
	}
}

// ExtractFloat64 extracts a float. Numeric text is parsed.
// Returns (0, false) if the value is not numeric.
func ExtractFloat64(arg interface{}) (float64, bool) {
	switch v := arg.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case string, []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(ExtractString(v)), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// ExtractStrings splits a list value. Slices are taken element-wise and
// text is split on commas, the form SQL group_concat produces.
func ExtractStrings(arg interface{}) []string {
	var parts []string
	switch v := arg.(type) {
	case []string:
		parts = v
	case []interface{}:
		for _, e := range v {
			parts = append(parts, ExtractString(e))
		}
	case nil:
		return nil
	default:
		parts = strings.Split(ExtractString(v), ",")
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
