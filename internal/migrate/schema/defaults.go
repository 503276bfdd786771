package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatDefault normalizes a descriptor default value into a dialect-correct
// SQL fragment. Unrecognized shapes return ok=false so the column is emitted
// without a DEFAULT clause rather than with invalid SQL.
func FormatDefault(v any) (string, bool) {
	switch val := unwrap(v).(type) {
	case nil:
		return "", false
	case bool:
		if val {
			return "TRUE", true
		}
		return "FALSE", true
	case int:
		return fmt.Sprintf("%d", val), true
	case int32:
		return fmt.Sprintf("%d", val), true
	case int64:
		return fmt.Sprintf("%d", val), true
	case float32:
		return trimFloat(float64(val)), true
	case float64:
		return trimFloat(val), true
	case json.Number:
		return val.String(), true
	case string:
		return formatStringDefault(val)
	case map[string]any:
		// An expression wrapper carries raw SQL the descriptor author takes
		// responsibility for.
		if expr, ok := asString(val["expression"]); ok {
			return expr, true
		}
		if expr, ok := asString(val["sql"]); ok {
			return expr, true
		}
		return "", false
	default:
		return "", false
	}
}

// formatStringDefault maps well-known function spellings onto canonical SQL
// and quotes everything else as a string literal.
func formatStringDefault(s string) (string, bool) {
	if s == "" {
		return "''", true
	}
	switch strings.ToLower(strings.TrimSuffix(s, "()")) {
	case "now", "current_timestamp", "timestamp_now":
		return "now()", true
	case "gen_random_uuid", "uuid_generate_v4", "random_uuid", "uuid":
		return "gen_random_uuid()", true
	case "true":
		return "TRUE", true
	case "false":
		return "FALSE", true
	}
	if isNumericLiteral(s) {
		return s, true
	}
	return QuoteLiteral(s), true
}

// QuoteLiteral wraps a string value in single quotes, doubling any embedded
// quotes per the SQL standard.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func isNumericLiteral(s string) bool {
	dot := false
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '-' && i == 0:
		case r == '.' && !dot && i > 0:
			dot = true
		default:
			return false
		}
	}
	return s != "" && s != "-"
}

func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
