// Package typeutil provides safe type assertion helpers to prevent panics from failed type casts.
// These helpers follow the comma-ok idiom and tolerate the numeric widening
// JSON unmarshaling introduces (ints arriving as float64).
package typeutil

// SafeMapStringAny safely asserts value to map[string]any.
// Returns the map and true if successful, or nil and false if not.
func SafeMapStringAny(value any) (map[string]any, bool) {
	if value == nil {
		return nil, false
	}
	m, ok := value.(map[string]any)
	return m, ok
}

// SafeString safely asserts value to string.
// Returns the string and true if successful, or empty string and false if not.
func SafeString(value any) (string, bool) {
	if value == nil {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}

// SafeStringDefault safely asserts value to string with a default fallback.
func SafeStringDefault(value any, defaultVal string) string {
	if s, ok := SafeString(value); ok {
		return s
	}
	return defaultVal
}

// SafeInt safely asserts value to int.
// Also handles float64 (common from JSON unmarshaling).
func SafeInt(value any) (int, bool) {
	if value == nil {
		return 0, false
	}
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case int32:
		return int(v), true
	case float64:
		return int(v), true
	case float32:
		return int(v), true
	default:
		return 0, false
	}
}

// SafeIntDefault safely asserts value to int with a default fallback.
func SafeIntDefault(value any, defaultVal int) int {
	if i, ok := SafeInt(value); ok {
		return i
	}
	return defaultVal
}

// SafeFloat64 safely asserts value to float64.
// Also handles int types.
func SafeFloat64(value any) (float64, bool) {
	if value == nil {
		return 0, false
	}
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	default:
		return 0, false
	}
}

// SafeBool safely asserts value to bool.
func SafeBool(value any) (bool, bool) {
	if value == nil {
		return false, false
	}
	b, ok := value.(bool)
	return b, ok
}

// SafeBoolDefault safely asserts value to bool with a default fallback.
func SafeBoolDefault(value any, defaultVal bool) bool {
	if b, ok := SafeBool(value); ok {
		return b
	}
	return defaultVal
}

// SafeSlice safely asserts value to []any.
func SafeSlice(value any) ([]any, bool) {
	if value == nil {
		return nil, false
	}
	s, ok := value.([]any)
	return s, ok
}

// SafeMapSlice asserts value to a slice of map[string]any.
// Handles both []map[string]any and []any containing maps (common from JSON).
func SafeMapSlice(value any) ([]map[string]any, bool) {
	if value == nil {
		return nil, false
	}

	if s, ok := value.([]map[string]any); ok {
		return s, true
	}

	if anySlice, ok := value.([]any); ok {
		result := make([]map[string]any, 0, len(anySlice))
		for _, item := range anySlice {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, false
			}
			result = append(result, m)
		}
		return result, true
	}

	return nil, false
}

// SafeStringMap asserts value to map[string]string.
// Handles map[string]any containing strings (common from JSON).
func SafeStringMap(value any) (map[string]string, bool) {
	if value == nil {
		return nil, false
	}

	if m, ok := value.(map[string]string); ok {
		return m, true
	}

	if anyMap, ok := value.(map[string]any); ok {
		result := make(map[string]string, len(anyMap))
		for k, v := range anyMap {
			s, ok := v.(string)
			if !ok {
				return nil, false
			}
			result[k] = s
		}
		return result, true
	}

	return nil, false
}
