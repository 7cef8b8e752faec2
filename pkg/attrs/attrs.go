// Package attrs reads values back out of flattened slog attribute lists.
// Test log handlers capture records as [key1, value1, key2, value2, ...],
// and assertions pull single fields out of those captures.
package attrs

// ExtractString returns the string value recorded under key, or "" when the
// key is absent or holds a non-string. Malformed odd-length tails are simply
// ignored.
func ExtractString(attrs []any, key string) string {
	for i := 0; i+1 < len(attrs); i += 2 {
		k, ok := attrs[i].(string)
		if !ok || k != key {
			continue
		}
		if v, ok := attrs[i+1].(string); ok {
			return v
		}
	}
	return ""
}
