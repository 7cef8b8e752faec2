// Package strings normalizes operator-entered string lists before they reach
// the stores.
package strings

import "strings"

// DedupeAndTrim normalizes a list of identifiers as entered on a form: each
// element loses surrounding whitespace, blanks disappear, and a repeated
// entry keeps only its first occurrence. Relative order survives, so the
// first identity number stays the primary one.
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; !ok {
			seen[trimmed] = struct{}{}
			result = append(result, trimmed)
		}
	}

	return result
}
