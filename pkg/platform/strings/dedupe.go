// Package strings normalizes the free-form string lists stored with consents
// and access logs.
package strings

import (
	"strings"
)

// DedupeAndTrim trims each element and drops empty and repeated ones. Order
// of first occurrence is kept. An input with nothing left returns nil so the
// column stores NULL rather than an empty array.
//
//	DedupeAndTrim([]string{" name ", "birth_date", "name", ""})
//	// []string{"name", "birth_date"}
func DedupeAndTrim(values []string) []string {
	return dedupe(values, strings.TrimSpace)
}

// DedupeAndTrimLower is DedupeAndTrim with case folding. Data categories are
// compared case-insensitively.
func DedupeAndTrimLower(values []string) []string {
	return dedupe(values, func(s string) string { return strings.ToLower(strings.TrimSpace(s)) })
}

func dedupe(values []string, norm func(string) string) []string {
	var result []string
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		n := norm(v)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		result = append(result, n)
	}
	return result
}
