// Package listparse turns comma-separated configuration values into clean
// string slices.
package listparse

import "strings"

// Split breaks a comma-separated value into trimmed, deduplicated elements.
// Empty elements are dropped and order is preserved, so "a, b,,a" yields
// ["a", "b"].
func Split(value string) []string {
	if value == "" {
		return nil
	}
	seen := make(map[string]struct{})
	var result []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, ok := seen[part]; ok {
			continue
		}
		seen[part] = struct{}{}
		result = append(result, part)
	}
	return result
}
