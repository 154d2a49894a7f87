package mysql

import "strings"

// stringOrDash returns "-" when the input is empty or whitespace.
func stringOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// clampLimit applies the default and ceiling for list queries.
func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
