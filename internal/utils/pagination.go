// Package utils holds tiny domain-free helpers, currently only the lenient
// integer parsing used for pagination query parameters.
package utils

import "strconv"

// AtoiDefault parses s as a base-10 int, returning def when s is empty or
// malformed. Pagination handlers use it so a bad ?page= value degrades to
// the default instead of erroring.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}
