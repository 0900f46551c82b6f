// Package util provides small string helpers shared across packages.
package util

import "strings"

// SafeTruncate truncates s to maxLen bytes without panicking. Used when
// quoting response bodies or tokens in errors and logs, where only a
// prefix should ever be shown.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL strips trailing slashes so URLs that differ only in a
// trailing slash compare equal, as in redirect URI matching.
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}
