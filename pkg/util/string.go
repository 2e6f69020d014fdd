package util

import (
	"strings"
	"unicode/utf8"
)

// MaskSecret keeps the last four characters of a secret for log hints.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	n := utf8.RuneCountInString(s)
	if n <= 4 {
		return strings.Repeat("*", n)
	}
	r := []rune(s)
	return strings.Repeat("*", n-4) + string(r[n-4:])
}

// Preview shortens text for log fields, appending an ellipsis when cut.
func Preview(text string, maxRunes int) string {
	text = strings.Join(strings.Fields(text), " ")
	if maxRunes <= 0 || utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	r := []rune(text)
	return string(r[:maxRunes]) + "..."
}

// RuneLength counts characters the way a reader sees them.
func RuneLength(s string) int {
	return utf8.RuneCountInString(s)
}

// LastPathSegment returns the final non-empty segment of a URL path, e.g.
// the status id of https://twitter.com/user/status/123?s=20.
func LastPathSegment(rawURL string) string {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		rawURL = rawURL[:i]
	}
	rawURL = strings.TrimRight(rawURL, "/")
	if i := strings.LastIndex(rawURL, "/"); i >= 0 {
		return rawURL[i+1:]
	}
	return rawURL
}
