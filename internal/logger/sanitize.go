package logger

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxPathLength is the maximum length for URL paths in logs
	MaxPathLength = 500
	// MaxErrorMessageLength is the maximum length for error messages in logs
	MaxErrorMessageLength = 1000
	// MaxGeneralStringLength is the maximum length for general strings in logs
	MaxGeneralStringLength = 2000
	// MaxModelOutputLength is the maximum length for model output in debug logs
	MaxModelOutputLength = 10000
)

// SanitizePath sanitizes a URL path for safe logging. Reminder text reaches
// handlers unfiltered, so anything derived from a request can carry control
// characters or broken UTF-8.
func SanitizePath(path string) string {
	return SanitizeString(path, MaxPathLength)
}

// SanitizeString removes control characters, fixes invalid UTF-8, and
// truncates to maxLength. A non-positive maxLength falls back to
// MaxGeneralStringLength.
func SanitizeString(s string, maxLength int) string {
	if s == "" {
		return ""
	}
	if maxLength <= 0 {
		maxLength = MaxGeneralStringLength
	}
	s = filterRunes(s)
	if len(s) > maxLength {
		s = s[:maxLength] + "..."
	}
	return s
}

// filterRunes keeps printable characters plus space, tab, newline and CR.
func filterRunes(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	var builder strings.Builder
	builder.Grow(len(s))
	for _, r := range s {
		if unicode.IsPrint(r) || r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			builder.WriteRune(r)
		}
	}
	return builder.String()
}

// SanitizeError sanitizes an error message for safe logging or persistence.
// Driver and gateway errors can echo request content back verbatim.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeString(err.Error(), MaxErrorMessageLength)
}

// SanitizeModelOutput sanitizes raw model responses for debug logs. Model
// output is untrusted input like any other and gets the same filtering,
// just with a larger cap.
func SanitizeModelOutput(content string) string {
	return SanitizeString(content, MaxModelOutputLength)
}
