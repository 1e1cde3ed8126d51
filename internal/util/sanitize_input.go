package util

import (
	"html"
	"strings"
)

// SanitizeInput trims and escapes HTML/script-like characters before a value
// is written to the audit store or echoed in a response.
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}

// ContainsSuspicious reports whether a free-text field carries characters that
// have no business being in a token symbol, name, or wallet address.
func ContainsSuspicious(s string) bool {
	badChars := []string{"<", ">", "$", "{", "}", "script", "onerror", "onload"}
	lower := strings.ToLower(s)
	for _, c := range badChars {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}

// TruncateForAudit caps free-text request data so a hostile client cannot
// bloat audit rows.
func TruncateForAudit(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
