package logging

import "regexp"

// secretPatterns catches the common ways a credential ends up embedded in
// an upstream error message (an echoed request body, a GraphQL error
// string quoting the query) so it never reaches the log output. Adapted
// from infrastructure/redaction/redaction.go, trimmed to the single
// RedactString entry point the pipeline's error-logging path needs; the
// teacher's RedactMap/RedactSlice/SafeLogger helpers have no caller here
// since every field this pipeline logs is already a flat string or number.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)["']?\s*[:=]\s*["']?([^"'\s,}]+)["']?`),
	regexp.MustCompile(`(?i)(secret|token|auth)["']?\s*[:=]\s*["']?([^"'\s,}]+)["']?`),
	regexp.MustCompile(`(?i)(Bearer)\s+[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),
	regexp.MustCompile(`(?i)(private[_-]?key|privkey)["']?\s*[:=]\s*["']?([^"'\s,}]+)["']?`),
}

const redactionText = "***REDACTED***"

// Redact scrubs likely credential material out of a string before it is
// logged: API key, secret/token/auth and private-key assignments, and
// bearer JWTs. Account IDs are not treated as secrets and are left as is.
func Redact(s string) string {
	result := s
	for _, pattern := range secretPatterns {
		result = pattern.ReplaceAllString(result, "${1}: "+redactionText)
	}
	return result
}
