// Package logging provides log sanitization helpers.
//
// Patient names and birth dates are protected health information and must
// not land in log aggregators. Log sites that need to reference a patient
// use RedactName / RedactDOB instead of the raw values.
package logging

import (
	"regexp"
	"strings"
)

const (
	// MaxValueLogLength is the maximum length of a cell value to log.
	MaxValueLogLength = 64
	// RedactedText is the replacement text for sensitive data.
	RedactedText = "[REDACTED]"
)

var (
	// Matches potential passwords in connection strings:
	// password=xxx, pwd=xxx, pass=xxx (until next delimiter).
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Matches connection string credentials (user:pass@host format).
	connStringPattern = regexp.MustCompile(`://[^:]+:[^@]+@[^/\s]+`)

	// Matches ISO dates, so an error message carrying a birth date is
	// scrubbed before logging.
	isoDatePattern = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
)

// SanitizeConnectionString removes credentials from connection strings.
// Use this before logging any connection string.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeError sanitizes error messages that might contain credentials or
// patient dates before they reach log fields.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(err.Error(), "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
	return isoDatePattern.ReplaceAllString(sanitized, RedactedText)
}

// RedactName reduces a person's name to an initial for logging.
func RedactName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return string([]rune(name)[0]) + "."
}

// RedactDOB reduces a birth date string to its year for logging.
func RedactDOB(dob string) string {
	if dob == "" {
		return ""
	}
	if len(dob) >= 4 {
		return dob[:4] + "-**-**"
	}
	return RedactedText
}

// TruncateValue shortens a cell value for logging. Long values are almost
// always free text and carry the highest PII risk.
func TruncateValue(value string) string {
	if len(value) > MaxValueLogLength {
		return value[:MaxValueLogLength] + "..."
	}
	return value
}
