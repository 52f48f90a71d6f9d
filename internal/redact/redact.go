// Package redact masks credentials in strings before they are logged or
// embedded in error messages. Provider error bodies are reported verbatim
// to the caller, so anything that might echo an API key back must pass
// through here first.
package redact

import "regexp"

// RedactionPlaceholder replaces matched secrets.
const RedactionPlaceholder = "***"

var (
	bearerRegex  = regexp.MustCompile(`(?i)(authorization\s*[:=]\s*bearer\s+)[^\s"']+`)
	xAPIKeyRegex = regexp.MustCompile(`(?i)(x-api-key\s*[:=]\s*)[^\s"']+`)
	apiKeyRegex  = regexp.MustCompile(`(?i)(api_?key"?\s*[:=]\s*"?)[^\s"',}]+`)
	skKeyRegex   = regexp.MustCompile(`\bsk-[A-Za-z0-9\-]{8,}\b`)
	dbConnRegex  = regexp.MustCompile(`(?i)(postgres|postgresql|mysql|redis)://[^@\s]+@`)
)

// String redacts credentials from the input string.
func String(input string) string {
	if input == "" {
		return input
	}

	result := bearerRegex.ReplaceAllString(input, "${1}"+RedactionPlaceholder)
	result = xAPIKeyRegex.ReplaceAllString(result, "${1}"+RedactionPlaceholder)
	result = apiKeyRegex.ReplaceAllString(result, "${1}"+RedactionPlaceholder)
	result = skKeyRegex.ReplaceAllString(result, "sk-"+RedactionPlaceholder)
	result = dbConnRegex.ReplaceAllString(result, "${1}://"+RedactionPlaceholder+"@")
	return result
}

// Error redacts credentials from an error's Error() output.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}

// Body prepares a provider response body for inclusion in an error
// message: redacted and truncated to limit bytes.
func Body(body string, limit int) string {
	masked := String(body)
	if limit > 0 && len(masked) > limit {
		return masked[:limit] + "..."
	}
	return masked
}
