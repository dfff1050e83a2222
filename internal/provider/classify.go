// ABOUTME: Terminal-failure classification (§4.6): status codes, explicit failure codes, then message text.
// ABOUTME: Priority: status code beats message wording; explicit code beats message parsing; rate-limit beats timeout; auth beats rate-limit at 401/403.
package provider

import "regexp"

var (
	rateLimitPattern = regexp.MustCompile(`(?i)rate limit|throttled|quota`)
	timeoutPattern   = regexp.MustCompile(`(?i)timeout|timed out|deadline exceeded`)
	authPattern      = regexp.MustCompile(`(?i)billing_error|authentication_failed`)
)

var transportFailureCodes = map[string]bool{
	"ECONNRESET":   true,
	"ECONNREFUSED": true,
	"EAI_AGAIN":    true,
}

// ClassifyFailure implements the §4.6 failure-classification priority
// ladder for a terminal failure surfaced by the SDK or the adapter.
// statusCode is 0 when the failure carries no HTTP status; failureCode is
// empty when the SDK reported no explicit error code.
func ClassifyFailure(statusCode int, failureCode string, message string) *Error {
	// Status code decisively beats message wording.
	switch {
	case statusCode == 401 || statusCode == 403:
		return NewAuthError(message, statusCode)
	case statusCode == 408 || statusCode == 504:
		return NewTimeoutError(0)
	case statusCode == 429:
		return NewRateLimitedError(message, statusCode)
	case statusCode >= 500 && statusCode < 600:
		return NewInternalError(message, statusCode)
	}

	// Explicit failure codes beat message parsing.
	if failureCode == "ETIMEDOUT" {
		return NewTimeoutError(0)
	}
	if transportFailureCodes[failureCode] {
		return NewTransportError(message, failureCode)
	}

	// Message-text regex families, checked in order: auth, then rate-limit,
	// then timeout. Auth wording wins over rate-limit wording, and rate-limit
	// wording wins over a simultaneous timeout match.
	switch {
	case authPattern.MatchString(message):
		return NewAuthError(message, statusCode)
	case rateLimitPattern.MatchString(message):
		return NewRateLimitedError(message, statusCode)
	case timeoutPattern.MatchString(message):
		return NewTimeoutError(0)
	}

	return NewInternalError(message, statusCode)
}
