// ABOUTME: Tests for ClassifyFailure's status-code / explicit-code / message priority ladder.
package provider

import "testing"

func TestClassifyFailureStatusCodeBeatsMessage(t *testing.T) {
	err := ClassifyFailure(429, "", "everything is fine")
	if err.Classification != ClassRateLimited {
		t.Errorf("expected RATE_LIMITED from status code, got %s", err.Classification)
	}
}

func TestClassifyFailureAuthStatusCodes(t *testing.T) {
	for _, code := range []int{401, 403} {
		err := ClassifyFailure(code, "", "")
		if err.Classification != ClassAuth {
			t.Errorf("status %d: expected AUTH_ERROR, got %s", code, err.Classification)
		}
		if err.Retryable {
			t.Errorf("status %d: expected non-retryable", code)
		}
	}
}

func TestClassifyFailureTimeoutStatusCodes(t *testing.T) {
	for _, code := range []int{408, 504} {
		err := ClassifyFailure(code, "", "")
		if err.Classification != ClassTimeout {
			t.Errorf("status %d: expected TIMEOUT, got %s", code, err.Classification)
		}
	}
}

func TestClassifyFailureServerErrorStatusCodes(t *testing.T) {
	err := ClassifyFailure(503, "", "")
	if err.Classification != ClassInternal {
		t.Errorf("expected INTERNAL_ERROR, got %s", err.Classification)
	}
	if !err.Retryable {
		t.Error("expected 5xx internal errors to be retryable")
	}
}

func TestClassifyFailureExplicitCodeBeatsMessage(t *testing.T) {
	err := ClassifyFailure(0, "ETIMEDOUT", "this mentions nothing relevant")
	if err.Classification != ClassTimeout {
		t.Errorf("expected TIMEOUT from explicit code, got %s", err.Classification)
	}

	err = ClassifyFailure(0, "ECONNRESET", "")
	if err.Classification != ClassTransport {
		t.Errorf("expected TRANSPORT_ERROR, got %s", err.Classification)
	}
	if err.FailureCode != "ECONNRESET" {
		t.Errorf("expected FailureCode to be preserved, got %q", err.FailureCode)
	}
}

func TestClassifyFailureRateLimitBeatsTimeoutInMessage(t *testing.T) {
	err := ClassifyFailure(0, "", "request timed out: rate limit exceeded")
	if err.Classification != ClassRateLimited {
		t.Errorf("expected RATE_LIMITED to win over timeout wording, got %s", err.Classification)
	}
}

func TestClassifyFailureMessageTimeoutPattern(t *testing.T) {
	err := ClassifyFailure(0, "", "the request timed out")
	if err.Classification != ClassTimeout {
		t.Errorf("expected TIMEOUT, got %s", err.Classification)
	}
	if !err.Retryable {
		t.Error("expected TIMEOUT to be retryable")
	}
}

func TestClassifyFailureFallsBackToInternal(t *testing.T) {
	err := ClassifyFailure(0, "", "something unexpected happened")
	if err.Classification != ClassInternal {
		t.Errorf("expected INTERNAL_ERROR fallback, got %s", err.Classification)
	}
	if err.Retryable {
		t.Error("expected an unclassified internal error with no status code to be non-retryable")
	}
}
