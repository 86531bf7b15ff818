package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// RetryClass says whether an error is worth retrying.
type RetryClass string

const (
	RetryClassRetryable    RetryClass = "retryable"
	RetryClassMaybe        RetryClass = "maybe"
	RetryClassNonRetryable RetryClass = "non_retryable"
)

// Error wraps a provider SDK error with retry classification and the
// HTTP metadata the backoff logic reads.
type Error struct {
	Err         error
	Class       RetryClass
	HTTPStatus  int
	RetryAfter  string
	IsRateLimit bool
	IsAuth      bool
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("provider error: %s", e.Class)
}

func (e *Error) Unwrap() error { return e.Err }

// Classify buckets an error by inspecting SDK error strings. The SDKs
// do not expose a shared error type, so string matching is the common
// denominator.
func Classify(err error) RetryClass {
	if err == nil {
		return RetryClassNonRetryable
	}

	var perr *Error
	if errors.As(err, &perr) {
		return perr.Class
	}

	errStr := strings.ToLower(err.Error())

	// Rate limits and 5xx-class errors retry.
	if strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") {
		return RetryClassRetryable
	}
	if strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout") ||
		strings.Contains(errStr, "overloaded") {
		return RetryClassRetryable
	}
	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "temporary failure") {
		return RetryClassRetryable
	}

	if strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context length") ||
		strings.Contains(errStr, "token limit") {
		return RetryClassMaybe
	}

	// Auth, quota, bad requests, and safety refusals do not retry.
	if strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") ||
		strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "forbidden") ||
		strings.Contains(errStr, "invalid api key") ||
		strings.Contains(errStr, "400") ||
		strings.Contains(errStr, "bad request") ||
		strings.Contains(errStr, "402") ||
		strings.Contains(errStr, "quota") ||
		strings.Contains(errStr, "billing") ||
		strings.Contains(errStr, "content filter") ||
		strings.Contains(errStr, "safety") {
		return RetryClassNonRetryable
	}

	return RetryClassNonRetryable
}

// WrapError attaches classification metadata to a provider SDK error.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	httpStatus, retryAfter := extractErrorMetadata(err)
	return &Error{
		Err:         err,
		Class:       Classify(err),
		HTTPStatus:  httpStatus,
		RetryAfter:  retryAfter,
		IsRateLimit: httpStatus == http.StatusTooManyRequests,
		IsAuth:      httpStatus == http.StatusUnauthorized || httpStatus == http.StatusForbidden,
	}
}

// extractErrorMetadata pulls an HTTP status and Retry-After value out of
// an SDK error message.
func extractErrorMetadata(err error) (int, string) {
	if err == nil {
		return 0, ""
	}

	errStr := err.Error()
	var httpStatus int
	var retryAfter string

	switch {
	case strings.Contains(errStr, "429"):
		httpStatus = http.StatusTooManyRequests
	case strings.Contains(errStr, "500"):
		httpStatus = http.StatusInternalServerError
	case strings.Contains(errStr, "502"):
		httpStatus = http.StatusBadGateway
	case strings.Contains(errStr, "503"):
		httpStatus = http.StatusServiceUnavailable
	case strings.Contains(errStr, "504"):
		httpStatus = http.StatusGatewayTimeout
	case strings.Contains(errStr, "401"):
		httpStatus = http.StatusUnauthorized
	case strings.Contains(errStr, "403"):
		httpStatus = http.StatusForbidden
	case strings.Contains(errStr, "402"):
		httpStatus = http.StatusPaymentRequired
	case strings.Contains(errStr, "400"):
		httpStatus = http.StatusBadRequest
	}

	lower := strings.ToLower(errStr)
	if idx := strings.Index(lower, "retry-after"); idx != -1 {
		retryAfter = firstValueToken(errStr[idx+len("retry-after"):])
	} else if idx := strings.Index(lower, "retry after"); idx != -1 {
		retryAfter = firstValueToken(errStr[idx+len("retry after"):])
	}

	return httpStatus, retryAfter
}

// firstValueToken returns the first field that is not bare separator
// punctuation, so both "retry-after: 12" and "retry-after 12" yield 12.
func firstValueToken(s string) string {
	for _, f := range strings.Fields(s) {
		if f = strings.Trim(f, ":;,="); f != "" {
			return f
		}
	}
	return ""
}

// retryAfterDelay extracts a usable Retry-After duration from an error.
// Returns 0 when absent.
func retryAfterDelay(err error) time.Duration {
	var perr *Error
	if errors.As(err, &perr) && perr.RetryAfter != "" {
		var seconds int
		if _, scanErr := fmt.Sscanf(perr.RetryAfter, "%d", &seconds); scanErr == nil {
			return time.Duration(seconds) * time.Second
		}
		if t, parseErr := time.Parse(time.RFC1123, perr.RetryAfter); parseErr == nil {
			if d := time.Until(t); d > 0 {
				return d
			}
		}
	}
	return 0
}

// RetryExhaustedError reports that every attempt failed.
type RetryExhaustedError struct {
	Err      error
	Attempts int
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }
