// Package classifier maps transport and remote API failures into the
// closed error taxonomy the rest of the orchestrator reasons about (§4.1).
// It is grounded on the teacher's failure-code mapping
// (internal/adapter/queue/redpanda/failure_codes.go) and retry-eligibility
// substring matching (domain.ShouldRetry), generalized to the richer
// remote-status-first ordering the spec requires.
package classifier

import (
	"strconv"
	"strings"

	"github.com/spriteforge/orchestrator/internal/domain"
)

const defaultRetryAfterSeconds = 30

var userMessages = map[domain.ErrorKind]string{
	domain.KindAuthentication:  "authentication with the generation service failed",
	domain.KindRateLimit:       "the generation service is rate limiting requests, please retry shortly",
	domain.KindTimeout:         "the request to the generation service timed out",
	domain.KindServerError:     "the generation service returned a server error",
	domain.KindValidationError: "the request was rejected as invalid",
	domain.KindNetworkError:    "a network error occurred while contacting the generation service",
	domain.KindQuotaExceeded:   "the account has exceeded its quota",
	domain.KindDatabase:        "a storage error occurred",
	domain.KindUnknown:         "an unexpected error occurred",
}

// networkErrorCodes retry (connection-level failures that are generally
// transient).
var networkErrorCodes = map[string]bool{
	"ECONNREFUSED": true,
	"ENOTFOUND":    true,
	"ECONNRESET":   true,
	"EPIPE":        true,
	"EHOSTUNREACH": true,
}

// RemoteFailure is the input to Classify: whatever context is available
// about a transport or remote-API failure. Fields are zero-valued when not
// applicable; Classify degrades gracefully.
type RemoteFailure struct {
	StatusCode  int
	NetworkCode string
	Message     string
	RetryAfter  string // raw Retry-After header value, if any
	Origin      string
}

// Classify maps a RemoteFailure onto the closed ErrorKind taxonomy,
// following the ordered rules in §4.1. It never panics: any unexpected
// input degrades to unknown(non-retryable).
func Classify(f RemoteFailure) (ce *domain.ClassifiedError) {
	defer func() {
		if recover() != nil {
			ce = build(domain.KindUnknown, false, f, nil)
		}
	}()

	switch {
	case f.StatusCode != 0:
		return classifyStatus(f)
	case f.NetworkCode != "":
		return classifyNetworkCode(f)
	default:
		return classifyMessage(f)
	}
}

func classifyStatus(f RemoteFailure) *domain.ClassifiedError {
	switch {
	case f.StatusCode == 401 || f.StatusCode == 403:
		return build(domain.KindAuthentication, false, f, nil)
	case f.StatusCode == 429:
		ra := parseRetryAfter(f.RetryAfter)
		return build(domain.KindRateLimit, true, f, &ra)
	case f.StatusCode == 402:
		return build(domain.KindQuotaExceeded, false, f, nil)
	case f.StatusCode == 400 || f.StatusCode == 422:
		return build(domain.KindValidationError, false, f, nil)
	case f.StatusCode >= 500 && f.StatusCode < 600:
		return build(domain.KindServerError, true, f, nil)
	default:
		return build(domain.KindUnknown, false, f, nil)
	}
}

func classifyNetworkCode(f RemoteFailure) *domain.ClassifiedError {
	if f.NetworkCode == "ETIMEDOUT" {
		return build(domain.KindTimeout, true, f, nil)
	}
	if networkErrorCodes[f.NetworkCode] {
		return build(domain.KindNetworkError, true, f, nil)
	}
	return classifyMessage(f)
}

func classifyMessage(f RemoteFailure) *domain.ClassifiedError {
	lower := strings.ToLower(f.Message)
	if strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out") {
		return build(domain.KindTimeout, true, f, nil)
	}
	return build(domain.KindUnknown, false, f, nil)
}

func build(kind domain.ErrorKind, retryable bool, f RemoteFailure, retryAfter *int) *domain.ClassifiedError {
	origin := f.Origin
	if origin == "" {
		origin = "remote_client"
	}
	return &domain.ClassifiedError{
		Kind:              kind,
		Retryable:         retryable,
		UserMessage:       userMessages[kind],
		TechnicalDetail:   technicalDetail(f),
		RetryAfterSeconds: retryAfter,
		Origin:            origin,
	}
}

func technicalDetail(f RemoteFailure) string {
	var b strings.Builder
	if f.StatusCode != 0 {
		b.WriteString("status=")
		b.WriteString(strconv.Itoa(f.StatusCode))
		b.WriteString(" ")
	}
	if f.NetworkCode != "" {
		b.WriteString("code=")
		b.WriteString(f.NetworkCode)
		b.WriteString(" ")
	}
	b.WriteString(f.Message)
	return strings.TrimSpace(b.String())
}

// parseRetryAfter parses a Retry-After header value into seconds, defaulting
// to 30 on anything non-positive or non-integer (§4.1).
func parseRetryAfter(raw string) int {
	if raw == "" {
		return defaultRetryAfterSeconds
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return defaultRetryAfterSeconds
	}
	return n
}
