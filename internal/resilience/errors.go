package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
)

// Class is the failure category of an error.
type Class string

const (
	ClassTimeout         Class = "timeout"
	ClassRateLimit       Class = "rate_limit"
	ClassTransient       Class = "transient"
	ClassQuota           Class = "quota"
	ClassAuth            Class = "auth"
	ClassInvalidInput    Class = "invalid_input"
	ClassMalformedOutput Class = "malformed_output"
	ClassCanceled        Class = "canceled"
	ClassUnknown         Class = "unknown"
)

// Retryable reports whether errors of this class may succeed on a later
// attempt. Unknown errors are retried.
func (c Class) Retryable() bool {
	switch c {
	case ClassTimeout, ClassRateLimit, ClassTransient, ClassUnknown:
		return true
	}
	return false
}

// ErrRetryExhausted matches every ExhaustedError via errors.Is.
var ErrRetryExhausted = eris.New("retries exhausted")

// TransientError wraps an error that is safe to retry (e.g., 429, 5xx, network timeout).
type TransientError struct {
	Err        error
	StatusCode int
	Class      Class
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status
// code. The class is derived from the status code.
func NewTransientError(err error, statusCode int) *TransientError {
	class := ClassifyStatus(statusCode, "")
	if !class.Retryable() || class == ClassUnknown {
		class = ClassTransient
	}
	return &TransientError{Err: err, StatusCode: statusCode, Class: class}
}

// FatalError wraps an error that must not be retried. It is fatal for the
// current document only.
type FatalError struct {
	Err   error
	Class Class
}

func (e *FatalError) Error() string {
	return string(e.Class) + ": " + e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatalError wraps err as non-retryable with the given class.
func NewFatalError(err error, class Class) *FatalError {
	return &FatalError{Err: err, Class: class}
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Err      error
	Attempts int
	Class    Class
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("resilience: %d attempts exhausted: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrRetryExhausted) match.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrRetryExhausted
}

// ErrorClass returns the class carried by err, classifying it if needed.
func ErrorClass(err error) Class {
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		return ex.Class
	}
	return Classify(err)
}

// Classify assigns a failure class to err. Typed errors win over status
// codes, which win over message heuristics.
func Classify(err error) Class {
	if err == nil {
		return ""
	}

	var fe *FatalError
	if errors.As(err, &fe) {
		return fe.Class
	}
	var te *TransientError
	if errors.As(err, &te) {
		return te.Class
	}

	if errors.Is(err, context.Canceled) {
		return ClassCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTimeout
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return ClassTransient
	}

	return classifyMessage(strings.ToLower(err.Error()))
}

// ClassifyStatus maps an HTTP status code and optional response body to a class.
func ClassifyStatus(statusCode int, body string) Class {
	body = strings.ToLower(body)
	switch {
	case statusCode == 429:
		if containsAny(body, quotaPatterns) {
			return ClassQuota
		}
		return ClassRateLimit
	case statusCode == 408 || statusCode == 504:
		return ClassTimeout
	case statusCode == 401 || statusCode == 403:
		return ClassAuth
	case statusCode == 402:
		return ClassQuota
	case statusCode == 400 || statusCode == 404 || statusCode == 413 || statusCode == 422:
		return ClassInvalidInput
	case statusCode >= 500 && statusCode <= 599:
		return ClassTransient
	}
	if body != "" {
		return classifyMessage(body)
	}
	return ClassUnknown
}

var (
	quotaPatterns = []string{
		"insufficient_quota",
		"exceeded your current quota",
		"billing",
		"credit balance is too low",
	}
	rateLimitPatterns = []string{
		"rate limit",
		"rate_limit",
		"too many requests",
		"resource_exhausted",
	}
	authPatterns = []string{
		"invalid api key",
		"invalid x-api-key",
		"authentication",
		"unauthorized",
		"permission denied",
		"permission_error",
	}
	invalidPatterns = []string{
		"invalid_request_error",
		"prompt is too long",
		"context length",
		"maximum context",
		"400 bad request",
	}
	timeoutPatterns = []string{
		"deadline exceeded",
		"timed out",
		"timeout",
	}
	transientPatterns = []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"server closed idle connection",
		"transport connection broken",
		"unexpected eof",
		"overloaded",
		"service unavailable",
		"bad gateway",
		"internal server error",
	}
)

// statusPattern finds an HTTP status code quoted in an error message: after
// "status" or "status code", after a ": " separator, or leading the message.
// Numbers embedded in other text, such as document ids, do not match.
var statusPattern = regexp.MustCompile(`(?:status(?:[ _]code)?\s*[:=]?\s*|:\s+|^)([45]\d\d)\b`)

func messageStatus(msg string) int {
	m := statusPattern.FindStringSubmatch(msg)
	if m == nil {
		return 0
	}
	code, _ := strconv.Atoi(m[1])
	return code
}

func classifyMessage(msg string) Class {
	if containsAny(msg, quotaPatterns) {
		return ClassQuota
	}
	if code := messageStatus(msg); code != 0 {
		if class := ClassifyStatus(code, ""); class != ClassUnknown {
			return class
		}
	}
	switch {
	case containsAny(msg, rateLimitPatterns):
		return ClassRateLimit
	case containsAny(msg, authPatterns):
		return ClassAuth
	case containsAny(msg, invalidPatterns):
		return ClassInvalidInput
	case containsAny(msg, timeoutPatterns):
		return ClassTimeout
	case containsAny(msg, transientPatterns):
		return ClassTransient
	}
	return ClassUnknown
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or if it matches common transient error patterns (network
// timeouts, connection resets, DNS failures, overloaded upstreams). Unknown
// errors are not transient here; Classify treats them as retryable.
func IsTransient(err error) bool {
	switch Classify(err) {
	case ClassTimeout, ClassRateLimit, ClassTransient:
		return true
	}
	return false
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504, 529:
		return true
	default:
		return false
	}
}
