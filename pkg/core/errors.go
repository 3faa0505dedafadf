package core

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Error represents a model API error.
type Error struct {
	Type          ErrorType `json:"type"`
	Message       string    `json:"message"`
	Code          string    `json:"code,omitempty"`
	Status        int       `json:"status,omitempty"`
	Model         string    `json:"model,omitempty"`
	ProviderError any       `json:"provider_error,omitempty"`
	RetryAfter    *int      `json:"retry_after,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (%d)", msg, e.Status)
	}
	if e.Model != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Model)
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s (code: %s)", msg, e.Code)
	}
	return msg
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrPermission     ErrorType = "permission_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrAPI            ErrorType = "api_error"
	ErrOverloaded     ErrorType = "overloaded_error"
	ErrProvider       ErrorType = "provider_error"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message, Status: http.StatusBadRequest}
}

// NewAuthenticationError creates an authentication error.
func NewAuthenticationError(message string) *Error {
	return &Error{Type: ErrAuthentication, Message: message, Status: http.StatusUnauthorized}
}

// NewPermissionError creates a permission error.
func NewPermissionError(message string) *Error {
	return &Error{Type: ErrPermission, Message: message, Status: http.StatusForbidden}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *Error {
	return &Error{Type: ErrNotFound, Message: message, Status: http.StatusNotFound}
}

// NewRateLimitError creates a rate limit error. retryAfter is in seconds; zero
// means the server did not suggest a delay.
func NewRateLimitError(message string, retryAfter int) *Error {
	e := &Error{Type: ErrRateLimit, Message: message, Status: http.StatusTooManyRequests}
	if retryAfter > 0 {
		e.RetryAfter = &retryAfter
	}
	return e
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{Type: ErrAPI, Message: message}
}

// NewOverloadedError creates an overloaded error.
func NewOverloadedError(message string) *Error {
	return &Error{Type: ErrOverloaded, Message: message, Status: http.StatusServiceUnavailable}
}

// NewProviderError creates a provider-specific error.
func NewProviderError(provider string, underlying error) *Error {
	return &Error{
		Type:          ErrProvider,
		Message:       fmt.Sprintf("%s: %v", provider, underlying),
		ProviderError: underlying,
	}
}

// ErrorTypeForStatus maps an HTTP status to the error taxonomy.
func ErrorTypeForStatus(status int) ErrorType {
	switch {
	case status == http.StatusBadRequest:
		return ErrInvalidRequest
	case status == http.StatusUnauthorized:
		return ErrAuthentication
	case status == http.StatusForbidden:
		return ErrPermission
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusTooManyRequests:
		return ErrRateLimit
	case status == http.StatusServiceUnavailable:
		return ErrOverloaded
	default:
		return ErrAPI
	}
}

// IsRetryable returns true if the error is retryable.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrRateLimit, ErrOverloaded, ErrAPI:
		return true
	default:
		return false
	}
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	if ue, ok := e.ProviderError.(error); ok {
		return ue
	}
	return nil
}

// Class is the coaching loop's view of an error.
type Class int

const (
	// ClassTransient errors leave the loop running.
	ClassTransient Class = iota
	// ClassRateLimit errors trigger backoff.
	ClassRateLimit
	// ClassFatal errors stop the loop.
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassRateLimit:
		return "rate_limit"
	case ClassFatal:
		return "fatal"
	default:
		return "transient"
	}
}

// Classify sorts err into rate-limit, fatal (bad or unauthorized credentials)
// or transient. Errors outside the taxonomy fall back to scanning the message
// for a status code.
func Classify(err error) Class {
	if err == nil {
		return ClassTransient
	}
	var ce *Error
	if errors.As(err, &ce) {
		switch ce.Type {
		case ErrRateLimit:
			return ClassRateLimit
		case ErrInvalidRequest, ErrAuthentication, ErrPermission:
			return ClassFatal
		}
		switch ce.Status {
		case http.StatusTooManyRequests:
			return ClassRateLimit
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return ClassFatal
		}
		return ClassTransient
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "429"):
		return ClassRateLimit
	case strings.Contains(msg, "400"), strings.Contains(msg, "403"):
		return ClassFatal
	default:
		return ClassTransient
	}
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Status
	}
	return 0
}

var retryDelayPattern = regexp.MustCompile(`retryDelay.*?(\d+)s`)

// RetryDelay returns the server-suggested delay carried by err. It prefers the
// structured RetryAfter and falls back to the retryDelay text in the message.
func RetryDelay(err error) time.Duration {
	if err == nil {
		return 0
	}
	var ce *Error
	if errors.As(err, &ce) && ce.RetryAfter != nil && *ce.RetryAfter > 0 {
		return time.Duration(*ce.RetryAfter) * time.Second
	}
	return ParseRetryDelay(err.Error())
}

// ParseRetryDelay extracts a `retryDelay ... Ns` hint from free-form error text.
func ParseRetryDelay(text string) time.Duration {
	m := retryDelayPattern.FindStringSubmatch(text)
	if len(m) < 2 {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
