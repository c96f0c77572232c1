package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode represents a unified error code across image providers.
type ErrorCode string

// Provider error codes
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrAuthentication     ErrorCode = "AUTHENTICATION"
	ErrForbidden          ErrorCode = "FORBIDDEN"
	ErrRateLimit          ErrorCode = "RATE_LIMIT"
	ErrQuotaExceeded      ErrorCode = "QUOTA_EXCEEDED"
	ErrModelNotFound      ErrorCode = "MODEL_NOT_FOUND"
	ErrContentFiltered    ErrorCode = "CONTENT_FILTERED"
	ErrModelOverloaded    ErrorCode = "MODEL_OVERLOADED"
	ErrUpstreamTimeout    ErrorCode = "UPSTREAM_TIMEOUT"
	ErrUpstreamError      ErrorCode = "UPSTREAM_ERROR"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Generation error codes
const (
	ErrUnsupportedOperation ErrorCode = "UNSUPPORTED_OPERATION"
	ErrInvalidOptions       ErrorCode = "INVALID_OPTIONS"
	ErrNoImageGenerated     ErrorCode = "NO_IMAGE_GENERATED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// AsError extracts a *Error from the chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// MapHTTPStatus 将上游 HTTP 状态码映射为带重试标记的 Error
func MapHTTPStatus(status int, msg string, provider string) *Error {
	e := &Error{Message: msg, HTTPStatus: status, Provider: provider}

	switch status {
	case http.StatusUnauthorized:
		e.Code = ErrAuthentication
	case http.StatusForbidden:
		e.Code = ErrForbidden
	case http.StatusNotFound:
		e.Code = ErrModelNotFound
	case http.StatusPaymentRequired:
		e.Code = ErrQuotaExceeded
	case http.StatusTooManyRequests:
		e.Code = ErrRateLimit
		e.Retryable = true
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		lower := strings.ToLower(msg)
		switch {
		case strings.Contains(lower, "quota") || strings.Contains(lower, "credit"):
			e.Code = ErrQuotaExceeded
		case strings.Contains(lower, "safety") || strings.Contains(lower, "content_policy") || strings.Contains(lower, "moderation"):
			e.Code = ErrContentFiltered
		default:
			e.Code = ErrInvalidRequest
		}
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		e.Code = ErrUpstreamTimeout
		e.Retryable = true
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		e.Code = ErrServiceUnavailable
		e.Retryable = true
	case 529: // overloaded
		e.Code = ErrModelOverloaded
		e.Retryable = true
	default:
		e.Code = ErrUpstreamError
		e.Retryable = status >= 500
	}
	return e
}
