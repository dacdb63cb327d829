package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/portfolio-aggregator/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryUnconfigured represents missing credentials (never surfaced as a platform error)
	CategoryUnconfigured ErrorCategory = "unconfigured"
	// CategoryTransport represents a non-success HTTP response or network failure
	CategoryTransport ErrorCategory = "transport"
	// CategoryApplication represents a success response whose payload encodes a failure
	CategoryApplication ErrorCategory = "application"
	// CategoryMalformed represents a payload that could not be decoded at all
	CategoryMalformed ErrorCategory = "malformed"
	// CategoryUserInput represents bad input to the HTTP API
	CategoryUserInput ErrorCategory = "user_input"
	// CategoryInternal represents everything else
	CategoryInternal ErrorCategory = "internal"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface. Provider failures render as their
// message alone so they read "<Provider> error: <status>" in result lists.
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Error(),
		Details: e.Details,
	}
}

// Provider errors

// NewTransportError creates an error for a non-success upstream status
func NewTransportError(provider string, status int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryTransport,
		StatusCode: http.StatusBadGateway,
		Code:       "PROVIDER_HTTP_ERROR",
		Message:    fmt.Sprintf("%s error: %d", provider, status),
		Details: map[string]interface{}{
			"provider": provider,
			"status":   status,
		},
	}
}

// NewNetworkError creates an error for a request that never produced a response
func NewNetworkError(provider string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryTransport,
		StatusCode: http.StatusBadGateway,
		Code:       "PROVIDER_UNREACHABLE",
		Message:    fmt.Sprintf("%s error", provider),
		Cause:      cause,
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
}

// NewApplicationError creates an error for a logical failure inside a success response
func NewApplicationError(provider string, code interface{}, message string) *CategorizedError {
	msg := fmt.Sprintf("%s error: %v", provider, code)
	if message != "" {
		msg = fmt.Sprintf("%s error: %v %s", provider, code, message)
	}
	return &CategorizedError{
		Category:   CategoryApplication,
		StatusCode: http.StatusBadGateway,
		Code:       "PROVIDER_APPLICATION_ERROR",
		Message:    msg,
		Details: map[string]interface{}{
			"provider":     provider,
			"providerCode": code,
		},
	}
}

// NewMalformedError creates an error for an undecodable payload
func NewMalformedError(provider string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryMalformed,
		StatusCode: http.StatusBadGateway,
		Code:       "PROVIDER_MALFORMED_RESPONSE",
		Message:    fmt.Sprintf("%s error: malformed response", provider),
		Cause:      cause,
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
}

// NewUnconfiguredError creates an error for a platform missing a required credential
func NewUnconfiguredError(platform types.Platform, key string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUnconfigured,
		StatusCode: http.StatusPreconditionFailed,
		Code:       "PLATFORM_UNCONFIGURED",
		Message:    fmt.Sprintf("%s is not configured: missing %s", platform, key),
		Details: map[string]interface{}{
			"platform": platform,
			"key":      key,
		},
	}
}

// API errors

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewFeatureDisabledError creates an error for an optional backend that is
// not enabled in this deployment
func NewFeatureDisabledError(feature string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUnconfigured,
		StatusCode: http.StatusServiceUnavailable,
		Code:       "FEATURE_DISABLED",
		Message:    fmt.Sprintf("%s is not enabled", feature),
		Details: map[string]interface{}{
			"feature": feature,
		},
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryInternal,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return &CategorizedError{
			Category:   CategoryUserInput,
			StatusCode: http.StatusBadRequest,
			Code:       svcErr.Code,
			Message:    svcErr.Message,
			Details:    svcErr.Details,
		}
	}

	return NewInternalError("unexpected error", err)
}

// IsProviderError reports whether err came from an upstream provider
func IsProviderError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}
	switch catErr.Category {
	case CategoryTransport, CategoryApplication, CategoryMalformed:
		return true
	default:
		return false
	}
}

// IsUnconfigured reports whether err signals missing credentials
func IsUnconfigured(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Category == CategoryUnconfigured
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}
