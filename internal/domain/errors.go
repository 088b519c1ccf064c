package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error with a code and message.
// Recommendation, when set, tells the caller how to fix the condition and is
// surfaced verbatim in RPC error data.
type DomainError struct {
	Code           string
	Message        string
	Recommendation string
	Cause          error
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches two domain errors by code so sentinel values work with errors.Is
// even when the message has been specialized.
func (e *DomainError) Is(target error) bool {
	var other *DomainError
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, cause error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

var (
	// Validation and lookup errors
	ErrValidation = &DomainError{
		Code:    "VALIDATION_FAILED",
		Message: "input failed validation",
	}
	ErrNotFound = &DomainError{
		Code:    "NOT_FOUND",
		Message: "entity not found",
	}
	ErrAccessDenied = &DomainError{
		Code:    "ACCESS_DENIED",
		Message: "operation not permitted for this project",
	}
	ErrConflict = &DomainError{
		Code:    "CONFLICT",
		Message: "uniqueness violation",
	}

	// Port allocator errors
	ErrNoRangeAssigned = &DomainError{
		Code:    "NO_RANGE_ASSIGNED",
		Message: "project has no active port range",
	}
	ErrPortExhausted = &DomainError{
		Code:    "PORT_EXHAUSTED",
		Message: "no free ports left in range",
	}
	ErrDuplicateService = &DomainError{
		Code:    "DUPLICATE_SERVICE",
		Message: "service already has an active allocation",
	}

	// Connectivity and upstream errors
	ErrConnectivity = &DomainError{
		Code:    "CONNECTIVITY",
		Message: "target is not reachable",
	}
	ErrUpstreamTimeout = &DomainError{
		Code:    "UPSTREAM_TIMEOUT",
		Message: "upstream call exceeded its deadline",
	}
	ErrRateLimited = &DomainError{
		Code:    "RATE_LIMITED",
		Message: "upstream rate limit exceeded",
	}

	// Ingress and crypto errors
	ErrConfigCorrupted = &DomainError{
		Code:    "CONFIG_CORRUPTED",
		Message: "ingress config invalid after write, previous contents restored",
	}
	ErrAuthFailed = &DomainError{
		Code:    "AUTH_FAILED",
		Message: "authentication tag mismatch or missing key",
	}

	// Everything else
	ErrInternal = &DomainError{
		Code:    "INTERNAL",
		Message: "internal error",
	}
)

// WrapValidation wraps an error as a validation failure with a specific message
func WrapValidation(message string, cause error) error {
	return &DomainError{
		Code:    ErrValidation.Code,
		Message: message,
		Cause:   cause,
	}
}

// WrapNotFound wraps an error as a not-found failure naming the entity
func WrapNotFound(entity string, cause error) error {
	return &DomainError{
		Code:    ErrNotFound.Code,
		Message: fmt.Sprintf("not found: %s", entity),
		Cause:   cause,
	}
}

// WrapConflict wraps an error as a uniqueness violation
func WrapConflict(message string, cause error) error {
	return &DomainError{
		Code:    ErrConflict.Code,
		Message: message,
		Cause:   cause,
	}
}

// WrapConnectivity builds a connectivity error carrying an actionable recommendation
func WrapConnectivity(message, recommendation string, cause error) error {
	return &DomainError{
		Code:           ErrConnectivity.Code,
		Message:        message,
		Recommendation: recommendation,
		Cause:          cause,
	}
}

// WrapInternal wraps an unexpected low-level failure
func WrapInternal(operation string, cause error) error {
	return &DomainError{
		Code:    ErrInternal.Code,
		Message: fmt.Sprintf("operation failed: %s", operation),
		Cause:   cause,
	}
}

// IsNotFound checks if an error is a not-found error
func IsNotFound(err error) bool {
	return hasCode(err, ErrNotFound.Code)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return hasCode(err, ErrValidation.Code)
}

// IsAccessDenied checks if an error is an access-control rejection
func IsAccessDenied(err error) bool {
	return hasCode(err, ErrAccessDenied.Code)
}

// IsConflict checks if an error is a uniqueness violation, including the
// allocator-specific duplicate service case.
func IsConflict(err error) bool {
	return hasCode(err, ErrConflict.Code) || hasCode(err, ErrDuplicateService.Code)
}

// IsConnectivity checks if an error is a reachability failure
func IsConnectivity(err error) bool {
	return hasCode(err, ErrConnectivity.Code)
}

// RecommendationOf extracts the recommendation from a domain error, if any
func RecommendationOf(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Recommendation
	}
	return ""
}

// CodeOf extracts the domain error code, defaulting to INTERNAL
func CodeOf(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ErrInternal.Code
}

func hasCode(err error, code string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}
