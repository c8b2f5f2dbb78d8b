package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeValidation      ErrorType = "validation"
	ErrorTypeMissingVariable ErrorType = "missing_variable"
	ErrorTypeUnauthorized    ErrorType = "unauthorized"
	ErrorTypeConflict        ErrorType = "conflict"
	ErrorTypeInternal        ErrorType = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	// Not Found Errors
	ErrVersionNotFound = NewDomainError(ErrorTypeNotFound, "prompt version not found", nil)
	ErrLabelNotFound   = NewDomainError(ErrorTypeNotFound, "no version carries the requested label", nil)
	ErrTraceNotFound   = NewDomainError(ErrorTypeNotFound, "trace not found", nil)

	// Validation Errors
	ErrInvalidPromptType = NewDomainError(ErrorTypeValidation, "prompt type must be text or chat", nil)
	ErrEmptyPromptName   = NewDomainError(ErrorTypeValidation, "prompt name cannot be empty", nil)
	ErrEmptyChatBody     = NewDomainError(ErrorTypeValidation, "chat prompt requires at least one message", nil)
	ErrEmptyLabel        = NewDomainError(ErrorTypeValidation, "label cannot be empty", nil)
	ErrReservedLabel     = NewDomainError(ErrorTypeValidation, "the latest label is reserved and always tracks the newest version", nil)

	// Authorization Errors
	ErrInvalidCredential = NewDomainError(ErrorTypeUnauthorized, "invalid API credentials", nil)
	ErrInvalidToken      = NewDomainError(ErrorTypeUnauthorized, "invalid authentication token", nil)

	// Conflict Errors
	ErrConcurrentCreate = NewDomainError(ErrorTypeConflict, "concurrent version creation detected", nil)

	// Internal Errors
	ErrCollectorStopped = NewDomainError(ErrorTypeInternal, "trace collector is not running", nil)
	ErrBufferFull       = NewDomainError(ErrorTypeInternal, "span buffer full", nil)
)

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeNotFound
	}
	return false
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeValidation
	}
	return false
}

// IsMissingVariableError checks if an error is a strict-compile missing variable error
func IsMissingVariableError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeMissingVariable
	}
	return false
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeUnauthorized
	}
	return false
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeConflict
	}
	return false
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeInternal
	}
	return false
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapNotFound wraps an error as a not found error
func WrapNotFound(message string, err error) error {
	return NewDomainError(ErrorTypeNotFound, message, err)
}
