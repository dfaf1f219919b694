package backup

import (
	"fmt"
)

// Error represents errors that occur during backup operations
type Error struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause error
func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorType represents different types of backup errors
type ErrorType string

const (
	ErrorTypeStorage       ErrorType = "STORAGE_ERROR"
	ErrorTypeValidation    ErrorType = "VALIDATION_ERROR"
	ErrorTypeCompression   ErrorType = "COMPRESSION_ERROR"
	ErrorTypeEncryption    ErrorType = "ENCRYPTION_ERROR"
	ErrorTypeCorruption    ErrorType = "CORRUPTION_ERROR"
	ErrorTypeConfiguration ErrorType = "CONFIGURATION_ERROR"
	ErrorTypeNotFound      ErrorType = "NOT_FOUND_ERROR"
	ErrorTypeScheduler     ErrorType = "SCHEDULER_ERROR"
)

// NewError creates a new Error
func NewError(errorType ErrorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Common error constructors
func NewStorageError(message string, cause error) *Error {
	return NewError(ErrorTypeStorage, message, cause)
}

func NewValidationError(message string, cause error) *Error {
	return NewError(ErrorTypeValidation, message, cause)
}

func NewCompressionError(message string, cause error) *Error {
	return NewError(ErrorTypeCompression, message, cause)
}

func NewEncryptionError(message string, cause error) *Error {
	return NewError(ErrorTypeEncryption, message, cause)
}

func NewCorruptionError(message string, cause error) *Error {
	return NewError(ErrorTypeCorruption, message, cause)
}

func NewConfigurationError(message string, cause error) *Error {
	return NewError(ErrorTypeConfiguration, message, cause)
}

func NewNotFoundError(message string, cause error) *Error {
	return NewError(ErrorTypeNotFound, message, cause)
}

func NewSchedulerError(message string, cause error) *Error {
	return NewError(ErrorTypeScheduler, message, cause)
}

// IsRetryable determines if an error is retryable
func IsRetryable(err error) bool {
	if backupErr, ok := err.(*Error); ok {
		return backupErr.Type == ErrorTypeStorage
	}
	return false
}

// IsPermanent determines if an error is permanent and should not be retried
func IsPermanent(err error) bool {
	if backupErr, ok := err.(*Error); ok {
		switch backupErr.Type {
		case ErrorTypeValidation, ErrorTypeCorruption, ErrorTypeConfiguration:
			return true
		default:
			return false
		}
	}
	return false
}
