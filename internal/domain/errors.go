package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeInvalidOperation = "INVALID_OPERATION"
)

// Validation errors
var (
	ErrInvalidInteractionType = NewDomainError(ErrCodeValidation, "invalid interaction type")
	ErrInvalidReplayStatus    = NewDomainError(ErrCodeValidation, "invalid replay status")
	ErrInvalidJobStatus       = NewDomainError(ErrCodeValidation, "invalid job status")
	ErrInvalidConfidence      = NewDomainError(ErrCodeValidation, "match confidence must be in [0,1]")
	ErrMissingRequiredField   = NewDomainError(ErrCodeValidation, "missing required field")
)

// Not found errors
var (
	ErrInteractionNotFound = NewDomainError(ErrCodeNotFound, "interaction not found")
	ErrReplayNotFound      = NewDomainError(ErrCodeNotFound, "replay not found")
	ErrSessionNotFound     = NewDomainError(ErrCodeNotFound, "session not found")
	ErrProjectNotFound     = NewDomainError(ErrCodeNotFound, "project not found")
	ErrJobNotFound         = NewDomainError(ErrCodeNotFound, "job not found")
)

// Invalid operation errors
var (
	ErrUnknownQueue      = NewDomainError(ErrCodeInvalidOperation, "unknown queue name")
	ErrJobNotRequeueable = NewDomainError(ErrCodeInvalidOperation, "only failed jobs can be requeued")
)

// Unauthorized errors
var (
	ErrInvalidToken = NewDomainError(ErrCodeUnauthorized, "invalid api token")
)
