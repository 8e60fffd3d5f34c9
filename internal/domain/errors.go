package domain

import (
	"errors"
	"fmt"
)

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

// Is reports whether target is a DomainError with the same code and message,
// so wrapped copies of a sentinel still match it.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Message == e.Message
}

// ErrorCode returns the machine-readable code of the error.
func (e *DomainError) ErrorCode() string {
	return e.Code
}

// WithCause returns a copy of the error carrying err as its cause.
func (e *DomainError) WithCause(err error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Err:     err,
	}
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

const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeFetch             = "FETCH_ERROR"
	ErrCodeUnsupportedFormat = "UNSUPPORTED_FORMAT"
	ErrCodeDuplicate         = "DUPLICATE_RESOURCE"
	ErrCodeOverloaded        = "SERVER_OVERLOADED"
	ErrCodeNamespace         = "NAMESPACE_MISMATCH"
	ErrCodeExternalService   = "EXTERNAL_SERVICE"
	ErrCodeNotSupported      = "NOT_SUPPORTED"
	ErrCodeDataCorruption    = "DATA_CORRUPTION"
)

// Validation errors
var (
	ErrValidation           = NewDomainError(ErrCodeValidation, "validation failed")
	ErrInvalidStatus        = NewDomainError(ErrCodeValidation, "invalid resource status")
	ErrInvalidInputFormat   = NewDomainError(ErrCodeValidation, "invalid input format")
	ErrMissingRequiredField = NewDomainError(ErrCodeValidation, "missing required field")
	ErrInvalidResourceID    = NewDomainError(ErrCodeValidation, "resource id must be a uuid")
)

// Not found errors
var (
	ErrResourceNotFound = NewDomainError(ErrCodeNotFound, "resource not found")
	ErrChunkNotFound    = NewDomainError(ErrCodeNotFound, "chunk not found")
)

// Ingest-time errors
var (
	ErrFetch             = NewDomainError(ErrCodeFetch, "failed to fetch resource")
	ErrUnsupportedFormat = NewDomainError(ErrCodeUnsupportedFormat, "unsupported resource format")
)

// Admission errors
var (
	ErrDuplicateResource = NewDomainError(ErrCodeDuplicate, "resource already exists in class")
	ErrServerOverloaded  = NewDomainError(ErrCodeOverloaded, "server is overloaded, retry later")
)

// Invariant and collaborator errors
var (
	ErrNamespaceMismatch = NewDomainError(ErrCodeNamespace, "vectors span more than one class namespace")
	ErrExternalService   = NewDomainError(ErrCodeExternalService, "external service call failed")
	ErrNotSupported      = NewDomainError(ErrCodeNotSupported, "operation not supported for this format")
	ErrDataCorruption    = NewDomainError(ErrCodeDataCorruption, "stored record failed validation")
)

// IsPermanent reports whether err carries a code that retrying cannot fix.
func IsPermanent(err error) bool {
	var de *DomainError
	if !errors.As(err, &de) {
		return false
	}
	switch de.Code {
	case ErrCodeValidation, ErrCodeNotFound, ErrCodeDataCorruption,
		ErrCodeNamespace, ErrCodeUnsupportedFormat, ErrCodeDuplicate:
		return true
	}
	return false
}

// External wraps a collaborator failure as an ExternalServiceError unless it
// already carries a domain code.
func External(err error) error {
	if err == nil {
		return nil
	}
	var de *DomainError
	if errors.As(err, &de) {
		return err
	}
	return ErrExternalService.WithCause(err)
}
