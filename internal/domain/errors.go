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

// Is matches on the error code so wrapped instances compare equal to their
// sentinel (errors.Is(err, ErrVirusDetected) holds for a wrapped copy).
func (e *DomainError) Is(target error) bool {
	var de *DomainError
	if errors.As(target, &de) {
		return e.Code == de.Code
	}
	return false
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
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeTransient         = "TRANSIENT"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeVirusDetected     = "VIRUS_DETECTED"
	ErrCodeNoExtractableText = "NO_EXTRACTABLE_TEXT"
	ErrCodeUnsupportedMime   = "UNSUPPORTED_MIME_TYPE"
	ErrCodeInvalidEmbedding  = "INVALID_EMBEDDING"
)

// Validation errors
var (
	ErrNoExtractableText    = NewDomainError(ErrCodeNoExtractableText, "no extractable text and OCR unavailable")
	ErrUnsupportedMimeType  = NewDomainError(ErrCodeUnsupportedMime, "unsupported mime type")
	ErrInvalidEmbedding     = NewDomainError(ErrCodeInvalidEmbedding, "embedding failed validation")
	ErrMissingRequiredField = NewDomainError(ErrCodeValidation, "missing required field")
)

// Security errors. Virus detection gets its own code so it can be alerted on
// separately from ordinary ingestion failures.
var (
	ErrVirusDetected = NewDomainError(ErrCodeVirusDetected, "virus detected in uploaded file")
)

// Not found errors
var (
	ErrDocumentNotFound = NewDomainError(ErrCodeNotFound, "document not found")
	ErrChunkNotFound    = NewDomainError(ErrCodeNotFound, "chunk not found")
)

// Transient errors
var (
	ErrStorageUnavailable = NewDomainError(ErrCodeTransient, "storage backend unavailable")
	ErrModelUnavailable   = NewDomainError(ErrCodeTransient, "model provider unavailable")
)

// ErrorCodeOf extracts the DomainError code from err, or INTERNAL_ERROR when
// err carries no code. Used when recording structured failure metadata.
func ErrorCodeOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ErrCodeInternalError
}
