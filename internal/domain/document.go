package domain

import (
	"fmt"
	"time"
)

// DocumentStatus represents the processing status of a document
type DocumentStatus string

const (
	DocumentStatusUploaded   DocumentStatus = "uploaded"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusIngested   DocumentStatus = "ingested"
	DocumentStatusEmbedded   DocumentStatus = "embedded"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// Document represents an uploaded source document moving through the pipeline
type Document struct {
	ID        string
	FilePath  string
	MimeType  string
	FileSize  int64
	PageCount int
	ProjectID string
	Status    DocumentStatus
	Error     string
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewDocument creates a new Document instance
func NewDocument(id, filePath, mimeType string, fileSize int64) *Document {
	now := time.Now().UTC()
	return &Document{
		ID:        id,
		FilePath:  filePath,
		MimeType:  mimeType,
		FileSize:  fileSize,
		Status:    DocumentStatusUploaded,
		Metadata:  map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ValidateDocument validates a Document instance
func ValidateDocument(d *Document) error {
	if d == nil {
		return fmt.Errorf("document cannot be nil")
	}

	if d.ID == "" {
		return fmt.Errorf("document ID is required")
	}

	if d.FilePath == "" {
		return fmt.Errorf("document FilePath is required")
	}

	if !isValidDocumentStatus(d.Status) {
		return fmt.Errorf("document Status is invalid: %s", d.Status)
	}

	if d.FileSize < 0 {
		return fmt.Errorf("document FileSize cannot be negative")
	}

	return nil
}

// CanTransition reports whether a status update from current to next should
// be applied. Embedded is terminal: redelivered jobs may emit stale updates
// (e.g. a late "ingested" after the document is already embedded) and those
// are discarded as benign no-ops. Failed documents may re-enter the pipeline
// so wholesale retries can succeed.
func CanTransition(current, next DocumentStatus) bool {
	if !isValidDocumentStatus(next) {
		return false
	}
	if current == DocumentStatusEmbedded {
		return false
	}
	return true
}

// isValidDocumentStatus checks if a DocumentStatus is valid
func isValidDocumentStatus(s DocumentStatus) bool {
	switch s {
	case DocumentStatusUploaded, DocumentStatusProcessing,
		DocumentStatusIngested, DocumentStatusEmbedded, DocumentStatusFailed:
		return true
	}
	return false
}
