package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloo-solutions/docqa/internal/domain"
	"github.com/cloo-solutions/docqa/internal/extract"
	"github.com/cloo-solutions/docqa/internal/scan"
)

// DocumentRepositoryInterface defines the repository interface for document
// lifecycle updates.
type DocumentRepositoryInterface interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)

	// UpdateStatus applies a guarded status transition. It returns false
	// without error when the update is stale (the document already reached
	// a terminal status).
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMsg string) (bool, error)

	// SetIngestResult records page count and extraction metadata.
	SetIngestResult(ctx context.Context, id string, pageCount int, metadata map[string]any) error
}

// IngestChunkRepository defines the repository interface for persisting the
// chunk set produced by ingestion.
type IngestChunkRepository interface {
	ReplaceChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error
}

// ObjectStore defines the storage interface used during ingestion.
type ObjectStore interface {
	DownloadObject(ctx context.Context, key string) ([]byte, error)
}

// PageExtractor pulls native text out of document bytes.
type PageExtractor interface {
	Extract(ctx context.Context, data []byte) ([]extract.Page, error)
}

// OCRRecognizer is the fallback for documents without a text layer.
type OCRRecognizer interface {
	Recognize(ctx context.Context, data []byte, mimeType string) ([]extract.Page, error)
}

// JobPublisher publishes follow-up jobs on the bus.
type JobPublisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// IngestionService turns an uploaded file into a persisted chunk set and
// hands the document off to the embed worker.
type IngestionService struct {
	repo      DocumentRepositoryInterface
	tx        TxRunner
	store     ObjectStore
	scanner   scan.Scanner
	extractor PageExtractor
	ocr       OCRRecognizer
	publisher JobPublisher
	splitCfg  SplitConfig
}

// NewIngestionService creates a new IngestionService instance. scanner and
// ocr may be nil when those integrations are not configured.
func NewIngestionService(
	repo DocumentRepositoryInterface,
	tx TxRunner,
	store ObjectStore,
	scanner scan.Scanner,
	extractor PageExtractor,
	ocr OCRRecognizer,
	publisher JobPublisher,
	splitCfg SplitConfig,
) *IngestionService {
	if splitCfg.MaxChars <= 0 {
		splitCfg = DefaultSplitConfig()
	}
	return &IngestionService{
		repo:      repo,
		tx:        tx,
		store:     store,
		scanner:   scanner,
		extractor: extractor,
		ocr:       ocr,
		publisher: publisher,
		splitCfg:  splitCfg,
	}
}

// IngestDocument processes one ingest job end to end. Permanent failures
// mark the document failed and return a non-transient error; transient
// failures leave the document in processing so a redelivery can pick it up.
func (s *IngestionService) IngestDocument(ctx context.Context, job *domain.IngestJob) error {
	applied, err := s.repo.UpdateStatus(ctx, job.DocumentID, domain.DocumentStatusProcessing, "")
	if err != nil {
		if errors.Is(err, domain.ErrDocumentNotFound) {
			return err
		}
		return domain.NewDomainErrorWithCause(domain.ErrCodeTransient, "failed to mark document processing", err)
	}
	if !applied {
		log.Printf("Skipping stale ingest job for document %s", job.DocumentID)
		return nil
	}

	if !isSupportedMimeType(job.MimeType) {
		return s.failDocument(ctx, job.DocumentID,
			domain.NewDomainErrorWithCause(domain.ErrCodeUnsupportedMime,
				fmt.Sprintf("unsupported mime type %q", job.MimeType),
				domain.ErrUnsupportedMimeType))
	}

	data, err := s.store.DownloadObject(ctx, job.FilePath)
	if err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeTransient, "failed to download document", err)
	}

	if s.scanner != nil {
		if err := s.scanner.Scan(ctx, data); err != nil {
			if errors.Is(err, scan.ErrUnavailable) {
				// Best effort: an unreachable scanner must not block ingestion.
				log.Printf("Virus scanner unavailable for document %s, continuing: %v", job.DocumentID, err)
			} else {
				return s.failDocument(ctx, job.DocumentID, err)
			}
		}
	}

	pages, method, err := s.extractPages(ctx, job.MimeType, data)
	if err != nil {
		return s.failDocument(ctx, job.DocumentID, err)
	}

	chunks := SplitPages(pages, s.splitCfg)
	if len(chunks) == 0 {
		return s.failDocument(ctx, job.DocumentID, domain.ErrNoExtractableText)
	}

	now := time.Now().UTC()
	entries := make([]domain.Chunk, 0, len(chunks))
	for _, c := range chunks {
		entries = append(entries, domain.Chunk{
			DocumentID: job.DocumentID,
			PageNumber: c.PageNumber,
			ChunkIndex: c.ChunkIndex,
			Content:    c.Content,
			CreatedAt:  now,
		})
	}

	metadata := map[string]any{
		"pages":      len(pages),
		"chunks":     len(chunks),
		"extraction": method,
	}

	// The chunk set and the ingested status must land together: a crash
	// between them would leave chunks visible for a document that never
	// advanced.
	err = s.tx.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Chunks().ReplaceChunks(ctx, job.DocumentID, entries); err != nil {
			return err
		}
		if err := repos.Documents().SetIngestResult(ctx, job.DocumentID, len(pages), metadata); err != nil {
			return err
		}
		_, err := repos.Documents().UpdateStatus(ctx, job.DocumentID, domain.DocumentStatusIngested, "")
		return err
	})
	if err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeTransient, "failed to persist ingest result", err)
	}

	embedJob := &domain.EmbedJob{
		DocumentID: job.DocumentID,
		Chunks:     chunks,
	}
	if err := s.publisher.Publish(ctx, domain.SubjectEmbed, embedJob); err != nil {
		// Chunks are already persisted; a redelivered ingest job replaces
		// them wholesale, so nacking here stays idempotent.
		return domain.NewDomainErrorWithCause(domain.ErrCodeTransient, "failed to publish embed job", err)
	}

	log.Printf("Ingested document %s: %d pages, %d chunks (%s)", job.DocumentID, len(pages), len(chunks), method)
	return nil
}

// extractPages runs native extraction and falls back to OCR when the file
// yields no usable text layer.
func (s *IngestionService) extractPages(ctx context.Context, mimeType string, data []byte) ([]extract.Page, string, error) {
	var pages []extract.Page
	var nativeErr error

	switch normalizeMimeType(mimeType) {
	case "application/pdf":
		pages, nativeErr = s.extractor.Extract(ctx, data)
		if nativeErr != nil {
			log.Printf("Native extraction failed: %v", nativeErr)
		}
	case "text/plain", "text/markdown":
		return []extract.Page{{Number: 0, Text: string(data)}}, "native", nil
	}

	if extract.HasText(pages) {
		return pages, "native", nil
	}

	if s.ocr == nil {
		return nil, "", domain.ErrNoExtractableText
	}

	ocrPages, err := s.ocr.Recognize(ctx, data, mimeType)
	if err != nil {
		return nil, "", domain.NewDomainErrorWithCause(domain.ErrCodeTransient, "ocr failed", err)
	}
	if !extract.HasText(ocrPages) {
		return nil, "", domain.ErrNoExtractableText
	}
	return ocrPages, "ocr", nil
}

// failDocument marks the document failed and passes the cause through.
func (s *IngestionService) failDocument(ctx context.Context, documentID string, cause error) error {
	if _, err := s.repo.UpdateStatus(ctx, documentID, domain.DocumentStatusFailed, cause.Error()); err != nil {
		log.Printf("Error marking document %s failed: %v", documentID, err)
	}
	return cause
}

func isSupportedMimeType(mimeType string) bool {
	switch normalizeMimeType(mimeType) {
	case "application/pdf", "text/plain", "text/markdown":
		return true
	}
	return false
}

func normalizeMimeType(mimeType string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return mt
}
