package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/cloo-solutions/docqa/internal/domain"
	"github.com/cloo-solutions/docqa/internal/telemetry"
)

// IngestService defines the interface for document ingestion
type IngestService interface {
	IngestDocument(ctx context.Context, job *domain.IngestJob) error
}

// IngestWorker handles messages on the ingest subject
type IngestWorker struct {
	service IngestService
}

// NewIngestWorker creates a new IngestWorker instance
func NewIngestWorker(service IngestService) *IngestWorker {
	return &IngestWorker{service: service}
}

func (w *IngestWorker) Subject() string {
	return domain.SubjectIngest
}

func (w *IngestWorker) Queue() string {
	return "ingest-workers"
}

// Handle decodes and processes one ingest job. Every failure is returned so
// the runner naks the delivery and the bus keeps it visible; redelivery is
// bounded by the consumer's max deliver setting.
func (w *IngestWorker) Handle(ctx context.Context, data []byte) error {
	var job domain.IngestJob
	if err := json.Unmarshal(data, &job); err != nil {
		log.Printf("Rejecting malformed ingest message: %v", err)
		return fmt.Errorf("malformed ingest message: %w", err)
	}

	if err := domain.ValidateIngestJob(&job); err != nil {
		log.Printf("Rejecting invalid ingest job for document %s: %v", job.DocumentID, err)
		return err
	}

	log.Printf("Processing ingest job for document %s", job.DocumentID)

	ctx, span := telemetry.StartSpan(ctx, "ingest.document", telemetry.SpanAttributes{
		DocumentID: job.DocumentID,
		Subject:    w.Subject(),
	})
	defer span.End()

	if err := w.service.IngestDocument(ctx, &job); err != nil {
		if domain.ErrorCodeOf(err) == domain.ErrCodeTransient {
			log.Printf("Transient error ingesting document %s, will retry: %v", job.DocumentID, err)
		} else {
			log.Printf("Ingestion failed for document %s: %v", job.DocumentID, err)
		}
		return err
	}

	log.Printf("Ingest job completed for document %s", job.DocumentID)
	return nil
}
