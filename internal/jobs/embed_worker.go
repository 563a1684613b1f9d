package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/cloo-solutions/docqa/internal/domain"
	"github.com/cloo-solutions/docqa/internal/telemetry"
)

// EmbeddingService defines the interface for generating embeddings
type EmbeddingService interface {
	EmbedChunks(ctx context.Context, job *domain.EmbedJob) error
}

// EmbedWorker handles messages on the embed subject
type EmbedWorker struct {
	service EmbeddingService
}

// NewEmbedWorker creates a new EmbedWorker instance
func NewEmbedWorker(service EmbeddingService) *EmbedWorker {
	return &EmbedWorker{service: service}
}

func (w *EmbedWorker) Subject() string {
	return domain.SubjectEmbed
}

func (w *EmbedWorker) Queue() string {
	return "embed-workers"
}

// Handle decodes and processes one embed job. Every failure is returned so
// the runner naks the delivery; redelivery is bounded by the consumer's
// max deliver setting.
func (w *EmbedWorker) Handle(ctx context.Context, data []byte) error {
	var job domain.EmbedJob
	if err := json.Unmarshal(data, &job); err != nil {
		log.Printf("Rejecting malformed embed message: %v", err)
		return fmt.Errorf("malformed embed message: %w", err)
	}

	if err := domain.ValidateEmbedJob(&job); err != nil {
		log.Printf("Rejecting invalid embed job for document %s: %v", job.DocumentID, err)
		return err
	}

	log.Printf("Processing embed job for document %s (%d chunks)", job.DocumentID, len(job.Chunks))

	ctx, span := telemetry.StartSpan(ctx, "embed.chunks", telemetry.SpanAttributes{
		DocumentID: job.DocumentID,
		Subject:    w.Subject(),
	})
	defer span.End()

	if err := w.service.EmbedChunks(ctx, &job); err != nil {
		if domain.ErrorCodeOf(err) == domain.ErrCodeTransient {
			log.Printf("Transient error embedding document %s, will retry: %v", job.DocumentID, err)
		} else {
			log.Printf("Embedding failed for document %s: %v", job.DocumentID, err)
		}
		return err
	}

	log.Printf("Embed job completed for document %s", job.DocumentID)
	return nil
}
