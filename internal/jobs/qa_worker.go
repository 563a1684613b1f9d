package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/cloo-solutions/docqa/internal/domain"
	"github.com/cloo-solutions/docqa/internal/telemetry"
)

// AnswerService defines the interface for answering questions
type AnswerService interface {
	Answer(ctx context.Context, job *domain.QAJob) (*domain.QAResponse, error)
}

// ResultStore persists finished answers so callers can pick them up by
// thread ID.
type ResultStore interface {
	StoreResult(ctx context.Context, threadID string, response *domain.QAResponse) error
}

// QAWorker handles messages on the question-answering subject
type QAWorker struct {
	service AnswerService
	results ResultStore
}

// NewQAWorker creates a new QAWorker instance. results may be nil when no
// result store is configured.
func NewQAWorker(service AnswerService, results ResultStore) *QAWorker {
	return &QAWorker{service: service, results: results}
}

func (w *QAWorker) Subject() string {
	return domain.SubjectQA
}

func (w *QAWorker) Queue() string {
	return "qa-workers"
}

// Handle decodes and processes one question-answering job. Every failure
// is returned so the runner naks the delivery; generation failures come
// back from the service as degraded answers and are acked.
func (w *QAWorker) Handle(ctx context.Context, data []byte) error {
	var job domain.QAJob
	if err := json.Unmarshal(data, &job); err != nil {
		log.Printf("Rejecting malformed qa message: %v", err)
		return fmt.Errorf("malformed qa message: %w", err)
	}

	if err := domain.ValidateQAJob(&job); err != nil {
		log.Printf("Rejecting invalid qa job (thread %s): %v", job.ThreadID, err)
		return err
	}
	job.Normalize()

	log.Printf("Processing qa job for thread %s", job.ThreadID)

	ctx, span := telemetry.StartSpan(ctx, "qa.answer", telemetry.SpanAttributes{
		Subject:   w.Subject(),
		Operation: "answer",
	})
	defer span.End()

	response, err := w.service.Answer(ctx, &job)
	if err != nil {
		if domain.ErrorCodeOf(err) == domain.ErrCodeTransient {
			log.Printf("Transient error answering thread %s, will retry: %v", job.ThreadID, err)
		} else {
			log.Printf("Answering failed for thread %s: %v", job.ThreadID, err)
		}
		return err
	}

	if w.results != nil && job.ThreadID != "" {
		if err := w.results.StoreResult(ctx, job.ThreadID, response); err != nil {
			log.Printf("Error storing qa result for thread %s: %v", job.ThreadID, err)
		}
	}

	log.Printf("QA job completed for thread %s (%d citations)", job.ThreadID, len(response.Citations))
	return nil
}
