package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/cloo-solutions/docqa/internal/domain"
)

// EmbeddingClient defines the interface for generating embeddings
type EmbeddingClient interface {
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedChunkRepository defines the repository interface for storing chunk
// embeddings, keyed by chunk index within the document.
type EmbedChunkRepository interface {
	StoreEmbeddings(ctx context.Context, documentID string, embeddings map[int][]float32) error
}

// EmbeddingCache caches vectors by content so re-ingesting identical text
// skips the provider call. Lookups treat cache failures as misses.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, model, content string) ([]float32, bool)
	SetEmbedding(ctx context.Context, model, content string, embedding []float32) error
}

// EmbeddingService generates and stores embeddings for a document's chunks
type EmbeddingService struct {
	client     EmbeddingClient
	repo       DocumentRepositoryInterface
	tx         TxRunner
	cache      EmbeddingCache
	model      string
	dimensions int
}

// NewEmbeddingService creates a new EmbeddingService instance. cache may be
// nil when Redis is not configured.
func NewEmbeddingService(
	client EmbeddingClient,
	repo DocumentRepositoryInterface,
	tx TxRunner,
	cache EmbeddingCache,
	model string,
	dimensions int,
) *EmbeddingService {
	return &EmbeddingService{
		client:     client,
		repo:       repo,
		tx:         tx,
		cache:      cache,
		model:      model,
		dimensions: dimensions,
	}
}

// EmbedChunks generates embeddings for every chunk in the job and moves the
// document to embedded. Called by the embed worker.
func (s *EmbeddingService) EmbedChunks(ctx context.Context, job *domain.EmbedJob) error {
	doc, err := s.repo.GetByID(ctx, job.DocumentID)
	if err != nil {
		if errors.Is(err, domain.ErrDocumentNotFound) {
			return err
		}
		return domain.NewDomainErrorWithCause(domain.ErrCodeTransient, "failed to load document", err)
	}
	if doc.Status == domain.DocumentStatusEmbedded {
		log.Printf("Skipping stale embed job for document %s", job.DocumentID)
		return nil
	}

	embeddings := make(map[int][]float32, len(job.Chunks))
	missing := make([]domain.ChunkPayload, 0, len(job.Chunks))

	for _, chunk := range job.Chunks {
		if s.cache != nil {
			if vec, ok := s.cache.GetEmbedding(ctx, s.model, chunk.Content); ok {
				if domain.ValidateEmbedding(vec, s.dimensions) == nil {
					embeddings[chunk.ChunkIndex] = vec
					continue
				}
			}
		}
		missing = append(missing, chunk)
	}

	if len(missing) > 0 {
		generated, err := s.generateValidated(ctx, missing)
		if err != nil {
			if domain.ErrorCodeOf(err) != domain.ErrCodeTransient {
				if _, uerr := s.repo.UpdateStatus(ctx, job.DocumentID, domain.DocumentStatusFailed, err.Error()); uerr != nil {
					log.Printf("Error marking document %s failed: %v", job.DocumentID, uerr)
				}
			}
			return err
		}
		for i, chunk := range missing {
			embeddings[chunk.ChunkIndex] = generated[i]
			if s.cache != nil {
				if err := s.cache.SetEmbedding(ctx, s.model, chunk.Content, generated[i]); err != nil {
					log.Printf("Error caching embedding for document %s chunk %d: %v", job.DocumentID, chunk.ChunkIndex, err)
				}
			}
		}
	}

	// The vector set and the embedded status must land together: a crash
	// between them would leave a partially written vector set behind an
	// unfinished document.
	err = s.tx.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Chunks().StoreEmbeddings(ctx, job.DocumentID, embeddings); err != nil {
			return err
		}
		applied, err := repos.Documents().UpdateStatus(ctx, job.DocumentID, domain.DocumentStatusEmbedded, "")
		if err != nil {
			return err
		}
		if !applied {
			log.Printf("Document %s already embedded, update discarded", job.DocumentID)
		}
		return nil
	})
	if err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeTransient, "failed to persist embeddings", err)
	}

	log.Printf("Embedded document %s (%d chunks, %d cache hits)", job.DocumentID, len(job.Chunks), len(job.Chunks)-len(missing))
	return nil
}

// generateValidated requests embeddings for the chunks and validates every
// vector. Chunks whose vectors fail validation get exactly one retry before
// the whole job fails.
func (s *EmbeddingService) generateValidated(ctx context.Context, chunks []domain.ChunkPayload) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := s.client.GenerateEmbeddings(ctx, texts)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeTransient, "failed to generate embeddings", err)
	}
	if len(vectors) != len(chunks) {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeInvalidEmbedding,
			fmt.Sprintf("expected %d embeddings, got %d", len(chunks), len(vectors)),
			domain.ErrInvalidEmbedding)
	}

	var retryIdx []int
	for i, vec := range vectors {
		if err := domain.ValidateEmbedding(vec, s.dimensions); err != nil {
			log.Printf("Embedding for chunk %d failed validation, retrying: %v", chunks[i].ChunkIndex, err)
			retryIdx = append(retryIdx, i)
		}
	}

	if len(retryIdx) > 0 {
		retryTexts := make([]string, len(retryIdx))
		for j, i := range retryIdx {
			retryTexts[j] = texts[i]
		}

		retried, err := s.client.GenerateEmbeddings(ctx, retryTexts)
		if err != nil {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeTransient, "failed to regenerate embeddings", err)
		}
		if len(retried) != len(retryIdx) {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeInvalidEmbedding,
				fmt.Sprintf("expected %d embeddings on retry, got %d", len(retryIdx), len(retried)),
				domain.ErrInvalidEmbedding)
		}

		for j, i := range retryIdx {
			if err := domain.ValidateEmbedding(retried[j], s.dimensions); err != nil {
				return nil, domain.NewDomainErrorWithCause(domain.ErrCodeInvalidEmbedding,
					fmt.Sprintf("chunk %d embedding invalid after retry", chunks[i].ChunkIndex),
					domain.ErrInvalidEmbedding)
			}
			vectors[i] = retried[j]
		}
	}

	return vectors, nil
}
