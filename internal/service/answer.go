package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cloo-solutions/docqa/internal/domain"
	"github.com/cloo-solutions/docqa/internal/openai"
)

// Answer texts for the two non-generative outcomes.
const (
	noResultsAnswer = "I could not find relevant information in the indexed documents to answer this question."
	degradedAnswer  = "I was unable to generate an answer right now. Please try again shortly."
)

const answerSystemPrompt = `You answer questions strictly from the numbered sources provided.
Cite every claim with the source number in square brackets, e.g. [1].
If the sources do not contain the answer, say so instead of guessing.`

// Retriever is the slice of the retrieval pipeline the answer engine needs.
type Retriever interface {
	Retrieve(ctx context.Context, query string, filter SearchFilter, maxResults int) ([]ScoredChunk, error)
}

// AnswerService produces cited answers for QA jobs.
type AnswerService struct {
	retriever Retriever
	client    CompletionClient
	model     string
}

// NewAnswerService creates a new AnswerService instance.
func NewAnswerService(retriever Retriever, client CompletionClient, model string) *AnswerService {
	return &AnswerService{
		retriever: retriever,
		client:    client,
		model:     model,
	}
}

// Answer runs retrieval and generation for one normalized QA job.
//
// Retrieval failures propagate as errors so the job can be retried.
// Generation failures degrade instead: the caller gets an apology answer
// with no citations, because by that point retrieval has already spent real
// work and a retry would repeat it for a model that may still be down.
func (s *AnswerService) Answer(ctx context.Context, job *domain.QAJob) (*domain.QAResponse, error) {
	filter := SearchFilter{
		ProjectID:   job.ProjectID,
		DocumentIDs: job.DocumentIDs,
	}

	chunks, err := s.retriever.Retrieve(ctx, job.Query, filter, job.MaxResults)
	if err != nil {
		return nil, err
	}

	if len(chunks) == 0 {
		return &domain.QAResponse{
			Answer:    noResultsAnswer,
			Citations: []domain.Citation{},
			Metadata: domain.QAMetadata{
				ChunksRetrieved: 0,
				ChunksUsed:      0,
				Model:           s.model,
			},
		}, nil
	}

	answer, err := s.client.GenerateAnswer(ctx, openai.ChatRequest{
		SystemPrompt: answerSystemPrompt,
		UserPrompt:   buildAnswerPrompt(job.Query, chunks),
		Temperature:  job.Temperature,
	})
	if err != nil {
		log.Printf("Answer generation failed, returning degraded response: %v", err)
		return &domain.QAResponse{
			Answer:    degradedAnswer,
			Citations: []domain.Citation{},
			Metadata: domain.QAMetadata{
				ChunksRetrieved: len(chunks),
				ChunksUsed:      0,
				Model:           s.model,
			},
		}, nil
	}

	citations := BuildCitations(answer, chunks)

	return &domain.QAResponse{
		Answer:    answer,
		Citations: citations,
		Metadata: domain.QAMetadata{
			ChunksRetrieved: len(chunks),
			ChunksUsed:      len(ExtractCitationRefs(answer, len(chunks))),
			Model:           s.model,
		},
	}, nil
}

// buildAnswerPrompt lays the retrieved chunks out as numbered source blocks
// under the question.
func buildAnswerPrompt(query string, chunks []ScoredChunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", query)
	for i, c := range chunks {
		fmt.Fprintf(&b, "Source %d (document %s, page %d):\n%s\n\n",
			i+1, c.Chunk.DocumentID, c.Chunk.PageNumber+1, strings.TrimSpace(c.Chunk.Content))
	}
	b.WriteString("Answer the question using only the sources above.")
	return b.String()
}
