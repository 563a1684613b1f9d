package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloo-solutions/docqa/internal/domain"
	"github.com/cloo-solutions/docqa/internal/openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRetriever is a mock implementation of Retriever
type MockRetriever struct {
	mock.Mock
}

func (m *MockRetriever) Retrieve(ctx context.Context, query string, filter SearchFilter, maxResults int) ([]ScoredChunk, error) {
	args := m.Called(ctx, query, filter, maxResults)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ScoredChunk), args.Error(1)
}

func qaJob(query string) *domain.QAJob {
	job := &domain.QAJob{Query: query, MaxResults: 5, Temperature: 0.7}
	return job
}

func TestAnswer_HappyPathWithCitations(t *testing.T) {
	retriever := new(MockRetriever)
	client := new(MockCompletionClient)

	chunks := []ScoredChunk{
		sourceChunk("doc-1", 2, 0, "Total revenue was 42 million.", 0.9),
		sourceChunk("doc-2", 0, 3, "Unrelated costs detail.", 0.6),
	}

	retriever.On("Retrieve", mock.Anything, "what was revenue?", SearchFilter{ProjectID: "proj-1"}, 5).
		Return(chunks, nil)
	client.On("GenerateAnswer", mock.Anything, mock.MatchedBy(func(req openai.ChatRequest) bool {
		return req.Temperature == 0.7 &&
			strings.Contains(req.UserPrompt, "Source 1 (document doc-1, page 3):") &&
			strings.Contains(req.UserPrompt, "Source 2 (document doc-2, page 1):")
	})).Return("Revenue was 42 million [1].", nil)

	svc := NewAnswerService(retriever, client, "gpt-4-turbo-preview")
	job := qaJob("what was revenue?")
	job.ProjectID = "proj-1"

	resp, err := svc.Answer(context.Background(), job)

	require.NoError(t, err)
	assert.Equal(t, "Revenue was 42 million [1].", resp.Answer)
	require.Len(t, resp.Citations, 1)
	assert.Equal(t, "doc-1", resp.Citations[0].DocumentID)
	assert.Equal(t, 2, resp.Citations[0].PageNumber)
	assert.Equal(t, 2, resp.Metadata.ChunksRetrieved)
	assert.Equal(t, 1, resp.Metadata.ChunksUsed)
	assert.Equal(t, "gpt-4-turbo-preview", resp.Metadata.Model)
}

func TestAnswer_NoChunksRetrieved(t *testing.T) {
	retriever := new(MockRetriever)
	client := new(MockCompletionClient)

	retriever.On("Retrieve", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]ScoredChunk{}, nil)

	svc := NewAnswerService(retriever, client, "gpt-4-turbo-preview")
	resp, err := svc.Answer(context.Background(), qaJob("anything?"))

	require.NoError(t, err)
	assert.Equal(t, noResultsAnswer, resp.Answer)
	assert.Empty(t, resp.Citations)
	assert.Equal(t, 0, resp.Metadata.ChunksRetrieved)
	client.AssertNotCalled(t, "GenerateAnswer", mock.Anything, mock.Anything)
}

func TestAnswer_RetrievalErrorPropagates(t *testing.T) {
	retriever := new(MockRetriever)
	client := new(MockCompletionClient)

	retriever.On("Retrieve", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, domain.NewDomainErrorWithCause(domain.ErrCodeTransient, "search failed", errors.New("db down")))

	svc := NewAnswerService(retriever, client, "gpt-4-turbo-preview")
	resp, err := svc.Answer(context.Background(), qaJob("anything?"))

	assert.Error(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, domain.ErrCodeTransient, domain.ErrorCodeOf(err))
}

func TestAnswer_GenerationFailureDegrades(t *testing.T) {
	retriever := new(MockRetriever)
	client := new(MockCompletionClient)

	chunks := []ScoredChunk{sourceChunk("doc-1", 0, 0, "Some content.", 0.8)}
	retriever.On("Retrieve", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(chunks, nil)
	client.On("GenerateAnswer", mock.Anything, mock.Anything).Return("", errors.New("model overloaded"))

	svc := NewAnswerService(retriever, client, "gpt-4-turbo-preview")
	resp, err := svc.Answer(context.Background(), qaJob("anything?"))

	require.NoError(t, err)
	assert.Equal(t, degradedAnswer, resp.Answer)
	assert.Empty(t, resp.Citations)
	assert.Equal(t, 1, resp.Metadata.ChunksRetrieved)
	assert.Equal(t, 0, resp.Metadata.ChunksUsed)
}

func TestAnswer_DocumentFilterPassedThrough(t *testing.T) {
	retriever := new(MockRetriever)
	client := new(MockCompletionClient)

	retriever.On("Retrieve", mock.Anything, "q", SearchFilter{DocumentIDs: []string{"doc-7"}}, 5).
		Return([]ScoredChunk{}, nil)

	svc := NewAnswerService(retriever, client, "gpt-4-turbo-preview")
	job := qaJob("q")
	job.DocumentIDs = []string{"doc-7"}

	_, err := svc.Answer(context.Background(), job)

	assert.NoError(t, err)
	retriever.AssertExpectations(t)
}
