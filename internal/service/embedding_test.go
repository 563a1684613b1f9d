package service

import (
	"context"
	"errors"
	"testing"

	"github.com/cloo-solutions/docqa/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockEmbeddingClient is a mock implementation of EmbeddingClient
type MockEmbeddingClient struct {
	mock.Mock
}

func (m *MockEmbeddingClient) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

// MockEmbeddingCache is a mock implementation of EmbeddingCache
type MockEmbeddingCache struct {
	mock.Mock
}

func (m *MockEmbeddingCache) GetEmbedding(ctx context.Context, model, content string) ([]float32, bool) {
	args := m.Called(ctx, model, content)
	if args.Get(0) == nil {
		return nil, args.Bool(1)
	}
	return args.Get(0).([]float32), args.Bool(1)
}

func (m *MockEmbeddingCache) SetEmbedding(ctx context.Context, model, content string, embedding []float32) error {
	args := m.Called(ctx, model, content, embedding)
	return args.Error(0)
}

const testDims = 4

func validVector(seed float32) []float32 {
	return []float32{seed, seed + 0.1, seed + 0.2, seed + 0.3}
}

func ingestedDoc(id string) *domain.Document {
	return &domain.Document{ID: id, FilePath: "uploads/" + id + ".pdf", Status: domain.DocumentStatusIngested}
}

func embedJobWithChunks(contents ...string) *domain.EmbedJob {
	job := &domain.EmbedJob{DocumentID: "doc-1"}
	for i, c := range contents {
		job.Chunks = append(job.Chunks, domain.ChunkPayload{PageNumber: 0, ChunkIndex: i, Content: c})
	}
	return job
}

type embeddingFixture struct {
	client *MockEmbeddingClient
	repo   *MockDocumentRepository
	chunks *MockChunkWriter
	tx     *fakeTxRunner
}

func newEmbeddingFixture() *embeddingFixture {
	f := &embeddingFixture{
		client: new(MockEmbeddingClient),
		repo:   new(MockDocumentRepository),
		chunks: new(MockChunkWriter),
	}
	f.tx = &fakeTxRunner{repo: f.repo, chunks: f.chunks}
	return f
}

func (f *embeddingFixture) service(cache EmbeddingCache) *EmbeddingService {
	return NewEmbeddingService(f.client, f.repo, f.tx, cache, "test-model", testDims)
}

func TestEmbedChunks_Success(t *testing.T) {
	f := newEmbeddingFixture()

	f.repo.On("GetByID", mock.Anything, "doc-1").Return(ingestedDoc("doc-1"), nil)
	f.client.On("GenerateEmbeddings", mock.Anything, []string{"first", "second"}).
		Return([][]float32{validVector(0.1), validVector(0.5)}, nil)
	f.chunks.On("StoreEmbeddings", mock.Anything, "doc-1", mock.MatchedBy(func(embeddings map[int][]float32) bool {
		return len(embeddings) == 2 && embeddings[0] != nil && embeddings[1] != nil
	})).Return(nil)
	f.repo.On("UpdateStatus", mock.Anything, "doc-1", domain.DocumentStatusEmbedded, "").Return(true, nil)

	err := f.service(nil).EmbedChunks(context.Background(), embedJobWithChunks("first", "second"))

	assert.NoError(t, err)
	f.client.AssertExpectations(t)
	f.chunks.AssertExpectations(t)
	f.repo.AssertExpectations(t)
}

func TestEmbedChunks_CacheHitSkipsProvider(t *testing.T) {
	f := newEmbeddingFixture()
	cache := new(MockEmbeddingCache)

	cached := validVector(0.9)
	f.repo.On("GetByID", mock.Anything, "doc-1").Return(ingestedDoc("doc-1"), nil)
	cache.On("GetEmbedding", mock.Anything, "test-model", "first").Return(cached, true)
	cache.On("GetEmbedding", mock.Anything, "test-model", "second").Return(nil, false)
	f.client.On("GenerateEmbeddings", mock.Anything, []string{"second"}).
		Return([][]float32{validVector(0.2)}, nil)
	cache.On("SetEmbedding", mock.Anything, "test-model", "second", mock.Anything).Return(nil)
	f.chunks.On("StoreEmbeddings", mock.Anything, "doc-1", mock.MatchedBy(func(embeddings map[int][]float32) bool {
		return assert.ObjectsAreEqual(cached, embeddings[0])
	})).Return(nil)
	f.repo.On("UpdateStatus", mock.Anything, "doc-1", domain.DocumentStatusEmbedded, "").Return(true, nil)

	err := f.service(cache).EmbedChunks(context.Background(), embedJobWithChunks("first", "second"))

	assert.NoError(t, err)
	f.client.AssertExpectations(t)
	cache.AssertExpectations(t)
}

func TestEmbedChunks_InvalidEmbeddingRetriedOnce(t *testing.T) {
	f := newEmbeddingFixture()

	allZero := make([]float32, testDims)
	f.repo.On("GetByID", mock.Anything, "doc-1").Return(ingestedDoc("doc-1"), nil)
	f.client.On("GenerateEmbeddings", mock.Anything, []string{"first", "second"}).
		Return([][]float32{validVector(0.1), allZero}, nil).Once()
	f.client.On("GenerateEmbeddings", mock.Anything, []string{"second"}).
		Return([][]float32{validVector(0.4)}, nil).Once()
	f.chunks.On("StoreEmbeddings", mock.Anything, "doc-1", mock.Anything).Return(nil)
	f.repo.On("UpdateStatus", mock.Anything, "doc-1", domain.DocumentStatusEmbedded, "").Return(true, nil)

	err := f.service(nil).EmbedChunks(context.Background(), embedJobWithChunks("first", "second"))

	assert.NoError(t, err)
	f.client.AssertExpectations(t)
}

func TestEmbedChunks_InvalidAfterRetryFailsDocument(t *testing.T) {
	f := newEmbeddingFixture()

	allZero := make([]float32, testDims)
	f.repo.On("GetByID", mock.Anything, "doc-1").Return(ingestedDoc("doc-1"), nil)
	f.client.On("GenerateEmbeddings", mock.Anything, []string{"first"}).
		Return([][]float32{allZero}, nil).Twice()
	f.repo.On("UpdateStatus", mock.Anything, "doc-1", domain.DocumentStatusFailed, mock.MatchedBy(func(msg string) bool {
		return msg != ""
	})).Return(true, nil)

	err := f.service(nil).EmbedChunks(context.Background(), embedJobWithChunks("first"))

	assert.Error(t, err)
	assert.Equal(t, domain.ErrCodeInvalidEmbedding, domain.ErrorCodeOf(err))
	f.chunks.AssertNotCalled(t, "StoreEmbeddings", mock.Anything, mock.Anything, mock.Anything)
	f.repo.AssertExpectations(t)
}

func TestEmbedChunks_ProviderErrorIsTransient(t *testing.T) {
	f := newEmbeddingFixture()

	f.repo.On("GetByID", mock.Anything, "doc-1").Return(ingestedDoc("doc-1"), nil)
	f.client.On("GenerateEmbeddings", mock.Anything, mock.Anything).Return(nil, errors.New("rate limited"))

	err := f.service(nil).EmbedChunks(context.Background(), embedJobWithChunks("first"))

	assert.Error(t, err)
	assert.Equal(t, domain.ErrCodeTransient, domain.ErrorCodeOf(err))
	f.repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, "doc-1", domain.DocumentStatusFailed, mock.Anything)
}

func TestEmbedChunks_PersistFailureIsTransient(t *testing.T) {
	f := newEmbeddingFixture()
	f.tx.err = errors.New("connection reset")

	f.repo.On("GetByID", mock.Anything, "doc-1").Return(ingestedDoc("doc-1"), nil)
	f.client.On("GenerateEmbeddings", mock.Anything, []string{"first"}).
		Return([][]float32{validVector(0.1)}, nil)

	err := f.service(nil).EmbedChunks(context.Background(), embedJobWithChunks("first"))

	assert.Error(t, err)
	assert.Equal(t, domain.ErrCodeTransient, domain.ErrorCodeOf(err))
	f.chunks.AssertNotCalled(t, "StoreEmbeddings", mock.Anything, mock.Anything, mock.Anything)
	f.repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, "doc-1", domain.DocumentStatusEmbedded, "")
}

func TestEmbedChunks_AlreadyEmbeddedIsNoOp(t *testing.T) {
	f := newEmbeddingFixture()

	doc := ingestedDoc("doc-1")
	doc.Status = domain.DocumentStatusEmbedded
	f.repo.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)

	err := f.service(nil).EmbedChunks(context.Background(), embedJobWithChunks("first"))

	assert.NoError(t, err)
	f.client.AssertNotCalled(t, "GenerateEmbeddings", mock.Anything, mock.Anything)
	f.chunks.AssertNotCalled(t, "StoreEmbeddings", mock.Anything, mock.Anything, mock.Anything)
}

func TestEmbedChunks_DocumentNotFound(t *testing.T) {
	f := newEmbeddingFixture()

	f.repo.On("GetByID", mock.Anything, "doc-1").Return(nil, domain.ErrDocumentNotFound)

	err := f.service(nil).EmbedChunks(context.Background(), embedJobWithChunks("first"))

	assert.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDocumentNotFound))
}
