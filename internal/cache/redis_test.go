//go:build integration

package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/docqa/internal/domain"
	"github.com/cloo-solutions/docqa/internal/testutil"
)

func newTestCache(ctx context.Context, t *testing.T) (*Redis, func()) {
	t.Helper()
	rc := testutil.NewRedisContainer(ctx, t)

	cache, err := New(rc.URL())
	if err != nil {
		rc.Terminate(ctx)
		t.Fatalf("failed to create cache: %v", err)
	}
	if err := cache.Ping(ctx); err != nil {
		rc.Terminate(ctx)
		t.Fatalf("failed to ping redis: %v", err)
	}

	return cache, func() {
		cache.Close()
		rc.Terminate(ctx)
	}
}

func TestRedis_EmbeddingRoundTrip(t *testing.T) {
	ctx := context.Background()
	cache, cleanup := newTestCache(ctx, t)
	defer cleanup()

	vector := []float32{0.1, 0.2, 0.3}
	require.NoError(t, cache.SetEmbedding(ctx, "test-model", "some chunk text", vector))

	got, ok := cache.GetEmbedding(ctx, "test-model", "some chunk text")
	require.True(t, ok)
	assert.Equal(t, vector, got)
}

func TestRedis_EmbeddingMissOnDifferentModel(t *testing.T) {
	ctx := context.Background()
	cache, cleanup := newTestCache(ctx, t)
	defer cleanup()

	require.NoError(t, cache.SetEmbedding(ctx, "model-a", "same text", []float32{1}))

	_, ok := cache.GetEmbedding(ctx, "model-b", "same text")
	assert.False(t, ok)
}

func TestRedis_ResultRoundTrip(t *testing.T) {
	ctx := context.Background()
	cache, cleanup := newTestCache(ctx, t)
	defer cleanup()

	response := &domain.QAResponse{
		Answer: "The total is 42 [1].",
		Citations: []domain.Citation{
			{Reference: 1, DocumentID: "doc-1", PageNumber: 3, ChunkIndexes: []int{0}, Excerpt: "the total is 42", Score: 0.91},
		},
		Metadata: domain.QAMetadata{ChunksRetrieved: 5, ChunksUsed: 1, Model: "test-model"},
	}
	require.NoError(t, cache.StoreResult(ctx, "thread-1", response))

	got, err := cache.GetResult(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, response, got)
}

func TestRedis_ResultNotFound(t *testing.T) {
	ctx := context.Background()
	cache, cleanup := newTestCache(ctx, t)
	defer cleanup()

	_, err := cache.GetResult(ctx, "thread-missing")
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeNotFound, domain.ErrorCodeOf(err))
}
