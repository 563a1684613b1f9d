// Package cache provides Redis-backed caching for embeddings and finished
// answers.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cloo-solutions/docqa/internal/domain"
)

const (
	embeddingKeyPrefix = "embedding:"
	resultKeyPrefix    = "qa_result:"

	// embeddingTTL keeps content-hash keyed vectors around long enough for
	// re-ingests of the same file to hit the cache.
	embeddingTTL = 7 * 24 * time.Hour

	// resultTTL matches how long callers poll for an answer by thread ID.
	resultTTL = time.Hour
)

// Redis wraps a go-redis client with the cache operations the workers use.
type Redis struct {
	client *redis.Client
}

// New connects to Redis using a redis:// URL.
func New(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return &Redis{client: redis.NewClient(opts)}, nil
}

// Ping verifies the connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

// embeddingKey hashes the model and chunk content so identical text never
// pays for a second embedding call.
func embeddingKey(model, content string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + content))
	return embeddingKeyPrefix + hex.EncodeToString(sum[:])
}

// GetEmbedding returns a cached vector for the content, or ok=false on a
// miss. Cache failures are indistinguishable from misses on purpose.
func (r *Redis) GetEmbedding(ctx context.Context, model, content string) ([]float32, bool) {
	data, err := r.client.Get(ctx, embeddingKey(model, content)).Bytes()
	if err != nil {
		return nil, false
	}

	var embedding []float32
	if err := json.Unmarshal(data, &embedding); err != nil {
		return nil, false
	}
	return embedding, true
}

// SetEmbedding stores a vector under the content hash.
func (r *Redis) SetEmbedding(ctx context.Context, model, content string, embedding []float32) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}
	if err := r.client.Set(ctx, embeddingKey(model, content), data, embeddingTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache embedding: %w", err)
	}
	return nil
}

// StoreResult saves a finished answer under the thread ID.
func (r *Redis) StoreResult(ctx context.Context, threadID string, response *domain.QAResponse) error {
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to marshal qa result: %w", err)
	}
	if err := r.client.Set(ctx, resultKeyPrefix+threadID, data, resultTTL).Err(); err != nil {
		return fmt.Errorf("failed to store qa result: %w", err)
	}
	return nil
}

// GetResult loads the answer stored for a thread, or ErrNotFound.
func (r *Redis) GetResult(ctx context.Context, threadID string) (*domain.QAResponse, error) {
	data, err := r.client.Get(ctx, resultKeyPrefix+threadID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.NewDomainError(domain.ErrCodeNotFound, "no result for thread")
		}
		return nil, fmt.Errorf("failed to load qa result: %w", err)
	}

	var response domain.QAResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("failed to decode qa result: %w", err)
	}
	return &response, nil
}
