package service

import (
	"context"
	"log"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/cloo-solutions/docqa/internal/domain"
)

const retrievalCandidateMultiplier = 2

// ScoredChunk is a retrieval candidate with its relevance score.
type ScoredChunk struct {
	Chunk  domain.Chunk
	Score  float32
	Source string
}

// Candidate sources.
const (
	SourceVector  = "vector"
	SourceLexical = "lexical"
)

// SearchFilter narrows retrieval to a project or an explicit document set.
type SearchFilter struct {
	ProjectID   string
	DocumentIDs []string
}

// SearchChunkRepository defines the repository interface for candidate
// retrieval over embedded chunks.
type SearchChunkRepository interface {
	SearchSemantic(ctx context.Context, embedding []float32, filter SearchFilter, limit int) ([]ScoredChunk, error)
	SearchLexical(ctx context.Context, query string, filter SearchFilter, limit int) ([]ScoredChunk, error)
}

// QueryEmbedder embeds the user's question for the vector pass.
type QueryEmbedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// RetrievalService runs the hybrid retrieval pipeline: a vector pass and a
// lexical pass, fused, optionally reranked, and cut down to the requested
// result count.
type RetrievalService struct {
	repo     SearchChunkRepository
	embedder QueryEmbedder
	reranker Reranker
}

// NewRetrievalService creates a new RetrievalService instance. A nil
// reranker falls back to NoopReranker.
func NewRetrievalService(repo SearchChunkRepository, embedder QueryEmbedder, reranker Reranker) *RetrievalService {
	if reranker == nil {
		reranker = NoopReranker{}
	}
	return &RetrievalService{
		repo:     repo,
		embedder: embedder,
		reranker: reranker,
	}
}

// Retrieve returns the top maxResults chunks for the query.
func (s *RetrievalService) Retrieve(ctx context.Context, query string, filter SearchFilter, maxResults int) ([]ScoredChunk, error) {
	query = strings.TrimSpace(query)
	if query == "" || maxResults <= 0 {
		return []ScoredChunk{}, nil
	}

	// Both passes over-fetch so fusion and reranking have candidates to
	// work with.
	candidateLimit := maxResults * retrievalCandidateMultiplier

	embedding, err := s.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeTransient, "failed to embed query", err)
	}

	semantic, err := s.repo.SearchSemantic(ctx, embedding, filter, candidateLimit)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeTransient, "semantic search failed", err)
	}

	lexical, err := s.repo.SearchLexical(ctx, query, filter, candidateLimit)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeTransient, "lexical search failed", err)
	}

	fused := fuseCandidates(embedding, semantic, lexical)

	reranked, err := s.reranker.Rerank(ctx, query, fused)
	if err != nil {
		log.Printf("Reranker failed, keeping fused order: %v", err)
		reranked = fused
	}

	sortCandidates(reranked)

	if len(reranked) > maxResults {
		reranked = reranked[:maxResults]
	}
	return reranked, nil
}

// fuseCandidates merges the two passes. The vector pass wins on duplicates:
// a chunk seen by both keeps its vector score and source. Lexical-only
// candidates that carry an embedding are rescored against the query vector
// so scores from both passes stay comparable.
func fuseCandidates(queryEmbedding []float32, semantic, lexical []ScoredChunk) []ScoredChunk {
	seen := make(map[string]struct{}, len(semantic)+len(lexical))
	fused := make([]ScoredChunk, 0, len(semantic)+len(lexical))

	for _, c := range semantic {
		key := candidateKey(c.Chunk)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		c.Source = SourceVector
		fused = append(fused, c)
	}

	for _, c := range lexical {
		key := candidateKey(c.Chunk)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		c.Source = SourceLexical
		if len(c.Chunk.Embedding) > 0 {
			c.Score = cosineSimilarity(queryEmbedding, c.Chunk.Embedding)
		}
		fused = append(fused, c)
	}

	return fused
}

func candidateKey(c domain.Chunk) string {
	return c.DocumentID + ":" + strconv.Itoa(c.ChunkIndex)
}

// sortCandidates orders by score, then recency, then chunk index so equal
// scores still produce a deterministic order.
func sortCandidates(candidates []ScoredChunk) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		if !candidates[i].Chunk.CreatedAt.Equal(candidates[j].Chunk.CreatedAt) {
			return candidates[i].Chunk.CreatedAt.After(candidates[j].Chunk.CreatedAt)
		}
		return candidates[i].Chunk.ChunkIndex < candidates[j].Chunk.ChunkIndex
	})
}

// cosineSimilarity returns 0 for zero vectors instead of NaN.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
