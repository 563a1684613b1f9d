package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/cloo-solutions/docqa/internal/openai"
)

const rerankExcerptMaxChars = 300

// Reranker reorders retrieval candidates by relevance to the query.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []ScoredChunk) ([]ScoredChunk, error)
}

// NoopReranker keeps the fused order untouched.
type NoopReranker struct{}

func (NoopReranker) Rerank(ctx context.Context, query string, candidates []ScoredChunk) ([]ScoredChunk, error) {
	return candidates, nil
}

// CompletionClient is the slice of the model client the reranker needs.
type CompletionClient interface {
	GenerateAnswer(ctx context.Context, req openai.ChatRequest) (string, error)
}

// GenerativeReranker asks the chat model to order candidates by relevance.
// Callers fall back to the fused order when it errors, so a flaky model
// never breaks retrieval.
type GenerativeReranker struct {
	client CompletionClient
}

// NewGenerativeReranker creates a new GenerativeReranker instance.
func NewGenerativeReranker(client CompletionClient) *GenerativeReranker {
	return &GenerativeReranker{client: client}
}

const rerankSystemPrompt = `You rank text passages by relevance to a question.
Reply with the passage numbers in descending relevance, comma separated, nothing else.
Example reply: 3,1,2`

func (r *GenerativeReranker) Rerank(ctx context.Context, query string, candidates []ScoredChunk) ([]ScoredChunk, error) {
	if len(candidates) < 2 {
		return candidates, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nPassages:\n", query)
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. %s\n", i+1, truncateRunes(c.Chunk.Content, rerankExcerptMaxChars))
	}

	reply, err := r.client.GenerateAnswer(ctx, openai.ChatRequest{
		SystemPrompt: rerankSystemPrompt,
		UserPrompt:   b.String(),
		Temperature:  0,
	})
	if err != nil {
		return nil, fmt.Errorf("rerank completion failed: %w", err)
	}

	order, err := parseRankOrder(reply, len(candidates))
	if err != nil {
		return nil, err
	}

	reranked := make([]ScoredChunk, 0, len(candidates))
	for rank, idx := range order {
		c := candidates[idx]
		// Replace the score with a rank-derived one so downstream sorting
		// preserves the model's order.
		c.Score = float32(len(order)-rank) / float32(len(order))
		reranked = append(reranked, c)
	}
	return reranked, nil
}

// parseRankOrder turns a "3,1,2" style reply into zero-based indexes. Every
// candidate must appear exactly once.
func parseRankOrder(reply string, n int) ([]int, error) {
	fields := strings.FieldsFunc(reply, func(r rune) bool {
		return r == ',' || r == '\n' || r == ' '
	})

	order := make([]int, 0, n)
	seen := make(map[int]bool, n)
	for _, f := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("unparseable rank reply %q", reply)
		}
		if v < 1 || v > n || seen[v] {
			return nil, fmt.Errorf("rank reply %q references invalid passage %d", reply, v)
		}
		seen[v] = true
		order = append(order, v-1)
	}

	if len(order) != n {
		return nil, fmt.Errorf("rank reply %q covers %d of %d passages", reply, len(order), n)
	}
	return order, nil
}

func truncateRunes(s string, max int) string {
	clean := strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(clean) <= max {
		return clean
	}
	runes := []rune(clean)
	return string(runes[:max-3]) + "..."
}
