package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Chunk represents a bounded slice of a document's extracted text, the unit
// of embedding and retrieval.
type Chunk struct {
	ID         string
	DocumentID string
	PageNumber int
	ChunkIndex int
	Content    string
	Embedding  []float32
	Metadata   map[string]any
	CreatedAt  time.Time
}

// ValidateChunk validates a Chunk instance
func ValidateChunk(c *Chunk) error {
	if c == nil {
		return fmt.Errorf("chunk cannot be nil")
	}

	if c.DocumentID == "" {
		return fmt.Errorf("chunk DocumentID is required")
	}

	if c.PageNumber < 0 {
		return fmt.Errorf("chunk PageNumber cannot be negative")
	}

	if c.ChunkIndex < 0 {
		return fmt.Errorf("chunk ChunkIndex cannot be negative")
	}

	if strings.TrimSpace(c.Content) == "" {
		return fmt.Errorf("chunk Content is required")
	}

	return nil
}

// ValidateChunkSet verifies that chunk indexes form the dense sequence
// 0..N-1 in slice order. Chunks are always replaced wholesale per document,
// so a valid set is exactly a contiguous run.
func ValidateChunkSet(chunks []Chunk) error {
	for i := range chunks {
		if err := ValidateChunk(&chunks[i]); err != nil {
			return err
		}
		if chunks[i].ChunkIndex != i {
			return fmt.Errorf("chunk index %d at position %d breaks contiguity", chunks[i].ChunkIndex, i)
		}
	}
	return nil
}

// ValidateEmbedding checks an embedding vector against the configured
// dimension and rejects degenerate vectors: wrong length, non-finite
// components, or all-zero.
func ValidateEmbedding(embedding []float32, dimensions int) error {
	if len(embedding) != dimensions {
		return fmt.Errorf("embedding has %d dimensions, expected %d", len(embedding), dimensions)
	}

	zero := true
	for i, v := range embedding {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("embedding component %d is not finite", i)
		}
		if v != 0 {
			zero = false
		}
	}
	if zero {
		return fmt.Errorf("embedding is all-zero")
	}

	return nil
}
