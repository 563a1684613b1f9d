package service

import (
	"log"
	"regexp"
	"sort"
	"strconv"

	"github.com/cloo-solutions/docqa/internal/domain"
)

const citationExcerptMaxChars = 300

var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// ExtractCitationRefs returns the ordinals cited in the answer text, unique,
// in first-occurrence order. Ordinals outside 1..n are dropped: the model
// sometimes hallucinates a source number it was never given.
func ExtractCitationRefs(answer string, n int) []int {
	matches := citationPattern.FindAllStringSubmatch(answer, -1)
	refs := make([]int, 0, len(matches))
	seen := make(map[int]bool, len(matches))

	for _, m := range matches {
		v, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if v < 1 || v > n {
			log.Printf("Dropping out-of-range citation [%d] (have %d sources)", v, n)
			continue
		}
		if !seen[v] {
			seen[v] = true
			refs = append(refs, v)
		}
	}
	return refs
}

// BuildCitations resolves cited ordinals against the retrieved chunks and
// merges citations that land on the same document page. A merged citation
// keeps the first-cited reference number, unions the chunk indexes, and
// carries the best score.
func BuildCitations(answer string, sources []ScoredChunk) []domain.Citation {
	refs := ExtractCitationRefs(answer, len(sources))
	if len(refs) == 0 {
		return []domain.Citation{}
	}

	type pageKey struct {
		documentID string
		pageNumber int
	}

	merged := make(map[pageKey]*domain.Citation, len(refs))
	order := make([]pageKey, 0, len(refs))

	for _, ref := range refs {
		source := sources[ref-1]
		key := pageKey{source.Chunk.DocumentID, source.Chunk.PageNumber}

		existing, ok := merged[key]
		if !ok {
			order = append(order, key)
			merged[key] = &domain.Citation{
				Reference:    ref,
				DocumentID:   source.Chunk.DocumentID,
				PageNumber:   source.Chunk.PageNumber,
				ChunkIndexes: []int{source.Chunk.ChunkIndex},
				Excerpt:      truncateRunes(source.Chunk.Content, citationExcerptMaxChars),
				Score:        source.Score,
			}
			continue
		}

		existing.ChunkIndexes = appendUniqueSorted(existing.ChunkIndexes, source.Chunk.ChunkIndex)
		if source.Score > existing.Score {
			existing.Score = source.Score
		}
	}

	citations := make([]domain.Citation, 0, len(order))
	for _, key := range order {
		citations = append(citations, *merged[key])
	}
	return citations
}

func appendUniqueSorted(indexes []int, v int) []int {
	for _, existing := range indexes {
		if existing == v {
			return indexes
		}
	}
	indexes = append(indexes, v)
	sort.Ints(indexes)
	return indexes
}
