package service

import (
	"testing"

	"github.com/cloo-solutions/docqa/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sourceChunk(docID string, page, chunkIndex int, content string, score float32) ScoredChunk {
	return ScoredChunk{
		Chunk: domain.Chunk{
			DocumentID: docID,
			PageNumber: page,
			ChunkIndex: chunkIndex,
			Content:    content,
		},
		Score: score,
	}
}

func TestExtractCitationRefs(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		n      int
		want   []int
	}{
		{"no citations", "The total is 42.", 3, []int{}},
		{"single", "The total is 42 [1].", 3, []int{1}},
		{"first occurrence order", "See [2] and also [1], again [2].", 3, []int{2, 1}},
		{"out of range dropped", "Claims [1] and [7].", 3, []int{1}},
		{"zero dropped", "Bogus [0] but valid [2].", 3, []int{2}},
		{"no sources", "Cited [1] anyway.", 0, []int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractCitationRefs(tt.answer, tt.n)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildCitations_ResolvesAgainstSources(t *testing.T) {
	sources := []ScoredChunk{
		sourceChunk("doc-1", 2, 4, "Revenue grew 12 percent.", 0.92),
		sourceChunk("doc-2", 0, 1, "Costs were flat.", 0.81),
	}

	citations := BuildCitations("Revenue grew [1] while costs held [2].", sources)

	require.Len(t, citations, 2)
	assert.Equal(t, 1, citations[0].Reference)
	assert.Equal(t, "doc-1", citations[0].DocumentID)
	assert.Equal(t, 2, citations[0].PageNumber)
	assert.Equal(t, []int{4}, citations[0].ChunkIndexes)
	assert.Equal(t, "Revenue grew 12 percent.", citations[0].Excerpt)
	assert.Equal(t, float32(0.92), citations[0].Score)
	assert.Equal(t, 2, citations[1].Reference)
	assert.Equal(t, "doc-2", citations[1].DocumentID)
}

func TestBuildCitations_MergesSamePage(t *testing.T) {
	sources := []ScoredChunk{
		sourceChunk("doc-1", 3, 7, "First passage on the page.", 0.7),
		sourceChunk("doc-1", 3, 5, "Second passage on the page.", 0.9),
		sourceChunk("doc-2", 3, 0, "Different document entirely.", 0.6),
	}

	citations := BuildCitations("Shown by [1], [2] and [3].", sources)

	require.Len(t, citations, 2)

	merged := citations[0]
	assert.Equal(t, 1, merged.Reference)
	assert.Equal(t, "doc-1", merged.DocumentID)
	assert.Equal(t, 3, merged.PageNumber)
	assert.Equal(t, []int{5, 7}, merged.ChunkIndexes)
	assert.Equal(t, float32(0.9), merged.Score)

	assert.Equal(t, "doc-2", citations[1].DocumentID)
}

func TestBuildCitations_DuplicateRefsCollapse(t *testing.T) {
	sources := []ScoredChunk{
		sourceChunk("doc-1", 0, 0, "Only source.", 0.5),
	}

	citations := BuildCitations("Stated [1], repeated [1].", sources)

	require.Len(t, citations, 1)
	assert.Equal(t, []int{0}, citations[0].ChunkIndexes)
}

func TestBuildCitations_NoValidRefs(t *testing.T) {
	sources := []ScoredChunk{
		sourceChunk("doc-1", 0, 0, "Only source.", 0.5),
	}

	citations := BuildCitations("Everything cited as [9].", sources)

	assert.Empty(t, citations)
}

func TestBuildCitations_LongExcerptTruncated(t *testing.T) {
	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'a'
	}
	sources := []ScoredChunk{
		sourceChunk("doc-1", 0, 0, string(long), 0.5),
	}

	citations := BuildCitations("See [1].", sources)

	require.Len(t, citations, 1)
	assert.LessOrEqual(t, len(citations[0].Excerpt), citationExcerptMaxChars)
}
