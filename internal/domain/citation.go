package domain

// Citation points from a generated answer back to the chunk(s) that justify
// it. Citations are derived per-answer from retrieved chunks and are never
// persisted as a source of truth.
type Citation struct {
	Reference    int     `json:"reference"`
	DocumentID   string  `json:"document_id"`
	PageNumber   int     `json:"page_number"`
	ChunkIndexes []int   `json:"chunk_indexes"`
	Excerpt      string  `json:"excerpt"`
	Score        float32 `json:"score"`
}

// QAMetadata describes how an answer was produced.
type QAMetadata struct {
	ChunksRetrieved int    `json:"chunks_retrieved"`
	ChunksUsed      int    `json:"chunks_used"`
	Model           string `json:"model"`
}

// QAResponse is the result emitted for a QA job.
type QAResponse struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
	Metadata  QAMetadata `json:"metadata"`
}
