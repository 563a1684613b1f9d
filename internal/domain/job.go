package domain

import "fmt"

// Job subjects on the bus. Each worker kind consumes exactly one subject.
const (
	SubjectIngest = "jobs.ingest"
	SubjectEmbed  = "jobs.embed"
	SubjectQA     = "jobs.qa"
)

// QAJob bounds. Out-of-range values are clamped rather than rejected so a
// sloppy caller still gets an answer.
const (
	QAMaxResultsDefault = 10
	QAMaxResultsCeiling = 20
	QATemperatureMax    = 2.0
)

// IngestJob instructs the ingest worker to process an uploaded file.
// The document ID is the idempotency key: redelivery replaces the chunk set
// wholesale rather than appending.
type IngestJob struct {
	DocumentID string `json:"document_id"`
	FilePath   string `json:"file_path"`
	MimeType   string `json:"mime_type"`
	FileSize   int64  `json:"file_size"`
}

// ValidateIngestJob validates an IngestJob payload
func ValidateIngestJob(j *IngestJob) error {
	if j == nil {
		return fmt.Errorf("ingest job cannot be nil")
	}

	if j.DocumentID == "" {
		return fmt.Errorf("ingest job document_id is required")
	}

	if j.FilePath == "" {
		return fmt.Errorf("ingest job file_path is required")
	}

	if j.FileSize < 0 {
		return fmt.Errorf("ingest job file_size cannot be negative")
	}

	return nil
}

// ChunkPayload is the wire form of a chunk carried inside an EmbedJob.
type ChunkPayload struct {
	PageNumber int    `json:"page_number"`
	ChunkIndex int    `json:"chunk_index"`
	Content    string `json:"content"`
}

// EmbedJob carries the chunk set produced by ingestion to the embed worker.
type EmbedJob struct {
	DocumentID string         `json:"document_id"`
	Chunks     []ChunkPayload `json:"chunks"`
}

// ValidateEmbedJob validates an EmbedJob payload
func ValidateEmbedJob(j *EmbedJob) error {
	if j == nil {
		return fmt.Errorf("embed job cannot be nil")
	}

	if j.DocumentID == "" {
		return fmt.Errorf("embed job document_id is required")
	}

	if len(j.Chunks) == 0 {
		return fmt.Errorf("embed job has no chunks")
	}

	for i, c := range j.Chunks {
		if c.ChunkIndex != i {
			return fmt.Errorf("embed job chunk index %d at position %d breaks contiguity", c.ChunkIndex, i)
		}
		if c.Content == "" {
			return fmt.Errorf("embed job chunk %d has empty content", i)
		}
	}

	return nil
}

// QAJob asks the qa worker to answer a question over embedded documents.
type QAJob struct {
	Query       string   `json:"query"`
	ThreadID    string   `json:"thread_id,omitempty"`
	ProjectID   string   `json:"project_id,omitempty"`
	DocumentIDs []string `json:"document_ids,omitempty"`
	MaxResults  int      `json:"max_results"`
	Temperature float32  `json:"temperature"`
}

// Normalize clamps MaxResults and Temperature into their allowed ranges and
// fills defaults for zero values.
func (j *QAJob) Normalize() {
	if j.MaxResults <= 0 {
		j.MaxResults = QAMaxResultsDefault
	}
	if j.MaxResults > QAMaxResultsCeiling {
		j.MaxResults = QAMaxResultsCeiling
	}
	if j.Temperature < 0 {
		j.Temperature = 0
	}
	if j.Temperature > QATemperatureMax {
		j.Temperature = QATemperatureMax
	}
}

// ValidateQAJob validates a QAJob payload
func ValidateQAJob(j *QAJob) error {
	if j == nil {
		return fmt.Errorf("qa job cannot be nil")
	}

	if j.Query == "" {
		return fmt.Errorf("qa job query is required")
	}

	return nil
}
