package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/cloo-solutions/docqa/internal/domain"
	"github.com/cloo-solutions/docqa/internal/service"
)

// ChunkRepository handles persistence and retrieval of document chunks.
type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx pgx.Tx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

// ReplaceChunks deletes the document's existing chunks and inserts the new
// set. Redelivered ingest jobs land here, so replacement has to be
// wholesale or chunk indexes would collide.
func (r *ChunkRepository) ReplaceChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error {
	_, err := r.db.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return err
	}

	for _, c := range chunks {
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err := r.db.Exec(ctx,
			`INSERT INTO document_chunks (document_id, page_number, chunk_index, content, embedding, created_at)
			 VALUES ($1, $2, $3, $4, NULL, $5)`,
			c.DocumentID, c.PageNumber, c.ChunkIndex, c.Content, createdAt,
		)
		if err != nil {
			return err
		}
	}

	return nil
}

// StoreEmbeddings writes vectors onto existing chunks, keyed by chunk
// index. Every key must hit a row; a miss means the chunk set changed
// underneath the embed job.
func (r *ChunkRepository) StoreEmbeddings(ctx context.Context, documentID string, embeddings map[int][]float32) error {
	for chunkIndex, embedding := range embeddings {
		tag, err := r.db.Exec(ctx,
			`UPDATE document_chunks SET embedding = $3 WHERE document_id = $1 AND chunk_index = $2`,
			documentID, chunkIndex, pgvector.NewVector(embedding),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("no chunk %d for document %s", chunkIndex, documentID)
		}
	}
	return nil
}

func (r *ChunkRepository) GetByDocument(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, document_id, page_number, chunk_index, content, created_at
		 FROM document_chunks WHERE document_id = $1 ORDER BY chunk_index`,
		documentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.PageNumber, &c.ChunkIndex, &c.Content, &c.CreatedAt); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// SearchSemantic returns the closest embedded chunks by cosine distance.
// Only chunks of fully embedded documents are candidates.
func (r *ChunkRepository) SearchSemantic(ctx context.Context, embedding []float32, filter service.SearchFilter, limit int) ([]service.ScoredChunk, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT c.id, c.document_id, c.page_number, c.chunk_index, c.content, c.embedding, c.created_at,
		       1 - (c.embedding <=> $1) AS score
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.embedding IS NOT NULL AND d.status = 'embedded'`
	args := []any{pgvector.NewVector(embedding)}
	query, args = appendSearchFilter(query, args, filter)

	query += fmt.Sprintf(" ORDER BY c.embedding <=> $1 LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanScoredChunks(rows, service.SourceVector)
}

// SearchLexical returns chunks matching the query by full-text rank.
func (r *ChunkRepository) SearchLexical(ctx context.Context, text string, filter service.SearchFilter, limit int) ([]service.ScoredChunk, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT c.id, c.document_id, c.page_number, c.chunk_index, c.content, c.embedding, c.created_at,
		       ts_rank(to_tsvector('english', c.content), plainto_tsquery('english', $1)) AS score
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE to_tsvector('english', c.content) @@ plainto_tsquery('english', $1)
		  AND c.embedding IS NOT NULL AND d.status = 'embedded'`
	args := []any{text}
	query, args = appendSearchFilter(query, args, filter)

	query += fmt.Sprintf(" ORDER BY score DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanScoredChunks(rows, service.SourceLexical)
}

func appendSearchFilter(query string, args []any, filter service.SearchFilter) (string, []any) {
	if filter.ProjectID != "" {
		args = append(args, filter.ProjectID)
		query += fmt.Sprintf(" AND d.project_id = $%d", len(args))
	}
	if len(filter.DocumentIDs) > 0 {
		args = append(args, filter.DocumentIDs)
		query += fmt.Sprintf(" AND c.document_id = ANY($%d)", len(args))
	}
	return query, args
}

func scanScoredChunks(rows pgx.Rows, source string) ([]service.ScoredChunk, error) {
	results := make([]service.ScoredChunk, 0)
	for rows.Next() {
		var sc service.ScoredChunk
		var vec pgvector.Vector
		if err := rows.Scan(&sc.Chunk.ID, &sc.Chunk.DocumentID, &sc.Chunk.PageNumber, &sc.Chunk.ChunkIndex,
			&sc.Chunk.Content, &vec, &sc.Chunk.CreatedAt, &sc.Score); err != nil {
			return nil, err
		}
		sc.Chunk.Embedding = vec.Slice()
		sc.Source = source
		results = append(results, sc)
	}
	return results, rows.Err()
}
