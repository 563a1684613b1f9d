package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/docqa/internal/domain"
)

// DocumentRepository handles persistence of documents and their lifecycle.
type DocumentRepository struct {
	db dbtx
}

func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{db: pool}
}

func NewDocumentRepositoryWithTx(tx pgx.Tx) *DocumentRepository {
	return &DocumentRepository{db: tx}
}

func (r *DocumentRepository) Create(ctx context.Context, d *domain.Document) error {
	metadata, err := json.Marshal(d.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO documents (id, file_path, mime_type, file_size, page_count, project_id, status, error, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, $8, $9, $10)`,
		d.ID, d.FilePath, d.MimeType, d.FileSize, d.PageCount, nullableString(d.ProjectID), d.Status, metadata, d.CreatedAt, d.UpdatedAt,
	)
	return err
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	var d domain.Document
	var projectID, errMsg pgtype.Text
	var metadata []byte
	err := r.db.QueryRow(ctx,
		`SELECT id, file_path, mime_type, file_size, page_count, project_id, status, error, metadata, created_at, updated_at
		 FROM documents WHERE id = $1`,
		id,
	).Scan(&d.ID, &d.FilePath, &d.MimeType, &d.FileSize, &d.PageCount, &projectID, &d.Status, &errMsg, &metadata, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, err
	}
	if projectID.Valid {
		d.ProjectID = projectID.String
	}
	if errMsg.Valid {
		d.Error = errMsg.String
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &d.Metadata); err != nil {
			return nil, err
		}
	}
	return &d, nil
}

// UpdateStatus applies a guarded transition. Embedded is terminal, so the
// update is filtered in SQL rather than read-modify-write: concurrent
// workers cannot race a stale status over a terminal one. Returns false
// when the row exists but the transition was stale.
func (r *DocumentRepository) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMsg string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE documents
		 SET status = $2, error = $3, updated_at = $4
		 WHERE id = $1 AND status <> 'embedded'`,
		id, status, nullableString(errMsg), time.Now().UTC(),
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, domain.ErrDocumentNotFound
	}
	return false, nil
}

// SetIngestResult records the page count and extraction metadata produced
// by ingestion.
func (r *DocumentRepository) SetIngestResult(ctx context.Context, id string, pageCount int, metadata map[string]any) error {
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE documents SET page_count = $2, metadata = $3, updated_at = $4 WHERE id = $1`,
		id, pageCount, encoded, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

func (r *DocumentRepository) ListByProject(ctx context.Context, projectID string) ([]*domain.Document, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, file_path, mime_type, file_size, page_count, project_id, status, error, metadata, created_at, updated_at
		 FROM documents WHERE project_id = $1 ORDER BY updated_at DESC`,
		projectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDocumentRows(rows)
}

func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

func scanDocumentRows(rows pgx.Rows) ([]*domain.Document, error) {
	var docs []*domain.Document
	for rows.Next() {
		var d domain.Document
		var projectID, errMsg pgtype.Text
		var metadata []byte
		if err := rows.Scan(&d.ID, &d.FilePath, &d.MimeType, &d.FileSize, &d.PageCount, &projectID, &d.Status, &errMsg, &metadata, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		if projectID.Valid {
			d.ProjectID = projectID.String
		}
		if errMsg.Valid {
			d.Error = errMsg.String
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &d.Metadata); err != nil {
				return nil, err
			}
		}
		docs = append(docs, &d)
	}
	return docs, rows.Err()
}
