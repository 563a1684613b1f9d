//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/docqa/internal/domain"
	"github.com/cloo-solutions/docqa/internal/testutil"
)

func newTestDocument(projectID string) *domain.Document {
	d := domain.NewDocument(uuid.NewString(), "uploads/"+uuid.NewString()+".pdf", "application/pdf", 4096)
	d.ProjectID = projectID
	d.CreatedAt = d.CreatedAt.Truncate(time.Microsecond)
	d.UpdatedAt = d.UpdatedAt.Truncate(time.Microsecond)
	return d
}

func TestDocumentRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewDocumentRepository(pool)

	d := newTestDocument("project-1")
	require.NoError(t, repo.Create(ctx, d))

	retrieved, err := repo.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, retrieved.ID)
	assert.Equal(t, d.FilePath, retrieved.FilePath)
	assert.Equal(t, d.MimeType, retrieved.MimeType)
	assert.Equal(t, d.FileSize, retrieved.FileSize)
	assert.Equal(t, "project-1", retrieved.ProjectID)
	assert.Equal(t, domain.DocumentStatusUploaded, retrieved.Status)
	assert.Empty(t, retrieved.Error)
}

func TestDocumentRepository_GetByID_NotFound(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewDocumentRepository(pool)

	_, err := repo.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestDocumentRepository_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewDocumentRepository(pool)

	d := newTestDocument("")
	require.NoError(t, repo.Create(ctx, d))

	applied, err := repo.UpdateStatus(ctx, d.ID, domain.DocumentStatusProcessing, "")
	require.NoError(t, err)
	assert.True(t, applied)

	retrieved, err := repo.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusProcessing, retrieved.Status)
}

func TestDocumentRepository_UpdateStatus_EmbeddedIsTerminal(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewDocumentRepository(pool)

	d := newTestDocument("")
	require.NoError(t, repo.Create(ctx, d))

	applied, err := repo.UpdateStatus(ctx, d.ID, domain.DocumentStatusEmbedded, "")
	require.NoError(t, err)
	require.True(t, applied)

	// A redelivered job arriving after completion must not move the
	// document backwards.
	applied, err = repo.UpdateStatus(ctx, d.ID, domain.DocumentStatusProcessing, "")
	require.NoError(t, err)
	assert.False(t, applied)

	retrieved, err := repo.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusEmbedded, retrieved.Status)
}

func TestDocumentRepository_UpdateStatus_NotFound(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewDocumentRepository(pool)

	_, err := repo.UpdateStatus(ctx, uuid.NewString(), domain.DocumentStatusProcessing, "")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestDocumentRepository_UpdateStatus_RecordsError(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewDocumentRepository(pool)

	d := newTestDocument("")
	require.NoError(t, repo.Create(ctx, d))

	applied, err := repo.UpdateStatus(ctx, d.ID, domain.DocumentStatusFailed, "virus detected: Eicar-Test-Signature")
	require.NoError(t, err)
	require.True(t, applied)

	retrieved, err := repo.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusFailed, retrieved.Status)
	assert.Equal(t, "virus detected: Eicar-Test-Signature", retrieved.Error)
}

func TestDocumentRepository_SetIngestResult(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewDocumentRepository(pool)

	d := newTestDocument("")
	require.NoError(t, repo.Create(ctx, d))

	metadata := map[string]any{"pages": 3, "chunks": 7, "extraction": "native"}
	require.NoError(t, repo.SetIngestResult(ctx, d.ID, 3, metadata))

	retrieved, err := repo.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, retrieved.PageCount)
	assert.Equal(t, "native", retrieved.Metadata["extraction"])
}

func TestDocumentRepository_ListByProject(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewDocumentRepository(pool)

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, newTestDocument("project-a")))
	}
	require.NoError(t, repo.Create(ctx, newTestDocument("project-b")))

	docs, err := repo.ListByProject(ctx, "project-a")
	require.NoError(t, err)
	assert.Len(t, docs, 3)
	for _, d := range docs {
		assert.Equal(t, "project-a", d.ProjectID)
	}
}

func TestDocumentRepository_Delete(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewDocumentRepository(pool)

	d := newTestDocument("")
	require.NoError(t, repo.Create(ctx, d))
	require.NoError(t, repo.Delete(ctx, d.ID))

	_, err := repo.GetByID(ctx, d.ID)
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)

	assert.ErrorIs(t, repo.Delete(ctx, d.ID), domain.ErrDocumentNotFound)
}
