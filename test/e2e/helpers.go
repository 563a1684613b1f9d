//go:build e2e

package e2e

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/docqa/internal/bus"
	"github.com/cloo-solutions/docqa/internal/domain"
	"github.com/cloo-solutions/docqa/internal/extract"
	"github.com/cloo-solutions/docqa/internal/jobs"
	"github.com/cloo-solutions/docqa/internal/openai"
	"github.com/cloo-solutions/docqa/internal/repository"
	"github.com/cloo-solutions/docqa/internal/service"
	"github.com/cloo-solutions/docqa/internal/storage"
	"github.com/cloo-solutions/docqa/internal/testutil"
)

const embeddingDims = 1536

// PipelineEnv holds all resources for a full worker-pipeline test: real
// Postgres, NATS and object storage, with a deterministic stand-in for the
// model provider.
type PipelineEnv struct {
	T         *testing.T
	Ctx       context.Context
	PostgresC *testutil.PostgresContainer
	NATSC     *testutil.NATSContainer
	RustFSC   *testutil.RustFSContainer
	Pool      *pgxpool.Pool
	Bus       *bus.NATSBus
	S3Client  *storage.S3Client
	Docs      *repository.DocumentRepository
	Chunks    *repository.ChunkRepository
	Model     *fakeModel
	Results   *memoryResultStore

	runners []*jobs.Runner
}

// SetupPipelineEnv starts the containers, wires the services exactly like
// the serve command does, and starts the three workers.
func SetupPipelineEnv(t *testing.T) *PipelineEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	natsC := testutil.NewNATSContainer(ctx, t)
	s3C := testutil.NewRustFSContainer(ctx, t)

	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        s3C.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     "rustfsadmin",
		SecretAccessKey: "rustfsadmin",
		Bucket:          "test-documents",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("failed to create S3 client: %v", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}

	natsBus, err := bus.Connect(natsC.URL())
	if err != nil {
		t.Fatalf("failed to connect to NATS: %v", err)
	}

	env := &PipelineEnv{
		T:         t,
		Ctx:       ctx,
		PostgresC: pgC,
		NATSC:     natsC,
		RustFSC:   s3C,
		Pool:      pool,
		Bus:       natsBus,
		S3Client:  s3Client,
		Docs:      repository.NewDocumentRepository(pool),
		Chunks:    repository.NewChunkRepository(pool),
		Model:     &fakeModel{},
		Results:   newMemoryResultStore(),
	}

	env.startWorkers()
	return env
}

func (e *PipelineEnv) startWorkers() {
	txRunner := repository.NewTxRunner(e.Pool)

	ingestionSvc := service.NewIngestionService(
		e.Docs, txRunner, e.S3Client, nil, extract.NewPDFExtractor(), nil, e.Bus,
		service.DefaultSplitConfig(),
	)
	embeddingSvc := service.NewEmbeddingService(
		e.Model, e.Docs, txRunner, nil, "fake-embedding-model", embeddingDims,
	)
	retrievalSvc := service.NewRetrievalService(e.Chunks, e.Model, nil)
	answerSvc := service.NewAnswerService(retrievalSvc, e.Model, "fake-chat-model")

	e.runners = []*jobs.Runner{
		jobs.NewRunner(e.Bus, jobs.NewIngestWorker(ingestionSvc)),
		jobs.NewRunner(e.Bus, jobs.NewEmbedWorker(embeddingSvc)),
		jobs.NewRunner(e.Bus, jobs.NewQAWorker(answerSvc, e.Results)),
	}
	for _, r := range e.runners {
		go r.Start(e.Ctx)
	}
}

// Cleanup stops the workers and releases all resources.
func (e *PipelineEnv) Cleanup() {
	for _, r := range e.runners {
		r.Stop()
	}
	if e.Bus != nil {
		e.Bus.Close()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.RustFSC != nil {
		e.RustFSC.Terminate(e.Ctx)
	}
	if e.NATSC != nil {
		e.NATSC.Terminate(e.Ctx)
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
}

// UploadDocument stores the file in object storage and creates the document
// row, returning the ingest job that a caller would enqueue.
func (e *PipelineEnv) UploadDocument(id, key, mimeType string, content []byte) *domain.IngestJob {
	if err := e.S3Client.UploadObject(e.Ctx, key, content, mimeType); err != nil {
		e.T.Fatalf("failed to upload document: %v", err)
	}
	doc := domain.NewDocument(id, key, mimeType, int64(len(content)))
	if err := e.Docs.Create(e.Ctx, doc); err != nil {
		e.T.Fatalf("failed to create document: %v", err)
	}
	return &domain.IngestJob{
		DocumentID: id,
		FilePath:   key,
		MimeType:   mimeType,
		FileSize:   int64(len(content)),
	}
}

// WaitForStatus polls until the document reaches the wanted status.
func (e *PipelineEnv) WaitForStatus(documentID string, want domain.DocumentStatus, timeout time.Duration) *domain.Document {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		doc, err := e.Docs.GetByID(e.Ctx, documentID)
		if err == nil && doc.Status == want {
			return doc
		}
		if err == nil && doc.Status == domain.DocumentStatusFailed && want != domain.DocumentStatusFailed {
			e.T.Fatalf("document %s failed: %s", documentID, doc.Error)
		}
		time.Sleep(200 * time.Millisecond)
	}
	e.T.Fatalf("document %s did not reach status %s within %v", documentID, want, timeout)
	return nil
}

// WaitForResult polls the result store until an answer shows up.
func (e *PipelineEnv) WaitForResult(threadID string, timeout time.Duration) *domain.QAResponse {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if resp, ok := e.Results.Get(threadID); ok {
			return resp
		}
		time.Sleep(200 * time.Millisecond)
	}
	e.T.Fatalf("no qa result for thread %s within %v", threadID, timeout)
	return nil
}

// fakeModel is a deterministic model provider: embeddings are unit vectors
// derived from the text's term set so related texts land close together, and
// answers always cite the first source.
type fakeModel struct {
	mu          sync.Mutex
	chatCalls   int
	lastRequest openai.ChatRequest
}

func (m *fakeModel) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = embedText(text)
	}
	return out, nil
}

func (m *fakeModel) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return embedText(text), nil
}

func (m *fakeModel) GenerateAnswer(ctx context.Context, req openai.ChatRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatCalls++
	m.lastRequest = req
	return "Based on the provided sources, the answer is grounded in the document [1].", nil
}

func (m *fakeModel) ChatCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chatCalls
}

func (m *fakeModel) LastRequest() openai.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRequest
}

// embedText maps each word onto a hashed dimension, so texts sharing words
// share dimensions and cosine similarity tracks term overlap.
func embedText(text string) []float32 {
	v := make([]float32, embeddingDims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		sum := sha256.Sum256([]byte(word))
		dim := binary.BigEndian.Uint32(sum[:4]) % embeddingDims
		v[dim] += 1
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}

// memoryResultStore collects finished answers keyed by thread ID.
type memoryResultStore struct {
	mu      sync.Mutex
	results map[string]*domain.QAResponse
}

func newMemoryResultStore() *memoryResultStore {
	return &memoryResultStore{results: make(map[string]*domain.QAResponse)}
}

func (s *memoryResultStore) StoreResult(ctx context.Context, threadID string, response *domain.QAResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[threadID] = response
	return nil
}

func (s *memoryResultStore) Get(threadID string) (*domain.QAResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, ok := s.results[threadID]
	return resp, ok
}

func publishJob(e *PipelineEnv, subject string, payload any) {
	if err := e.Bus.Publish(e.Ctx, subject, payload); err != nil {
		e.T.Fatalf("failed to publish on %s: %v", subject, err)
	}
}
