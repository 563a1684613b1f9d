package service

import "context"

// TxChunkRepository is the union of chunk writes that must land atomically
// with a document status change.
type TxChunkRepository interface {
	IngestChunkRepository
	EmbedChunkRepository
}

// TxRepositories provides transaction-bound repositories.
type TxRepositories interface {
	Documents() DocumentRepositoryInterface
	Chunks() TxChunkRepository
}

// TxRunner executes a function within a transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(repos TxRepositories) error) error
}
