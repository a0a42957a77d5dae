package port

import (
	"context"

	"ragweb/internal/domain"
)

// MetadataStore persists ingestions and their chunks.
type MetadataStore interface {
	CreateIngestion(ctx context.Context, url string) (*domain.Ingestion, error)

	GetIngestion(ctx context.Context, id string) (*domain.Ingestion, error)

	ListIngestions(ctx context.Context, status domain.Status, limit int) ([]domain.Ingestion, error)

	// Transition moves an ingestion to status, recording errorMessage, in a
	// single statement. It fails with domain.ErrInvalidTransition when the
	// current status is not a legal predecessor.
	Transition(ctx context.Context, id string, to domain.Status, errorMessage string) error

	SetTitle(ctx context.Context, id, title string) error

	// InsertChunks writes all chunks in one transaction.
	InsertChunks(ctx context.Context, chunks []domain.Chunk) error

	// ChunksByVectorIDs returns the chunks whose vector id is in ids, in no
	// particular order. Unknown ids are ignored.
	ChunksByVectorIDs(ctx context.Context, ids []int64) ([]domain.Chunk, error)

	CountChunks(ctx context.Context, ingestionID string) (int, error)

	DeleteIngestion(ctx context.Context, id string) error

	Stats(ctx context.Context) (*domain.MetadataStats, error)

	Close() error
}
