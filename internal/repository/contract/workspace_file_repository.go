package contract

import (
	"context"

	"knowledge-agent-be/internal/entity"
	"knowledge-agent-be/internal/repository/specification"

	"github.com/google/uuid"
)

type WorkspaceFileRepository interface {
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.WorkspaceFile, error)
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.WorkspaceFile, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)
}

type DocumentChunkRepository interface {
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.DocumentChunk, error)
	// SearchNearest returns up to limit chunks of one file ordered by cosine distance to embedding.
	SearchNearest(ctx context.Context, fileID uuid.UUID, embedding []float32, limit int) ([]entity.ChunkMatch, error)
}
