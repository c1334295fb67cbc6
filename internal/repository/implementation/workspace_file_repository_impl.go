package implementation

import (
	"context"
	"errors"

	"knowledge-agent-be/internal/entity"
	"knowledge-agent-be/internal/mapper"
	"knowledge-agent-be/internal/model"
	"knowledge-agent-be/internal/repository/contract"
	"knowledge-agent-be/internal/repository/specification"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

type WorkspaceFileRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.FileMapper
}

func NewWorkspaceFileRepository(db *gorm.DB) contract.WorkspaceFileRepository {
	return &WorkspaceFileRepositoryImpl{
		db:     db,
		mapper: mapper.NewFileMapper(),
	}
}

func (r *WorkspaceFileRepositoryImpl) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.WorkspaceFile, error) {
	var m model.WorkspaceFile
	query := applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.FileToEntity(&m), nil
}

func (r *WorkspaceFileRepositoryImpl) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.WorkspaceFile, error) {
	var models []*model.WorkspaceFile
	query := applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return r.mapper.FilesToEntities(models), nil
}

func (r *WorkspaceFileRepositoryImpl) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	var count int64
	query := applySpecifications(r.db.WithContext(ctx).Model(&model.WorkspaceFile{}), specs...)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

type DocumentChunkRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.FileMapper
}

func NewDocumentChunkRepository(db *gorm.DB) contract.DocumentChunkRepository {
	return &DocumentChunkRepositoryImpl{
		db:     db,
		mapper: mapper.NewFileMapper(),
	}
}

func (r *DocumentChunkRepositoryImpl) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.DocumentChunk, error) {
	var models []*model.DocumentChunk
	query := applySpecifications(r.db.WithContext(ctx).Omit("embedding"), specs...)
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	entities := make([]*entity.DocumentChunk, len(models))
	for i, m := range models {
		entities[i] = r.mapper.ChunkToEntity(m)
	}
	return entities, nil
}

func (r *DocumentChunkRepositoryImpl) SearchNearest(ctx context.Context, fileID uuid.UUID, embedding []float32, limit int) ([]entity.ChunkMatch, error) {
	if limit <= 0 {
		limit = 12
	}

	// pgvector <=> is cosine distance: 0 for identical direction, up to 2 for opposite.
	type result struct {
		model.DocumentChunk
		Distance float64
	}
	var results []result

	queryVector := pgvector.NewVector(embedding)
	err := r.db.WithContext(ctx).
		Model(&model.DocumentChunk{}).
		Select("document_chunks.*, embedding <=> ? AS distance", queryVector).
		Where("file_id = ?", fileID).
		Where("embedding IS NOT NULL").
		Order("distance ASC").
		Limit(limit).
		Scan(&results).Error
	if err != nil {
		return nil, err
	}

	matches := make([]entity.ChunkMatch, 0, len(results))
	for i := range results {
		matches = append(matches, entity.ChunkMatch{
			Chunk:    *r.mapper.ChunkToEntity(&results[i].DocumentChunk),
			Distance: results[i].Distance,
		})
	}
	return matches, nil
}
