package mapper

import (
	"time"

	"knowledge-agent-be/internal/entity"
	"knowledge-agent-be/internal/model"
)

type FileMapper struct{}

func NewFileMapper() *FileMapper {
	return &FileMapper{}
}

func (m *FileMapper) FileToEntity(f *model.WorkspaceFile) *entity.WorkspaceFile {
	if f == nil {
		return nil
	}

	var updatedAt *time.Time
	if !f.UpdatedAt.IsZero() {
		t := f.UpdatedAt
		updatedAt = &t
	}

	return &entity.WorkspaceFile{
		Id:        f.Id,
		ParentId:  f.ParentId,
		Name:      f.Name,
		FileType:  f.FileType,
		Content:   f.Content,
		PageCount: f.PageCount,
		Size:      f.Size,
		Meta:      map[string]interface{}(f.Meta),
		CreatedAt: f.CreatedAt,
		UpdatedAt: updatedAt,
	}
}

func (m *FileMapper) FilesToEntities(files []*model.WorkspaceFile) []*entity.WorkspaceFile {
	out := make([]*entity.WorkspaceFile, len(files))
	for i, f := range files {
		out[i] = m.FileToEntity(f)
	}
	return out
}

func (m *FileMapper) ChunkToEntity(c *model.DocumentChunk) *entity.DocumentChunk {
	if c == nil {
		return nil
	}
	return &entity.DocumentChunk{
		Id:         c.Id,
		FileId:     c.FileId,
		Page:       c.Page,
		ChunkIndex: c.ChunkIndex,
		Content:    c.Content,
		CreatedAt:  c.CreatedAt,
	}
}
