package retrieval

import (
	"context"
	"fmt"
	"strings"

	"knowledge-agent-be/internal/entity"
	"knowledge-agent-be/internal/repository/contract"
	"knowledge-agent-be/internal/repository/specification"
	"knowledge-agent-be/pkg/agent/budget"
	"knowledge-agent-be/pkg/agent/permission"

	"github.com/google/uuid"
)

const textExcerptChunks = 3

// ViewportSource returns the stored viewport for a file, or the latest one when fileID is empty.
type ViewportSource interface {
	Get(sessionID, fileID string) (*entity.Viewport, bool)
}

type ViewportRequest struct {
	SessionID    string
	Permissions  *permission.Context
	ActiveFileID string
	ActivePage   *int
}

type ActiveViewport struct {
	FileID       string `json:"file_id"`
	FileName     string `json:"file_name,omitempty"`
	FileType     string `json:"file_type,omitempty"`
	Page         int    `json:"page"`
	VisibleRange []int  `json:"visible_range"`
}

type ViewportResult struct {
	Viewport *ActiveViewport
	Excerpt  *string
}

// ViewportLoader resolves what the user is looking at and reads a bounded excerpt of it.
type ViewportLoader struct {
	source   ViewportSource
	maxChars int
}

func NewViewportLoader(source ViewportSource, maxChars int) *ViewportLoader {
	return &ViewportLoader{source: source, maxChars: maxChars}
}

func (l *ViewportLoader) Load(ctx context.Context, files contract.WorkspaceFileRepository, chunks contract.DocumentChunkRepository, req ViewportRequest) (*ViewportResult, error) {
	var stored *entity.Viewport
	if l.source != nil {
		if vp, ok := l.source.Get(req.SessionID, req.ActiveFileID); ok {
			stored = vp
		}
	}

	var vp *ActiveViewport
	if stored != nil {
		vp = &ActiveViewport{
			FileID:       stored.FileId,
			FileName:     stored.FileName,
			FileType:     stored.FileType,
			Page:         stored.Page,
			VisibleRange: []int{stored.VisibleRange[0], stored.VisibleRange[1]},
		}
	}
	// An explicit file and page from the request win over the stored position.
	if req.ActiveFileID != "" && req.ActivePage != nil {
		if vp == nil {
			vp = &ActiveViewport{}
		}
		vp.FileID = req.ActiveFileID
		vp.Page = *req.ActivePage
	}

	if vp == nil {
		return &ViewportResult{}, nil
	}
	if vp.Page <= 0 {
		vp.Page = 1
	}
	if vp.FileID == "" {
		return &ViewportResult{Viewport: vp}, nil
	}
	if req.Permissions.Level(vp.FileID, permission.LevelRead) == permission.LevelNone {
		return &ViewportResult{Viewport: vp}, nil
	}

	fileID, err := uuid.Parse(vp.FileID)
	if err != nil {
		return &ViewportResult{Viewport: vp}, nil
	}
	file, err := files.FindOne(ctx, specification.ByID{ID: fileID})
	if err != nil {
		return nil, fmt.Errorf("load viewport file: %w", err)
	}
	if file == nil {
		return &ViewportResult{Viewport: vp}, nil
	}

	var rows []*entity.DocumentChunk
	switch file.FileType {
	case entity.FileTypePDF:
		rows, err = chunks.FindAll(ctx,
			specification.ByFileID{FileID: fileID},
			specification.ByPage{Page: vp.Page},
			specification.ChunkOrder{},
		)
	case entity.FileTypeMD, entity.FileTypeTxt, entity.FileTypeCode:
		rows, err = chunks.FindAll(ctx,
			specification.ByFileID{FileID: fileID},
			specification.ChunkOrder{},
			specification.Pagination{Limit: textExcerptChunks},
		)
	}
	if err != nil {
		return nil, fmt.Errorf("load viewport chunks: %w", err)
	}

	result := &ViewportResult{
		Viewport: &ActiveViewport{
			FileID:       vp.FileID,
			FileName:     file.Name,
			FileType:     file.FileType,
			Page:         vp.Page,
			VisibleRange: vp.VisibleRange,
		},
	}
	if len(rows) > 0 {
		parts := make([]string, len(rows))
		for i, c := range rows {
			parts[i] = c.Content
		}
		if text := strings.Join(parts, "\n"); text != "" {
			excerpt := budget.Truncate(text, l.maxChars)
			result.Excerpt = &excerpt
		}
	}
	return result, nil
}
